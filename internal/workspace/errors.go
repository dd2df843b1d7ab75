package workspace

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Open when no workspace exists at the path.
	ErrNotFound = errors.New("workspace not found")
	// ErrClosed is returned by any operation on a closed handle, including a
	// second Close.
	ErrClosed = errors.New("workspace closed")
	// ErrAmbiguousLabels matches AmbiguousLabelsError.
	ErrAmbiguousLabels = errors.New("ambiguous workspace labels")
)

// AmbiguousLabelsError reports a workspace holding more than one processed
// label. It is never resolved automatically.
type AmbiguousLabelsError struct {
	Path   string
	Labels []string
}

// Count is the number of processed label sets found.
func (e *AmbiguousLabelsError) Count() int { return len(e.Labels) }

func (e *AmbiguousLabelsError) Error() string {
	return fmt.Sprintf("workspace %s contains %d processed label sets (%s); only one is allowed besides %q, remove the extras before running downstream stages",
		e.Path, len(e.Labels), strings.Join(e.Labels, ", "), RawLabel)
}

func (e *AmbiguousLabelsError) Is(target error) bool { return target == ErrAmbiguousLabels }

// IsNotFound reports whether err indicates a missing workspace.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAmbiguous reports whether err indicates more than one processed label.
func IsAmbiguous(err error) bool { return errors.Is(err, ErrAmbiguousLabels) }
