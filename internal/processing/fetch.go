package processing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gmbatch/internal/common/fsutil"
	"gmbatch/internal/config"
	"gmbatch/internal/event"
	"gmbatch/internal/stream"
)

// ErrNoData is returned when a fetcher has nothing for an event.
var ErrNoData = errors.New("no data for event")

// IsNoData reports whether err indicates missing event data.
func IsNoData(err error) bool { return errors.Is(err, ErrNoData) }

// Fetcher retrieves raw streams for an event. ID-only events are resolved
// from the data source when possible.
type Fetcher interface {
	Fetch(ctx context.Context, ev event.Event) (event.Event, *stream.Collection, error)
}

// DirectoryFetcher reads <Root>/<id>/event.json and the trace files under
// <Root>/<id>/<Subdir>.
type DirectoryFetcher struct {
	Root        string
	Subdir      string
	KeepNonFree bool
}

// NewDirectoryFetcher builds a fetcher from the fetch config section. An
// explicit root overrides cfg.Fetch.DataDir.
func NewDirectoryFetcher(cfg config.Config, root string) (*DirectoryFetcher, error) {
	if root == "" {
		root = cfg.Fetch.DataDir
	}
	root, err := fsutil.ExpandHome(root)
	if err != nil {
		return nil, err
	}
	sub := cfg.Fetch.DataSubdir
	if sub == "" {
		sub = "raw"
	}
	return &DirectoryFetcher{Root: root, Subdir: sub, KeepNonFree: cfg.Processing.KeepNonFree}, nil
}

// Resolve fills in origin information for an ID-only event.
func (f *DirectoryFetcher) Resolve(ev event.Event) (event.Event, error) {
	if ev.Resolved() {
		return ev, nil
	}
	if f.Root == "" {
		return ev, fmt.Errorf("%w %s: no data directory configured", ErrNoData, ev.ID)
	}
	path := filepath.Join(f.Root, ev.ID, event.DescriptorFile)
	if !fsutil.PathExists(path) {
		return ev, fmt.Errorf("%w %s: %s not found", ErrNoData, ev.ID, path)
	}
	got, err := event.ReadDescriptor(path)
	if err != nil {
		return ev, err
	}
	if got.ID != ev.ID {
		return ev, fmt.Errorf("%s: descriptor id %q does not match %q", path, got.ID, ev.ID)
	}
	return got, nil
}

// Fetch implements Fetcher.
func (f *DirectoryFetcher) Fetch(ctx context.Context, ev event.Event) (event.Event, *stream.Collection, error) {
	if err := ctx.Err(); err != nil {
		return ev, nil, err
	}
	ev, err := f.Resolve(ev)
	if err != nil {
		return ev, nil, err
	}
	dir := filepath.Join(f.Root, ev.ID, f.Subdir)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ev, nil, fmt.Errorf("%w %s: %s not found", ErrNoData, ev.ID, dir)
		}
		return ev, nil, err
	}
	traces, err := stream.ReadDir(dir)
	if err != nil {
		return ev, nil, err
	}
	return ev, stream.NewCollection(traces, stream.Options{KeepNonFree: f.KeepNonFree}), nil
}
