package event

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoEvents is returned when a source resolves to zero events.
var ErrNoEvents = errors.New("no events resolved")

// Source selects where events come from. Exactly one field may be set.
type Source struct {
	IDs       []string
	TextFile  string
	Info      string
	Directory string
}

// Empty reports whether no source was given.
func (s Source) Empty() bool {
	return len(s.IDs) == 0 && s.TextFile == "" && s.Info == "" && s.Directory == ""
}

// Validate enforces mutual exclusion.
func (s Source) Validate() error {
	n := 0
	if len(s.IDs) > 0 {
		n++
	}
	for _, v := range []string{s.TextFile, s.Info, s.Directory} {
		if v != "" {
			n++
		}
	}
	if n > 1 {
		return errors.New("event sources are mutually exclusive: use one of --eventids, --textfile, --eventinfo, --directory")
	}
	return nil
}

// Load resolves the source into an ordered event list. Duplicate IDs keep
// their first occurrence.
func (s Source) Load() ([]Event, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	var (
		events []Event
		err    error
	)
	switch {
	case len(s.IDs) > 0:
		for _, id := range s.IDs {
			if id = strings.TrimSpace(id); id != "" {
				events = append(events, Event{ID: id})
			}
		}
	case s.TextFile != "":
		events, err = ReadTextFile(s.TextFile)
	case s.Info != "":
		var ev Event
		ev, err = ParseInfo(s.Info)
		events = []Event{ev}
	case s.Directory != "":
		events, err = LoadDirectory(s.Directory)
	}
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if err := ValidateID(ev.ID); err != nil {
			return nil, err
		}
	}
	events = dedupe(events)
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	return events, nil
}

func dedupe(in []Event) []Event {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, ev := range in {
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		out = append(out, ev)
	}
	return out
}

// ReadTextFile reads one event per line: either a bare identifier or a full
// "id time lat lon depth magnitude" descriptor. Blank lines and lines starting
// with '#' are ignored.
func ReadTextFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var events []Event
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := splitFields(line)
		switch len(fields) {
		case 1:
			events = append(events, Event{ID: fields[0]})
		case 6, 7:
			ev, err := ParseFields(fields)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
			}
			events = append(events, ev)
		default:
			return nil, fmt.Errorf("%s:%d: expected 1 or 6 fields, got %d", path, lineNo, len(fields))
		}
	}
	return events, sc.Err()
}

// LoadDirectory reads events from a local data tree where each event lives in
// its own subdirectory holding a descriptor file and a data folder. The
// descriptor id must match the folder name.
func LoadDirectory(dir string) ([]Event, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	var events []Event
	for _, name := range names {
		p := filepath.Join(dir, name, DescriptorFile)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		ev, err := ReadDescriptor(p)
		if err != nil {
			return nil, err
		}
		if ev.ID != name {
			return nil, fmt.Errorf("%s: event id %q does not match folder name %q", p, ev.ID, name)
		}
		events = append(events, ev)
	}
	return events, nil
}

// IDs returns the identifiers of events in order.
func IDs(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}
