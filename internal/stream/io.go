package stream

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ReadDir reads every *.json trace file in dir. A file may hold one trace
// object or an array of traces.
func ReadDir(dir string) ([]Trace, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	var traces []Trace
	for _, name := range names {
		trs, err := ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		traces = append(traces, trs...)
	}
	return traces, nil
}

// ReadFile reads and validates the traces in one file.
func ReadFile(path string) ([]Trace, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var traces []Trace
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(b, &traces)
	} else {
		var tr Trace
		err = json.Unmarshal(b, &tr)
		traces = []Trace{tr}
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i := range traces {
		if traces[i].SourceFormat == "" {
			traces[i].SourceFormat = "json"
		}
		if err := traces[i].Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return traces, nil
}

// WriteFile writes traces as a JSON array.
func WriteFile(path string, traces []Trace) error {
	b, err := json.Marshal(traces)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
