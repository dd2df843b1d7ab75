package pipeline

import (
	"fmt"
	"strings"
)

// Stage names one pipeline step.
type Stage string

const (
	StageAssemble   Stage = "assemble"
	StageProcess    Stage = "process"
	StageReport     Stage = "report"
	StageProvenance Stage = "provenance"
	StageShakemap   Stage = "shakemap"
	StageExport     Stage = "export"
)

// Stages is the set of stages requested for a run.
type Stages struct {
	Assemble   bool `json:"assemble"`
	Process    bool `json:"process"`
	Report     bool `json:"report"`
	Provenance bool `json:"provenance"`
	Shakemap   bool `json:"shakemap"`
	Export     bool `json:"export"`
}

// Downstream reports whether a stage that reads processed data per event
// is requested.
func (s Stages) Downstream() bool { return s.Report || s.Provenance || s.Shakemap }

// PerEvent reports whether any stage runs per event (everything but export).
func (s Stages) PerEvent() bool { return s.Assemble || s.Process || s.Downstream() }

// Any reports whether at least one stage is requested.
func (s Stages) Any() bool { return s.PerEvent() || s.Export }

// Names lists the requested stages in pipeline order.
func (s Stages) Names() []Stage {
	var out []Stage
	for _, x := range []struct {
		on bool
		st Stage
	}{
		{s.Assemble, StageAssemble},
		{s.Process, StageProcess},
		{s.Report, StageReport},
		{s.Provenance, StageProvenance},
		{s.Shakemap, StageShakemap},
		{s.Export, StageExport},
	} {
		if x.on {
			out = append(out, x.st)
		}
	}
	return out
}

func (s Stages) String() string {
	names := s.Names()
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ",")
}

// State is the per-event data state.
type State int

const (
	NotStarted State = iota
	Assembled
	Processed
	Closed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Assembled:
		return "assembled"
	case Processed:
		return "processed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case NotStarted:
		return to == Assembled || to == Processed || to == Closed
	case Assembled:
		return to == Processed || to == Closed
	case Processed:
		return to == Closed
	default:
		return false
	}
}

// machine tracks one event's state and the downstream stages completed
// after it reached Processed.
type machine struct {
	state State
	done  map[Stage]bool
}

func newMachine() *machine { return &machine{done: map[Stage]bool{}} }

func (m *machine) transition(to State) error {
	if !isAllowedTransition(m.state, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", m.state, to)
	}
	m.state = to
	return nil
}

func (m *machine) complete(s Stage) { m.done[s] = true }
