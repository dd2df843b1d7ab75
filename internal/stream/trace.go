package stream

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Process levels recorded in trace metadata.
const (
	LevelRaw       = "raw counts"
	LevelUncorr    = "uncorrected physical units"
	LevelCorrected = "corrected physical units"
	LevelDerived   = "derived time series"
)

// Units.
const (
	UnitsAcc = "acc" // cm/s/s
	UnitsVel = "vel" // cm/s
)

var nonFreeField = regexp.MustCompile(`building|bridge|dam|borehole|hole|crest|toe|foundation|body|roof|floor`)

// ProvenanceEntry is one processing activity applied to a trace.
type ProvenanceEntry struct {
	Activity   string         `json:"activity"`
	Attributes map[string]any `json:"attributes"`
}

// Failure records why a trace failed a check.
type Failure struct {
	Module string `json:"module"`
	Reason string `json:"reason"`
}

// Trace is one channel of ground-motion data plus station metadata.
type Trace struct {
	Network       string    `json:"network"`
	Station       string    `json:"station"`
	Location      string    `json:"location"`
	Channel       string    `json:"channel"`
	SamplingRate  float64   `json:"sampling_rate"`
	StartTime     time.Time `json:"start_time"`
	Units         string    `json:"units"`
	ProcessLevel  string    `json:"process_level"`
	StructureType string    `json:"structure_type,omitempty"`
	SourceFormat  string    `json:"source_format,omitempty"`
	StationName   string    `json:"station_name,omitempty"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Elevation     float64   `json:"elevation"`
	Data          []float64 `json:"data"`

	Provenance []ProvenanceEntry `json:"provenance,omitempty"`
	Failure    *Failure          `json:"failure,omitempty"`
	Parameters map[string]any    `json:"parameters,omitempty"`
}

// ID returns NET.STA.LOC.CHA.
func (t *Trace) ID() string {
	return fmt.Sprintf("%s.%s.%s.%s", t.Network, t.Station, t.Location, t.Channel)
}

// Instrument is the first two channel characters (e.g. "HN").
func (t *Trace) Instrument() string {
	if len(t.Channel) < 2 {
		return t.Channel
	}
	return t.Channel[:2]
}

// Orientation is the last channel character.
func (t *Trace) Orientation() string {
	if t.Channel == "" {
		return ""
	}
	return t.Channel[len(t.Channel)-1:]
}

// Horizontal reports whether the channel is a horizontal component.
func (t *Trace) Horizontal() bool {
	switch strings.ToUpper(t.Orientation()) {
	case "Z", "U":
		return false
	default:
		return true
	}
}

// FreeField reports whether the sensor is not mounted on a structure.
func (t *Trace) FreeField() bool {
	return !nonFreeField.MatchString(strings.ToLower(t.StructureType))
}

// Duration of the record.
func (t *Trace) Duration() time.Duration {
	if t.SamplingRate <= 0 || len(t.Data) == 0 {
		return 0
	}
	return time.Duration(float64(len(t.Data)-1) / t.SamplingRate * float64(time.Second))
}

// Fail marks the trace as failed by module for reason. The first failure wins.
func (t *Trace) Fail(module, reason string) {
	if t.Failure != nil {
		return
	}
	t.Failure = &Failure{Module: module, Reason: reason}
}

// Passed reports whether no check failed.
func (t *Trace) Passed() bool { return t.Failure == nil }

// SetProvenance appends a processing activity.
func (t *Trace) SetProvenance(activity string, attrs map[string]any) {
	t.Provenance = append(t.Provenance, ProvenanceEntry{Activity: activity, Attributes: attrs})
}

// SetParameter stores arbitrary metadata.
func (t *Trace) SetParameter(key string, v any) {
	if t.Parameters == nil {
		t.Parameters = make(map[string]any)
	}
	t.Parameters[key] = v
}

// Parameter returns a stored parameter.
func (t *Trace) Parameter(key string) (any, bool) {
	v, ok := t.Parameters[key]
	return v, ok
}

// Validate ensures required metadata is present.
func (t *Trace) Validate() error {
	var missing []string
	if t.Network == "" {
		missing = append(missing, "network")
	}
	if t.Station == "" {
		missing = append(missing, "station")
	}
	if t.Channel == "" {
		missing = append(missing, "channel")
	}
	if t.ProcessLevel == "" {
		missing = append(missing, "process_level")
	}
	if t.Units == "" && t.ProcessLevel != LevelDerived {
		missing = append(missing, "units")
	}
	if len(missing) > 0 {
		return fmt.Errorf("trace %s: missing required metadata: %s", t.ID(), strings.Join(missing, ","))
	}
	if t.SamplingRate <= 0 {
		return errors.New("trace " + t.ID() + ": sampling rate must be positive")
	}
	return nil
}

// ProvenanceRow is one flattened provenance attribute.
type ProvenanceRow struct {
	Index     int
	Step      string
	Attribute string
	Value     string
}

// ProvenanceRows flattens the trace's processing history. Attributes of an
// activity are emitted in key order.
func (t *Trace) ProvenanceRows() []ProvenanceRow {
	var rows []ProvenanceRow
	for i, p := range t.Provenance {
		keys := make([]string, 0, len(p.Attributes))
		for k := range p.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rows = append(rows, ProvenanceRow{
				Index:     i,
				Step:      ActivityLabel(p.Activity),
				Attribute: k,
				Value:     formatValue(p.Attributes[k]),
			})
		}
	}
	return rows
}

func formatValue(v any) string {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05")
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}

// activity describes a SEIS-PROV processing step.
type activity struct {
	Code  string
	Label string
}

var activities = map[string]activity{
	"waveform_simulation":      {"ws", "Waveform Simulation"},
	"taper":                    {"tp", "Taper"},
	"stack_cross_correlations": {"sc", "Stack Cross Correlations"},
	"simulate_response":        {"sr", "Simulate Response"},
	"rotate":                   {"rt", "Rotate"},
	"resample":                 {"rs", "Resample"},
	"remove_response":          {"rr", "Remove Response"},
	"pad":                      {"pd", "Pad"},
	"normalize":                {"nm", "Normalize"},
	"multiply":                 {"nm", "Multiply"},
	"merge":                    {"mg", "Merge"},
	"lowpass_filter":           {"lp", "Lowpass Filter"},
	"interpolate":              {"ip", "Interpolate"},
	"integrate":                {"ig", "Integrate"},
	"highpass_filter":          {"hp", "Highpass Filter"},
	"divide":                   {"dv", "Divide"},
	"differentiate":            {"df", "Differentiate"},
	"detrend":                  {"dt", "Detrend"},
	"decimate":                 {"dc", "Decimate"},
	"cut":                      {"ct", "Cut"},
	"cross_correlate":          {"co", "Cross Correlate"},
	"calculate_adjoint_source": {"ca", "Calculate Adjoint Source"},
	"bandstop_filter":          {"bs", "Bandstop Filter"},
	"bandpass_filter":          {"bp", "Bandpass Filter"},
}

// KnownActivity reports whether name is a recognized processing activity.
func KnownActivity(name string) bool {
	_, ok := activities[name]
	return ok
}

// ActivityLabel returns the display label for an activity, or the raw name.
func ActivityLabel(name string) string {
	if a, ok := activities[name]; ok {
		return a.Label
	}
	return name
}

// ActivityCode returns the two-letter SEIS-PROV code.
func ActivityCode(name string) string { return activities[name].Code }
