package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DescriptorFile is the per-event descriptor name inside an event directory.
const DescriptorFile = "event.json"

// Event is a resolved (or ID-only) seismic source record.
// An Event with a zero Time carries only its identifier; the pipeline resolves
// the remaining fields from a fetcher or an existing workspace.
type Event struct {
	ID        string
	Time      time.Time
	Latitude  float64
	Longitude float64
	Depth     float64 // km
	Magnitude float64
}

// Resolved reports whether origin information is present.
func (e Event) Resolved() bool { return !e.Time.IsZero() }

func (e Event) String() string {
	if !e.Resolved() {
		return e.ID
	}
	return fmt.Sprintf("%s M%.1f %s (%.4f, %.4f) %.1fkm",
		e.ID, e.Magnitude, e.Time.UTC().Format(time.RFC3339), e.Latitude, e.Longitude, e.Depth)
}

// descriptor is the on-disk form of an event.
type descriptor struct {
	ID        string  `json:"id"`
	Time      string  `json:"time"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Depth     float64 `json:"depth"`
	Magnitude float64 `json:"magnitude"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// ParseTime accepts the origin time formats seen in descriptor files and
// text event lists. Times without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// ParseFields builds an Event from "id time lat lon depth magnitude". A time
// written as "2006-01-02 15:04:05" arrives as two fields and is rejoined.
func ParseFields(fields []string) (Event, error) {
	if len(fields) == 7 {
		fields = append([]string{fields[0], fields[1] + " " + fields[2]}, fields[3:]...)
	}
	if len(fields) != 6 {
		return Event{}, fmt.Errorf("event descriptor needs 6 fields (id time lat lon depth magnitude), got %d", len(fields))
	}
	var ev Event
	ev.ID = strings.TrimSpace(fields[0])
	if ev.ID == "" {
		return Event{}, errors.New("event id is empty")
	}
	t, err := ParseTime(fields[1])
	if err != nil {
		return Event{}, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	ev.Time = t
	nums := make([]float64, 4)
	for i, f := range fields[2:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Event{}, fmt.Errorf("event %s: field %d: %w", ev.ID, i+3, err)
		}
		nums[i] = v
	}
	ev.Latitude, ev.Longitude, ev.Depth, ev.Magnitude = nums[0], nums[1], nums[2], nums[3]
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Validate checks the identifier and, on a resolved event, coordinate ranges.
func (e Event) Validate() error {
	if err := ValidateID(e.ID); err != nil {
		return err
	}
	if !e.Resolved() {
		return nil
	}
	if e.Latitude < -90 || e.Latitude > 90 {
		return fmt.Errorf("event %s: latitude %v out of range", e.ID, e.Latitude)
	}
	if e.Longitude < -180 || e.Longitude > 360 {
		return fmt.Errorf("event %s: longitude %v out of range", e.ID, e.Longitude)
	}
	return nil
}

// ValidateID rejects identifiers that cannot name a directory below the
// output directory.
func ValidateID(id string) error {
	switch {
	case id == "":
		return errors.New("event id is empty")
	case strings.ContainsAny(id, `/\`) || strings.Contains(id, ".."):
		return fmt.Errorf("event id %q must not contain path separators or \"..\"", id)
	}
	return nil
}

// splitFields splits on commas and whitespace.
func splitFields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// ParseInfo parses a single inline descriptor.
func ParseInfo(s string) (Event, error) { return ParseFields(splitFields(s)) }

// ReadDescriptor loads an event descriptor file.
func ReadDescriptor(path string) (Event, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Event{}, err
	}
	var d descriptor
	if err := json.Unmarshal(b, &d); err != nil {
		return Event{}, fmt.Errorf("parse %s: %w", path, err)
	}
	t, err := ParseTime(d.Time)
	if err != nil {
		return Event{}, fmt.Errorf("parse %s: %w", path, err)
	}
	ev := Event{ID: d.ID, Time: t, Latitude: d.Lat, Longitude: d.Lon, Depth: d.Depth, Magnitude: d.Magnitude}
	return ev, ev.Validate()
}

// WriteDescriptor writes ev to path in descriptor form.
func WriteDescriptor(path string, ev Event) error {
	d := descriptor{
		ID:        ev.ID,
		Time:      ev.Time.UTC().Format(time.RFC3339Nano),
		Lat:       ev.Latitude,
		Lon:       ev.Longitude,
		Depth:     ev.Depth,
		Magnitude: ev.Magnitude,
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
