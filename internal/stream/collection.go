package stream

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Networks that encode distinct sensors in the location code.
var networksUsingLocation = map[string]bool{"RE": true}

// DefaultColocatedPreference orders instrument codes when several sensors
// share a station.
var DefaultColocatedPreference = []string{"HN?", "BN?", "HH?", "BH?"}

// Stream is the set of traces from one station instrument.
type Stream struct {
	Traces []Trace `json:"traces"`
}

// ID returns NET.STA.INST.
func (s *Stream) ID() string {
	if len(s.Traces) == 0 {
		return ""
	}
	t := &s.Traces[0]
	return fmt.Sprintf("%s.%s.%s", t.Network, t.Station, t.Instrument())
}

// NetSta returns NET.STA.
func (s *Stream) NetSta() string {
	if len(s.Traces) == 0 {
		return ""
	}
	return s.Traces[0].Network + "." + s.Traces[0].Station
}

// Instrument returns the instrument code of the stream.
func (s *Stream) Instrument() string {
	if len(s.Traces) == 0 {
		return ""
	}
	return s.Traces[0].Instrument()
}

// Passed reports whether every trace passed.
func (s *Stream) Passed() bool {
	for i := range s.Traces {
		if !s.Traces[i].Passed() {
			return false
		}
	}
	return true
}

// FailureReason returns the first recorded failure reason.
func (s *Stream) FailureReason() string {
	for i := range s.Traces {
		if f := s.Traces[i].Failure; f != nil {
			return f.Reason
		}
	}
	return ""
}

// Fail marks every trace failed.
func (s *Stream) Fail(module, reason string) {
	for i := range s.Traces {
		s.Traces[i].Fail(module, reason)
	}
}

// Options controls collection construction.
type Options struct {
	// KeepNonFree retains streams from structure-mounted sensors.
	KeepNonFree bool
}

// Collection is an ordered list of station streams.
type Collection struct {
	Streams []Stream
}

// NewCollection groups traces into streams by network, station and instrument
// (and location for networks that use it). Non-free-field traces are dropped
// unless opts.KeepNonFree is set. Group order follows first appearance.
func NewCollection(traces []Trace, opts Options) *Collection {
	type groupKey struct {
		net, sta, inst, loc string
		free                bool
	}
	var order []groupKey
	groups := make(map[groupKey][]Trace)
	for _, tr := range traces {
		free := tr.FreeField()
		if !free && !opts.KeepNonFree {
			continue
		}
		k := groupKey{net: tr.Network, sta: tr.Station, inst: tr.Instrument(), free: free}
		if networksUsingLocation[tr.Network] {
			k.loc = tr.Location
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], tr)
	}
	c := &Collection{Streams: make([]Stream, 0, len(order))}
	for _, k := range order {
		trs := groups[k]
		sort.SliceStable(trs, func(i, j int) bool { return trs[i].Channel < trs[j].Channel })
		c.Streams = append(c.Streams, Stream{Traces: trs})
	}
	return c
}

// Len is the number of streams.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Streams)
}

// NPassed counts passing streams.
func (c *Collection) NPassed() int {
	n := 0
	for i := range c.Streams {
		if c.Streams[i].Passed() {
			n++
		}
	}
	return n
}

// NFailed counts failing streams.
func (c *Collection) NFailed() int { return c.Len() - c.NPassed() }

// Traces flattens the collection.
func (c *Collection) Traces() []Trace {
	var out []Trace
	for _, s := range c.Streams {
		out = append(out, s.Traces...)
	}
	return out
}

func (c *Collection) String() string {
	return fmt.Sprintf("%d StationStreams(s) in StreamCollection: %d passed, %d failed",
		c.Len(), c.NPassed(), c.NFailed())
}

// Select returns streams matching shell-style patterns; empty patterns match all.
func (c *Collection) Select(network, station, instrument string) *Collection {
	out := &Collection{}
	for _, s := range c.Streams {
		parts := strings.SplitN(s.NetSta(), ".", 2)
		if len(parts) != 2 {
			continue
		}
		if !matchFold(network, parts[0]) || !matchFold(station, parts[1]) || !matchFold(instrument, s.Instrument()) {
			continue
		}
		out.Streams = append(out.Streams, s)
	}
	return out
}

func matchFold(pattern, v string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(strings.ToUpper(pattern), strings.ToUpper(v))
	return err == nil && ok
}

// SelectColocated fails all but the preferred instrument at stations with
// several colocated instruments. Stations where no instrument matches the
// preference list are failed entirely.
func (c *Collection) SelectColocated(preference []string) {
	if len(preference) == 0 {
		preference = DefaultColocatedPreference
	}
	byStation := make(map[string][]int)
	var order []string
	for i := range c.Streams {
		ns := c.Streams[i].NetSta()
		if _, ok := byStation[ns]; !ok {
			order = append(order, ns)
		}
		byStation[ns] = append(byStation[ns], i)
	}
	for _, ns := range order {
		idx := byStation[ns]
		if len(idx) < 2 {
			continue
		}
		keep := -1
		for _, pref := range preference {
			code := pref
			if len(code) > 2 {
				code = code[:2]
			}
			for _, i := range idx {
				if strings.EqualFold(c.Streams[i].Instrument(), code) {
					keep = i
					break
				}
			}
			if keep >= 0 {
				break
			}
		}
		if keep < 0 {
			for _, i := range idx {
				c.Streams[i].Fail("select_colocated", "No instruments match entries in the colocated instrument preference list for this station.")
			}
			continue
		}
		for _, i := range idx {
			if i != keep {
				c.Streams[i].Fail("select_colocated", fmt.Sprintf("Colocated with %s instrument.", c.Streams[keep].Instrument()))
			}
		}
	}
}
