// Package gm computes peak ground-motion metrics for station streams.
package gm

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gmbatch/internal/event"
	"gmbatch/internal/stream"
)

// Intensity-measure components.
const (
	IMCChannels   = "CHANNELS"
	IMCGreaterOf2 = "GREATER_OF_TWO_HORIZONTALS"
	CompH1        = "H1"
	CompH2        = "H2"
	CompZ         = "Z"
)

// Intensity-measure types.
const (
	IMTPGA = "PGA" // %g
	IMTPGV = "PGV" // cm/s
)

var (
	DefaultIMCs = []string{IMCGreaterOf2, IMCChannels}
	DefaultIMTs = []string{IMTPGA, IMTPGV}
)

const (
	gravity     = 980.665 // cm/s/s
	earthRadius = 6371.0  // km
)

// Supported reports whether imt can be computed.
func Supported(imt string) bool {
	switch strings.ToUpper(imt) {
	case IMTPGA, IMTPGV:
		return true
	}
	return false
}

// StationSummary holds the metrics computed for one station stream.
type StationSummary struct {
	StreamID      string
	Network       string
	Station       string
	Name          string
	Latitude      float64
	Longitude     float64
	Elevation     float64
	EpicentralKm  float64
	HypocentralKm float64
	// Values maps component -> imt -> value.
	Values map[string]map[string]float64
}

// Components returns the components present, sorted.
func (s StationSummary) Components() []string {
	out := make([]string, 0, len(s.Values))
	for c := range s.Values {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Summarize computes imts for the requested imcs on one stream. Unsupported
// IMTs are ignored; the caller decides whether to log them.
func Summarize(st *stream.Stream, ev event.Event, imcs, imts []string) (StationSummary, error) {
	if len(st.Traces) == 0 {
		return StationSummary{}, fmt.Errorf("empty stream")
	}
	if len(imcs) == 0 {
		imcs = DefaultIMCs
	}
	if len(imts) == 0 {
		imts = DefaultIMTs
	}
	first := &st.Traces[0]
	sum := StationSummary{
		StreamID:  st.ID(),
		Network:   first.Network,
		Station:   first.Station,
		Name:      first.StationName,
		Latitude:  first.Latitude,
		Longitude: first.Longitude,
		Elevation: first.Elevation,
		Values:    make(map[string]map[string]float64),
	}
	sum.EpicentralKm = Distance(ev.Latitude, ev.Longitude, first.Latitude, first.Longitude)
	sum.HypocentralKm = math.Hypot(sum.EpicentralKm, ev.Depth)

	perChannel := make(map[string]map[string]float64)
	for i := range st.Traces {
		tr := &st.Traces[i]
		vals := make(map[string]float64)
		for _, imt := range imts {
			if v, ok := peak(tr, strings.ToUpper(imt)); ok {
				vals[strings.ToUpper(imt)] = v
			}
		}
		perChannel[component(tr)] = vals
	}
	for _, imc := range imcs {
		switch strings.ToUpper(imc) {
		case IMCChannels:
			for comp, vals := range perChannel {
				sum.Values[comp] = vals
			}
		case IMCGreaterOf2:
			h1, ok1 := perChannel[CompH1]
			h2, ok2 := perChannel[CompH2]
			if !ok1 || !ok2 {
				continue
			}
			g := make(map[string]float64)
			for imt, v := range h1 {
				if w, ok := h2[imt]; ok {
					g[imt] = math.Max(v, w)
				}
			}
			sum.Values[IMCGreaterOf2] = g
		}
	}
	return sum, nil
}

// component maps a channel orientation to H1, H2 or Z.
func component(tr *stream.Trace) string {
	switch strings.ToUpper(tr.Orientation()) {
	case "Z", "U":
		return CompZ
	case "2", "E", "Y":
		return CompH2
	default:
		return CompH1
	}
}

func peak(tr *stream.Trace, imt string) (float64, bool) {
	if len(tr.Data) == 0 || tr.SamplingRate <= 0 {
		return 0, false
	}
	dt := 1 / tr.SamplingRate
	switch imt {
	case IMTPGA:
		acc := tr.Data
		if tr.Units == stream.UnitsVel {
			acc = differentiate(tr.Data, dt)
		}
		return maxAbs(acc) / gravity * 100, true
	case IMTPGV:
		vel := tr.Data
		if tr.Units != stream.UnitsVel {
			vel = integrate(tr.Data, dt)
		}
		return maxAbs(vel), true
	}
	return 0, false
}

func maxAbs(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}

// integrate uses the trapezoid rule starting from zero.
func integrate(x []float64, dt float64) []float64 {
	out := make([]float64, len(x))
	for i := 1; i < len(x); i++ {
		out[i] = out[i-1] + (x[i]+x[i-1])*dt/2
	}
	return out
}

func differentiate(x []float64, dt float64) []float64 {
	out := make([]float64, len(x))
	for i := 1; i < len(x); i++ {
		out[i] = (x[i] - x[i-1]) / dt
	}
	return out
}

// Distance is the great-circle distance in km.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(a)))
}
