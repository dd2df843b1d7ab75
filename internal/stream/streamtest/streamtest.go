// Package streamtest builds synthetic station data for tests.
package streamtest

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gmbatch/internal/event"
	"gmbatch/internal/stream"
)

// Event returns a resolved event with the given id.
func Event(id string) event.Event {
	return event.Event{
		ID:        id,
		Time:      time.Date(2019, 7, 6, 3, 19, 53, 0, time.UTC),
		Latitude:  35.77,
		Longitude: -117.6,
		Depth:     8,
		Magnitude: 7.1,
	}
}

// Station returns a three-component accelerometer record for net.sta located
// at lat/lon. Amplitude scales the synthetic signal.
func Station(net, sta string, lat, lon, amplitude float64) []stream.Trace {
	start := time.Date(2019, 7, 6, 3, 19, 50, 0, time.UTC)
	var out []stream.Trace
	for i, cha := range []string{"HN1", "HN2", "HNZ"} {
		data := make([]float64, 400)
		for k := range data {
			x := float64(k) / 100
			data[k] = amplitude*float64(3-i)*math.Sin(2*math.Pi*x)*math.Exp(-x/2) + 0.5
		}
		out = append(out, stream.Trace{
			Network:      net,
			Station:      sta,
			Location:     "--",
			Channel:      cha,
			SamplingRate: 100,
			StartTime:    start,
			Units:        stream.UnitsAcc,
			ProcessLevel: stream.LevelUncorr,
			Latitude:     lat,
			Longitude:    lon,
			Data:         data,
		})
	}
	return out
}

// WriteEventDir lays out dir/<id>/event.json and dir/<id>/raw/<net.sta>.json.
func WriteEventDir(t testing.TB, dir string, ev event.Event, stations ...[]stream.Trace) {
	t.Helper()
	raw := filepath.Join(dir, ev.ID, "raw")
	if err := os.MkdirAll(raw, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := event.WriteDescriptor(filepath.Join(dir, ev.ID, event.DescriptorFile), ev); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	for _, trs := range stations {
		if len(trs) == 0 {
			continue
		}
		name := trs[0].Network + "." + trs[0].Station + ".json"
		if err := stream.WriteFile(filepath.Join(raw, name), trs); err != nil {
			t.Fatalf("write traces: %v", err)
		}
	}
}
