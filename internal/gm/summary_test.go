package gm

import (
	"math"
	"testing"

	"gmbatch/internal/stream"
	"gmbatch/internal/stream/streamtest"
)

func TestSummarize_GreaterOfTwo(t *testing.T) {
	ev := streamtest.Event("ev1")
	c := stream.NewCollection(streamtest.Station("CI", "ABC", 35.9, -117.7, 10), stream.Options{})
	sum, err := Summarize(&c.Streams[0], ev, nil, nil)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	comps := sum.Components()
	want := []string{IMCGreaterOf2, CompH1, CompH2, CompZ}
	if len(comps) != len(want) {
		t.Fatalf("components = %v, want %v", comps, want)
	}
	g := sum.Values[IMCGreaterOf2][IMTPGA]
	h1 := sum.Values[CompH1][IMTPGA]
	h2 := sum.Values[CompH2][IMTPGA]
	if g != math.Max(h1, h2) || g <= 0 {
		t.Fatalf("greater-of-two PGA %v, h1 %v, h2 %v", g, h1, h2)
	}
	if sum.EpicentralKm <= 0 || sum.HypocentralKm < sum.EpicentralKm {
		t.Fatalf("unexpected distances epi=%v hypo=%v", sum.EpicentralKm, sum.HypocentralKm)
	}
}

func TestSummarize_IgnoresUnsupportedIMT(t *testing.T) {
	ev := streamtest.Event("ev1")
	c := stream.NewCollection(streamtest.Station("CI", "ABC", 35.9, -117.7, 1), stream.Options{})
	sum, err := Summarize(&c.Streams[0], ev, []string{IMCChannels}, []string{"SA(1.0)", "pga"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if _, ok := sum.Values[IMCGreaterOf2]; ok {
		t.Fatalf("greater-of-two should not be computed when not requested")
	}
	if _, ok := sum.Values[CompZ]["SA(1.0)"]; ok {
		t.Fatalf("unsupported imt should be skipped")
	}
	if _, ok := sum.Values[CompZ][IMTPGA]; !ok {
		t.Fatalf("lowercase pga should be normalized")
	}
}

func TestPeakUnits(t *testing.T) {
	tr := stream.Trace{SamplingRate: 1, Units: stream.UnitsAcc, Data: []float64{0, -980.665, 0}}
	if v, _ := peak(&tr, IMTPGA); math.Abs(v-100) > 1e-9 {
		t.Fatalf("PGA of 1g should be 100 %%g, got %v", v)
	}
	tr = stream.Trace{SamplingRate: 1, Units: stream.UnitsVel, Data: []float64{0, 3, -5}}
	if v, _ := peak(&tr, IMTPGV); v != 5 {
		t.Fatalf("PGV from velocity should be max abs, got %v", v)
	}
}

func TestDistance(t *testing.T) {
	// one degree of latitude is ~111.19 km
	if d := Distance(0, 0, 1, 0); math.Abs(d-111.19) > 0.01 {
		t.Fatalf("unexpected distance %v", d)
	}
	if d := Distance(10, 10, 10, 10); d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
}
