package workspace

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gmbatch/internal/gm"
	"gmbatch/internal/stream"
	"gmbatch/internal/stream/streamtest"
)

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w, err := Create(filepath.Join(t.TempDir(), "ev1", FileName))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func collection(stations ...[]stream.Trace) *stream.Collection {
	var traces []stream.Trace
	for _, s := range stations {
		traces = append(traces, s...)
	}
	return stream.NewCollection(traces, stream.Options{})
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope", FileName))
	if !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCloseExactlyOnce(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close = %v, want ErrClosed", err)
	}
	if _, err := w.Labels(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Labels after Close = %v, want ErrClosed", err)
	}
}

func TestAddStreams_ReopenAndLabels(t *testing.T) {
	dir := t.TempDir()
	path := PathFor(dir, "ev1")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ev := streamtest.Event("ev1")
	coll := collection(streamtest.Station("CI", "AAA", 35.8, -117.5, 100), streamtest.Station("CI", "BBB", 36.0, -117.0, 50))
	if err := w.AddStreams(ev, coll, RawLabel); err != nil {
		t.Fatalf("AddStreams: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w, err = Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()
	got, err := w.Event()
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if got.ID != "ev1" || !got.Time.Equal(ev.Time) {
		t.Fatalf("unexpected event %+v", got)
	}
	labels, _ := w.Labels()
	if diff := cmp.Diff([]string{RawLabel}, labels); diff != "" {
		t.Fatalf("labels (-want +got):\n%s", diff)
	}
	active, err := w.ActiveLabel()
	if err != nil || active != "" {
		t.Fatalf("ActiveLabel = %q, %v; want empty", active, err)
	}
	raw, err := w.Streams("ev1", RawLabel)
	if err != nil {
		t.Fatalf("Streams: %v", err)
	}
	if raw.Len() != 2 || len(raw.Streams[0].Traces) != 3 {
		t.Fatalf("unexpected stream set: %s", raw)
	}
	if _, err := w.Streams("other", RawLabel); err == nil {
		t.Fatalf("expected event id mismatch error")
	}
}

func TestActiveLabel_Ambiguous(t *testing.T) {
	w := newWorkspace(t)
	ev := streamtest.Event("ev1")
	coll := collection(streamtest.Station("CI", "AAA", 35.8, -117.5, 100))
	for _, l := range []string{RawLabel, "20240101000000", "20240102000000"} {
		if err := w.AddStreams(ev, coll, l); err != nil {
			t.Fatalf("AddStreams(%s): %v", l, err)
		}
	}
	_, err := w.ActiveLabel()
	if !IsAmbiguous(err) {
		t.Fatalf("expected ambiguous labels, got %v", err)
	}
	var ae *AmbiguousLabelsError
	if !errors.As(err, &ae) || ae.Count() != 2 {
		t.Fatalf("expected count 2, got %v", err)
	}
}

func TestAddStreams_SameLabelOverwrites(t *testing.T) {
	w := newWorkspace(t)
	ev := streamtest.Event("ev1")
	if err := w.AddStreams(ev, collection(streamtest.Station("CI", "AAA", 35.8, -117.5, 100), streamtest.Station("CI", "BBB", 36, -117, 10)), "tag"); err != nil {
		t.Fatalf("AddStreams: %v", err)
	}
	if err := w.AddStreams(ev, collection(streamtest.Station("CI", "CCC", 35.9, -117.4, 100)), "tag"); err != nil {
		t.Fatalf("AddStreams: %v", err)
	}
	coll, err := w.Streams("ev1", "tag")
	if err != nil {
		t.Fatalf("Streams: %v", err)
	}
	if coll.Len() != 1 || coll.Streams[0].ID() != "CI.CCC.HN" {
		t.Fatalf("expected overwritten set, got %s", coll)
	}
	labels, _ := w.ProcessedLabels()
	if len(labels) != 1 {
		t.Fatalf("expected one processed label, got %v", labels)
	}
}

func TestTables_SkipsFailedAndShortStreams(t *testing.T) {
	w := newWorkspace(t)
	ev := streamtest.Event("ev1")
	failed := streamtest.Station("CI", "BBB", 36.0, -117.0, 50)
	failed[0].Fail("check_free_field", "not free field")
	short := streamtest.Station("CI", "CCC", 36.1, -117.1, 50)[:2]
	coll := collection(streamtest.Station("CI", "AAA", 35.8, -117.5, 100), failed, short)
	if err := w.AddStreams(ev, coll, "tag"); err != nil {
		t.Fatalf("AddStreams: %v", err)
	}
	events, comps, err := w.Tables("tag", MetricsSpec{}, false)
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if events.Len() != 1 || events.Value(0, "id") != "ev1" {
		t.Fatalf("unexpected event table %+v", events)
	}
	for _, comp := range []string{gm.IMCGreaterOf2, gm.CompH1, gm.CompH2, gm.CompZ} {
		tb, ok := comps[comp]
		if !ok {
			t.Fatalf("missing component table %s", comp)
		}
		if tb.Len() != 1 || tb.Value(0, ColStation) != "AAA" {
			t.Fatalf("%s: expected only AAA, got %d rows", comp, tb.Len())
		}
		if _, ok := tb.Float(0, gm.IMTPGA); !ok {
			t.Fatalf("%s: missing PGA", comp)
		}
	}
	g, _ := comps[gm.IMCGreaterOf2].Float(0, gm.IMTPGA)
	h1, _ := comps[gm.CompH1].Float(0, gm.IMTPGA)
	if g < h1 {
		t.Fatalf("greater of two %v below H1 %v", g, h1)
	}
}

func TestProvenanceTable(t *testing.T) {
	w := newWorkspace(t)
	ev := streamtest.Event("ev1")
	st := streamtest.Station("CI", "AAA", 35.8, -117.5, 100)
	for i := range st {
		st[i].SetProvenance("detrend", map[string]any{"detrending_method": "demean"})
	}
	if err := w.AddStreams(ev, collection(st), "tag"); err != nil {
		t.Fatalf("AddStreams: %v", err)
	}
	tb, err := w.ProvenanceTable("ev1", "tag")
	if err != nil {
		t.Fatalf("ProvenanceTable: %v", err)
	}
	if tb.Len() != 3 {
		t.Fatalf("expected 3 provenance rows, got %d", tb.Len())
	}
	if got := tb.Value(0, "Attribute"); got != "detrending_method" {
		t.Fatalf("unexpected attribute %v", got)
	}
}
