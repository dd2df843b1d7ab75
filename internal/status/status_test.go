package status

import (
	"context"
	"testing"

	"gmbatch/internal/stream"
	"gmbatch/internal/stream/streamtest"
	"gmbatch/internal/workspace"
)

func writeWorkspace(t *testing.T, outdir, id string, labels ...string) {
	t.Helper()
	ws, err := workspace.Create(workspace.PathFor(outdir, id))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer ws.Close()
	st := streamtest.Station("CI", "AAA", 35.8, -117.5, 100)
	for i := range st {
		st[i].SetProvenance("detrend", map[string]any{"detrending_method": "demean"})
	}
	for _, l := range labels {
		if err := ws.AddStreams(streamtest.Event(id), stream.NewCollection(st, stream.Options{}), l); err != nil {
			t.Fatalf("AddStreams: %v", err)
		}
	}
}

func TestListEvents(t *testing.T) {
	out := t.TempDir()
	writeWorkspace(t, out, "ev1", workspace.RawLabel, "tag")
	writeWorkspace(t, out, "ev2", workspace.RawLabel)
	writeWorkspace(t, out, "ev3", "a", "b")

	got, err := New(out).ListEvents(context.Background())
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].ID != "ev1" || got[0].Active != "tag" || len(got[0].Labels) != 2 {
		t.Fatalf("ev1: %+v", got[0])
	}
	if got[0].Labels[0].Traces != 3 || got[0].Labels[0].Streams != 1 {
		t.Fatalf("ev1 label counts: %+v", got[0].Labels[0])
	}
	if got[1].Active != "" || got[1].Error != "" {
		t.Fatalf("ev2 should be raw-only without error: %+v", got[1])
	}
	if got[2].Error == "" {
		t.Fatalf("ev3 should report its ambiguous labels")
	}
}

func TestEvent_Missing(t *testing.T) {
	_, err := New(t.TempDir()).Event(context.Background(), "nope")
	if !workspace.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProvenance(t *testing.T) {
	out := t.TempDir()
	writeWorkspace(t, out, "ev1", workspace.RawLabel, "tag")
	writeWorkspace(t, out, "ev2", workspace.RawLabel)
	svc := New(out)

	resp, err := svc.Provenance(context.Background(), "ev1")
	if err != nil {
		t.Fatalf("Provenance: %v", err)
	}
	if resp.Label != "tag" || len(resp.Entries) != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if e := resp.Entries[0]; e.Attribute != "detrending_method" || e.Value != "demean" {
		t.Fatalf("unexpected entry %+v", e)
	}

	if _, err := svc.Provenance(context.Background(), "ev2"); !workspace.IsNotFound(err) {
		t.Fatalf("raw-only provenance should be not found, got %v", err)
	}
}
