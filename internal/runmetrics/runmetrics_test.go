package runmetrics

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_CountsAndTextfile(t *testing.T) {
	r := New()
	r.Event(OutcomeOK, 2*time.Second)
	r.Event(OutcomeFailed, time.Second)
	r.Stage("process", OutcomeOK)
	r.Stage("process", OutcomeOK)
	r.WorkerStarted()
	r.WorkerFailed()
	r.ExportWorkspace(OutcomeSkipped)

	if got := testutil.ToFloat64(r.stageRuns.WithLabelValues("process", OutcomeOK)); got != 2 {
		t.Fatalf("stage runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.events.WithLabelValues(OutcomeFailed)); got != 1 {
		t.Fatalf("failed events = %v, want 1", got)
	}

	path, err := r.WriteTextfile(t.TempDir())
	if err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, want := range []string{"gmbatch_events_total", "gmbatch_workers_started_total 1", `gmbatch_export_workspaces_total{outcome="skipped"} 1`} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("textfile missing %q:\n%s", want, b)
		}
	}
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	r.Event(OutcomeOK, 0)
	r.Stage("report", OutcomeSkipped)
	r.WorkerStarted()
}
