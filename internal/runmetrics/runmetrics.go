// Package runmetrics collects Prometheus metrics for one batch run. Worker
// processes report through their results, so only the parent records.
package runmetrics

import (
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FileName is the textfile written into the output directory.
const FileName = "metrics.prom"

// Outcome label values.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Recorder owns a private registry so runs and tests never share state.
type Recorder struct {
	reg *prometheus.Registry

	events         *prometheus.CounterVec
	stageRuns      *prometheus.CounterVec
	eventDuration  prometheus.Histogram
	workersStarted prometheus.Counter
	workerFailures prometheus.Counter
	exportSpaces   *prometheus.CounterVec
}

// New returns a Recorder with every metric registered.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gmbatch",
			Name:      "events_total",
			Help:      "Events handled, by outcome",
		}, []string{"outcome"}),
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gmbatch",
			Name:      "stage_runs_total",
			Help:      "Per-event stage executions, by stage and outcome",
		}, []string{"stage", "outcome"}),
		eventDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gmbatch",
			Name:      "event_duration_seconds",
			Help:      "Wall time spent on one event",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		workersStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gmbatch",
			Name:      "workers_started_total",
			Help:      "Worker processes started",
		}),
		workerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gmbatch",
			Name:      "worker_failures_total",
			Help:      "Worker processes that failed to start or exited abnormally",
		}),
		exportSpaces: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gmbatch",
			Name:      "export_workspaces_total",
			Help:      "Workspaces considered by the exporter, by outcome",
		}, []string{"outcome"}),
	}
	r.reg.MustRegister(r.events, r.stageRuns, r.eventDuration, r.workersStarted, r.workerFailures, r.exportSpaces)
	return r
}

// Registry exposes the underlying registry, e.g. for promhttp.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Event records one finished event.
func (r *Recorder) Event(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(outcome).Inc()
	r.eventDuration.Observe(d.Seconds())
}

// Stage records one stage execution.
func (r *Recorder) Stage(stage, outcome string) {
	if r == nil {
		return
	}
	r.stageRuns.WithLabelValues(stage, outcome).Inc()
}

// WorkerStarted counts a started worker process.
func (r *Recorder) WorkerStarted() {
	if r == nil {
		return
	}
	r.workersStarted.Inc()
}

// WorkerFailed counts a worker that could not start or exited abnormally.
func (r *Recorder) WorkerFailed() {
	if r == nil {
		return
	}
	r.workerFailures.Inc()
}

// ExportWorkspace records how the exporter handled one workspace.
func (r *Recorder) ExportWorkspace(outcome string) {
	if r == nil {
		return
	}
	r.exportSpaces.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes every metric to outdir/metrics.prom and returns the
// path.
func (r *Recorder) WriteTextfile(outdir string) (string, error) {
	path := filepath.Join(outdir, FileName)
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return "", err
	}
	return path, nil
}
