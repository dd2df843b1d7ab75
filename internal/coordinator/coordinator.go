// Package coordinator fans a batch of events out over worker processes, or
// runs them in-process when only one worker is requested, and gathers the
// per-event results, produced files and worker logs.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gmbatch/internal/artifact"
	"gmbatch/internal/event"
	"gmbatch/internal/pipeline"
	"gmbatch/internal/runmetrics"
)

// Coordinator owns one batch run.
type Coordinator struct {
	Launcher Launcher
	Workers  int
	// Timeout bounds the wait for workers; 0 waits indefinitely.
	Timeout time.Duration
	Log     zerolog.Logger
	// LogSink receives each worker's private log once the worker exits.
	LogSink io.Writer
	// Stderr receives worker start failures; defaults to os.Stderr.
	Stderr  io.Writer
	Metrics *runmetrics.Recorder
	// Local runs a job in-process; defaults to RunJob.
	Local func(ctx context.Context, j Job, log zerolog.Logger) (WorkerResult, error)
}

// Outcome is the merged result of a run.
type Outcome struct {
	Results []pipeline.EventResult
	Files   *artifact.Registry
	// Skipped lists events whose worker could not be started.
	Skipped []string
}

type exit struct {
	pid   int
	job   Job
	res   WorkerResult
	err   error
	order int
}

// Run processes events. With more than one worker and a per-event stage
// requested, each contiguous chunk runs in its own worker process; otherwise
// the events run sequentially in this process. tmpl supplies the pipeline
// options shared by every chunk.
func (c *Coordinator) Run(ctx context.Context, events []event.Event, tmpl Job) (Outcome, error) {
	out := Outcome{Files: artifact.New()}
	if len(events) == 0 || !tmpl.Options.Stages.PerEvent() {
		return out, nil
	}
	if c.Workers <= 1 {
		return c.runLocal(ctx, events, tmpl)
	}
	return c.runWorkers(ctx, events, tmpl)
}

func (c *Coordinator) runLocal(ctx context.Context, events []event.Event, tmpl Job) (Outcome, error) {
	local := c.Local
	if local == nil {
		local = RunJob
	}
	job := tmpl
	job.Events = events
	res, err := local(ctx, job, c.Log)
	if err != nil {
		return Outcome{Files: artifact.New()}, err
	}
	files := res.Files
	if files == nil {
		files = artifact.New()
	}
	return Outcome{Results: res.Results, Files: files}, nil
}

func (c *Coordinator) runWorkers(ctx context.Context, events []event.Event, tmpl Job) (Outcome, error) {
	out := Outcome{Files: artifact.New()}
	stderr := c.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	chunks := Partition(events, c.Workers)
	type started struct {
		w   Worker
		job Job
	}
	var workers []started
	for i, chunk := range chunks {
		job := tmpl
		job.Chunk = i
		job.Events = chunk
		w, err := c.Launcher.Start(ctx, job)
		if err != nil {
			fmt.Fprintf(stderr, "failed to start worker for chunk %d (%d events: %v): %v\n", i, len(chunk), job.EventIDs(), err)
			c.Log.Error().Err(err).Int("chunk", i).Strs("events", job.EventIDs()).Msg("worker start failed, skipping chunk")
			c.Metrics.WorkerFailed()
			out.Skipped = append(out.Skipped, job.EventIDs()...)
			continue
		}
		c.Metrics.WorkerStarted()
		c.Log.Info().Int("pid", w.PID()).Int("chunk", i).Int("events", len(chunk)).Msg("worker started")
		workers = append(workers, started{w: w, job: job})
	}

	exits := make(chan exit, len(workers))
	var g errgroup.Group
	for _, s := range workers {
		s := s
		g.Go(func() error {
			res, err := s.w.Wait()
			exits <- exit{pid: s.w.PID(), job: s.job, res: res, err: err}
			return nil
		})
	}

	for n := 0; n < len(workers); n++ {
		e := <-exits
		e.order = n
		c.collect(&out, e)
	}
	_ = g.Wait()
	return out, nil
}

// collect merges one exited worker: its log, files and results. Events the
// worker did not report are recorded as failed.
func (c *Coordinator) collect(out *Outcome, e exit) {
	log := c.Log.With().Int("pid", e.pid).Int("chunk", e.job.Chunk).Logger()
	c.mergeLog(e.job.Options.OutDir, e.pid, log)
	if e.err != nil {
		c.Metrics.WorkerFailed()
		log.Error().Err(e.err).Int("exit_order", e.order).Msg("worker exited abnormally")
	} else {
		log.Info().Int("exit_order", e.order).Int("events", len(e.res.Results)).Msg("worker finished")
	}
	out.Files.Merge(e.res.Files)
	reported := map[string]bool{}
	for _, r := range e.res.Results {
		reported[r.EventID] = true
		out.Results = append(out.Results, r)
	}
	for _, ev := range e.job.Events {
		if reported[ev.ID] {
			continue
		}
		msg := "worker exited before finishing the event"
		if e.err != nil {
			msg = fmt.Sprintf("%s: %v", msg, e.err)
		}
		out.Results = append(out.Results, pipeline.EventResult{EventID: ev.ID, State: pipeline.NotStarted.String(), Err: msg})
	}
}

// mergeLog appends the worker's private log to the sink and removes it.
func (c *Coordinator) mergeLog(outdir string, pid int, log zerolog.Logger) {
	path := WorkerLogPath(outdir, pid)
	f, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("worker log missing")
		return
	}
	if c.LogSink != nil {
		if _, err := io.Copy(c.LogSink, f); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("append worker log")
		}
	}
	_ = f.Close()
	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("remove worker log")
	}
}
