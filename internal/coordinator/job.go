package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"gmbatch/internal/artifact"
	"gmbatch/internal/event"
	"gmbatch/internal/pipeline"
)

// Job is the work handed to one worker: a contiguous chunk of events plus
// the run-wide pipeline options.
type Job struct {
	Chunk    int              `json:"chunk"`
	Events   []event.Event    `json:"events"`
	Options  pipeline.Options `json:"options"`
	DataDir  string           `json:"data_dir,omitempty"`
	LogLevel string           `json:"log_level,omitempty"`
}

// EventIDs lists the job's event identifiers.
func (j Job) EventIDs() []string { return event.IDs(j.Events) }

// WorkerResult is what a worker reports back to the parent on stdout.
type WorkerResult struct {
	PID     int                    `json:"pid"`
	Chunk   int                    `json:"chunk"`
	Results []pipeline.EventResult `json:"results"`
	Files   *artifact.Registry     `json:"files"`
}

// WriteJob stores j as JSON at path.
func WriteJob(path string, j Job) error {
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// ReadJob loads a job file written by WriteJob.
func ReadJob(path string) (Job, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Job{}, err
	}
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, fmt.Errorf("parse job %s: %w", path, err)
	}
	return j, nil
}

// WorkerLogPath is the private log file of the worker with the given pid.
func WorkerLogPath(outdir string, pid int) string {
	return filepath.Join(outdir, strconv.Itoa(pid)+".log")
}

// RunJob runs every event of j in order with the default collaborators and
// returns the combined result. Worker processes and the sequential path
// share it.
func RunJob(ctx context.Context, j Job, log zerolog.Logger) (WorkerResult, error) {
	files := artifact.New()
	deps, err := pipeline.DefaultDeps(j.Options, j.DataDir, files, log)
	if err != nil {
		return WorkerResult{}, err
	}
	return RunJobWith(ctx, j, pipeline.New(j.Options, deps)), nil
}

// RunJobWith runs j on an already wired pipeline.
func RunJobWith(ctx context.Context, j Job, p *pipeline.Pipeline) WorkerResult {
	res := WorkerResult{PID: os.Getpid(), Chunk: j.Chunk, Files: p.Files()}
	for _, ev := range j.Events {
		if ctx.Err() != nil {
			break
		}
		res.Results = append(res.Results, p.RunEvent(ctx, ev))
	}
	return res
}
