package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// Launcher starts one worker for a job.
type Launcher interface {
	Start(ctx context.Context, job Job) (Worker, error)
}

// Worker is a started worker. Wait blocks until it exits.
type Worker interface {
	PID() int
	Wait() (WorkerResult, error)
}

// ProcessLauncher re-executes the current binary's hidden worker command:
// <exe> worker --job FILE. The job file is written to the output directory
// and removed when the worker exits.
type ProcessLauncher struct {
	// Executable defaults to os.Executable().
	Executable string
	// Args precede the job flag; defaults to ["worker"].
	Args []string
	// Stderr receives the worker's stderr; defaults to os.Stderr.
	Stderr io.Writer
}

// Start implements Launcher.
func (l *ProcessLauncher) Start(ctx context.Context, job Job) (Worker, error) {
	exe := l.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
	}
	args := l.Args
	if len(args) == 0 {
		args = []string{"worker"}
	}
	stderr := l.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := os.MkdirAll(job.Options.OutDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(job.Options.OutDir, fmt.Sprintf(".job-%d-*.json", job.Chunk))
	if err != nil {
		return nil, fmt.Errorf("create job file: %w", err)
	}
	jobPath := f.Name()
	_ = f.Close()
	if err := WriteJob(jobPath, job); err != nil {
		_ = os.Remove(jobPath)
		return nil, fmt.Errorf("write job file: %w", err)
	}

	cmd := exec.CommandContext(ctx, exe, append(append([]string(nil), args...), "--job", jobPath)...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	configureWorkerProcess(cmd)
	cmd.Cancel = func() error {
		terminateWorkerProcess(cmd)
		return nil
	}
	if err := cmd.Start(); err != nil {
		_ = os.Remove(jobPath)
		return nil, fmt.Errorf("start worker for chunk %d: %w", job.Chunk, err)
	}
	return &processWorker{cmd: cmd, stdout: &stdout, jobPath: jobPath, chunk: job.Chunk}, nil
}

type processWorker struct {
	cmd     *exec.Cmd
	stdout  *bytes.Buffer
	jobPath string
	chunk   int
}

func (w *processWorker) PID() int { return w.cmd.Process.Pid }

func (w *processWorker) Wait() (WorkerResult, error) {
	defer os.Remove(w.jobPath)
	werr := w.cmd.Wait()
	var res WorkerResult
	out := bytes.TrimSpace(w.stdout.Bytes())
	if len(out) > 0 {
		// the result is the last line; anything before it is stray output
		if i := bytes.LastIndexByte(out, '\n'); i >= 0 {
			out = out[i+1:]
		}
		if err := json.Unmarshal(out, &res); err != nil && werr == nil {
			werr = fmt.Errorf("decode worker result: %w", err)
		}
	} else if werr == nil {
		werr = fmt.Errorf("worker %d wrote no result", w.PID())
	}
	if res.PID == 0 {
		res.PID = w.PID()
	}
	res.Chunk = w.chunk
	return res, werr
}

func (w *processWorker) String() string {
	return fmt.Sprintf("worker pid=%d chunk=%d job=%s", w.PID(), w.chunk, filepath.Base(w.jobPath))
}
