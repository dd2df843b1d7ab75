package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gmbatch/internal/config"
	"gmbatch/internal/coordinator"
	"gmbatch/internal/event"
	"gmbatch/internal/logging"
	"gmbatch/internal/pipeline"
	"gmbatch/internal/stream/streamtest"
	"gmbatch/internal/table"
	"gmbatch/internal/workspace"
)

func dataDir(t *testing.T, ids ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, id := range ids {
		streamtest.WriteEventDir(t, dir, streamtest.Event(id),
			streamtest.Station("CI", "AAA", 35.8, -117.5, 100),
			streamtest.Station("CI", "BBB", 36.0, -117.0, 50))
	}
	return dir
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := MainWithArgs(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestMainWithArgs_NoStageExit1(t *testing.T) {
	code, _, stderr := run(t, "run", "--output", t.TempDir(), "--eventids", "ev1")
	if code != 1 || !strings.Contains(stderr, "no stage selected") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestMainWithArgs_SourceRequiredForPerEventStages(t *testing.T) {
	code, _, stderr := run(t, "run", "--output", t.TempDir(), "--assemble")
	if code != 1 || !strings.Contains(stderr, "event source is required") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestMainWithArgs_SourcesMutuallyExclusive(t *testing.T) {
	code, _, _ := run(t, "run", "--output", t.TempDir(), "--assemble", "--eventids", "a", "--directory", t.TempDir())
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestMainWithArgs_ZeroEventsExit1(t *testing.T) {
	code, _, stderr := run(t, "run", "--output", t.TempDir(), "--assemble", "--directory", t.TempDir())
	if code != 1 || !strings.Contains(stderr, "no events") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestMainWithArgs_InvalidConfigExit1(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(cfg, []byte("processing:\n  taper_width: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	data := dataDir(t, "ev1")
	code, _, stderr := run(t, "run", "--output", t.TempDir(), "--assemble", "--directory", data, "--config", cfg)
	if code != 1 || !strings.Contains(stderr, "invalid configuration") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestMainWithArgs_StageOnlyMissingWorkspaceExit1(t *testing.T) {
	out := t.TempDir()
	code, _, stderr := run(t, "run", "--output", out, "--provenance", "--eventids", "ev1", "-n", "1")
	if code != 1 || !strings.Contains(stderr, "--assemble first") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
	if _, err := os.Stat(workspace.PathFor(out, "ev1")); !os.IsNotExist(err) {
		t.Fatalf("no workspace should be created")
	}
}

func TestRun_SequentialEndToEnd(t *testing.T) {
	data := dataDir(t, "ev1", "ev2")
	out := t.TempDir()
	logFile := filepath.Join(out, "run.log")
	code, stdout, stderr := run(t, "run", "--output", out, "--directory", data,
		"--assemble", "--process", "--provenance", "--export",
		"--label", "t1", "-n", "1", "--log-file", logFile)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	for _, id := range []string{"ev1", "ev2"} {
		if _, err := os.Stat(workspace.PathFor(out, id)); err != nil {
			t.Fatalf("workspace %s: %v", id, err)
		}
		if _, err := os.Stat(filepath.Join(out, id, id+"_t1_provenance.csv")); err != nil {
			t.Fatalf("provenance %s: %v", id, err)
		}
	}
	events, err := table.Read(filepath.Join(out, "events.csv"))
	if err != nil {
		t.Fatalf("events table: %v", err)
	}
	if events.Len() != 2 {
		t.Fatalf("events.csv has %d rows, want 2", events.Len())
	}
	if _, err := os.Stat(filepath.Join(out, "metrics.prom")); err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}
	if !strings.Contains(stdout, "Files created") || !strings.Contains(stdout, "events.csv") {
		t.Fatalf("summary missing from stdout:\n%s", stdout)
	}
	b, err := os.ReadFile(logFile)
	if err != nil || !strings.Contains(string(b), "run starting") {
		t.Fatalf("log file not written: %v %q", err, b)
	}
}

func TestRun_ExportOnlyScansOutput(t *testing.T) {
	data := dataDir(t, "ev1", "ev2", "ev3")
	out := t.TempDir()
	if code, _, stderr := run(t, "run", "--output", out, "--eventids", "ev1,ev3", "--data-dir", data, "--assemble", "--process", "--label", "t1", "-n", "1"); code != 0 {
		t.Fatalf("process: %s", stderr)
	}
	if code, _, stderr := run(t, "run", "--output", out, "--eventids", "ev2", "--data-dir", data, "--assemble", "-n", "1"); code != 0 {
		t.Fatalf("assemble: %s", stderr)
	}
	code, _, stderr := run(t, "run", "--output", out, "--export")
	if code != 0 {
		t.Fatalf("export: %s", stderr)
	}
	events, err := table.Read(filepath.Join(out, "events.csv"))
	if err != nil {
		t.Fatalf("events table: %v", err)
	}
	if events.Len() != 2 {
		t.Fatalf("events.csv has %d rows, want 2 (raw-only workspace skipped)", events.Len())
	}
}

// inProcessLauncher runs each job on a goroutine and logs to the private
// log file a worker process would use.
type inProcessLauncher struct {
	mu   sync.Mutex
	next int
	pids []int
}

type inProcessWorker struct {
	pid  int
	done chan struct{}
	res  coordinator.WorkerResult
	err  error
}

func (l *inProcessLauncher) Start(ctx context.Context, job coordinator.Job) (coordinator.Worker, error) {
	l.mu.Lock()
	l.next++
	pid := 90000 + l.next
	l.pids = append(l.pids, pid)
	l.mu.Unlock()
	w := &inProcessWorker{pid: pid, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		f, err := os.Create(coordinator.WorkerLogPath(job.Options.OutDir, pid))
		if err != nil {
			w.err = err
			return
		}
		defer f.Close()
		log := logging.New(f, logging.Options{Level: "info", Console: true}).With().Int("pid", pid).Logger()
		w.res, w.err = coordinator.RunJob(ctx, job, log)
		w.res.PID = pid
	}()
	return w, nil
}

func (w *inProcessWorker) PID() int { return w.pid }

func (w *inProcessWorker) Wait() (coordinator.WorkerResult, error) {
	<-w.done
	return w.res, w.err
}

func TestRun_ParallelMergesWorkerLogs(t *testing.T) {
	l := &inProcessLauncher{}
	orig := newLauncher
	newLauncher = func(io.Writer) coordinator.Launcher { return l }
	defer func() { newLauncher = orig }()

	data := dataDir(t, "ev1", "ev2", "ev3")
	out := t.TempDir()
	logFile := filepath.Join(out, "run.log")
	code, _, stderr := run(t, "run", "--output", out, "--directory", data,
		"--assemble", "--process", "--label", "t1", "-n", "2", "--log-file", logFile)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if len(l.pids) != 2 {
		t.Fatalf("expected 2 workers, got %v", l.pids)
	}
	b, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	for _, pid := range l.pids {
		if !strings.Contains(string(b), fmt.Sprintf("pid=%d", pid)) {
			t.Fatalf("log of worker %d not merged", pid)
		}
		if _, err := os.Stat(coordinator.WorkerLogPath(out, pid)); !os.IsNotExist(err) {
			t.Fatalf("private log of %d left behind", pid)
		}
	}
	for _, id := range []string{"ev1", "ev2", "ev3"} {
		ws, err := workspace.Open(workspace.PathFor(out, id))
		if err != nil {
			t.Fatalf("open %s: %v", id, err)
		}
		label, err := ws.ActiveLabel()
		_ = ws.Close()
		if err != nil || label != "t1" {
			t.Fatalf("%s: label=%q err=%v", id, label, err)
		}
	}
}

func TestWorkerCommand_WritesResultAndPrivateLog(t *testing.T) {
	data := dataDir(t, "ev1")
	out := t.TempDir()
	cfg := config.Default()
	cfg.Plot.Width, cfg.Plot.Height = 3, 2
	job := coordinator.Job{
		Chunk:    1,
		Events:   []event.Event{{ID: "ev1"}},
		DataDir:  data,
		LogLevel: "debug",
		Options: pipeline.Options{
			OutDir: out,
			Stages: pipeline.Stages{Assemble: true},
			Tag:    "t1",
			Format: table.CSV,
			Config: cfg,
		},
	}
	jobPath := filepath.Join(t.TempDir(), "job.json")
	if err := coordinator.WriteJob(jobPath, job); err != nil {
		t.Fatal(err)
	}
	code, stdout, stderr := run(t, "worker", "--job", jobPath)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	var res coordinator.WorkerResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &res); err != nil {
		t.Fatalf("decode result %q: %v", stdout, err)
	}
	if res.PID != os.Getpid() || len(res.Results) != 1 || res.Results[0].Failed() {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Files.Paths("Workspace")) != 1 {
		t.Fatalf("workspace not reported: %+v", res.Files.Groups())
	}
	b, err := os.ReadFile(coordinator.WorkerLogPath(out, os.Getpid()))
	if err != nil || !strings.Contains(string(b), "worker starting") {
		t.Fatalf("private log: %v %q", err, b)
	}
}

func TestRun_ProcessExportUsesOnlyListedEvents(t *testing.T) {
	data := dataDir(t, "ev1", "ev2")
	out := t.TempDir()
	if code, _, stderr := run(t, "run", "--output", out, "--directory", data, "--assemble", "--process", "--label", "t1", "-n", "1"); code != 0 {
		t.Fatalf("setup: %s", stderr)
	}
	// a second processed label leaves ev2 ambiguous
	if code, _, stderr := run(t, "run", "--output", out, "--eventids", "ev2", "--data-dir", data, "--process", "--label", "t2", "-n", "1"); code != 0 {
		t.Fatalf("relabel ev2: %s", stderr)
	}

	code, _, stderr := run(t, "run", "--output", out, "--eventids", "ev1", "--data-dir", data,
		"--process", "--export", "--label", "t1", "-n", "1")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	events, err := table.Read(filepath.Join(out, "events.csv"))
	if err != nil {
		t.Fatalf("events table: %v", err)
	}
	var ids []string
	for _, v := range events.Column("id") {
		ids = append(ids, table.Format(v))
	}
	if len(ids) != 1 || ids[0] != "ev1" {
		t.Fatalf("events.csv ids = %v, want [ev1]", ids)
	}
}

func TestMainWithArgs_PreflightFailureLeavesNoLogFile(t *testing.T) {
	out := t.TempDir()
	logFile := filepath.Join(out, "run.log")
	code, _, stderr := run(t, "run", "--output", out, "--shakemap", "--eventids", "ev1", "--log-file", logFile)
	if code != 1 || !strings.Contains(stderr, "--assemble first") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
	if _, err := os.Stat(logFile); !os.IsNotExist(err) {
		t.Fatalf("log file should not be created when preflight fails: %v", err)
	}
}

func TestMainWithArgs_PathLikeEventIDExit1(t *testing.T) {
	out := t.TempDir()
	code, _, _ := run(t, "run", "--output", out, "--assemble", "--eventids", "../escape", "--data-dir", t.TempDir())
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(out), "escape")); !os.IsNotExist(err) {
		t.Fatalf("nothing may be written outside the output directory")
	}
}
