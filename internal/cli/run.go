package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"gmbatch/internal/artifact"
	"gmbatch/internal/common/fsutil"
	"gmbatch/internal/config"
	"gmbatch/internal/coordinator"
	"gmbatch/internal/event"
	"gmbatch/internal/export"
	"gmbatch/internal/logging"
	"gmbatch/internal/pipeline"
	"gmbatch/internal/plot"
	"gmbatch/internal/runmetrics"
	"gmbatch/internal/table"
	"gmbatch/internal/workspace"
)

// ErrNoStage is returned when run is invoked without any stage flag.
var ErrNoStage = errors.New("no stage selected: use --assemble, --process, --report, --provenance, --shakemap or --export")

// newLauncher builds the launcher for parallel runs; replaced in tests.
var newLauncher = func(stderr io.Writer) coordinator.Launcher {
	return &coordinator.ProcessLauncher{Stderr: stderr}
}

type runOptions struct {
	output string
	stages pipeline.Stages

	eventIDs  []string
	textFile  string
	eventInfo string
	directory string
	dataDir   string

	format        string
	label         string
	configPath    string
	recompute     bool
	logFile       string
	logLevel      string
	numProcesses  int
	workerTimeout time.Duration
}

func newRunCmd() *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the selected stages over a set of events",
		Example: "  gmbatch run --output out --eventids ci38457511 --assemble --process --report\n" +
			"  gmbatch run --output out --directory data --assemble --process --num-processes 4\n" +
			"  gmbatch run --output out --export --format excel",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.output, "output", "o", "", "output directory holding one workspace per event")
	f.BoolVar(&o.stages.Assemble, "assemble", false, "fetch raw data and create workspaces")
	f.BoolVar(&o.stages.Process, "process", false, "process raw waveforms and compute metrics")
	f.BoolVar(&o.stages.Report, "report", false, "render plots, station map and summary report")
	f.BoolVar(&o.stages.Provenance, "provenance", false, "write the provenance table")
	f.BoolVar(&o.stages.Shakemap, "shakemap", false, "write the peak-motion table")
	f.BoolVar(&o.stages.Export, "export", false, "merge metric tables across workspaces")

	f.StringSliceVar(&o.eventIDs, "eventids", nil, "comma separated event identifiers")
	f.StringVar(&o.textFile, "textfile", "", "file with one event id or descriptor per line")
	f.StringVar(&o.eventInfo, "eventinfo", "", `single event descriptor "id time lat lon depth mag"`)
	f.StringVar(&o.directory, "directory", "", "local data tree, one folder per event")
	f.StringVar(&o.dataDir, "data-dir", "", "raw data root for id-only events (defaults to --directory or fetch.data_dir)")

	f.StringVar(&o.format, "format", "csv", "table format: csv|excel")
	f.StringVar(&o.label, "label", "", "processing tag (defaults to a timestamp)")
	f.StringVar(&o.configPath, "config", "", "configuration file (.yaml, .json or .toml)")
	f.BoolVar(&o.recompute, "recompute-metrics", false, "recompute metrics when exporting")
	f.StringVar(&o.logFile, "log-file", "", "write the unified log here instead of stderr")
	f.StringVar(&o.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	f.IntVarP(&o.numProcesses, "num-processes", "n", 2, "worker processes; 1 runs sequentially")
	f.DurationVar(&o.workerTimeout, "worker-timeout", 0, "stop waiting for workers after this long (0 waits indefinitely)")
	_ = cmd.MarkFlagRequired("output")
	cmd.MarkFlagsMutuallyExclusive("eventids", "textfile", "eventinfo", "directory")
	return cmd
}

func (o *runOptions) source() event.Source {
	return event.Source{IDs: o.eventIDs, TextFile: o.textFile, Info: o.eventInfo, Directory: o.directory}
}

// openLog returns the run logger and the sink worker logs are merged into.
func (o *runOptions) openLog(stderr io.Writer) (zerolog.Logger, io.Writer, func(), error) {
	if o.logFile == "" {
		return logging.New(stderr, logging.Options{Level: o.logLevel, Console: true}), stderr, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(o.logFile), 0o755); err != nil {
		return zerolog.Nop(), nil, nil, err
	}
	f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return logging.New(f, logging.Options{Level: o.logLevel, Console: true}), f, func() { _ = f.Close() }, nil
}

func (o *runOptions) run(ctx context.Context, stdout, stderr io.Writer) error {
	if !o.stages.Any() {
		return ErrNoStage
	}
	if o.label == workspace.RawLabel {
		return fmt.Errorf("--label %q is reserved for raw data", o.label)
	}
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return err
		}
	}
	format, err := table.ParseFormat(o.format)
	if err != nil {
		return err
	}
	tag := o.label
	if tag == "" {
		tag = time.Now().Format("20060102150405")
	}
	outdir, err := fsutil.ExpandHome(o.output)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	src := o.source()
	var events []event.Event
	switch {
	case o.stages.PerEvent() && src.Empty():
		return errors.New("an event source is required: use --eventids, --textfile, --eventinfo or --directory")
	case !src.Empty():
		if events, err = src.Load(); err != nil {
			return err
		}
	}

	if err := pipeline.Preflight(outdir, o.stages, events); err != nil {
		return err
	}

	log, sink, closeLog, err := o.openLog(stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	log.Info().
		Str("output", outdir).
		Str("stages", o.stages.String()).
		Str("tag", tag).
		Int("events", len(events)).
		Int("workers", o.numProcesses).
		Msg("run starting")

	dataDir := o.dataDir
	if dataDir == "" {
		dataDir = o.directory
	}
	opts := pipeline.Options{OutDir: outdir, Stages: o.stages, Tag: tag, Format: format, Config: cfg, Version: Version}
	metrics := runmetrics.New()
	files := artifact.New()
	if o.logFile != "" {
		files.Add(artifact.RunLog, o.logFile)
	}

	c := &coordinator.Coordinator{
		Launcher: newLauncher(stderr),
		Workers:  o.numProcesses,
		Timeout:  o.workerTimeout,
		Log:      log,
		LogSink:  sink,
		Stderr:   stderr,
		Metrics:  metrics,
	}
	outcome, err := c.Run(ctx, events, coordinator.Job{Options: opts, DataDir: dataDir, LogLevel: o.logLevel})
	if err != nil {
		return err
	}
	files.Merge(outcome.Files)
	recordResults(metrics, outcome, log)

	if o.stages.Export {
		if err := o.export(ctx, opts, events, files, metrics, log); err != nil {
			return err
		}
	}

	if p, err := metrics.WriteTextfile(outdir); err != nil {
		log.Warn().Err(err).Msg("write run metrics")
	} else {
		files.Add(artifact.RunMetrics, p)
	}
	fmt.Fprintln(stdout)
	files.WriteSummary(stdout)
	return ctx.Err()
}

// recordResults feeds per-event results into the run metrics and logs a
// one-line tally.
func recordResults(m *runmetrics.Recorder, out coordinator.Outcome, log zerolog.Logger) {
	failed := 0
	for _, r := range out.Results {
		outcome := runmetrics.OutcomeOK
		if r.Failed() {
			outcome = runmetrics.OutcomeFailed
			failed++
			log.Error().Str("event", r.EventID).Str("state", r.State).Msg(r.Err)
		}
		m.Event(outcome, r.Duration)
		for _, s := range r.Stages {
			m.Stage(string(s.Stage), s.Outcome)
		}
	}
	for range out.Skipped {
		m.Event(runmetrics.OutcomeSkipped, 0)
	}
	if len(out.Results)+len(out.Skipped) == 0 {
		return
	}
	log.Info().
		Int("events", len(out.Results)).
		Int("failed", failed).
		Int("skipped", len(out.Skipped)).
		Msg("per-event stages finished")
}

// export merges the workspaces of this run's events. Without an event
// source every workspace under the output directory is used.
func (o *runOptions) export(ctx context.Context, opts pipeline.Options, events []event.Event, files *artifact.Registry, m *runmetrics.Recorder, log zerolog.Logger) error {
	var inputs []string
	if len(events) > 0 {
		for _, ev := range events {
			p := workspace.PathFor(opts.OutDir, ev.ID)
			if fsutil.PathExists(p) {
				inputs = append(inputs, p)
			} else {
				log.Warn().Str("event", ev.ID).Str("workspace", p).Msg("no workspace to export")
			}
		}
	} else {
		var err error
		if inputs, err = export.Inputs(files, opts.OutDir); err != nil {
			return err
		}
	}
	cfg := opts.Config
	e := export.New(export.Options{
		OutDir:    opts.OutDir,
		Format:    opts.Format,
		Metrics:   workspace.MetricsSpec{IMCs: cfg.Metrics.IMCs, IMTs: cfg.Metrics.IMTs},
		Recompute: o.recompute,
	}, plot.New(cfg.Plot.Width, cfg.Plot.Height), files, m, log.With().Str("stage", string(pipeline.StageExport)).Logger())
	_, err := e.Run(ctx, inputs)
	return err
}
