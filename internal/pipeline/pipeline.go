// Package pipeline runs the per-event stages (assemble, process, report,
// provenance, shakemap) against one event's workspace.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"gmbatch/internal/artifact"
	"gmbatch/internal/common/fsutil"
	"gmbatch/internal/config"
	"gmbatch/internal/event"
	"gmbatch/internal/logging"
	"gmbatch/internal/plot"
	"gmbatch/internal/processing"
	"gmbatch/internal/report"
	"gmbatch/internal/stream"
	"gmbatch/internal/table"
	"gmbatch/internal/workspace"
)

// ErrMissingWorkspace is returned when a stage needs a workspace that was
// never assembled.
var ErrMissingWorkspace = errors.New("workspace missing")

// IsMissingWorkspace reports whether err indicates a missing workspace.
func IsMissingWorkspace(err error) bool { return errors.Is(err, ErrMissingWorkspace) }

func missingWorkspace(eventID, path string) error {
	return fmt.Errorf("%w for event %s: %s does not exist, run with --assemble first", ErrMissingWorkspace, eventID, path)
}

// Stage outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Options are the run-wide settings shared by every event.
type Options struct {
	OutDir  string
	Stages  Stages
	Tag     string
	Format  table.FileFormat
	Config  config.Config
	Version string
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Fetcher   processing.Fetcher
	Processor processing.Processor
	Plotter   plot.Plotter
	// Renderer is nil when the configured report format is unsupported;
	// RendererErr then says why.
	Renderer    report.Renderer
	RendererErr error
	Files       *artifact.Registry
	Log         zerolog.Logger
}

// DefaultDeps wires the directory fetcher, default processor, gonum plotter
// and the configured report renderer. dataDir overrides the configured data
// directory when set.
func DefaultDeps(opts Options, dataDir string, files *artifact.Registry, log zerolog.Logger) (Deps, error) {
	fetcher, err := processing.NewDirectoryFetcher(opts.Config, dataDir)
	if err != nil {
		return Deps{}, err
	}
	d := Deps{
		Fetcher:   fetcher,
		Processor: processing.NewDefault(processing.OptionsFromConfig(opts.Config), log),
		Plotter:   plot.New(opts.Config.Plot.Width, opts.Config.Plot.Height),
		Files:     files,
		Log:       log,
	}
	d.Renderer, d.RendererErr = report.New(opts.Config.Report, log)
	return d, nil
}

// StageResult is the outcome of one requested stage for one event.
type StageResult struct {
	Stage   Stage  `json:"stage"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// EventResult summarizes one event. It crosses process boundaries as JSON.
type EventResult struct {
	EventID  string        `json:"event_id"`
	State    string        `json:"state"`
	Label    string        `json:"label,omitempty"`
	Streams  int           `json:"streams"`
	Passed   int           `json:"passed"`
	Stages   []StageResult `json:"stages"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the event hit a fatal error.
func (r EventResult) Failed() bool { return r.Err != "" }

// Pipeline runs the requested stages for one event at a time.
type Pipeline struct {
	opts Options
	deps Deps
}

// New returns a Pipeline. A nil Files registry is replaced by a fresh one.
func New(opts Options, deps Deps) *Pipeline {
	if deps.Files == nil {
		deps.Files = artifact.New()
	}
	if opts.Format == "" {
		opts.Format = table.CSV
	}
	return &Pipeline{opts: opts, deps: deps}
}

// Files returns the registry the pipeline records into.
func (p *Pipeline) Files() *artifact.Registry { return p.deps.Files }

func (p *Pipeline) metricsSpec() workspace.MetricsSpec {
	return workspace.MetricsSpec{IMCs: p.opts.Config.Metrics.IMCs, IMTs: p.opts.Config.Metrics.IMTs}
}

// eventRun carries the mutable state of one RunEvent call.
type eventRun struct {
	ev    event.Event
	log   zerolog.Logger
	m     *machine
	ws    *workspace.Workspace
	dir   string
	label string
	raw   *stream.Collection
	data  *stream.Collection
	res   *EventResult
}

func (r *eventRun) record(s Stage, outcome string, err error) {
	sr := StageResult{Stage: s, Outcome: outcome}
	if err != nil {
		sr.Error = err.Error()
	}
	r.res.Stages = append(r.res.Stages, sr)
}

// RunEvent runs the requested per-event stages for ev. Fatal problems are
// reported in the result; the workspace is always closed and a memory sample
// logged before returning.
func (p *Pipeline) RunEvent(ctx context.Context, ev event.Event) EventResult {
	start := time.Now()
	res := EventResult{EventID: ev.ID}
	r := &eventRun{
		ev:  ev,
		log: p.deps.Log.With().Str("event", ev.ID).Logger(),
		m:   newMachine(),
		dir: filepath.Join(p.opts.OutDir, ev.ID),
		res: &res,
	}
	r.log.Info().Str("stages", p.opts.Stages.String()).Msg("starting event")

	err := p.run(ctx, r)
	if err != nil {
		res.Err = err.Error()
		r.log.Error().Err(err).Msg("event failed")
	}
	if r.ws != nil {
		if cerr := r.ws.Close(); cerr != nil {
			r.log.Warn().Err(cerr).Msg("close workspace")
		}
		r.ws = nil
	}
	_ = r.m.transition(Closed)
	res.State = r.m.state.String()
	res.Label = r.label
	if r.data != nil {
		res.Streams, res.Passed = r.data.Len(), r.data.NPassed()
	}
	res.Duration = time.Since(start)
	logging.MemorySample(r.log, "memory usage after event")
	return res
}

func (p *Pipeline) run(ctx context.Context, r *eventRun) error {
	st := p.opts.Stages
	if err := p.load(ctx, r); err != nil {
		return err
	}

	if st.Process {
		if r.m.state != Assembled || r.raw.Len() == 0 {
			r.log.Warn().Msg("no raw streams to process")
			r.record(StageProcess, OutcomeSkipped, nil)
		} else if err := p.process(ctx, r); err != nil {
			r.record(StageProcess, OutcomeFailed, err)
			return fmt.Errorf("process: %w", err)
		} else {
			r.record(StageProcess, OutcomeOK, nil)
		}
	}

	ready := r.m.state == Processed && r.data.Len() > 0
	var firstErr error
	for _, s := range []struct {
		on  bool
		st  Stage
		run func(context.Context, *eventRun) error
	}{
		{st.Report, StageReport, p.report},
		{st.Provenance, StageProvenance, p.provenance},
		{st.Shakemap, StageShakemap, p.shakemap},
	} {
		if !s.on {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !ready {
			r.log.Info().Str("stage", string(s.st)).Msg("no processed streams, skipping")
			r.record(s.st, OutcomeSkipped, nil)
			continue
		}
		err := s.run(ctx, r)
		switch {
		case err == nil:
			r.m.complete(s.st)
			r.record(s.st, OutcomeOK, nil)
		case errors.Is(err, errStageSkipped):
			r.record(s.st, OutcomeSkipped, err)
		default:
			r.log.Error().Err(err).Str("stage", string(s.st)).Msg("stage failed")
			r.record(s.st, OutcomeFailed, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", s.st, err)
			}
		}
	}
	return firstErr
}

var errStageSkipped = errors.New("stage skipped")

// load establishes the initial state: assembled from the fetcher, raw data
// loaded from the workspace for processing, or the active processed label.
func (p *Pipeline) load(ctx context.Context, r *eventRun) error {
	st := p.opts.Stages
	wsPath := workspace.PathFor(p.opts.OutDir, r.ev.ID)

	if st.Assemble {
		ev, raw, err := p.deps.Fetcher.Fetch(ctx, r.ev)
		if err != nil {
			r.record(StageAssemble, OutcomeFailed, err)
			return fmt.Errorf("assemble: %w", err)
		}
		r.ev = ev
		if r.ws, err = workspace.Create(wsPath); err != nil {
			r.record(StageAssemble, OutcomeFailed, err)
			return fmt.Errorf("assemble: %w", err)
		}
		if err := r.ws.AddStreams(ev, raw, workspace.RawLabel); err != nil {
			r.record(StageAssemble, OutcomeFailed, err)
			return fmt.Errorf("assemble: %w", err)
		}
		r.raw = raw
		r.record(StageAssemble, OutcomeOK, nil)
		p.deps.Files.Add(artifact.Workspace, wsPath)
		r.log.Info().Str("streams", raw.String()).Msg("assembled raw data")
		return r.m.transition(Assembled)
	}

	if !fsutil.PathExists(wsPath) {
		return missingWorkspace(r.ev.ID, wsPath)
	}
	ws, err := workspace.Open(wsPath)
	if err != nil {
		return err
	}
	r.ws = ws
	if err := p.resolveEvent(r); err != nil {
		return err
	}

	if st.Process {
		if r.raw, err = ws.Streams(r.ev.ID, workspace.RawLabel); err != nil {
			return err
		}
		return r.m.transition(Assembled)
	}

	label, err := ws.ActiveLabel()
	if err != nil {
		return err
	}
	if label == "" {
		r.log.Info().Msg("workspace holds only unprocessed data")
		return nil
	}
	if r.data, err = ws.Streams(r.ev.ID, label); err != nil {
		return err
	}
	r.label = label
	return r.m.transition(Processed)
}

// resolveEvent takes the event's origin from the workspace when the source
// only named it.
func (p *Pipeline) resolveEvent(r *eventRun) error {
	stored, err := r.ws.Event()
	if err != nil {
		if workspace.IsNotFound(err) && r.ev.Resolved() {
			return nil
		}
		return err
	}
	if stored.ID != r.ev.ID {
		return fmt.Errorf("workspace %s holds event %s, not %s", r.ws.Path(), stored.ID, r.ev.ID)
	}
	if !r.ev.Resolved() {
		r.ev = stored
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, r *eventRun) error {
	others, err := r.ws.ProcessedLabels()
	if err != nil {
		return err
	}
	for _, l := range others {
		if l != p.opts.Tag {
			r.log.Warn().Str("existing_label", l).Str("label", p.opts.Tag).
				Msg("workspace already holds processed data under another label; downstream stages will refuse it until one is removed")
		}
	}
	processed, err := p.deps.Processor.Process(ctx, r.ev, r.raw)
	if err != nil {
		return err
	}
	if err := r.ws.AddStreams(r.ev, processed, p.opts.Tag); err != nil {
		return err
	}
	if err := r.ws.CalcMetrics(r.ev.ID, p.opts.Tag, p.metricsSpec(), true); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	r.data = processed
	r.label = p.opts.Tag
	r.log.Info().Str("label", p.opts.Tag).Str("streams", processed.String()).Msg("processed streams")
	return r.m.transition(Processed)
}

func (p *Pipeline) report(ctx context.Context, r *eventRun) error {
	if p.deps.Renderer == nil {
		err := p.deps.RendererErr
		if err == nil {
			err = report.ErrUnsupportedFormat
		}
		r.log.Warn().Err(err).Msg("report skipped")
		return fmt.Errorf("%w: %v", errStageSkipped, err)
	}
	plotDir := filepath.Join(r.dir, "plots")
	plots := map[string]string{}
	for i := range r.data.Streams {
		s := &r.data.Streams[i]
		path, err := p.deps.Plotter.Waveforms(s, plotDir)
		if err != nil {
			r.log.Warn().Err(err).Str("stream", s.ID()).Msg("waveform plot failed")
			continue
		}
		plots[s.ID()] = path
		p.deps.Files.Add(artifact.Plots, path)
	}
	mapPath := filepath.Join(r.dir, "stations_map.png")
	if err := p.deps.Plotter.StationMap(r.ev, r.data, mapPath); err != nil {
		r.log.Warn().Err(err).Msg("station map failed")
		mapPath = ""
	} else {
		p.deps.Files.Add(artifact.StationMap, mapPath)
	}
	path, err := p.deps.Renderer.Render(ctx, report.Input{
		Event:     r.ev,
		Streams:   r.data,
		Dir:       r.dir,
		MapPath:   mapPath,
		PlotPaths: plots,
		Version:   p.opts.Version,
	})
	if err != nil {
		return err
	}
	p.deps.Files.Add(artifact.Report, path)
	return nil
}

func (p *Pipeline) tablePath(r *eventRun, kind string) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s_%s_%s.%s", r.ev.ID, r.label, kind, p.opts.Format.Ext()))
}

func (p *Pipeline) provenance(_ context.Context, r *eventRun) error {
	t, err := r.ws.ProvenanceTable(r.ev.ID, r.label)
	if err != nil {
		return err
	}
	path := p.tablePath(r, "provenance")
	if err := table.Write(path, t, p.opts.Format); err != nil {
		return err
	}
	p.deps.Files.Add(artifact.Provenance, path)
	return nil
}

func (p *Pipeline) shakemap(_ context.Context, r *eventRun) error {
	t, err := r.ws.ShakemapTable(r.label, p.metricsSpec())
	if err != nil {
		return err
	}
	path := p.tablePath(r, "shakemap")
	if err := table.Write(path, t, p.opts.Format); err != nil {
		return err
	}
	p.deps.Files.Add(artifact.Shakemap, path)
	return nil
}
