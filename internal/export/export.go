// Package export merges the per-event metric tables of many workspaces into
// run-level tables and draws one distance regression plot.
package export

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"gmbatch/internal/artifact"
	"gmbatch/internal/common/fsutil"
	"gmbatch/internal/plot"
	"gmbatch/internal/runmetrics"
	"gmbatch/internal/table"
	"gmbatch/internal/workspace"
)

// EventsBase is the base name of the merged event table.
const EventsBase = "events"

var (
	componentPreference = []string{"GREATER_OF_TWO_HORIZONTALS", "H1", "H2", "Z", "CHANNELS"}
	measurePreference   = []string{"PGA", "PGV"}
	measureUnits        = map[string]string{"PGA": "%g", "PGV": "cm/s"}
)

// Options configures one export.
type Options struct {
	OutDir    string
	Format    table.FileFormat
	Metrics   workspace.MetricsSpec
	Recompute bool
}

// Exporter aggregates workspaces.
type Exporter struct {
	opts    Options
	plotter plot.Plotter
	files   *artifact.Registry
	metrics *runmetrics.Recorder
	log     zerolog.Logger
}

// New returns an Exporter. files and metrics may be nil.
func New(opts Options, plotter plot.Plotter, files *artifact.Registry, metrics *runmetrics.Recorder, log zerolog.Logger) *Exporter {
	if files == nil {
		files = artifact.New()
	}
	if opts.Format == "" {
		opts.Format = table.CSV
	}
	return &Exporter{opts: opts, plotter: plotter, files: files, metrics: metrics, log: log}
}

// Summary describes what an export did.
type Summary struct {
	Workspaces int
	Merged     int
	Skipped    int
	EventRows  int
	Components []string
	// Regression is the plot path, empty when no pair could be drawn.
	Regression string
}

// Inputs returns the workspaces created during this run when the registry
// has any, else every workspace found directly below outdir.
func Inputs(files *artifact.Registry, outdir string) ([]string, error) {
	if files != nil {
		if paths := files.Paths(artifact.Workspace); len(paths) > 0 {
			out := append([]string(nil), paths...)
			sort.Strings(out)
			return out, nil
		}
	}
	return fsutil.FindFiles(outdir, workspace.FileName, 1)
}

// Run merges the given workspaces. A workspace holding only raw data is
// skipped; one with several processed label sets aborts the export.
func (e *Exporter) Run(ctx context.Context, paths []string) (Summary, error) {
	sum := Summary{Workspaces: len(paths)}
	events := table.New(workspace.EventColumns...)
	comps := map[string]*table.Table{}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		merged, err := e.mergeOne(path, events, comps)
		if err != nil {
			e.metrics.ExportWorkspace(runmetrics.OutcomeFailed)
			return sum, err
		}
		if merged {
			sum.Merged++
			e.metrics.ExportWorkspace(runmetrics.OutcomeOK)
		} else {
			sum.Skipped++
			e.metrics.ExportWorkspace(runmetrics.OutcomeSkipped)
		}
	}
	if sum.Merged == 0 {
		e.log.Warn().Int("workspaces", sum.Workspaces).Int("skipped", sum.Skipped).Msg("nothing to export")
		return sum, nil
	}

	ext := e.opts.Format.Ext()
	evPath := filepath.Join(e.opts.OutDir, EventsBase+"."+ext)
	if err := table.Write(evPath, events, e.opts.Format); err != nil {
		return sum, fmt.Errorf("write %s: %w", evPath, err)
	}
	e.files.Add(artifact.Aggregated, evPath)
	sum.EventRows = events.Len()

	for _, comp := range sortedKeys(comps) {
		p := filepath.Join(e.opts.OutDir, comp+"."+ext)
		if err := table.Write(p, comps[comp], e.opts.Format); err != nil {
			return sum, fmt.Errorf("write %s: %w", p, err)
		}
		e.files.Add(artifact.Aggregated, p)
		sum.Components = append(sum.Components, comp)
	}

	comp, measure, ok := RegressionPair(comps)
	if !ok {
		e.log.Info().Msg("no component table with a measure column; regression skipped")
	} else if e.plotter != nil {
		p := filepath.Join(e.opts.OutDir, fmt.Sprintf("regression_%s_%s.png", comp, measure))
		spec := plot.RegressionSpec{Component: comp, Measure: measure, Units: measureUnits[measure]}
		if err := e.plotter.Regression(Points(comps[comp], measure), spec, p); err != nil {
			e.log.Error().Err(err).Str("component", comp).Str("measure", measure).Msg("regression plot failed")
		} else {
			e.files.Add(artifact.Regression, p)
			sum.Regression = p
		}
	}
	e.log.Info().
		Int("workspaces", sum.Workspaces).
		Int("merged", sum.Merged).
		Int("skipped", sum.Skipped).
		Int("events", sum.EventRows).
		Strs("components", sum.Components).
		Msg("export complete")
	return sum, nil
}

func (e *Exporter) mergeOne(path string, events *table.Table, comps map[string]*table.Table) (bool, error) {
	log := e.log.With().Str("workspace", path).Logger()
	ws, err := workspace.Open(path)
	if err != nil {
		return false, fmt.Errorf("open workspace: %w", err)
	}
	defer ws.Close()

	label, err := ws.ActiveLabel()
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	if label == "" {
		log.Info().Msg("workspace holds raw data only, skipping")
		return false, nil
	}
	evt, ct, err := ws.Tables(label, e.opts.Metrics, e.opts.Recompute)
	if err != nil {
		return false, fmt.Errorf("%s: read tables for %q: %w", path, label, err)
	}
	events.Append(evt)
	for comp, t := range ct {
		dst, ok := comps[comp]
		if !ok {
			dst = table.New()
			comps[comp] = dst
		}
		dst.Append(t)
	}
	log.Debug().Str("label", label).Int("components", len(ct)).Msg("workspace merged")
	return true, nil
}

// RegressionPair picks the component and measure to plot against distance.
// Preferred names are tried first; otherwise the first component in name
// order and its first non-metadata column are used.
func RegressionPair(comps map[string]*table.Table) (component, measure string, ok bool) {
	for _, c := range componentPreference {
		t, found := comps[c]
		if !found || t.Len() == 0 {
			continue
		}
		for _, m := range measurePreference {
			if t.Has(m) {
				return c, m, true
			}
		}
	}
	for _, c := range sortedKeys(comps) {
		for _, col := range comps[c].Columns {
			if !workspace.IsMetadataColumn(col) {
				return c, col, true
			}
		}
	}
	return "", "", false
}

// Points extracts (hypocentral distance, measure) pairs from a component table.
func Points(t *table.Table, measure string) []plot.Point {
	var pts []plot.Point
	for i := 0; i < t.Len(); i++ {
		d, ok1 := t.Float(i, workspace.ColHypocentralKm)
		v, ok2 := t.Float(i, measure)
		if ok1 && ok2 {
			pts = append(pts, plot.Point{Distance: d, Value: v})
		}
	}
	return pts
}

func sortedKeys(m map[string]*table.Table) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
