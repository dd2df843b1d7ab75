// Package report renders the per-event summary report. Renderers are looked
// up by format name; an unknown name yields ErrUnsupportedFormat.
package report

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"gmbatch/internal/config"
	"gmbatch/internal/event"
	"gmbatch/internal/stream"
)

// ErrUnsupportedFormat is returned by New for an unregistered format.
var ErrUnsupportedFormat = errors.New("unsupported report format")

// IsUnsupportedFormat reports whether err came from an unknown format name.
func IsUnsupportedFormat(err error) bool { return errors.Is(err, ErrUnsupportedFormat) }

// Input is everything a renderer needs for one event.
type Input struct {
	Event   event.Event
	Streams *stream.Collection
	// Dir is the event output directory; the report is written there.
	Dir string
	// MapPath is the station map image, empty when none was drawn.
	MapPath string
	// PlotPaths maps stream ID to its waveform image.
	PlotPaths map[string]string
	Version   string
}

// Renderer writes a report and returns the path of the file produced.
type Renderer interface {
	Render(ctx context.Context, in Input) (string, error)
}

// Factory builds a renderer from the report config section.
type Factory func(cfg config.ReportConfig, log zerolog.Logger) Renderer

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a renderer available under name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[strings.ToLower(name)] = f
}

// Formats lists registered format names.
func Formats() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New returns the renderer registered for cfg.Format.
func New(cfg config.ReportConfig, log zerolog.Logger) (Renderer, error) {
	mu.RLock()
	f, ok := factories[strings.ToLower(cfg.Format)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnsupportedFormat, cfg.Format, strings.Join(Formats(), ", "))
	}
	return f(cfg, log), nil
}

func init() {
	Register("latex", func(cfg config.ReportConfig, log zerolog.Logger) Renderer {
		return &Latex{PDFLatex: cfg.PDFLatex, log: log}
	})
	Register("html", func(cfg config.ReportConfig, log zerolog.Logger) Renderer {
		return &HTML{log: log}
	})
	Register("pdf", func(cfg config.ReportConfig, log zerolog.Logger) Renderer {
		return newPDF(cfg, log)
	})
}

// streamPage is one stream's section of the report.
type streamPage struct {
	EventLine string
	StationID string
	PlotPath  string
	Header    []string
	Rows      [][]string
	Failure   string
}

type document struct {
	Title   string
	Version string
	MapPath string
	Pages   []streamPage
}

// buildDocument lays out the report content shared by every renderer. Image
// paths are made relative to in.Dir when possible.
func buildDocument(in Input) document {
	doc := document{
		Title:   "Summary Report",
		Version: in.Version,
		MapPath: relTo(in.Dir, in.MapPath),
	}
	if doc.Version == "" {
		doc.Version = "dev"
	}
	eventLine := fmt.Sprintf("M %.1f - %s - %s", in.Event.Magnitude, in.Event.ID,
		in.Event.Time.UTC().Format("01/02/2006 15:04:05"))
	if in.Streams == nil {
		return doc
	}
	for i := range in.Streams.Streams {
		st := &in.Streams.Streams[i]
		header, rows := provenanceGrid(st)
		p := streamPage{
			EventLine: eventLine,
			StationID: st.ID(),
			PlotPath:  relTo(in.Dir, in.PlotPaths[st.ID()]),
			Header:    header,
			Rows:      rows,
		}
		if !st.Passed() {
			p.Failure = st.FailureReason()
		}
		doc.Pages = append(doc.Pages, p)
	}
	return doc
}

func relTo(dir, path string) string {
	if path == "" || dir == "" {
		return path
	}
	if rel, err := filepath.Rel(dir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}

// provenanceGrid lines up the provenance of every channel of st: one row per
// attribute of the first channel, one value column per channel. The step
// name is shown only on the first row of each activity.
func provenanceGrid(st *stream.Stream) ([]string, [][]string) {
	if len(st.Traces) == 0 {
		return nil, nil
	}
	traces := make([]*stream.Trace, len(st.Traces))
	for i := range st.Traces {
		traces[i] = &st.Traces[i]
	}
	sort.SliceStable(traces, func(i, j int) bool { return traces[i].Channel < traces[j].Channel })

	header := []string{"Process Step", "Process Attribute"}
	perChannel := make([][]stream.ProvenanceRow, len(traces))
	for i, tr := range traces {
		header = append(header, tr.Channel+" Value")
		perChannel[i] = tr.ProvenanceRows()
	}
	var rows [][]string
	lastIndex := -1
	for r, base := range perChannel[0] {
		step := base.Step
		if base.Index == lastIndex {
			step = ""
		}
		lastIndex = base.Index
		row := []string{step, base.Attribute}
		for _, pc := range perChannel {
			v := ""
			if r < len(pc) {
				v = pc[r].Value
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	return header, rows
}
