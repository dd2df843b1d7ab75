// Package processing holds the default waveform processor and the raw-data
// fetchers used by the assemble stage.
package processing

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"gmbatch/internal/config"
	"gmbatch/internal/event"
	"gmbatch/internal/stream"
)

// Processor turns a raw stream set into a processed one. Implementations
// must not modify raw.
type Processor interface {
	Process(ctx context.Context, ev event.Event, raw *stream.Collection) (*stream.Collection, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, ev event.Event, raw *stream.Collection) (*stream.Collection, error)

func (f ProcessorFunc) Process(ctx context.Context, ev event.Event, raw *stream.Collection) (*stream.Collection, error) {
	return f(ctx, ev, raw)
}

// Options tunes Default.
type Options struct {
	Detrend    string
	TaperWidth float64
	MinSamples int
	Colocated  []string
}

// OptionsFromConfig extracts processor options from cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Detrend:    cfg.Processing.Detrend,
		TaperWidth: cfg.Processing.TaperWidth,
		MinSamples: cfg.Processing.MinSamples,
		Colocated:  cfg.Colocated.Preference,
	}
}

// Default is a minimal processor: colocated instrument selection, a sample
// count check, detrending and a Hann taper. Every step is recorded in the
// trace provenance.
type Default struct {
	opts Options
	log  zerolog.Logger
}

// NewDefault returns a Default processor.
func NewDefault(opts Options, log zerolog.Logger) *Default {
	return &Default{opts: opts, log: log}
}

// Process copies raw and processes the copy.
func (d *Default) Process(ctx context.Context, ev event.Event, raw *stream.Collection) (*stream.Collection, error) {
	out := cloneCollection(raw)
	out.SelectColocated(d.opts.Colocated)

	for i := range out.Streams {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st := &out.Streams[i]
		for j := range st.Traces {
			tr := &st.Traces[j]
			if !tr.Passed() {
				continue
			}
			if len(tr.Data) < d.opts.MinSamples {
				tr.Fail("check_min_samples", fmt.Sprintf("%d samples, need at least %d", len(tr.Data), d.opts.MinSamples))
				continue
			}
			if err := detrend(tr, d.opts.Detrend); err != nil {
				return nil, err
			}
			taper(tr, d.opts.TaperWidth)
			if tr.ProcessLevel == stream.LevelUncorr || tr.ProcessLevel == stream.LevelRaw {
				tr.ProcessLevel = stream.LevelCorrected
			}
		}
		if !st.Passed() {
			st.Fail("processing", st.FailureReason())
		}
	}
	d.log.Debug().
		Str("event", ev.ID).
		Int("streams", out.Len()).
		Int("passed", out.NPassed()).
		Msg("processed streams")
	return out, nil
}

func detrend(tr *stream.Trace, method string) error {
	method = strings.ToLower(method)
	switch method {
	case "", "none":
		return nil
	case "demean":
		m := stat.Mean(tr.Data, nil)
		for k := range tr.Data {
			tr.Data[k] -= m
		}
	case "linear":
		xs := make([]float64, len(tr.Data))
		for k := range xs {
			xs[k] = float64(k)
		}
		alpha, beta := stat.LinearRegression(xs, tr.Data, nil, false)
		for k := range tr.Data {
			tr.Data[k] -= alpha + beta*xs[k]
		}
	default:
		return fmt.Errorf("unknown detrend method %q", method)
	}
	tr.SetProvenance("detrend", map[string]any{"detrending_method": method})
	return nil
}

// taper applies a symmetric Hann taper covering width of the record at each
// end.
func taper(tr *stream.Trace, width float64) {
	n := len(tr.Data)
	if width <= 0 || n < 2 {
		return
	}
	m := int(math.Floor(width * float64(n)))
	if m < 1 {
		return
	}
	for k := 0; k < m; k++ {
		w := 0.5 * (1 - math.Cos(math.Pi*float64(k)/float64(m)))
		tr.Data[k] *= w
		tr.Data[n-1-k] *= w
	}
	tr.SetProvenance("taper", map[string]any{
		"window_type": "hann",
		"taper_width": width,
		"side":        "both",
	})
}

func cloneCollection(c *stream.Collection) *stream.Collection {
	out := &stream.Collection{Streams: make([]stream.Stream, 0, c.Len())}
	if c == nil {
		return out
	}
	for _, st := range c.Streams {
		traces := make([]stream.Trace, len(st.Traces))
		for i, tr := range st.Traces {
			tr.Data = append([]float64(nil), tr.Data...)
			tr.Provenance = append([]stream.ProvenanceEntry(nil), tr.Provenance...)
			if tr.Failure != nil {
				f := *tr.Failure
				tr.Failure = &f
			}
			if tr.Parameters != nil {
				p := make(map[string]any, len(tr.Parameters))
				for k, v := range tr.Parameters {
					p[k] = v
				}
				tr.Parameters = p
			}
			traces[i] = tr
		}
		out.Streams = append(out.Streams, stream.Stream{Traces: traces})
	}
	return out
}
