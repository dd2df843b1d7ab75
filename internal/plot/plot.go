// Package plot renders the PNG figures attached to event reports and the
// multi-event regression plot.
package plot

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"gmbatch/internal/event"
	"gmbatch/internal/stream"
)

// Plotter draws the figures used by the report and export stages.
type Plotter interface {
	Waveforms(st *stream.Stream, dir string) (string, error)
	StationMap(ev event.Event, coll *stream.Collection, path string) error
	Regression(points []Point, spec RegressionSpec, path string) error
}

// Point is one sample of a regression plot.
type Point struct {
	Distance float64 // km
	Value    float64
}

// RegressionSpec labels a regression plot.
type RegressionSpec struct {
	Component string
	Measure   string
	Units     string
}

// Gonum renders figures with gonum.org/v1/plot.
type Gonum struct {
	Width  vg.Length
	Height vg.Length
}

// New returns a Gonum plotter sized in inches.
func New(widthIn, heightIn float64) *Gonum {
	if widthIn <= 0 {
		widthIn = 8
	}
	if heightIn <= 0 {
		heightIn = 6
	}
	return &Gonum{Width: vg.Length(widthIn) * vg.Inch, Height: vg.Length(heightIn) * vg.Inch}
}

var failedColor = color.RGBA{R: 200, G: 30, B: 30, A: 255}

// Waveforms draws every channel of st, offset vertically, into
// dir/<stream id>.png and returns the path.
func (g *Gonum) Waveforms(st *stream.Stream, dir string) (string, error) {
	if len(st.Traces) == 0 {
		return "", errors.New("empty stream")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	p := plot.New()
	p.Title.Text = st.ID()
	if !st.Passed() {
		p.Title.Text += " (failed: " + st.FailureReason() + ")"
		p.Title.TextStyle.Color = failedColor
	}
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Channel (normalized)"
	p.Y.Tick.Marker = plot.ConstantTicks(nil)

	for i := range st.Traces {
		tr := &st.Traces[i]
		peak := 0.0
		for _, v := range tr.Data {
			peak = math.Max(peak, math.Abs(v))
		}
		if peak == 0 {
			peak = 1
		}
		offset := float64(len(st.Traces) - 1 - i)
		pts := make(plotter.XYs, len(tr.Data))
		for k, v := range tr.Data {
			pts[k].X = float64(k) / tr.SamplingRate
			pts[k].Y = offset + 0.45*v/peak
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return "", fmt.Errorf("%s: %w", tr.ID(), err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(tr.Channel, line)
	}
	p.Legend.Top = true

	path := filepath.Join(dir, st.ID()+".png")
	if err := p.Save(g.Width, g.Height, path); err != nil {
		return "", err
	}
	return path, nil
}

// StationMap plots station locations around the epicenter. Failed stations
// are drawn in red.
func (g *Gonum) StationMap(ev event.Event, coll *stream.Collection, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s M%.1f", ev.ID, ev.Magnitude)
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"
	p.Add(plotter.NewGrid())

	var passed, failed plotter.XYs
	var labels plotter.XYLabels
	for i := range coll.Streams {
		st := &coll.Streams[i]
		if len(st.Traces) == 0 {
			continue
		}
		xy := plotter.XY{X: st.Traces[0].Longitude, Y: st.Traces[0].Latitude}
		if st.Passed() {
			passed = append(passed, xy)
		} else {
			failed = append(failed, xy)
		}
		labels.XYs = append(labels.XYs, xy)
		labels.Labels = append(labels.Labels, st.NetSta())
	}
	if len(passed) > 0 {
		s, err := plotter.NewScatter(passed)
		if err != nil {
			return err
		}
		s.GlyphStyle.Shape = draw.TriangleGlyph{}
		s.GlyphStyle.Color = color.RGBA{B: 180, A: 255}
		p.Add(s)
		p.Legend.Add("passed", s)
	}
	if len(failed) > 0 {
		s, err := plotter.NewScatter(failed)
		if err != nil {
			return err
		}
		s.GlyphStyle.Shape = draw.TriangleGlyph{}
		s.GlyphStyle.Color = failedColor
		p.Add(s)
		p.Legend.Add("failed", s)
	}
	if len(labels.XYs) > 0 {
		l, err := plotter.NewLabels(labels)
		if err != nil {
			return err
		}
		p.Add(l)
	}
	epi, err := plotter.NewScatter(plotter.XYs{{X: ev.Longitude, Y: ev.Latitude}})
	if err != nil {
		return err
	}
	epi.GlyphStyle.Shape = draw.PyramidGlyph{}
	epi.GlyphStyle.Radius = vg.Points(6)
	epi.GlyphStyle.Color = color.Black
	p.Add(epi)
	p.Legend.Add("epicenter", epi)

	return p.Save(g.Width, g.Height, path)
}

// Fit is a least-squares line through log10(value) against log10(distance).
type Fit struct {
	Intercept float64
	Slope     float64
	N         int
}

// FitLogLog fits points with positive distance and value.
func FitLogLog(points []Point) (Fit, error) {
	var xs, ys []float64
	for _, pt := range points {
		if pt.Distance <= 0 || pt.Value <= 0 || math.IsNaN(pt.Value) {
			continue
		}
		xs = append(xs, math.Log10(pt.Distance))
		ys = append(ys, math.Log10(pt.Value))
	}
	if len(xs) < 2 {
		return Fit{N: len(xs)}, fmt.Errorf("need at least 2 positive points, have %d", len(xs))
	}
	a, b := stat.LinearRegression(xs, ys, nil, false)
	return Fit{Intercept: a, Slope: b, N: len(xs)}, nil
}

// Regression draws log10(value) against log10(distance) with a fitted line
// when at least two usable points exist.
func (g *Gonum) Regression(points []Point, spec RegressionSpec, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s %s vs. distance", spec.Component, spec.Measure)
	p.X.Label.Text = "log10 hypocentral distance (km)"
	p.Y.Label.Text = "log10 " + spec.Measure
	if spec.Units != "" {
		p.Y.Label.Text += " (" + spec.Units + ")"
	}
	p.Add(plotter.NewGrid())

	var pts plotter.XYs
	for _, pt := range points {
		if pt.Distance > 0 && pt.Value > 0 {
			pts = append(pts, plotter.XY{X: math.Log10(pt.Distance), Y: math.Log10(pt.Value)})
		}
	}
	if len(pts) > 0 {
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
		p.Legend.Add("stations", s)
	}
	if fit, err := FitLogLog(points); err == nil {
		f := plotter.NewFunction(func(x float64) float64 { return fit.Intercept + fit.Slope*x })
		f.Color = failedColor
		f.Width = vg.Points(1.5)
		p.Add(f)
		p.Legend.Add(fmt.Sprintf("fit: %.2f %+.2f log10(R)", fit.Intercept, fit.Slope), f)
	}
	return p.Save(g.Width, g.Height, path)
}
