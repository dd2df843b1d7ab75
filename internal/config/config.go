package config

import (
	"fmt"
	"strings"
)

// Config holds the processing options that change pipeline behavior.
// Zero values in a loaded file keep the defaults from Default.
type Config struct {
	Fetch      FetchConfig      `json:"fetch" yaml:"fetch" toml:"fetch"`
	Processing ProcessingConfig `json:"processing" yaml:"processing" toml:"processing"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics" toml:"metrics"`
	Colocated  ColocatedConfig  `json:"colocated" yaml:"colocated" toml:"colocated"`
	Report     ReportConfig     `json:"report" yaml:"report" toml:"report"`
	Plot       PlotConfig       `json:"plot" yaml:"plot" toml:"plot"`
}

// FetchConfig locates raw data for events given by identifier only.
type FetchConfig struct {
	DataDir    string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	DataSubdir string `json:"data_subdir" yaml:"data_subdir" toml:"data_subdir"`
}

// ProcessingConfig tunes the default processor.
type ProcessingConfig struct {
	Detrend     string  `json:"detrend" yaml:"detrend" toml:"detrend"`
	TaperWidth  float64 `json:"taper_width" yaml:"taper_width" toml:"taper_width"`
	MinSamples  int     `json:"min_samples" yaml:"min_samples" toml:"min_samples"`
	KeepNonFree bool    `json:"keep_non_free" yaml:"keep_non_free" toml:"keep_non_free"`
}

// MetricsConfig lists intensity-measure components and types.
type MetricsConfig struct {
	IMCs []string `json:"imcs" yaml:"imcs" toml:"imcs"`
	IMTs []string `json:"imts" yaml:"imts" toml:"imts"`
}

// ColocatedConfig orders instrument codes at stations with several sensors.
type ColocatedConfig struct {
	Preference []string `json:"preference" yaml:"preference" toml:"preference"`
}

// ReportConfig selects the summary report renderer.
type ReportConfig struct {
	Format        string `json:"format" yaml:"format" toml:"format"`
	PDFLatex      string `json:"pdflatex" yaml:"pdflatex" toml:"pdflatex"`
	ChromeTimeout int    `json:"chrome_timeout_s" yaml:"chrome_timeout_s" toml:"chrome_timeout_s"`
}

// PlotConfig sizes rendered figures, in inches.
type PlotConfig struct {
	Width  float64 `json:"width" yaml:"width" toml:"width"`
	Height float64 `json:"height" yaml:"height" toml:"height"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Fetch: FetchConfig{DataSubdir: "raw"},
		Processing: ProcessingConfig{
			Detrend:    "demean",
			TaperWidth: 0.05,
			MinSamples: 10,
		},
		Metrics: MetricsConfig{
			IMCs: []string{"GREATER_OF_TWO_HORIZONTALS", "CHANNELS"},
			IMTs: []string{"PGA", "PGV"},
		},
		Colocated: ColocatedConfig{Preference: []string{"HN?", "BN?", "HH?", "BH?"}},
		Report:    ReportConfig{Format: "latex", PDFLatex: "pdflatex", ChromeTimeout: 60},
		Plot:      PlotConfig{Width: 8, Height: 6},
	}
}

// Validate rejects values the pipeline cannot act on.
func (c Config) Validate() error {
	switch strings.ToLower(c.Processing.Detrend) {
	case "demean", "linear", "none":
	default:
		return fmt.Errorf("processing.detrend: unknown method %q", c.Processing.Detrend)
	}
	if c.Processing.TaperWidth < 0 || c.Processing.TaperWidth > 0.5 {
		return fmt.Errorf("processing.taper_width must be within [0, 0.5], got %v", c.Processing.TaperWidth)
	}
	if c.Processing.MinSamples < 0 {
		return fmt.Errorf("processing.min_samples must be >= 0")
	}
	if len(c.Metrics.IMCs) == 0 || len(c.Metrics.IMTs) == 0 {
		return fmt.Errorf("metrics.imcs and metrics.imts must not be empty")
	}
	if c.Report.Format == "" {
		return fmt.Errorf("report.format must not be empty")
	}
	if c.Plot.Width <= 0 || c.Plot.Height <= 0 {
		return fmt.Errorf("plot dimensions must be positive")
	}
	return nil
}
