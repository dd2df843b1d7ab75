// Package artifact records the files a run produces, grouped by category in
// the order they were first seen.
package artifact

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Categories used by the pipeline and exporter.
const (
	Workspace   = "Workspace"
	Plots       = "Plots"
	StationMap  = "Station Maps"
	Report      = "Summary Reports"
	Provenance  = "Provenance"
	Shakemap    = "Shakemap"
	Aggregated  = "Aggregated Tables"
	Regression  = "Regression Plots"
	RunMetrics  = "Run Metrics"
	RunLog      = "Log Files"
	unsortedCat = "Other"
)

// Group is one category and its paths.
type Group struct {
	Category string   `json:"category"`
	Paths    []string `json:"paths"`
}

// Registry is a run-scoped, ordered category -> paths mapping. It is safe for
// concurrent use. The zero value is ready to use.
type Registry struct {
	mu     sync.Mutex
	groups []Group
}

// New returns an empty registry.
func New() *Registry { return &Registry{} }

// Add records paths under category. Duplicate paths are kept once.
func (r *Registry) Add(category string, paths ...string) {
	if category == "" {
		category = unsortedCat
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(category)
	if i < 0 {
		r.groups = append(r.groups, Group{Category: category})
		i = len(r.groups) - 1
	}
	for _, p := range paths {
		if !contains(r.groups[i].Paths, p) {
			r.groups[i].Paths = append(r.groups[i].Paths, p)
		}
	}
}

func (r *Registry) index(category string) int {
	for i := range r.groups {
		if r.groups[i].Category == category {
			return i
		}
	}
	return -1
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Paths returns a copy of the paths recorded under category.
func (r *Registry) Paths(category string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.index(category); i >= 0 {
		return append([]string(nil), r.groups[i].Paths...)
	}
	return nil
}

// Groups returns a copy of every group in first-seen order.
func (r *Registry) Groups() []Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Group, len(r.groups))
	for i, g := range r.groups {
		out[i] = Group{Category: g.Category, Paths: append([]string(nil), g.Paths...)}
	}
	return out
}

// Len counts recorded paths.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, g := range r.groups {
		n += len(g.Paths)
	}
	return n
}

// Merge appends o's groups into r, keeping r's category order.
func (r *Registry) Merge(o *Registry) {
	if o == nil || o == r {
		return
	}
	for _, g := range o.Groups() {
		r.Add(g.Category, g.Paths...)
	}
}

// MarshalJSON encodes the registry as an ordered list of groups.
func (r *Registry) MarshalJSON() ([]byte, error) {
	groups := r.Groups()
	if groups == nil {
		groups = []Group{}
	}
	return json.Marshal(groups)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (r *Registry) UnmarshalJSON(b []byte) error {
	var groups []Group
	if err := json.Unmarshal(b, &groups); err != nil {
		return err
	}
	r.mu.Lock()
	r.groups = nil
	r.mu.Unlock()
	for _, g := range groups {
		r.Add(g.Category, g.Paths...)
	}
	return nil
}

// WriteSummary renders the registry as a table listing every file.
func (r *Registry) WriteSummary(w io.Writer) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle("Files created")
	tw.AppendHeader(table.Row{"Category", "Path"})
	groups := r.Groups()
	for _, g := range groups {
		for i, p := range g.Paths {
			cat := g.Category
			if i > 0 {
				cat = ""
			}
			tw.AppendRow(table.Row{cat, p})
		}
		tw.AppendSeparator()
	}
	tw.AppendFooter(table.Row{"Total", r.Len()})
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 1, Align: text.AlignLeft}})
	tw.Render()
}
