// Package table is a small column-ordered table used for per-event and
// multi-event outputs, with CSV and spreadsheet serialization.
package table

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Table holds rows of loosely typed cells under ordered column names.
type Table struct {
	Columns []string
	Rows    [][]any
}

// New returns an empty table with the given columns.
func New(cols ...string) *Table {
	return &Table{Columns: append([]string(nil), cols...)}
}

// Len is the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Has reports whether the column exists.
func (t *Table) Has(name string) bool { return t.Index(name) >= 0 }

// AddRow appends a row; missing trailing cells are left empty.
func (t *Table) AddRow(vals ...any) {
	row := make([]any, len(t.Columns))
	copy(row, vals)
	t.Rows = append(t.Rows, row)
}

// AddRecord appends a row from a column -> value map. Unknown columns are
// appended to the column list.
func (t *Table) AddRecord(rec map[string]any, order ...string) {
	for _, k := range order {
		if !t.Has(k) {
			t.addColumn(k)
		}
	}
	for k := range rec {
		if !t.Has(k) {
			t.addColumn(k)
		}
	}
	row := make([]any, len(t.Columns))
	for k, v := range rec {
		row[t.Index(k)] = v
	}
	t.Rows = append(t.Rows, row)
}

func (t *Table) addColumn(name string) {
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], nil)
	}
}

// Append merges o into t row-wise. Columns are unioned: columns new to t are
// appended in o's order and earlier rows get empty cells for them.
func (t *Table) Append(o *Table) {
	if o == nil {
		return
	}
	for _, c := range o.Columns {
		if !t.Has(c) {
			t.addColumn(c)
		}
	}
	pos := make([]int, len(o.Columns))
	for i, c := range o.Columns {
		pos[i] = t.Index(c)
	}
	for _, r := range o.Rows {
		row := make([]any, len(t.Columns))
		for i, v := range r {
			if i < len(pos) {
				row[pos[i]] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}
}

// Value returns the cell at row for column name.
func (t *Table) Value(row int, name string) any {
	i := t.Index(name)
	if i < 0 || row < 0 || row >= len(t.Rows) || i >= len(t.Rows[row]) {
		return nil
	}
	return t.Rows[row][i]
}

// Float returns the cell as a float64 when it is numeric or parses as one.
func (t *Table) Float(row int, name string) (float64, bool) {
	switch v := t.Value(row, name).(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Column returns every value of a column.
func (t *Table) Column(name string) []any {
	i := t.Index(name)
	if i < 0 {
		return nil
	}
	out := make([]any, len(t.Rows))
	for r := range t.Rows {
		if i < len(t.Rows[r]) {
			out[r] = t.Rows[r][i]
		}
	}
	return out
}

// Format renders a cell as text.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
