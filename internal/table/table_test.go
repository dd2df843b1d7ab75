package table

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestAppend_UnionsColumns(t *testing.T) {
	a := New("EarthquakeId", "PGA")
	a.AddRow("ev1", 1.5)
	b := New("EarthquakeId", "PGV", "PGA")
	b.AddRow("ev2", 3.0, 2.5)

	a.Append(b)
	if diff := cmp.Diff([]string{"EarthquakeId", "PGA", "PGV"}, a.Columns); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}
	want := [][]any{{"ev1", 1.5, nil}, {"ev2", 2.5, 3.0}}
	if diff := cmp.Diff(want, a.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestAddRecord(t *testing.T) {
	tb := New("id")
	tb.AddRecord(map[string]any{"id": "a", "x": 1.0})
	tb.AddRecord(map[string]any{"id": "b"}, "y")
	if tb.Len() != 2 || !tb.Has("x") || !tb.Has("y") {
		t.Fatalf("unexpected table %+v", tb)
	}
	if v := tb.Value(1, "x"); v != nil {
		t.Fatalf("expected empty cell, got %v", v)
	}
	if f, ok := tb.Float(0, "x"); !ok || f != 1 {
		t.Fatalf("Float = %v %v", f, ok)
	}
}

func TestWriteRead_CSVAndExcel(t *testing.T) {
	d := t.TempDir()
	tb := New("id", "time", "PGA")
	tb.AddRow("ev1", time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC), 0.25)
	tb.AddRow("ev2", nil, 1e-3)

	for _, f := range []FileFormat{CSV, Excel} {
		p := filepath.Join(d, "events."+f.Ext())
		if err := Write(p, tb, f); err != nil {
			t.Fatalf("Write %s: %v", f, err)
		}
		got, err := Read(p)
		if err != nil {
			t.Fatalf("Read %s: %v", f, err)
		}
		if got.Len() != 2 {
			t.Fatalf("%s: expected 2 rows, got %d", f, got.Len())
		}
		if v := got.Value(0, "time"); v != "2020-01-02T03:04:05Z" {
			t.Fatalf("%s: unexpected time cell %v", f, v)
		}
		if pga, ok := got.Float(1, "PGA"); !ok || pga != 0.001 {
			t.Fatalf("%s: unexpected PGA %v %v", f, pga, ok)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]FileFormat{"": CSV, "CSV": CSV, "excel": Excel, "xlsx": Excel} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("parquet"); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
