package table

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// FileFormat is a supported tabular output format.
type FileFormat string

const (
	CSV   FileFormat = "csv"
	Excel FileFormat = "xlsx"
)

const sheetName = "Sheet1"

// ParseFormat accepts "csv", "excel" and "xlsx".
func ParseFormat(s string) (FileFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return CSV, nil
	case "excel", "xlsx":
		return Excel, nil
	default:
		return "", fmt.Errorf("unsupported table format %q (want csv or excel)", s)
	}
}

// Ext is the file extension without dot.
func (f FileFormat) Ext() string { return string(f) }

// Write serializes t to path in format f.
func Write(path string, t *Table, f FileFormat) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	switch f {
	case CSV:
		return writeCSV(path, t)
	case Excel:
		return writeExcel(path, t)
	default:
		return fmt.Errorf("unsupported table format %q", f)
	}
}

func writeCSV(path string, t *Table) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(fh)
	if err := w.Write(t.Columns); err != nil {
		fh.Close()
		return err
	}
	rec := make([]string, len(t.Columns))
	for _, r := range t.Rows {
		for i := range rec {
			rec[i] = ""
			if i < len(r) {
				rec[i] = Format(r[i])
			}
		}
		if err := w.Write(rec); err != nil {
			fh.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

func writeExcel(path string, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()
	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return err
	}
	for r, row := range t.Rows {
		cells := make([]any, len(row))
		for i, v := range row {
			switch v.(type) {
			case float64, int, int64, string, bool, nil:
				cells[i] = v
			default:
				cells[i] = Format(v)
			}
		}
		axis, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, axis, &cells); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

// Read loads a table written by Write. All cells come back as strings.
func Read(path string) (*Table, error) {
	var records [][]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		fh, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer fh.Close()
		r := csv.NewReader(fh)
		r.FieldsPerRecord = -1
		if records, err = r.ReadAll(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	case ".xlsx":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if records, err = f.GetRows(sheetName); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported table file %s", path)
	}
	if len(records) == 0 {
		return New(), nil
	}
	t := New(records[0]...)
	for _, rec := range records[1:] {
		row := make([]any, len(rec))
		for i, v := range rec {
			row[i] = v
		}
		t.AddRow(row...)
	}
	return t, nil
}
