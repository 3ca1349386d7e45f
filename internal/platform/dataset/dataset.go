// Package dataset reads the tabular study dataset from CSV or XLSX files,
// local or on S3, into header-keyed rows.
package dataset

import (
	"fmt"
	"strings"
)

// Row is one data row keyed by column header.
type Row struct {
	// Index is the 0-based position of the row among data rows.
	Index  int
	values map[string]string
}

// NewRow builds a row from column/value pairs.
func NewRow(index int, values map[string]string) Row {
	return Row{Index: index, values: values}
}

// Value returns the trimmed cell for column. ok is false when the column is
// absent from the row or the cell is empty.
func (r Row) Value(column string) (string, bool) {
	v, ok := r.values[column]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// Table is a parsed dataset.
type Table struct {
	Columns []string
	Rows    []Row
}

// HasColumn reports whether the header contains column.
func (t *Table) HasColumn(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// NewTable pairs records with the header. Blank records are skipped and do
// not consume a row index. Records shorter than the header leave the trailing
// columns absent.
func NewTable(header []string, records [][]string) (*Table, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("dataset has no header row")
	}
	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			return nil, fmt.Errorf("header column %d is empty", i+1)
		}
		if seen[h] {
			return nil, fmt.Errorf("duplicate header column %q", h)
		}
		seen[h] = true
		columns[i] = h
	}

	t := &Table{Columns: columns}
	for _, rec := range records {
		if blank(rec) {
			continue
		}
		values := make(map[string]string, len(columns))
		for i, c := range columns {
			if i < len(rec) {
				values[c] = rec[i]
			}
		}
		t.Rows = append(t.Rows, Row{Index: len(t.Rows), values: values})
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
