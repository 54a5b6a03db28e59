// Package metadata loads the tabular metadata a release manifest declares:
// one CSV table per logical record type (sessions, experiments, ...). Each
// cell is decoded to a typed value, and a configured set of structured
// columns is decoded from the Python literal encoding the release pipeline
// writes. Tables are immutable once loaded and may be read concurrently
// without synchronization.
package metadata

import (
	"fmt"
)

// DefaultStructuredColumns are the column names known to carry literal
// encoded lists or dicts in released tables. Callers can extend the set
// through Options on the store.
var DefaultStructuredColumns = []string{
	"driver_line",
	"reporter_line",
	"experiment_ids",
	"container_ids",
}

// A Row maps column names to decoded cell values. Values are one of nil,
// int64, float64, bool, string, []interface{}, or map[string]interface{}.
type Row map[string]interface{}

// A Table is the in-memory form of one metadata table. Do not modify a
// table after it is loaded.
type Table struct {
	Name    string
	Columns []string
	rows    []Row
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns row i in table order.
func (t *Table) Row(i int) Row {
	return t.rows[i]
}

// Select returns every row whose value in the named column equals id. Rows
// with a null or non-integer value in the column never match. Callers are
// responsible for deciding whether multiple matches are an error; the
// record layer treats more than one match on a primary identifier as a
// table integrity violation.
func (t *Table) Select(column string, id int64) []Row {
	var result []Row
	for _, row := range t.rows {
		v, ok := AsInt64(row[column])
		if ok && v == id {
			result = append(result, row)
		}
	}
	return result
}

// AsInt64 converts a cell value to an int64 identifier. Floats with an
// integral value convert too, since columns with missing entries come
// through the pipeline as floats.
func AsInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// AsString converts a cell value to a string. Integer cells convert to
// their decimal form, which is how file id columns are matched against the
// manifest's data_files keys.
func AsString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case int64:
		return fmt.Sprintf("%d", s), true
	case float64:
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s)), true
		}
	}
	return "", false
}

// AsList converts a cell value to a list, as decoded from a structured
// column.
func AsList(v interface{}) ([]interface{}, bool) {
	l, ok := v.([]interface{})
	return l, ok
}
