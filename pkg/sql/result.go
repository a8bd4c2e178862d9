package sql

import (
	"github.com/kruthik-b-s/portfolio/pkg/catalog"
)

// Result is the outcome of a successful query.
type Result struct {
	// QueryID identifies the execution in logs.
	QueryID string
	// Columns lists the output column names in select-list order.
	Columns []string
	// Rows holds the projected rows keyed by output column name.
	Rows []catalog.Row
	// PrimaryTable is the first table of the FROM clause.
	PrimaryTable string
}

// Values returns row i as a slice ordered like Columns.
func (r *Result) Values(i int) []catalog.Value {
	row := r.Rows[i]
	out := make([]catalog.Value, len(r.Columns))
	for j, col := range r.Columns {
		out[j] = row[col]
	}
	return out
}

// Maps returns the rows as plain maps, for JSON encoding.
func (r *Result) Maps() []map[string]any {
	out := make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		m := make(map[string]any, len(row))
		for k, v := range row {
			m[k] = v.Interface()
		}
		out[i] = m
	}
	return out
}
