// Package source provides the table stores the query engine reads from.
//
// A Store hands back the full, unfiltered contents of a table. The engine
// never pushes predicates down; it always materializes whole tables.
package source

import (
	"context"
)

// Store fetches table contents from wherever the data lives.
type Store interface {
	// FetchTable returns every row of the table as field -> value maps.
	FetchTable(ctx context.Context, table string) ([]map[string]any, error)

	// CountRows returns only the number of rows in the table.
	CountRows(ctx context.Context, table string) (int, error)
}

// cloneRows copies the row slice and each row map so callers own the result.
func cloneRows(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		cp := make(map[string]any, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}
