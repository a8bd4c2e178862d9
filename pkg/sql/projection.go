package sql

import (
	"strings"

	"github.com/kruthik-b-s/portfolio/pkg/catalog"
)

// outputColumn is one column of the projected result.
type outputColumn struct {
	name string
	expr Expr
}

// outputColumns expands the select list into concrete output columns.
// An empty select list projects every column of the primary table.
func outputColumns(stmt *SelectStatement, registry *catalog.Registry) []outputColumn {
	if len(stmt.Columns) == 0 {
		return starColumns(stmt, registry, stmt.PrimaryAlias())
	}

	var out []outputColumn
	for _, c := range stmt.Columns {
		switch e := c.Expr.(type) {
		case *ColumnRef:
			if e.Star {
				alias := e.Table
				if alias == "" {
					alias = stmt.PrimaryAlias()
				}
				out = append(out, starColumns(stmt, registry, alias)...)
				continue
			}
			out = append(out, outputColumn{name: nameOr(c.Alias, e.Column), expr: e})
		case *AggregateCall:
			out = append(out, outputColumn{name: nameOr(c.Alias, string(e.Func)), expr: e})
		default:
			out = append(out, outputColumn{name: nameOr(c.Alias, c.Text), expr: e})
		}
	}
	return out
}

func starColumns(stmt *SelectStatement, registry *catalog.Registry, alias string) []outputColumn {
	for _, src := range stmt.From {
		if src.Alias != alias {
			continue
		}
		cols, _ := registry.Columns(src.Table)
		out := make([]outputColumn, len(cols))
		for i, col := range cols {
			out[i] = outputColumn{name: col, expr: &ColumnRef{Table: alias, Column: col}}
		}
		return out
	}
	return nil
}

func nameOr(alias, fallback string) string {
	if alias != "" {
		return alias
	}
	return fallback
}

// project maps working rows onto the output columns. When two output
// columns share a name the later value wins and the name keeps its first
// position.
func project(ev *Evaluator, cols []outputColumn, rows []catalog.Row) ([]string, []catalog.Row, error) {
	names := make([]string, 0, len(cols))
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if !seen[c.name] {
			seen[c.name] = true
			names = append(names, c.name)
		}
	}

	out := make([]catalog.Row, len(rows))
	for i, row := range rows {
		projected := make(catalog.Row, len(names))
		for _, c := range cols {
			v, err := ev.Eval(c.expr, row)
			if err != nil {
				return nil, nil, err
			}
			projected[c.name] = v
		}
		out[i] = projected
	}
	return names, out, nil
}

// distinctRows drops projected rows equal to an earlier one.
func distinctRows(columns []string, rows []catalog.Row) []catalog.Row {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0]
	parts := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			parts[i] = valueKey(row[col])
		}
		key := strings.Join(parts, groupKeySep)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out
}
