package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/kruthik-b-s/portfolio/pkg/sql"
)

// configureTable creates a rounded table writer mirrored to w. Headers are
// printed as written so aliases keep their case.
func configureTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetAutoIndex(false)
	t.Style().Options.SeparateRows = false
	t.Style().Format.Header = text.FormatDefault
	return t
}

// RenderResult writes res as a table followed by a row count summary.
func RenderResult(w io.Writer, res *sql.Result) {
	t := configureTable(w)

	header := make(table.Row, len(res.Columns))
	for i, col := range res.Columns {
		header[i] = col
	}
	t.AppendHeader(header)

	for i := range res.Rows {
		values := res.Values(i)
		row := make(table.Row, len(values))
		for j, v := range values {
			if v.IsNull() {
				row[j] = "NULL"
			} else {
				row[j] = v.String()
			}
		}
		t.AppendRow(row)
	}
	t.Render()

	fmt.Fprintf(w, "%s in set\n", rowsText(len(res.Rows)))
}

// RenderCounts writes a table name / row count listing sorted by name.
func RenderCounts(w io.Writer, counts map[string]int) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	t := configureTable(w)
	t.AppendHeader(table.Row{"table", "rows"})
	for _, name := range names {
		t.AppendRow(table.Row{name, counts[name]})
	}
	t.Render()
}

func rowsText(n int) string {
	if n == 1 {
		return "1 row"
	}
	return fmt.Sprintf("%d rows", n)
}
