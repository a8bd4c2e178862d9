package sql

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/kruthik-b-s/portfolio/pkg/catalog"
)

// sortRows orders rows by the ORDER BY keys, left to right. The sort is
// stable and DESC inverts the comparison.
func sortRows(ev *Evaluator, rows []catalog.Row, items []OrderItem) error {
	if len(items) == 0 || len(rows) < 2 {
		return nil
	}

	type keyed struct {
		row  catalog.Row
		keys []catalog.Value
	}
	entries := make([]keyed, len(rows))
	for i, row := range rows {
		keys := make([]catalog.Value, len(items))
		for k, item := range items {
			v, err := ev.Eval(item.Expr, row)
			if err != nil {
				return err
			}
			keys[k] = v
		}
		entries[i] = keyed{row: row, keys: keys}
	}

	col := collate.New(language.English)
	sort.SliceStable(entries, func(i, j int) bool {
		for k, item := range items {
			c := compareForSort(col, entries[i].keys[k], entries[j].keys[k])
			if c == 0 {
				continue
			}
			if item.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	for i := range entries {
		rows[i] = entries[i].row
	}
	return nil
}

// compareForSort orders NULLs last, numbers (numeric text included)
// numerically and any other text by the collator.
func compareForSort(col *collate.Collator, a, b catalog.Value) int {
	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return 1
	case b.IsNull():
		return -1
	}

	if x, ok := a.Number(); ok {
		if y, ok := b.Number(); ok {
			return compareFloats(x, y)
		}
	}
	return col.CompareString(a.String(), b.String())
}

// paginate skips offset rows, then keeps at most limit rows.
func paginate(rows []catalog.Row, offset int, limit *int) []catalog.Row {
	if offset >= len(rows) {
		return rows[:0]
	}
	rows = rows[offset:]
	if limit != nil && *limit < len(rows) {
		rows = rows[:*limit]
	}
	return rows
}
