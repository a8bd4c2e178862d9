package sql

import (
	"strings"

	"github.com/kruthik-b-s/portfolio/pkg/catalog"
)

// groupKeySep joins group key parts. It is not expected in data.
const groupKeySep = "\x1f"

// needsGrouping reports whether the statement runs in aggregate mode.
func needsGrouping(stmt *SelectStatement) bool {
	if len(stmt.GroupBy) > 0 {
		return true
	}
	for _, expr := range stmt.exprs() {
		if containsAggregate(expr) {
			return true
		}
	}
	return false
}

// statementAggregates returns the distinct aggregate calls of the
// statement, in order of first appearance.
func statementAggregates(stmt *SelectStatement) []*AggregateCall {
	var all []*AggregateCall
	for _, expr := range stmt.exprs() {
		all = collectAggregates(expr, all)
	}

	seen := make(map[string]bool, len(all))
	out := all[:0]
	for _, agg := range all {
		if seen[agg.key()] {
			continue
		}
		seen[agg.key()] = true
		out = append(out, agg)
	}
	return out
}

type accumulator struct {
	call  *AggregateCall
	count int
	sum   float64
	nums  int
	min   float64
	max   float64
	seen  map[string]struct{}
}

func newAccumulator(call *AggregateCall) *accumulator {
	acc := &accumulator{call: call}
	if call.Distinct {
		acc.seen = make(map[string]struct{})
	}
	return acc
}

func (a *accumulator) add(ev *Evaluator, row catalog.Row) error {
	if ref, ok := a.call.Arg.(*ColumnRef); ok && ref.Star {
		a.count++
		return nil
	}

	v, err := ev.Eval(a.call.Arg, row)
	if err != nil {
		return err
	}
	if v.IsNull() {
		return nil
	}
	if a.seen != nil {
		k := valueKey(v)
		if _, dup := a.seen[k]; dup {
			return nil
		}
		a.seen[k] = struct{}{}
	}

	a.count++
	n, ok := v.Number()
	if !ok {
		return nil
	}
	if a.nums == 0 || n < a.min {
		a.min = n
	}
	if a.nums == 0 || n > a.max {
		a.max = n
	}
	a.sum += n
	a.nums++
	return nil
}

func (a *accumulator) result() catalog.Value {
	if a.call.Func == AggCount {
		return catalog.NewNumber(float64(a.count))
	}
	if a.nums == 0 {
		return catalog.Null()
	}
	switch a.call.Func {
	case AggSum:
		return catalog.NewNumber(a.sum)
	case AggAvg:
		return catalog.NewNumber(a.sum / float64(a.nums))
	case AggMin:
		return catalog.NewNumber(a.min)
	case AggMax:
		return catalog.NewNumber(a.max)
	}
	return catalog.Null()
}

type group struct {
	first catalog.Row
	accs  []*accumulator
}

// groupRows partitions rows by the GROUP BY key and returns one row per
// group, in first-encounter order. A group row carries the qualified keys
// of the group's first row plus every aggregate under its own key.
// Without GROUP BY all rows form a single group, even when there are none.
func groupRows(ev *Evaluator, rows []catalog.Row, groupBy []Expr, aggs []*AggregateCall) ([]catalog.Row, error) {
	var (
		order  []string
		groups = make(map[string]*group)
	)

	newGroup := func(first catalog.Row) *group {
		g := &group{first: first, accs: make([]*accumulator, len(aggs))}
		for i, call := range aggs {
			g.accs[i] = newAccumulator(call)
		}
		return g
	}

	if len(groupBy) == 0 {
		var first catalog.Row
		if len(rows) > 0 {
			first = rows[0]
		}
		groups[""] = newGroup(first)
		order = append(order, "")
	}

	parts := make([]string, len(groupBy))
	for _, row := range rows {
		for i, expr := range groupBy {
			v, err := ev.Eval(expr, row)
			if err != nil {
				return nil, err
			}
			parts[i] = valueKey(v)
		}
		key := strings.Join(parts, groupKeySep)

		g, ok := groups[key]
		if !ok {
			g = newGroup(row)
			groups[key] = g
			order = append(order, key)
		}
		for _, acc := range g.accs {
			if err := acc.add(ev, row); err != nil {
				return nil, err
			}
		}
	}

	out := make([]catalog.Row, 0, len(order))
	for _, key := range order {
		g := groups[key]
		row := make(catalog.Row, len(g.first)+len(g.accs))
		for k, v := range g.first {
			row[k] = v
		}
		for _, acc := range g.accs {
			row[acc.call.key()] = acc.result()
		}
		out = append(out, row)
	}
	return out, nil
}

// valueKey renders v for equality-based keys. The kind prefix keeps NULL
// apart from the text "NULL".
func valueKey(v catalog.Value) string {
	return v.Kind.String() + ":" + v.String()
}
