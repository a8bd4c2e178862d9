package sql

import (
	"github.com/kruthik-b-s/portfolio/pkg/catalog"
)

// joinSources combines the per-source row sets left to right. Each step is a
// cross product filtered by the source's ON predicate; a source without ON
// keeps every pair. Unmatched rows produce nothing.
func joinSources(ev *Evaluator, from []TableSource, sets [][]catalog.Row) ([]catalog.Row, error) {
	if len(sets) == 0 {
		return nil, nil
	}

	working := sets[0]
	for i := 1; i < len(sets); i++ {
		var next []catalog.Row
		for _, left := range working {
			for _, right := range sets[i] {
				combined := make(catalog.Row, len(left)+len(right))
				for k, v := range left {
					combined[k] = v
				}
				for k, v := range right {
					combined[k] = v
				}

				ok, err := ev.Match(from[i].On, combined)
				if err != nil {
					return nil, err
				}
				if ok {
					next = append(next, combined)
				}
			}
		}
		working = next
	}
	return working, nil
}
