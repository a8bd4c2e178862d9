package sql

import (
	"context"
	"strings"

	"github.com/kruthik-b-s/portfolio/pkg/catalog"
	"github.com/kruthik-b-s/portfolio/pkg/source"
)

// loader fetches the tables of one query. A table referenced by several
// aliases is fetched once and re-keyed per alias.
type loader struct {
	registry *catalog.Registry
	store    source.Store
	fetched  map[string][]map[string]any
}

func newLoader(registry *catalog.Registry, store source.Store) *loader {
	return &loader{registry: registry, store: store, fetched: make(map[string][]map[string]any)}
}

// loadAll returns one row set per FROM source, in FROM order. Any fetch
// failure fails the whole query.
func (l *loader) loadAll(ctx context.Context, from []TableSource) ([][]catalog.Row, error) {
	sets := make([][]catalog.Row, len(from))
	for i, src := range from {
		rows, err := l.load(ctx, src)
		if err != nil {
			return nil, err
		}
		sets[i] = rows
	}
	return sets, nil
}

func (l *loader) load(ctx context.Context, src TableSource) ([]catalog.Row, error) {
	raw, ok := l.fetched[src.Table]
	if !ok {
		var err error
		raw, err = l.store.FetchTable(ctx, src.Table)
		if err != nil {
			return nil, wrapError(ErrSourceUnavailable, err, "failed to fetch %s: %v", src.Table, err)
		}
		l.fetched[src.Table] = raw
	}

	columns, _ := l.registry.Columns(src.Table)
	rows := make([]catalog.Row, len(raw))
	for i, r := range raw {
		row := make(catalog.Row, len(columns))
		for _, col := range columns {
			row[catalog.Qualify(src.Alias, col)] = catalog.ValueOf(field(r, col))
		}
		rows[i] = row
	}
	return rows, nil
}

// field looks a column up in a fetched row, falling back to a
// case-insensitive match. Missing fields read as nil.
func field(r map[string]any, col string) any {
	if v, ok := r[col]; ok {
		return v
	}
	for k, v := range r {
		if strings.EqualFold(k, col) {
			return v
		}
	}
	return nil
}
