package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

const maxConcurrentCounts = 4

// CountAll counts every table concurrently. A table whose count fails is
// reported as 0 and does not stop the others; the failures are joined into
// the returned error.
func CountAll(ctx context.Context, store Store, tables []string) (map[string]int, error) {
	counts := make(map[string]int, len(tables))
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(maxConcurrentCounts)

	for _, table := range tables {
		g.Go(func() error {
			n, err := store.CountRows(ctx, table)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				counts[table] = 0
				errs = append(errs, fmt.Errorf("%s: %w", table, err))
				return nil
			}
			counts[table] = n
			return nil
		})
	}

	g.Wait()
	return counts, errors.Join(errs...)
}
