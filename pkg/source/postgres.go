package source

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kruthik-b-s/portfolio/pkg/catalog"
)

// Postgres reads tables from a PostgreSQL database (Supabase included).
// Only tables declared in the registry can be read.
type Postgres struct {
	pool     *pgxpool.Pool
	registry *catalog.Registry
}

// OpenPostgres connects a pool to dsn and verifies it with a ping.
func OpenPostgres(ctx context.Context, dsn string, registry *catalog.Registry) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgres(pool, registry), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool, registry *catalog.Registry) *Postgres {
	return &Postgres{pool: pool, registry: registry}
}

// FetchTable runs SELECT * against the table.
func (p *Postgres) FetchTable(ctx context.Context, table string) ([]map[string]any, error) {
	ident, err := p.identifier(table)
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, "SELECT * FROM "+ident)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", table, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", table, err)
	}
	return out, nil
}

// CountRows runs SELECT COUNT(*) against the table.
func (p *Postgres) CountRows(ctx context.Context, table string) (int, error) {
	ident, err := p.identifier(table)
	if err != nil {
		return 0, err
	}

	var n int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+ident).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) identifier(table string) (string, error) {
	if p.registry != nil && !p.registry.HasTable(table) {
		return "", fmt.Errorf("table %s is not part of the schema", table)
	}
	return pgx.Identifier{table}.Sanitize(), nil
}
