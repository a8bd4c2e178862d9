package source

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Store. Tables that were never loaded read as empty.
type Memory struct {
	mu     sync.RWMutex
	tables map[string][]map[string]any
}

// NewMemory creates a store holding the given tables.
func NewMemory(tables map[string][]map[string]any) *Memory {
	m := &Memory{tables: make(map[string][]map[string]any, len(tables))}
	for name, rows := range tables {
		m.tables[strings.ToLower(name)] = cloneRows(rows)
	}
	return m
}

// Put replaces the contents of a table.
func (m *Memory) Put(table string, rows []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[strings.ToLower(table)] = cloneRows(rows)
}

// FetchTable returns a copy of the table's rows.
func (m *Memory) FetchTable(ctx context.Context, table string) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRows(m.tables[strings.ToLower(table)]), nil
}

// CountRows returns the number of rows held for the table.
func (m *Memory) CountRows(ctx context.Context, table string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[strings.ToLower(table)]), nil
}
