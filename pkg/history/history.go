// Package history keeps the most recent distinct queries of a session.
package history

import (
	"strings"
	"sync"
)

// DefaultCapacity is the number of queries kept when none is given.
const DefaultCapacity = 10

// History is a most-recent-first list of distinct queries. It is safe for
// concurrent use.
type History struct {
	mu      sync.RWMutex
	entries []string
	cap     int
}

// New creates a history holding at most capacity entries. A non-positive
// capacity uses DefaultCapacity.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{cap: capacity}
}

// Add records query as the most recent entry. An earlier identical entry
// moves to the front instead of being duplicated. Blank queries are ignored.
func (h *History) Add(query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entries := make([]string, 0, h.cap)
	entries = append(entries, query)
	for _, e := range h.entries {
		if e == query {
			continue
		}
		if len(entries) == h.cap {
			break
		}
		entries = append(entries, e)
	}
	h.entries = entries
}

// Entries returns a copy of the history, most recent first.
func (h *History) Entries() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

// Get returns the n-th most recent entry, 1-based.
func (h *History) Get(n int) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n < 1 || n > len(h.entries) {
		return "", false
	}
	return h.entries[n-1], true
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Clear removes every entry.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}
