package history

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestHistoryOrderAndDedupe(t *testing.T) {
	h := New(0)
	h.Add("SELECT 1")
	h.Add("SELECT 2")
	h.Add("  SELECT 1  ")
	h.Add("   ")

	want := []string{"SELECT 1", "SELECT 2"}
	if got := h.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("Entries = %v, want %v", got, want)
	}
	if got, ok := h.Get(2); !ok || got != "SELECT 2" {
		t.Errorf("Get(2) = %q, %v", got, ok)
	}
	if _, ok := h.Get(3); ok {
		t.Error("Get(3) should be out of range")
	}
}

func TestHistoryCapacity(t *testing.T) {
	h := New(DefaultCapacity)
	for i := 0; i < 25; i++ {
		h.Add(fmt.Sprintf("SELECT %d", i))
	}
	if h.Len() != DefaultCapacity {
		t.Fatalf("Len = %d, want %d", h.Len(), DefaultCapacity)
	}
	if got, _ := h.Get(1); got != "SELECT 24" {
		t.Errorf("most recent = %q", got)
	}
	if got, _ := h.Get(DefaultCapacity); got != "SELECT 15" {
		t.Errorf("oldest = %q", got)
	}

	h.Clear()
	if h.Len() != 0 {
		t.Error("Clear left entries behind")
	}
}

func TestHistoryEntriesIsCopy(t *testing.T) {
	h := New(3)
	h.Add("a")
	e := h.Entries()
	e[0] = "mutated"
	if got, _ := h.Get(1); got != "a" {
		t.Errorf("history mutated through Entries: %q", got)
	}
}

func TestHistoryConcurrent(t *testing.T) {
	h := New(5)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.Add(fmt.Sprintf("q%d", i%7))
			_ = h.Entries()
		}(i)
	}
	wg.Wait()
	if h.Len() != 5 {
		t.Errorf("Len = %d, want 5", h.Len())
	}
}
