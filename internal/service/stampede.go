package service

import (
	"sync"
)

// stampedeTracker counts concurrent cache misses per dataset.
// A count above one means several requests found the same dataset expired at once.
type stampedeTracker struct {
	mu           sync.Mutex
	activeMisses map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{
		activeMisses: make(map[string]int),
	}
}

// RecordMiss increments the miss count for dataset and returns it.
// Callers defer Resolve(dataset).
func (st *stampedeTracker) RecordMiss(dataset string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.activeMisses[dataset]++
	return st.activeMisses[dataset]
}

// Resolve marks one miss for dataset as finished.
func (st *stampedeTracker) Resolve(dataset string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.activeMisses[dataset] <= 1 {
		delete(st.activeMisses, dataset)
		return
	}
	st.activeMisses[dataset]--
}
