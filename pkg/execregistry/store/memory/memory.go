// Package memory provides the default no-durability persistence sink: it
// keeps terminal records in a process-local map and never survives a
// restart. Useful for tests and for deployments that accept the fully
// in-memory operating mode.
package memory

import (
	"context"
	"sync"

	"github.com/workflowcore/orchestrator/pkg/state"
)

// Sink stores terminal records in memory, keyed by execution_id.
type Sink struct {
	mu      sync.RWMutex
	records map[string]state.Record
}

// New constructs an empty Sink.
func New() *Sink {
	return &Sink{records: map[string]state.Record{}}
}

// Persist stores a copy of record.
func (s *Sink) Persist(_ context.Context, record state.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ExecutionID] = record
	return nil
}

// Get returns a previously persisted record, for tests and diagnostics.
func (s *Sink) Get(executionID string) (state.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[executionID]
	return r, ok
}
