// Package store defines the pluggable persistence boundary the execution
// registry writes terminal execution records through. Absence of a sink
// disables persistence; in-memory-only operation is a fully supported mode.
package store

import (
	"context"

	"github.com/workflowcore/orchestrator/pkg/state"
)

// Sink persists a terminal execution record. Implementations are only ever
// called on terminal transitions (completed/failed/cancelled/timeout),
// never on intermediate state.
type Sink interface {
	Persist(ctx context.Context, record state.Record) error
}
