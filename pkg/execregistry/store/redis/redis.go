// Package redis persists terminal execution records as JSON values in
// Redis, keyed by execution_id, with a TTL equal to the registry's
// retention window. Suited to single-leader deployments that want records
// to survive a process restart without a full audit database.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/workflowcore/orchestrator/pkg/state"
)

const keyPrefix = "workflowcore:execution:"

// Sink writes terminal records to a Redis instance.
type Sink struct {
	client *redis.Client
	ttl    time.Duration
}

// New constructs a Sink writing through client, expiring entries after ttl.
func New(client *redis.Client, ttl time.Duration) *Sink {
	return &Sink{client: client, ttl: ttl}
}

// Persist writes record as a JSON value with the configured TTL.
func (s *Sink) Persist(ctx context.Context, record state.Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+record.ExecutionID, payload, s.ttl).Err()
}

// Get fetches and decodes a previously persisted record.
func (s *Sink) Get(ctx context.Context, executionID string) (state.Record, bool, error) {
	raw, err := s.client.Get(ctx, keyPrefix+executionID).Bytes()
	if err == redis.Nil {
		return state.Record{}, false, nil
	}
	if err != nil {
		return state.Record{}, false, err
	}
	var record state.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return state.Record{}, false, err
	}
	return record, true, nil
}
