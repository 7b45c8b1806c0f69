// Package mongo upserts terminal execution records into a MongoDB
// collection, indexed by execution_id and created_at, for deployments that
// want queryable audit history beyond the registry's in-memory retention
// window.
package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/workflowcore/orchestrator/pkg/state"
)

// Sink upserts terminal records into a MongoDB collection.
type Sink struct {
	collection *mongo.Collection
}

// New constructs a Sink writing into the given collection. Callers are
// expected to have created an index on execution_id and created_at ahead
// of time (see EnsureIndexes).
func New(collection *mongo.Collection) *Sink {
	return &Sink{collection: collection}
}

// EnsureIndexes creates the indexes this sink's queries rely on. Idempotent.
func (s *Sink) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "execution_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	return err
}

// Persist upserts record keyed by execution_id.
func (s *Sink) Persist(ctx context.Context, record state.Record) error {
	filter := bson.M{"execution_id": record.ExecutionID}
	update := bson.M{"$set": record}
	_, err := s.collection.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}
