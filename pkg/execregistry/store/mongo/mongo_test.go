package mongo

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/workflowcore/orchestrator/pkg/state"
)

var (
	testMongoClient    *mongo.Client
	testMongoContainer testcontainers.Container
	skipMongoTests     bool
)

func setupMongo(t *testing.T) {
	t.Helper()
	if testMongoClient != nil || skipMongoTests {
		return
	}
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		t.Logf("docker not available, skipping mongo integration test: %v", containerErr)
		skipMongoTests = true
		return
	}

	host, err := testMongoContainer.Host(ctx)
	if err != nil {
		skipMongoTests = true
		return
	}
	port, err := testMongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		skipMongoTests = true
		return
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testMongoClient, err = mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		skipMongoTests = true
		return
	}
	if err := testMongoClient.Ping(ctx, nil); err != nil {
		skipMongoTests = true
		testMongoClient = nil
	}
}

func getSink(t *testing.T) *Sink {
	t.Helper()
	setupMongo(t)
	if skipMongoTests {
		t.Skip("docker not available, skipping mongo integration test")
	}
	collection := testMongoClient.Database("workflowcore_test").Collection(t.Name())
	require.NoError(t, collection.Drop(context.Background()))
	sink := New(collection)
	require.NoError(t, sink.EnsureIndexes(context.Background()))
	return sink
}

// TestMongoPersistUpsertsByExecutionID verifies Persist called twice for the
// same execution_id updates the existing document rather than duplicating
// it, per the unique index EnsureIndexes creates.
func TestMongoPersistUpsertsByExecutionID(t *testing.T) {
	sink := getSink(t)
	ctx := context.Background()

	record := state.Record{ExecutionID: "exec-mongo-1", Status: state.StatusRunning}
	require.NoError(t, sink.Persist(ctx, record))

	record.Status = state.StatusCompleted
	require.NoError(t, sink.Persist(ctx, record))

	count, err := sink.collection.CountDocuments(ctx, map[string]any{"execution_id": "exec-mongo-1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	var got state.Record
	require.NoError(t, sink.collection.FindOne(ctx, map[string]any{"execution_id": "exec-mongo-1"}).Decode(&got))
	require.Equal(t, state.StatusCompleted, got.Status)
}

func TestMongoEnsureIndexesRejectsDuplicateExecutionID(t *testing.T) {
	sink := getSink(t)
	ctx := context.Background()

	_, err := sink.collection.InsertOne(ctx, map[string]any{"execution_id": "exec-dup", "status": "completed"})
	require.NoError(t, err)
	_, err = sink.collection.InsertOne(ctx, map[string]any{"execution_id": "exec-dup", "status": "failed"})
	require.Error(t, err)
}
