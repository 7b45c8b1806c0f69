package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowcore/orchestrator/pkg/errkind"
)

func TestSetGetDottedPath(t *testing.T) {
	s := New("exec-1", "wf", "1.0.0", map[string]any{"document_id": "doc_1"}, 3, "", "corr-1")

	s.Set("analysis.summary", "looks good")
	v, ok := s.Get("analysis.summary")
	require.True(t, ok)
	assert.Equal(t, "looks good", v)

	_, ok = s.Get("analysis.missing")
	assert.False(t, ok)
}

func TestAppendStepAssignsMonotonicIDs(t *testing.T) {
	s := New("exec-1", "wf", "1.0.0", nil, 3, "", "corr-1")

	first := s.AppendStep(StepRecord{NodeName: "fetch", Kind: "tool_call", Outcome: OutcomeSuccess})
	second := s.AppendStep(StepRecord{NodeName: "analyze", Kind: "tool_call", Outcome: OutcomeSuccess})

	assert.Equal(t, 1, first.StepID)
	assert.Equal(t, 2, second.StepID)

	snap := s.Snapshot()
	require.Len(t, snap.Steps, 2)
	assert.Equal(t, 1, snap.Steps[0].StepID)
	assert.Equal(t, 2, snap.Steps[1].StepID)
}

func TestTerminateIsIdempotent(t *testing.T) {
	s := New("exec-1", "wf", "1.0.0", nil, 3, "", "corr-1")
	s.MarkRunning()
	s.Terminate(StatusCompleted)
	first := s.Snapshot()

	s.Terminate(StatusFailed)
	second := s.Snapshot()

	assert.Equal(t, StatusCompleted, first.Status)
	assert.Equal(t, StatusCompleted, second.Status)
	assert.Equal(t, first.CompletedAt, second.CompletedAt)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := New("exec-1", "wf", "1.0.0", map[string]any{"nested": map[string]any{"a": 1}}, 3, "", "")
	snap := s.Snapshot()

	inputNested := snap.InputData["nested"].(map[string]any)
	inputNested["a"] = 999

	v, _ := s.GetInput("nested.a")
	assert.Equal(t, 1, v)
}

func TestAppendErrorRecordsKind(t *testing.T) {
	s := New("exec-1", "wf", "1.0.0", nil, 3, "", "")
	s.AppendError(ErrorRecord{Kind: errkind.ToolNon2xx, NodeName: "store_results", Message: "422"})

	snap := s.Snapshot()
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, errkind.ToolNon2xx, snap.Errors[0].Kind)
}

func TestRetryCountBounded(t *testing.T) {
	s := New("exec-1", "wf", "1.0.0", nil, 1, "", "")
	assert.Equal(t, 1, s.IncrementRetry())
	assert.Equal(t, 1, s.RetryCount())
	assert.Equal(t, 1, s.MaxRetries())
}
