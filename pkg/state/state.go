// Package state defines the per-execution mutable record threaded through
// workflow nodes: input, per-node outputs, the step/error audit trail, and
// the bookkeeping fields the executor advances as it drives an execution to
// a terminal status.
package state

import (
	"strings"
	"sync"
	"time"

	"github.com/workflowcore/orchestrator/pkg/errkind"
)

// Status is the lifecycle stage of an execution record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether s is one of the terminal statuses.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// StepOutcome is the result recorded for a single step.
type StepOutcome string

const (
	OutcomeSuccess StepOutcome = "success"
	OutcomeError   StepOutcome = "error"
	OutcomeSkipped StepOutcome = "skipped"
)

// ToolInvocation records the request/response shape of a tool_call step.
type ToolInvocation struct {
	Service          string `json:"service"`
	Tool             string `json:"tool"`
	RequestSnapshot  any    `json:"request_snapshot,omitempty"`
	ResponseSnapshot any    `json:"response_snapshot,omitempty"`
	HTTPStatus       int    `json:"http_status,omitempty"`
	DurationMS       int64  `json:"duration_ms"`
}

// StepRecord is one entry in the execution's audit trail. StepRecords are
// appended, never mutated, once committed.
type StepRecord struct {
	StepID         int             `json:"step_id"`
	NodeName       string          `json:"node_name"`
	Kind           string          `json:"kind"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	Outcome        StepOutcome     `json:"outcome"`
	ToolInvocation *ToolInvocation `json:"tool_invocation,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

// ErrorRecord is one entry in the execution's error trail.
type ErrorRecord struct {
	Kind       errkind.Kind `json:"kind"`
	NodeName   string       `json:"node_name,omitempty"`
	Message    string       `json:"message"`
	CausedBy   *ErrorRecord `json:"caused_by,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Record is the externally-visible, deep-copyable snapshot of an execution.
// It is what Snapshot() returns and what the public API serializes.
type Record struct {
	ExecutionID     string            `json:"execution_id"`
	WorkflowName    string            `json:"workflow_name"`
	WorkflowVersion string            `json:"workflow_version"`
	Status          Status            `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	InputData       map[string]any    `json:"input_data"`
	OutputData      map[string]any    `json:"output_data"`
	CurrentNode     string            `json:"current_node,omitempty"`
	RetryCount      int               `json:"retry_count"`
	MaxRetries      int               `json:"max_retries"`
	Steps           []StepRecord      `json:"steps"`
	Errors          []ErrorRecord     `json:"errors"`
	UserID          string            `json:"user_id,omitempty"`
	CorrelationID   string            `json:"correlation_id"`
}

// State is the live, mutable execution state the executor owns exclusively
// for the duration of a run. All mutating methods take the write lock so
// Snapshot (used concurrently by the registry to answer status queries) can
// take a read lock and return a deep copy without racing the executor.
type State struct {
	mu     sync.RWMutex
	record Record
	data   map[string]any
	nextStepID int
}

// New creates a State seeded with input data and correlation metadata.
func New(executionID, workflowName, workflowVersion string, input map[string]any, maxRetries int, userID, correlationID string) *State {
	cp := make(map[string]any, len(input))
	for k, v := range input {
		cp[k] = v
	}
	return &State{
		record: Record{
			ExecutionID:     executionID,
			WorkflowName:    workflowName,
			WorkflowVersion: workflowVersion,
			Status:          StatusPending,
			CreatedAt:       timeNow(),
			InputData:       cp,
			OutputData:      map[string]any{},
			MaxRetries:      maxRetries,
			UserID:          userID,
			CorrelationID:   correlationID,
		},
		data: map[string]any{},
		nextStepID: 1,
	}
}

// timeNow is the single indirection point for "current time" so tests can
// substitute a fixed clock if ever needed; production always uses time.Now.
var timeNow = time.Now

// Get resolves a dotted path into the node-output data map. Missing path
// segments return (nil, false).
func (s *State) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookupPath(s.data, path)
}

// Set writes a dotted path into the node-output data map, creating
// intermediate maps as needed.
func (s *State) Set(path string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setPath(s.data, path, value)
}

// GetInput resolves a dotted path into the original input payload.
func (s *State) GetInput(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookupPath(s.record.InputData, path)
}

// SetOutput writes a dotted path into the final output payload returned to
// callers. Distinct from Set, which writes to the internal per-node data
// map nodes read from.
func (s *State) SetOutput(path string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setPath(s.record.OutputData, path, value)
}

// AppendStep assigns the next step_id and appends the record. Monotonic:
// once appended, a StepRecord is never revisited by index.
func (s *State) AppendStep(step StepRecord) StepRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	step.StepID = s.nextStepID
	s.nextStepID++
	s.record.Steps = append(s.record.Steps, step)
	return step
}

// AppendError appends an ErrorRecord to the audit trail.
func (s *State) AppendError(err ErrorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.Errors = append(s.record.Errors, err)
}

// IncrementRetry bumps the retry counter and returns the new value.
func (s *State) IncrementRetry() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.RetryCount++
	return s.record.RetryCount
}

// RetryCount returns the current retry counter without mutating it.
func (s *State) RetryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.RetryCount
}

// MaxRetries returns the configured retry ceiling.
func (s *State) MaxRetries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.MaxRetries
}

// SetCurrentNode updates the node the executor is about to dispatch.
func (s *State) SetCurrentNode(node string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.CurrentNode = node
}

// MarkRunning transitions the record to running and stamps started_at, only
// on the first call (subsequent calls are no-ops).
func (s *State) MarkRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record.Status != StatusPending {
		return
	}
	now := timeNow()
	s.record.Status = StatusRunning
	s.record.StartedAt = &now
}

// Terminate transitions the record to a terminal status exactly once.
// Subsequent calls are no-ops, honoring "no field of E is mutated after
// completed_at is set."
func (s *State) Terminate(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record.Status.Terminal() {
		return
	}
	now := timeNow()
	s.record.Status = status
	s.record.CompletedAt = &now
}

// Status returns the current lifecycle status.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.Status
}

// Snapshot returns a deep copy of the execution record, safe to hand to
// callers outside the owning executor. Copy-on-read via a read lock.
func (s *State) Snapshot() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopyRecord(s.record)
}

func deepCopyRecord(r Record) Record {
	out := r
	out.InputData = deepCopyMap(r.InputData)
	out.OutputData = deepCopyMap(r.OutputData)
	out.Steps = append([]StepRecord(nil), r.Steps...)
	out.Errors = append([]ErrorRecord(nil), r.Errors...)
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = deepCopyMap(vv)
		default:
			out[k] = vv
		}
	}
	return out
}

func lookupPath(m map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = m
	for _, seg := range segments {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = asMap[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(m map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	cur := m
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = value
			return
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
}
