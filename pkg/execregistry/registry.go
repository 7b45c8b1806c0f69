// Package execregistry tracks every live and recently-terminated execution:
// execution_id -> {state handle, cancel signal, result channel}. It
// enforces at-most-one-active-per-id, a concurrency cap on running
// executions, a secondary admission cap, and LRU eviction of terminal
// records beyond a configured retention window.
package execregistry

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/workflowcore/orchestrator/pkg/errkind"
	"github.com/workflowcore/orchestrator/pkg/execregistry/store"
	"github.com/workflowcore/orchestrator/pkg/graph"
	"github.com/workflowcore/orchestrator/pkg/state"
	"github.com/workflowcore/orchestrator/pkg/telemetry"
)

const (
	defaultMaxConcurrent = 64
	defaultAdmissionCap  = 1024
	defaultRetention     = 1 * time.Hour
	defaultLRUCap        = 10000
)

// Runner executes a compiled workflow against state, exactly as
// executor.Executor does. Kept as an interface here so this package never
// imports the executor package, avoiding a dependency cycle.
type Runner interface {
	Run(ctx context.Context, compiled *graph.CompiledWorkflow, st *state.State, cancelSignal <-chan struct{}, deadline time.Time)
}

// SubmitOptions carries the per-submission overrides from the wire request.
type SubmitOptions struct {
	MaxRetries    int
	DeadlineMS    int
	UserID        string
	CorrelationID string
}

type entry struct {
	mu     sync.Mutex
	st     *state.State
	cancel chan struct{}
	done   chan struct{}
}

// Registry is the process-wide table of executions.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	lru      *list.List
	lruIndex map[string]*list.Element

	runner  Runner
	sink    store.Sink
	logger  telemetry.Logger
	metrics telemetry.Metrics

	maxConcurrent int
	admissionCap  int
	retention     time.Duration
	lruCap        int

	// concurrencySem is a counting semaphore bounding how many executions run
	// at once: a send acquires a slot, a receive releases it.
	concurrencySem   chan struct{}
	runningCount     int
	pendingOrRunning int
}

// Option configures a Registry.
type Option func(*Registry)

// WithSink attaches a persistence sink for terminal records.
func WithSink(sink store.Sink) Option {
	return func(r *Registry) { r.sink = sink }
}

// WithTelemetry attaches logging/metrics.
func WithTelemetry(logger telemetry.Logger, metrics telemetry.Metrics) Option {
	return func(r *Registry) {
		r.logger = logger
		r.metrics = metrics
	}
}

// WithMaxConcurrent overrides the cap on concurrently-running executions.
func WithMaxConcurrent(n int) Option {
	return func(r *Registry) { r.maxConcurrent = n }
}

// WithAdmissionCap overrides the secondary pending+running admission cap.
func WithAdmissionCap(n int) Option {
	return func(r *Registry) { r.admissionCap = n }
}

// WithRetention overrides the minimum retention window for terminal records.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) { r.retention = d }
}

// WithLRUCap overrides the eviction cap on retained terminal records.
func WithLRUCap(n int) Option {
	return func(r *Registry) { r.lruCap = n }
}

// New constructs a Registry dispatching executions through runner.
func New(runner Runner, opts ...Option) *Registry {
	r := &Registry{
		entries:       map[string]*entry{},
		lru:           list.New(),
		lruIndex:      map[string]*list.Element{},
		runner:        runner,
		logger:        telemetry.NewNoopLogger(),
		metrics:       telemetry.NewNoopMetrics(),
		maxConcurrent: defaultMaxConcurrent,
		admissionCap:  defaultAdmissionCap,
		retention:     defaultRetention,
		lruCap:        defaultLRUCap,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.concurrencySem = make(chan struct{}, r.maxConcurrent)
	return r
}

// Submit allocates a record for compiled, marks it pending, and schedules
// the executor. It returns immediately with a freshly generated
// execution_id. Submissions above the admission cap are rejected with
// capacity_exceeded.
func (r *Registry) Submit(ctx context.Context, compiled *graph.CompiledWorkflow, input map[string]any, opts SubmitOptions) (string, error) {
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	r.mu.Lock()
	if r.pendingOrRunning >= r.admissionCap {
		r.mu.Unlock()
		return "", errkind.New(errkind.CapacityExceeded, "admission cap reached")
	}
	r.pendingOrRunning++
	r.mu.Unlock()

	executionID := uuid.NewString()
	st := state.New(executionID, compiled.Name, compiled.Version, input, maxRetries, opts.UserID, opts.CorrelationID)

	e := &entry{st: st, cancel: make(chan struct{}), done: make(chan struct{})}
	r.mu.Lock()
	r.entries[executionID] = e
	r.mu.Unlock()

	go r.run(compiled, e, opts.DeadlineMS)

	return executionID, nil
}

func (r *Registry) run(compiled *graph.CompiledWorkflow, e *entry, deadlineMS int) {
	ctx := context.Background()

	r.concurrencySem <- struct{}{}
	r.mu.Lock()
	r.runningCount++
	r.mu.Unlock()
	defer func() {
		<-r.concurrencySem
		r.mu.Lock()
		r.runningCount--
		r.pendingOrRunning--
		r.mu.Unlock()
	}()

	var deadline time.Time
	if deadlineMS > 0 {
		deadline = time.Now().Add(time.Duration(deadlineMS) * time.Millisecond)
	}

	r.runner.Run(ctx, compiled, e.st, e.cancel, deadline)
	close(e.done)

	snap := e.st.Snapshot()
	r.retain(snap)
	if r.sink != nil {
		if err := r.sink.Persist(ctx, snap); err != nil {
			r.logger.Warn(ctx, "failed to persist terminal execution record", "execution_id", snap.ExecutionID, "error", err.Error())
		}
	}
}

// lruEntry is the value stored in the LRU list: the execution_id plus the
// time its record became terminal, so eviction can honor the retention
// floor independent of how far over lruCap the list has grown.
type lruEntry struct {
	id          string
	completedAt time.Time
}

func (r *Registry) retain(snap state.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	completedAt := time.Now()
	if snap.CompletedAt != nil {
		completedAt = *snap.CompletedAt
	}

	el := r.lru.PushFront(lruEntry{id: snap.ExecutionID, completedAt: completedAt})
	r.lruIndex[snap.ExecutionID] = el

	// Eviction is LRU beyond the cap, but a record is never evicted before
	// its retention window elapses: the oldest entry is always the next
	// candidate, so once it is too young to evict, nothing behind it is
	// either.
	for r.lru.Len() > r.lruCap {
		oldest := r.lru.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(lruEntry)
		if time.Since(entry.completedAt) < r.retention {
			break
		}
		r.lru.Remove(oldest)
		delete(r.lruIndex, entry.id)
		delete(r.entries, entry.id)
	}
}

// Get returns a deep-copy snapshot of the execution, or not_found.
func (r *Registry) Get(executionID string) (state.Record, error) {
	r.mu.RLock()
	e, ok := r.entries[executionID]
	r.mu.RUnlock()
	if !ok {
		return state.Record{}, errkind.New(errkind.NotFound, "unknown execution: "+executionID)
	}
	return e.st.Snapshot(), nil
}

// Cancel sets the cancel signal for executionID. A second cancel on an
// already-terminal record returns already_terminal and does not mutate it.
func (r *Registry) Cancel(executionID string) error {
	r.mu.RLock()
	e, ok := r.entries[executionID]
	r.mu.RUnlock()
	if !ok {
		return errkind.New(errkind.NotFound, "unknown execution: "+executionID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st.Status().Terminal() {
		return errkind.New(errkind.AlreadyTerminal, "execution already terminal: "+executionID)
	}

	select {
	case <-e.cancel:
	default:
		close(e.cancel)
	}
	return nil
}

// ListRecent returns up to limit snapshots ordered by created_at desc,
// optionally filtered by status.
func (r *Registry) ListRecent(limit int, statusFilter state.Status) []state.Record {
	r.mu.RLock()
	snaps := make([]state.Record, 0, len(r.entries))
	for _, e := range r.entries {
		snaps = append(snaps, e.st.Snapshot())
	}
	r.mu.RUnlock()

	sortByCreatedAtDesc(snaps)

	out := make([]state.Record, 0, limit)
	for _, s := range snaps {
		if statusFilter != "" && s.Status != statusFilter {
			continue
		}
		out = append(out, s)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func sortByCreatedAtDesc(snaps []state.Record) {
	for i := 1; i < len(snaps); i++ {
		for j := i; j > 0 && snaps[j].CreatedAt.After(snaps[j-1].CreatedAt); j-- {
			snaps[j], snaps[j-1] = snaps[j-1], snaps[j]
		}
	}
}

// Await blocks until executionID reaches a terminal status or timeout
// elapses, whichever comes first.
func (r *Registry) Await(ctx context.Context, executionID string, timeout time.Duration) (state.Record, error) {
	r.mu.RLock()
	e, ok := r.entries[executionID]
	r.mu.RUnlock()
	if !ok {
		return state.Record{}, errkind.New(errkind.NotFound, "unknown execution: "+executionID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.done:
		return e.st.Snapshot(), nil
	case <-timer.C:
		return e.st.Snapshot(), errkind.New(errkind.Timeout, "await timed out")
	case <-ctx.Done():
		return e.st.Snapshot(), ctx.Err()
	}
}
