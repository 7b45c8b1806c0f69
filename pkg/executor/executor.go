// Package executor runs a compiled workflow graph against an execution
// state: it dispatches nodes, evaluates conditional edges, enforces
// cancellation and deadlines, applies the retry policy, and records
// provenance until the execution reaches a terminal status.
package executor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/workflowcore/orchestrator/pkg/errkind"
	"github.com/workflowcore/orchestrator/pkg/graph"
	"github.com/workflowcore/orchestrator/pkg/httpclient"
	"github.com/workflowcore/orchestrator/pkg/state"
	"github.com/workflowcore/orchestrator/pkg/telemetry"
	"github.com/workflowcore/orchestrator/pkg/toolbinding"
)

const (
	retryBaseDelay = 500 * time.Millisecond
	retryCapDelay  = 8 * time.Second
	jitterFraction = 0.20
)

// retryableStatuses are the only tool_non_2xx statuses eligible for retry.
var retryableStatuses = map[int]bool{502: true, 503: true, 504: true}

// nonRetryableStatuses are tool_non_2xx statuses that are always fatal.
var nonRetryableStatuses = map[int]bool{400: true, 401: true, 403: true, 404: true, 409: true, 422: true}

// Executor drives compiled workflows to completion.
type Executor struct {
	tools   *toolbinding.Registry
	client  *httpclient.Client
	logger  telemetry.Logger
	tracer  telemetry.Tracer
	metrics telemetry.Metrics
	rng     *rand.Rand
}

// Option configures an Executor.
type Option func(*Executor)

// WithTelemetry attaches logging/tracing/metrics.
func WithTelemetry(logger telemetry.Logger, tracer telemetry.Tracer, metrics telemetry.Metrics) Option {
	return func(e *Executor) {
		e.logger = logger
		e.tracer = tracer
		e.metrics = metrics
	}
}

// New constructs an Executor dispatching tool_call nodes against tools via
// client.
func New(tools *toolbinding.Registry, client *httpclient.Client, opts ...Option) *Executor {
	e := &Executor{
		tools:   tools,
		client:  client,
		logger:  telemetry.NewNoopLogger(),
		tracer:  telemetry.NewNoopTracer(),
		metrics: telemetry.NewNoopMetrics(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes compiled against st until a terminal status is reached.
// cancelSignal is edge-triggered and observed at the points specified by
// the cancellation contract: before every node dispatch, and after every
// tool call completes. deadline, if non-zero, bounds the whole execution
// independently of any per-tool-call timeout.
func (e *Executor) Run(ctx context.Context, compiled *graph.CompiledWorkflow, st *state.State, cancelSignal <-chan struct{}, deadline time.Time) {
	st.MarkRunning()
	current := compiled.EntryPoint
	st.SetCurrentNode(current)

	for current != graph.Terminal {
		if isCancelled(cancelSignal) {
			e.terminateCancelled(ctx, st, current)
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			e.terminateTimeout(ctx, st, current)
			return
		}

		node, ok := compiled.Nodes[current]
		if !ok {
			st.AppendError(state.ErrorRecord{Kind: errkind.UnknownNode, NodeName: current, Message: "node not found in compiled workflow", OccurredAt: time.Now()})
			st.Terminate(state.StatusFailed)
			return
		}

		outcome, branchLabel, stepErr := e.dispatch(ctx, node, st)
		if stepErr != nil {
			kind := errkind.KindOf(stepErr)
			st.AppendError(state.ErrorRecord{Kind: kind, NodeName: current, Message: stepErr.Error(), OccurredAt: time.Now()})

			if kind == errkind.Cancelled {
				e.terminateCancelled(ctx, st, current)
				return
			}

			if e.shouldRetry(st, stepErr) {
				count := st.IncrementRetry()
				st.AppendStep(state.StepRecord{NodeName: current, Kind: "retry", StartedAt: time.Now(), FinishedAt: time.Now(), Outcome: state.OutcomeError, ErrorMessage: stepErr.Error()})
				e.logger.Warn(ctx, "retrying node", "node", current, "retry_count", count, "error", stepErr.Error())
				e.sleepBackoff(ctx, count, cancelSignal)
				continue
			}

			if outcome == "" {
				outcome = state.OutcomeError
			}
			st.Terminate(state.StatusFailed)
			return
		}

		if isCancelled(cancelSignal) {
			e.terminateCancelled(ctx, st, current)
			return
		}

		next, ok := node.Next(branchLabel)
		if !ok {
			st.AppendError(state.ErrorRecord{Kind: errkind.Validation, NodeName: current, Message: "unrecognized branch label: " + branchLabel, OccurredAt: time.Now()})
			st.Terminate(state.StatusFailed)
			return
		}
		current = next
		st.SetCurrentNode(current)
	}

	st.Terminate(state.StatusCompleted)
}

func (e *Executor) terminateCancelled(ctx context.Context, st *state.State, node string) {
	st.AppendError(state.ErrorRecord{Kind: errkind.Cancelled, NodeName: node, Message: "cancellation observed", OccurredAt: time.Now()})
	st.Terminate(state.StatusCancelled)
	e.logger.Info(ctx, "execution cancelled", "node", node)
}

func (e *Executor) terminateTimeout(ctx context.Context, st *state.State, node string) {
	st.AppendError(state.ErrorRecord{Kind: errkind.Timeout, NodeName: node, Message: "execution deadline exceeded", OccurredAt: time.Now()})
	st.Terminate(state.StatusTimeout)
	e.logger.Warn(ctx, "execution timed out", "node", node)
}

func isCancelled(signal <-chan struct{}) bool {
	if signal == nil {
		return false
	}
	select {
	case <-signal:
		return true
	default:
		return false
	}
}

// shouldRetry applies the non-retryable/retryable classification from the
// retry policy. It also enforces the retry budget: once the retry count has
// reached max_retries it returns false, so the caller treats the error as
// fatal.
func (e *Executor) shouldRetry(st *state.State, err error) bool {
	if st.RetryCount() >= st.MaxRetries() {
		return false
	}
	kind := errkind.KindOf(err)
	if kind == errkind.ToolNon2xx {
		status := statusFromError(err)
		return retryableStatuses[status]
	}
	return errkind.MaybeRetryable(kind)
}

func statusFromError(err error) int {
	msg := err.Error()
	for code := range retryableStatuses {
		if strings.Contains(msg, strconv.Itoa(code)) {
			return code
		}
	}
	for code := range nonRetryableStatuses {
		if strings.Contains(msg, strconv.Itoa(code)) {
			return code
		}
	}
	return 0
}

func (e *Executor) sleepBackoff(ctx context.Context, retryCount int, cancelSignal <-chan struct{}) {
	delay := backoffDelay(retryCount, e.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-cancelSignal:
	}
}

func backoffDelay(retryCount int, rng *rand.Rand) time.Duration {
	exp := float64(retryBaseDelay) * math.Pow(2, float64(retryCount-1))
	capped := math.Min(exp, float64(retryCapDelay))
	jitter := capped * jitterFraction
	delta := (rng.Float64()*2 - 1) * jitter
	result := capped + delta
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}

// dispatch runs one node and returns (outcome, branch label, error). The
// branch label is only meaningful for conditional_router nodes.
func (e *Executor) dispatch(ctx context.Context, node graph.CompiledNode, st *state.State) (state.StepOutcome, string, error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "executor.dispatch:"+node.Spec.Name)
	defer span.End()

	switch node.Spec.Kind {
	case graph.KindTerminal:
		st.AppendStep(state.StepRecord{NodeName: node.Spec.Name, Kind: "terminal", StartedAt: started, FinishedAt: time.Now(), Outcome: state.OutcomeSuccess})
		return state.OutcomeSuccess, "", nil

	case graph.KindToolCall:
		invocation, err := e.dispatchToolCall(ctx, node.Spec, st)
		finished := time.Now()
		if err != nil {
			st.AppendStep(state.StepRecord{NodeName: node.Spec.Name, Kind: "tool_call", StartedAt: started, FinishedAt: finished, Outcome: state.OutcomeError, ErrorMessage: err.Error(), ToolInvocation: invocation})
			return state.OutcomeError, "", err
		}
		st.AppendStep(state.StepRecord{NodeName: node.Spec.Name, Kind: "tool_call", StartedAt: started, FinishedAt: finished, Outcome: state.OutcomeSuccess, ToolInvocation: invocation})
		return state.OutcomeSuccess, "", nil

	case graph.KindComposite:
		for _, childName := range node.Spec.Children {
			childNode, ok := childNodeOf(node, childName)
			if !ok {
				return state.OutcomeError, "", errkind.New(errkind.UnknownNode, "composite child not found: "+childName)
			}
			outcome, _, err := e.dispatch(ctx, childNode, st)
			if err != nil {
				return outcome, "", err
			}
		}
		st.AppendStep(state.StepRecord{NodeName: node.Spec.Name, Kind: "composite", StartedAt: started, FinishedAt: time.Now(), Outcome: state.OutcomeSuccess})
		return state.OutcomeSuccess, "", nil

	case graph.KindConditionalRouter:
		label := node.Condition(st.Get)
		st.AppendStep(state.StepRecord{NodeName: node.Spec.Name, Kind: "conditional_router", StartedAt: started, FinishedAt: time.Now(), Outcome: state.OutcomeSuccess})
		return state.OutcomeSuccess, label, nil

	default:
		return state.OutcomeError, "", errkind.New(errkind.NodeException, "unknown node kind: "+string(node.Spec.Kind))
	}
}

// childNodeOf resolves a composite child from the parent's ChildSpecs into a
// synthetic CompiledNode that carries only the child's Spec: no successor
// and no bound Condition. The composite dispatcher walks children in
// declared order directly rather than through node.Next.
func childNodeOf(parent graph.CompiledNode, childName string) (graph.CompiledNode, bool) {
	child, ok := parent.Spec.ChildSpecs[childName]
	if !ok {
		return graph.CompiledNode{}, false
	}
	return graph.CompiledNode{Spec: child}, true
}

func (e *Executor) dispatchToolCall(ctx context.Context, spec graph.NodeSpec, st *state.State) (*state.ToolInvocation, error) {
	binding, err := e.tools.Lookup(spec.Service, spec.Tool)
	if err != nil {
		return nil, err
	}

	args := map[string]any{}
	for argName, path := range spec.InputMapping {
		if v, ok := st.Get(path); ok {
			args[argName] = v
		} else if v, ok := st.GetInput(path); ok {
			args[argName] = v
		}
	}

	if err := binding.Validate(args); err != nil {
		return nil, err
	}

	query := map[string]string{}
	var bodyArgs map[string]any
	url := binding.URLTemplate
	headers := map[string]string{}

	for name, paramSpec := range binding.ParameterSchema {
		v, ok := args[name]
		if !ok {
			continue
		}
		switch paramSpec.Location {
		case toolbinding.LocationPath:
			url = strings.ReplaceAll(url, "{"+name+"}", fmt.Sprint(v))
		case toolbinding.LocationQuery:
			query[name] = fmt.Sprint(v)
		case toolbinding.LocationHeader:
			headers[name] = fmt.Sprint(v)
		case toolbinding.LocationBody:
			if bodyArgs == nil {
				bodyArgs = map[string]any{}
			}
			bodyArgs[name] = v
		}
	}

	var body any
	if len(bodyArgs) > 0 {
		body = bodyArgs
	}

	started := time.Now()
	result, err := e.client.Request(ctx, spec.Service, httpclient.Method(binding.HTTPMethod), url, query, headers, body)
	duration := time.Since(started)

	invocation := &state.ToolInvocation{Service: spec.Service, Tool: spec.Tool, RequestSnapshot: args, DurationMS: duration.Milliseconds()}
	if result != nil {
		invocation.HTTPStatus = result.Status
		invocation.ResponseSnapshot = result.DecodedBody
	}
	if err != nil {
		return invocation, err
	}

	// Every output-mapped value lands in both maps: Set makes it visible to
	// later nodes' input_mapping via st.Get, SetOutput makes it part of the
	// externally-visible output_data returned to callers.
	responseMap, _ := result.DecodedBody.(map[string]any)
	for destPath, field := range spec.OutputMapping {
		if field == "" {
			st.Set(destPath, result.DecodedBody)
			st.SetOutput(destPath, result.DecodedBody)
			continue
		}
		if responseMap != nil {
			if v, ok := responseMap[field]; ok {
				st.Set(destPath, v)
				st.SetOutput(destPath, v)
			}
		}
	}

	return invocation, nil
}
