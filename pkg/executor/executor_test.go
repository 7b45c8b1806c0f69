package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowcore/orchestrator/pkg/graph"
	"github.com/workflowcore/orchestrator/pkg/httpclient"
	"github.com/workflowcore/orchestrator/pkg/state"
	"github.com/workflowcore/orchestrator/pkg/toolbinding"
)

func newTestExecutor(t *testing.T, server *httptest.Server, tools *toolbinding.Registry) *Executor {
	t.Helper()
	client := httpclient.New(httpclient.WithHTTPClient(server.Client()), httpclient.WithTimeout(2*time.Second))
	return New(tools, client)
}

func TestHappyPathTwoToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/fetch":
			json.NewEncoder(w).Encode(map[string]any{"summary": "doc summary"})
		case "/store":
			json.NewEncoder(w).Encode(map[string]any{"stored_id": "abc"})
		}
	}))
	defer server.Close()

	tools := toolbinding.New()
	require.NoError(t, tools.Register(toolbinding.Binding{Service: "docs", Tool: "fetch", Version: "1", HTTPMethod: toolbinding.MethodGet, URLTemplate: server.URL + "/fetch"}))
	require.NoError(t, tools.Register(toolbinding.Binding{Service: "docs", Tool: "store", Version: "1", HTTPMethod: toolbinding.MethodPost, URLTemplate: server.URL + "/store"}))

	def := graph.WorkflowDefinition{
		Name:       "doc_flow",
		EntryPoint: "fetch_document",
		Nodes: map[string]graph.NodeSpec{
			"fetch_document": {Name: "fetch_document", Kind: graph.KindToolCall, Service: "docs", Tool: "fetch", OutputMapping: map[string]string{"summary": "summary"}},
			"store_results":  {Name: "store_results", Kind: graph.KindToolCall, Service: "docs", Tool: "store", OutputMapping: map[string]string{"stored_id": "stored_id"}},
		},
		Edges: []graph.Edge{
			{From: "fetch_document", To: "store_results"},
			{From: "store_results", To: graph.Terminal},
		},
	}
	compiled, err := graph.Compile(def, graph.NewConditionRegistry())
	require.NoError(t, err)

	st := state.New("exec-1", "doc_flow", "1", nil, 3, "", "")
	exec := newTestExecutor(t, server, tools)
	exec.Run(context.Background(), compiled, st, nil, time.Time{})

	snap := st.Snapshot()
	assert.Equal(t, state.StatusCompleted, snap.Status)
	require.Len(t, snap.Steps, 2)
	assert.Equal(t, "fetch_document", snap.Steps[0].NodeName)
	assert.Equal(t, "store_results", snap.Steps[1].NodeName)
	assert.Equal(t, state.OutcomeSuccess, snap.Steps[1].Outcome)
	assert.Equal(t, "doc summary", snap.OutputData["summary"])
	assert.Equal(t, "abc", snap.OutputData["stored_id"])
}

func TestRetryThenSuccess(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	tools := toolbinding.New()
	require.NoError(t, tools.Register(toolbinding.Binding{Service: "analyzer", Tool: "analyze", Version: "1", HTTPMethod: toolbinding.MethodGet, URLTemplate: server.URL + "/analyze"}))

	def := graph.WorkflowDefinition{
		Name:       "retry_flow",
		EntryPoint: "analyze_document",
		Nodes: map[string]graph.NodeSpec{
			"analyze_document": {Name: "analyze_document", Kind: graph.KindToolCall, Service: "analyzer", Tool: "analyze"},
		},
		Edges: []graph.Edge{{From: "analyze_document", To: graph.Terminal}},
	}
	compiled, err := graph.Compile(def, graph.NewConditionRegistry())
	require.NoError(t, err)

	st := state.New("exec-2", "retry_flow", "1", nil, 3, "", "")
	exec := newTestExecutor(t, server, tools)
	// The executor uses its normal backoff: the single retry waits about
	// 500ms (±20% jitter), which is short relative to the test timeout budget.
	exec.Run(context.Background(), compiled, st, nil, time.Time{})

	snap := st.Snapshot()
	assert.Equal(t, state.StatusCompleted, snap.Status)
	assert.Equal(t, 1, snap.RetryCount)
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, "tool_non_2xx", string(snap.Errors[0].Kind))
}

func TestNonRetryableFailureStopsExecution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	tools := toolbinding.New()
	require.NoError(t, tools.Register(toolbinding.Binding{Service: "docs", Tool: "store", Version: "1", HTTPMethod: toolbinding.MethodPost, URLTemplate: server.URL + "/store"}))

	def := graph.WorkflowDefinition{
		Name:       "fail_flow",
		EntryPoint: "store_results",
		Nodes: map[string]graph.NodeSpec{
			"store_results": {Name: "store_results", Kind: graph.KindToolCall, Service: "docs", Tool: "store"},
			"notify":        {Name: "notify", Kind: graph.KindTerminal},
		},
		Edges: []graph.Edge{{From: "store_results", To: "notify"}},
	}
	compiled, err := graph.Compile(def, graph.NewConditionRegistry())
	require.NoError(t, err)

	st := state.New("exec-3", "fail_flow", "1", nil, 3, "", "")
	exec := newTestExecutor(t, server, tools)
	exec.Run(context.Background(), compiled, st, nil, time.Time{})

	snap := st.Snapshot()
	assert.Equal(t, state.StatusFailed, snap.Status)
	assert.Equal(t, 0, snap.RetryCount)
	require.Len(t, snap.Steps, 1)
	assert.Equal(t, state.OutcomeError, snap.Steps[0].Outcome)
}

func TestCancellationStopsBeforeNextDispatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	tools := toolbinding.New()
	require.NoError(t, tools.Register(toolbinding.Binding{Service: "svc", Tool: "a", Version: "1", HTTPMethod: toolbinding.MethodGet, URLTemplate: server.URL + "/a"}))
	require.NoError(t, tools.Register(toolbinding.Binding{Service: "svc", Tool: "b", Version: "1", HTTPMethod: toolbinding.MethodGet, URLTemplate: server.URL + "/b"}))

	def := graph.WorkflowDefinition{
		Name:       "cancel_flow",
		EntryPoint: "step_a",
		Nodes: map[string]graph.NodeSpec{
			"step_a": {Name: "step_a", Kind: graph.KindToolCall, Service: "svc", Tool: "a"},
			"step_b": {Name: "step_b", Kind: graph.KindToolCall, Service: "svc", Tool: "b"},
		},
		Edges: []graph.Edge{
			{From: "step_a", To: "step_b"},
			{From: "step_b", To: graph.Terminal},
		},
	}
	compiled, err := graph.Compile(def, graph.NewConditionRegistry())
	require.NoError(t, err)

	st := state.New("exec-4", "cancel_flow", "1", nil, 3, "", "")
	cancel := make(chan struct{})
	close(cancel)

	exec := newTestExecutor(t, server, tools)
	exec.Run(context.Background(), compiled, st, cancel, time.Time{})

	snap := st.Snapshot()
	assert.Equal(t, state.StatusCancelled, snap.Status)
	assert.Empty(t, snap.Steps)
}
