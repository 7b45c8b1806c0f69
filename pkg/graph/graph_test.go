package graph

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowcore/orchestrator/pkg/errkind"
)

func linearDefinition() WorkflowDefinition {
	return WorkflowDefinition{
		Name:       "linear",
		Version:    "1",
		EntryPoint: "a",
		Nodes: map[string]NodeSpec{
			"a": {Name: "a", Kind: KindToolCall},
			"b": {Name: "b", Kind: KindToolCall},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "b", To: Terminal},
		},
	}
}

func TestCompileSimpleLinearWorkflow(t *testing.T) {
	compiled, err := Compile(linearDefinition(), NewConditionRegistry())
	require.NoError(t, err)
	assert.Equal(t, "a", compiled.EntryPoint)

	next, ok := compiled.Nodes["a"].Next("")
	require.True(t, ok)
	assert.Equal(t, "b", next)

	next, ok = compiled.Nodes["b"].Next("")
	require.True(t, ok)
	assert.Equal(t, Terminal, next)
}

func TestCompileIsPure(t *testing.T) {
	def := linearDefinition()
	first, err := Compile(def, NewConditionRegistry())
	require.NoError(t, err)
	second, err := Compile(def, NewConditionRegistry())
	require.NoError(t, err)

	assert.True(t, reflect.DeepEqual(first.Nodes["a"].NextUncond, second.Nodes["a"].NextUncond))
	assert.Equal(t, first.EntryPoint, second.EntryPoint)
}

func TestCompileRejectsPureCycleAsInfiniteLoop(t *testing.T) {
	def := WorkflowDefinition{
		Name:       "cycle",
		EntryPoint: "a",
		Nodes: map[string]NodeSpec{
			"a": {Name: "a", Kind: KindToolCall},
			"b": {Name: "b", Kind: KindToolCall},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}

	_, err := Compile(def, NewConditionRegistry())
	var e *errkind.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errkind.InfiniteLoop, e.Kind)
}

func TestCompileAllowsCycleWithRouterEscape(t *testing.T) {
	def := WorkflowDefinition{
		Name:       "router_cycle",
		EntryPoint: "a",
		Nodes: map[string]NodeSpec{
			"a":      {Name: "a", Kind: KindToolCall},
			"router": {Name: "router", Kind: KindConditionalRouter, ConditionFn: "retry_or_end"},
		},
		Edges: []Edge{
			{From: "a", To: "router"},
		},
		ConditionalEdges: []ConditionalEdge{
			{From: "router", Condition: "retry_or_end", Branches: map[string]string{"retry": "a", "end": Terminal}},
		},
	}

	conditions := NewConditionRegistry()
	conditions.Register("retry_or_end", func(get func(string) (any, bool)) string { return "end" })

	compiled, err := Compile(def, conditions)
	require.NoError(t, err)
	assert.True(t, compiled.Nodes["router"].IsRouter())
}

func TestCompileRejectsAmbiguousTransition(t *testing.T) {
	def := WorkflowDefinition{
		Name:       "ambiguous",
		EntryPoint: "a",
		Nodes: map[string]NodeSpec{
			"a": {Name: "a", Kind: KindToolCall},
			"b": {Name: "b", Kind: KindToolCall},
			"c": {Name: "c", Kind: KindToolCall},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
		},
	}

	_, err := Compile(def, NewConditionRegistry())
	var e *errkind.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errkind.AmbiguousTransition, e.Kind)
}

func TestCompileRejectsUnreachableNodes(t *testing.T) {
	def := WorkflowDefinition{
		Name:       "island",
		EntryPoint: "a",
		Nodes: map[string]NodeSpec{
			"a":       {Name: "a", Kind: KindToolCall},
			"orphan":  {Name: "orphan", Kind: KindToolCall},
		},
		Edges: []Edge{
			{From: "a", To: Terminal},
		},
	}

	_, err := Compile(def, NewConditionRegistry())
	var e *errkind.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errkind.UnreachableNodes, e.Kind)
}

func TestCompileRejectsUnknownCondition(t *testing.T) {
	def := WorkflowDefinition{
		Name:       "bad_condition",
		EntryPoint: "router",
		Nodes: map[string]NodeSpec{
			"router": {Name: "router", Kind: KindConditionalRouter, ConditionFn: "missing"},
		},
		ConditionalEdges: []ConditionalEdge{
			{From: "router", Condition: "missing", Branches: map[string]string{"x": Terminal}},
		},
	}

	_, err := Compile(def, NewConditionRegistry())
	var e *errkind.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errkind.UnknownCondition, e.Kind)
}

func TestCompileRejectsInvalidParameterSchema(t *testing.T) {
	def := linearDefinition()
	def.ParameterSchema = map[string]ParamSpec{
		"document_id": {Type: "not_a_type"},
	}

	_, err := Compile(def, NewConditionRegistry())
	var e *errkind.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errkind.InvalidParameterSchema, e.Kind)
}
