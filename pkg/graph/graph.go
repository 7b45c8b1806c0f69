// Package graph validates and compiles a WorkflowDefinition into a
// CompiledWorkflow: adjacency lists, entry node, condition-function
// bindings, and the terminal sentinel. Compilation is pure — compiling the
// same definition twice yields structurally equal CompiledWorkflows.
package graph

import (
	"fmt"
	"sort"

	"github.com/workflowcore/orchestrator/pkg/errkind"
)

// Terminal is the distinguished sentinel node name signifying graph exit.
// It is never a real entry in Nodes.
const Terminal = "__terminal__"

// NodeKind is the dispatch kind of a node.
type NodeKind string

const (
	KindToolCall         NodeKind = "tool_call"
	KindComposite        NodeKind = "composite"
	KindConditionalRouter NodeKind = "conditional_router"
	KindTerminal         NodeKind = "terminal"
)

// NodeSpec describes one node in a WorkflowDefinition.
type NodeSpec struct {
	Name         string
	Kind         NodeKind
	Service      string   // tool_call
	Tool         string   // tool_call
	InputMapping map[string]string // tool_call: arg name -> state path
	OutputMapping map[string]string // tool_call: state path -> response field
	Children     []string // composite: ordered sub-node names
	ConditionFn  string   // conditional_router: name bound against a ConditionRegistry
	ChildSpecs   map[string]NodeSpec // composite: child name -> resolved spec, populated at compile time
}

// Edge is an unconditional transition.
type Edge struct {
	From string
	To   string
}

// ConditionalEdge maps a condition function's branch labels to destinations.
type ConditionalEdge struct {
	From      string
	Condition string
	Branches  map[string]string
}

// ParamType mirrors toolbinding.ParamType without importing it, since
// parameter schemas appear at both the workflow and binding layers.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

var validParamTypes = map[ParamType]bool{
	TypeString: true, TypeNumber: true, TypeBoolean: true, TypeObject: true, TypeArray: true,
}

// ParamSpec is one entry in a workflow's parameter_schema.
type ParamSpec struct {
	Type     ParamType
	Required bool
	Default  any
}

// WorkflowDefinition is the uncompiled, author-facing workflow shape.
type WorkflowDefinition struct {
	Name             string
	Version          string
	Nodes            map[string]NodeSpec
	Edges            []Edge
	ConditionalEdges []ConditionalEdge
	EntryPoint       string
	ParameterSchema  map[string]ParamSpec
}

// ConditionFunc is a pure function of workflow state returning a branch
// label. Implementations must not mutate state.
type ConditionFunc func(get func(path string) (any, bool)) string

// ConditionRegistry resolves condition function names at compile time.
type ConditionRegistry struct {
	fns map[string]ConditionFunc
}

// NewConditionRegistry constructs an empty ConditionRegistry.
func NewConditionRegistry() *ConditionRegistry {
	return &ConditionRegistry{fns: map[string]ConditionFunc{}}
}

// Register binds name to fn.
func (r *ConditionRegistry) Register(name string, fn ConditionFunc) {
	r.fns[name] = fn
}

func (r *ConditionRegistry) lookup(name string) (ConditionFunc, bool) {
	fn, ok := r.fns[name]
	return fn, ok
}

// dispatchKind describes what the compiled node needs at execution time.
type dispatchKind int

const (
	dispatchUnconditional dispatchKind = iota
	dispatchRouter
)

// CompiledNode is the dispatch-ready form of a NodeSpec.
type CompiledNode struct {
	Spec         NodeSpec
	Dispatch     dispatchKind
	NextUncond   string // valid when Dispatch == dispatchUnconditional
	Condition    ConditionFunc
	Branches     map[string]string // valid when Dispatch == dispatchRouter
	RouterFallback string
}

// CompiledWorkflow is the validated, indexed form of a WorkflowDefinition;
// immutable after compilation and safe for concurrent reads by many
// executions.
type CompiledWorkflow struct {
	Name       string
	Version    string
	EntryPoint string
	Nodes      map[string]CompiledNode
	ParameterSchema map[string]ParamSpec
}

// Compile validates def and produces a CompiledWorkflow, or a non-nil
// *errkind.Error whose Kind is one of unknown_condition, unreachable_nodes,
// ambiguous_transition, infinite_loop, invalid_parameter_schema.
func Compile(def WorkflowDefinition, conditions *ConditionRegistry) (*CompiledWorkflow, error) {
	if err := validateParameterSchema(def.ParameterSchema); err != nil {
		return nil, err
	}
	if err := validateStructure(def); err != nil {
		return nil, err
	}
	if err := validateReachability(def); err != nil {
		return nil, err
	}
	if err := validateCyclePolicy(def); err != nil {
		return nil, err
	}

	nodes, err := buildAdjacency(def, conditions)
	if err != nil {
		return nil, err
	}

	return &CompiledWorkflow{
		Name:            def.Name,
		Version:         def.Version,
		EntryPoint:      def.EntryPoint,
		Nodes:           nodes,
		ParameterSchema: def.ParameterSchema,
	}, nil
}

func validateParameterSchema(schema map[string]ParamSpec) error {
	for name, spec := range schema {
		if !validParamTypes[spec.Type] {
			return errkind.New(errkind.InvalidParameterSchema, fmt.Sprintf("parameter %q: unknown type %q", name, spec.Type))
		}
		if spec.Required && spec.Default != nil {
			return errkind.New(errkind.InvalidParameterSchema, fmt.Sprintf("parameter %q: required fields may not declare a default", name))
		}
	}
	return nil
}

func validateStructure(def WorkflowDefinition) error {
	if _, ok := def.Nodes[def.EntryPoint]; !ok {
		return errkind.New(errkind.UnreachableNodes, "entry point not found: "+def.EntryPoint)
	}
	exists := func(name string) bool {
		if name == Terminal {
			return true
		}
		_, ok := def.Nodes[name]
		return ok
	}
	for _, e := range def.Edges {
		if !exists(e.From) {
			return errkind.New(errkind.UnreachableNodes, "edge references unknown node: "+e.From)
		}
		if !exists(e.To) {
			return errkind.New(errkind.UnreachableNodes, "edge references unknown node: "+e.To)
		}
	}
	for _, ce := range def.ConditionalEdges {
		if !exists(ce.From) {
			return errkind.New(errkind.UnreachableNodes, "conditional edge references unknown node: "+ce.From)
		}
		for _, to := range ce.Branches {
			if !exists(to) {
				return errkind.New(errkind.UnreachableNodes, "conditional edge branch references unknown node: "+to)
			}
		}
	}
	for _, spec := range def.Nodes {
		if spec.Kind == KindComposite {
			for _, child := range spec.Children {
				if _, ok := def.Nodes[child]; !ok {
					return errkind.New(errkind.UnreachableNodes, "composite node references unknown child: "+child)
				}
			}
		}
	}
	return nil
}

func validateReachability(def WorkflowDefinition) error {
	reached := map[string]bool{def.EntryPoint: true}
	queue := []string{def.EntryPoint}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range def.Edges {
			if e.From == cur && e.To != Terminal && !reached[e.To] {
				reached[e.To] = true
				queue = append(queue, e.To)
			}
		}
		for _, ce := range def.ConditionalEdges {
			if ce.From != cur {
				continue
			}
			for _, to := range ce.Branches {
				if to != Terminal && !reached[to] {
					reached[to] = true
					queue = append(queue, to)
				}
			}
		}
	}
	var unreached []string
	for name := range def.Nodes {
		if !reached[name] {
			unreached = append(unreached, name)
		}
	}
	if len(unreached) > 0 {
		sort.Strings(unreached)
		return errkind.New(errkind.UnreachableNodes, "nodes unreachable from entry point: "+fmt.Sprint(unreached))
	}
	return nil
}

// validateCyclePolicy rejects pure cycles: a cycle is permitted only if at
// least one node on it is a conditional_router (which can route outside the
// cycle).
func validateCyclePolicy(def WorkflowDefinition) error {
	adj := map[string][]string{}
	for _, e := range def.Edges {
		if e.To != Terminal {
			adj[e.From] = append(adj[e.From], e.To)
		}
	}
	for _, ce := range def.ConditionalEdges {
		for _, to := range ce.Branches {
			if to != Terminal {
				adj[ce.From] = append(adj[ce.From], to)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var stack []string

	var visit func(node string) error
	visit = func(node string) error {
		color[node] = gray
		stack = append(stack, node)
		for _, next := range adj[node] {
			switch color[next] {
			case white:
				if err := visit(next); err != nil {
					return err
				}
			case gray:
				cycle := cycleSlice(stack, next)
				if !cycleHasRouter(def, cycle) {
					return errkind.New(errkind.InfiniteLoop, "cycle without a conditional_router escape: "+fmt.Sprint(cycle))
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[node] = black
		return nil
	}

	names := make([]string, 0, len(def.Nodes))
	for name := range def.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func cycleSlice(stack []string, start string) []string {
	for i, n := range stack {
		if n == start {
			return append(append([]string(nil), stack[i:]...), start)
		}
	}
	return stack
}

func cycleHasRouter(def WorkflowDefinition, cycle []string) bool {
	for _, name := range cycle {
		if spec, ok := def.Nodes[name]; ok && spec.Kind == KindConditionalRouter {
			return true
		}
	}
	return false
}

func buildAdjacency(def WorkflowDefinition, conditions *ConditionRegistry) (map[string]CompiledNode, error) {
	unconditionalBySource := map[string][]string{}
	for _, e := range def.Edges {
		unconditionalBySource[e.From] = append(unconditionalBySource[e.From], e.To)
	}
	conditionalBySource := map[string]ConditionalEdge{}
	for _, ce := range def.ConditionalEdges {
		conditionalBySource[ce.From] = ce
	}

	compiled := make(map[string]CompiledNode, len(def.Nodes))
	for name, spec := range def.Nodes {
		if spec.Kind == KindComposite && len(spec.Children) > 0 {
			spec.ChildSpecs = make(map[string]NodeSpec, len(spec.Children))
			for _, childName := range spec.Children {
				spec.ChildSpecs[childName] = def.Nodes[childName]
			}
		}
		if ce, ok := conditionalBySource[name]; ok {
			fn, ok := conditions.lookup(ce.Condition)
			if !ok {
				return nil, errkind.New(errkind.UnknownCondition, "unknown condition function: "+ce.Condition)
			}
			fallback := Terminal
			if uncond, ok := unconditionalBySource[name]; ok && len(uncond) > 0 {
				fallback = uncond[0]
			}
			compiled[name] = CompiledNode{
				Spec:           spec,
				Dispatch:       dispatchRouter,
				Condition:      fn,
				Branches:       ce.Branches,
				RouterFallback: fallback,
			}
			continue
		}

		uncond := unconditionalBySource[name]
		if len(uncond) > 1 {
			return nil, errkind.New(errkind.AmbiguousTransition, "node has multiple unconditional outgoing edges: "+name)
		}
		next := Terminal
		if len(uncond) == 1 {
			next = uncond[0]
		}
		compiled[name] = CompiledNode{
			Spec:       spec,
			Dispatch:   dispatchUnconditional,
			NextUncond: next,
		}
	}
	return compiled, nil
}

// Next computes the successor node name for a compiled node, given the
// branch label produced during dispatch (empty for non-router nodes). An
// unrecognized branch label is reported as a validation error by the caller
// (the executor), per the next-node-selection contract.
func (c CompiledNode) Next(branchLabel string) (string, bool) {
	if c.Dispatch == dispatchUnconditional {
		return c.NextUncond, true
	}
	if branchLabel == "" {
		return c.RouterFallback, true
	}
	to, ok := c.Branches[branchLabel]
	if !ok {
		return "", false
	}
	return to, true
}

// IsRouter reports whether the node requires condition evaluation.
func (c CompiledNode) IsRouter() bool {
	return c.Dispatch == dispatchRouter
}
