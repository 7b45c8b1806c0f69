package api

import (
	"github.com/workflowcore/orchestrator/pkg/graph"
)

// wireNode is the JSON wire shape of a NodeSpec in an inline submission.
type wireNode struct {
	Kind          string            `json:"kind"`
	Service       string            `json:"service,omitempty"`
	Tool          string            `json:"tool,omitempty"`
	InputMapping  map[string]string `json:"input_mapping,omitempty"`
	OutputMapping map[string]string `json:"output_mapping,omitempty"`
	Children      []string          `json:"children,omitempty"`
	ConditionFn   string            `json:"condition_fn,omitempty"`
}

type wireEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type wireConditionalEdge struct {
	From      string            `json:"from"`
	Condition string            `json:"condition"`
	Branches  map[string]string `json:"branches"`
}

type wireParamSpec struct {
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// wireDefinition is the JSON wire shape of an inline WorkflowDefinition
// submitted to POST /workflows/execute.
type wireDefinition struct {
	Name             string                   `json:"name"`
	Version          string                   `json:"version"`
	EntryPoint       string                   `json:"entry_point"`
	Nodes            map[string]wireNode      `json:"nodes"`
	Edges            []wireEdge               `json:"edges"`
	ConditionalEdges []wireConditionalEdge    `json:"conditional_edges,omitempty"`
	ParameterSchema  map[string]wireParamSpec `json:"parameter_schema,omitempty"`
}

func (d wireDefinition) toDefinition() graph.WorkflowDefinition {
	nodes := make(map[string]graph.NodeSpec, len(d.Nodes))
	for name, n := range d.Nodes {
		nodes[name] = graph.NodeSpec{
			Name:          name,
			Kind:          graph.NodeKind(n.Kind),
			Service:       n.Service,
			Tool:          n.Tool,
			InputMapping:  n.InputMapping,
			OutputMapping: n.OutputMapping,
			Children:      n.Children,
			ConditionFn:   n.ConditionFn,
		}
	}
	edges := make([]graph.Edge, 0, len(d.Edges))
	for _, e := range d.Edges {
		edges = append(edges, graph.Edge{From: e.From, To: resolveTerminal(e.To)})
	}
	condEdges := make([]graph.ConditionalEdge, 0, len(d.ConditionalEdges))
	for _, ce := range d.ConditionalEdges {
		branches := make(map[string]string, len(ce.Branches))
		for label, to := range ce.Branches {
			branches[label] = resolveTerminal(to)
		}
		condEdges = append(condEdges, graph.ConditionalEdge{From: ce.From, Condition: ce.Condition, Branches: branches})
	}
	schema := make(map[string]graph.ParamSpec, len(d.ParameterSchema))
	for name, p := range d.ParameterSchema {
		schema[name] = graph.ParamSpec{Type: graph.ParamType(p.Type), Required: p.Required, Default: p.Default}
	}
	return graph.WorkflowDefinition{
		Name:             d.Name,
		Version:          d.Version,
		Nodes:            nodes,
		Edges:            edges,
		ConditionalEdges: condEdges,
		EntryPoint:       d.EntryPoint,
		ParameterSchema:  schema,
	}
}

func resolveTerminal(name string) string {
	if name == "terminal" || name == "" {
		return graph.Terminal
	}
	return name
}
