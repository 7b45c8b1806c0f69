// Package templates holds named, pre-validated WorkflowDefinitions that
// callers instantiate by name and parameters instead of submitting an
// inline definition. The three required templates — document_analysis,
// pr_confidence_analysis, and end_to_end_test — are registered at startup;
// additional templates can be loaded from YAML files, with optional hot
// reload.
package templates

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/workflowcore/orchestrator/pkg/errkind"
	"github.com/workflowcore/orchestrator/pkg/graph"
	"github.com/workflowcore/orchestrator/pkg/state"
	"github.com/workflowcore/orchestrator/pkg/telemetry"
)

// Summary is the list-view shape of a registered template.
type Summary struct {
	Name            string
	Version         string
	Description     string
	ParameterSchema map[string]graph.ParamSpec
}

// Template pairs a human description with its compiled workflow.
type Template struct {
	Description string
	Compiled    *graph.CompiledWorkflow
}

// Library holds the process-wide set of registered templates, validated at
// registration time so instantiation never re-compiles.
type Library struct {
	mu        sync.RWMutex
	templates map[string]Template
	conditions *graph.ConditionRegistry
	logger    telemetry.Logger
}

// New constructs a Library using conditions to resolve condition_fn names.
func New(conditions *graph.ConditionRegistry, logger telemetry.Logger) *Library {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Library{templates: map[string]Template{}, conditions: conditions, logger: logger}
}

// Register compiles def and adds it to the library under its name.
func (l *Library) Register(description string, def graph.WorkflowDefinition) error {
	compiled, err := graph.Compile(def, l.conditions)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates[def.Name] = Template{Description: description, Compiled: compiled}
	return nil
}

// List returns every registered template's summary.
func (l *Library) List() []Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Summary, 0, len(l.templates))
	for name, t := range l.templates {
		out = append(out, Summary{Name: name, Version: t.Compiled.Version, Description: t.Description, ParameterSchema: t.Compiled.ParameterSchema})
	}
	return out
}

// Instantiate validates parameters against the named template's
// parameter_schema and returns the compiled workflow plus an initial state
// seeded with the merged (defaulted) parameters.
func (l *Library) Instantiate(executionID, name string, parameters map[string]any, maxRetries int, userID, correlationID string) (*graph.CompiledWorkflow, *state.State, error) {
	l.mu.RLock()
	t, ok := l.templates[name]
	l.mu.RUnlock()
	if !ok {
		return nil, nil, errkind.New(errkind.UnknownTemplate, "unknown template: "+name)
	}

	input, err := validateAndDefault(t.Compiled.ParameterSchema, parameters)
	if err != nil {
		return nil, nil, err
	}

	st := state.New(executionID, t.Compiled.Name, t.Compiled.Version, input, maxRetries, userID, correlationID)
	return t.Compiled, st, nil
}

func validateAndDefault(schema map[string]graph.ParamSpec, parameters map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(schema))
	for k, v := range parameters {
		out[k] = v
	}
	for name, spec := range schema {
		v, present := out[name]
		if !present {
			if spec.Required {
				return nil, errkind.New(errkind.MissingRequired, "missing required parameter: "+name)
			}
			if spec.Default != nil {
				out[name] = spec.Default
			}
			continue
		}
		if !typeMatches(spec.Type, v) {
			return nil, errkind.New(errkind.TypeMismatch, fmt.Sprintf("parameter %q: expected %s", name, spec.Type))
		}
	}
	return out, nil
}

func typeMatches(t graph.ParamType, v any) bool {
	switch t {
	case graph.TypeString:
		_, ok := v.(string)
		return ok
	case graph.TypeNumber:
		switch v.(type) {
		case int, int64, float64, float32:
			return true
		default:
			return false
		}
	case graph.TypeBoolean:
		_, ok := v.(bool)
		return ok
	case graph.TypeObject:
		_, ok := v.(map[string]any)
		return ok
	case graph.TypeArray:
		_, ok := v.([]any)
		return ok
	default:
		return false
	}
}

// --- YAML-backed template loading and hot reload ---

// yamlNode mirrors graph.NodeSpec's author-facing shape for YAML decoding.
type yamlNode struct {
	Kind          string            `yaml:"kind"`
	Service       string            `yaml:"service"`
	Tool          string            `yaml:"tool"`
	InputMapping  map[string]string `yaml:"input_mapping"`
	OutputMapping map[string]string `yaml:"output_mapping"`
	Children      []string          `yaml:"children"`
	ConditionFn   string            `yaml:"condition_fn"`
}

type yamlEdge struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type yamlConditionalEdge struct {
	From      string            `yaml:"from"`
	Condition string            `yaml:"condition"`
	Branches  map[string]string `yaml:"branches"`
}

type yamlParamSpec struct {
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
	Default  any    `yaml:"default"`
}

type yamlDefinition struct {
	Name             string                   `yaml:"name"`
	Version          string                   `yaml:"version"`
	Description      string                   `yaml:"description"`
	EntryPoint       string                   `yaml:"entry_point"`
	Nodes            map[string]yamlNode      `yaml:"nodes"`
	Edges            []yamlEdge               `yaml:"edges"`
	ConditionalEdges []yamlConditionalEdge    `yaml:"conditional_edges"`
	ParameterSchema  map[string]yamlParamSpec `yaml:"parameter_schema"`
}

func (d yamlDefinition) toDefinition() graph.WorkflowDefinition {
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

// LoadDir registers every *.yaml/*.yml WorkflowDefinition found under dir.
func (l *Library) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		def, description, err := loadDefinitionFile(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		if err := l.Register(description, def); err != nil {
			return fmt.Errorf("register %s: %w", path, err)
		}
	}
	return nil
}

func loadDefinitionFile(path string) (graph.WorkflowDefinition, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return graph.WorkflowDefinition{}, "", err
	}
	var d yamlDefinition
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return graph.WorkflowDefinition{}, "", err
	}
	return d.toDefinition(), d.Description, nil
}

// Watch reloads a single changed template file, re-validating before
// atomically replacing the registered entry; a failed reload leaves the
// previous template in place.
func (l *Library) Watch(ctx context.Context, dir string) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				def, description, err := loadDefinitionFile(event.Name)
				if err != nil {
					l.logger.Warn(ctx, "template reload failed to parse", "file", event.Name, "error", err.Error())
					continue
				}
				if err := l.Register(description, def); err != nil {
					l.logger.Warn(ctx, "template reload rejected", "file", event.Name, "error", err.Error())
					continue
				}
				l.logger.Info(ctx, "template reloaded", "file", event.Name, "name", def.Name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn(ctx, "template watcher error", "error", err.Error())
			}
		}
	}()

	return watcher.Close, nil
}
