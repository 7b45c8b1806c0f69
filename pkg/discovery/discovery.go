// Package discovery translates service descriptors (base URL, endpoint
// list, OpenAPI-style parameter specs) into toolbinding.Binding values and
// registers them atomically into a toolbinding.Registry. Descriptors can be
// supplied inline or loaded from YAML, optionally with hot reload via
// fsnotify.
package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/workflowcore/orchestrator/pkg/errkind"
	"github.com/workflowcore/orchestrator/pkg/telemetry"
	"github.com/workflowcore/orchestrator/pkg/toolbinding"
)

// EndpointParameter is one parameter declared by a descriptor endpoint.
type EndpointParameter struct {
	Name     string `yaml:"name"`
	In       string `yaml:"in"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

// Endpoint is one operation a service descriptor exposes.
type Endpoint struct {
	ToolName    string              `yaml:"tool_name"`
	Path        string              `yaml:"path"`
	Method      string              `yaml:"method"`
	Parameters  []EndpointParameter `yaml:"parameters"`
	Description string              `yaml:"description"`
}

// ServiceDescriptor is the discovery-time description of a downstream
// service, from which tool bindings are synthesized.
type ServiceDescriptor struct {
	ServiceName string     `yaml:"service_name"`
	BaseURL     string     `yaml:"base_url"`
	Version     string     `yaml:"version"`
	Endpoints   []Endpoint `yaml:"endpoints"`
}

var knownTypes = map[string]toolbinding.ParamType{
	"string":  toolbinding.TypeString,
	"number":  toolbinding.TypeNumber,
	"boolean": toolbinding.TypeBoolean,
	"object":  toolbinding.TypeObject,
	"array":   toolbinding.TypeArray,
}

// Adapter synthesizes and registers tool bindings from service descriptors.
type Adapter struct {
	registry *toolbinding.Registry
	logger   telemetry.Logger
	watcher  *fsnotify.Watcher
}

// New constructs an Adapter writing into registry.
func New(registry *toolbinding.Registry, logger telemetry.Logger) *Adapter {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Adapter{registry: registry, logger: logger}
}

// Apply validates and registers every endpoint in descriptor, atomically:
// either all endpoints register or none do (two-phase validate-then-register).
func (a *Adapter) Apply(ctx context.Context, descriptor ServiceDescriptor) error {
	bindings, err := synthesize(descriptor)
	if err != nil {
		return err
	}
	if err := a.registry.RegisterAll(bindings); err != nil {
		return err
	}
	a.logger.Info(ctx, "registered service descriptor", "service", descriptor.ServiceName, "endpoints", len(bindings))
	return nil
}

func synthesize(descriptor ServiceDescriptor) ([]toolbinding.Binding, error) {
	seen := map[string]bool{}
	bindings := make([]toolbinding.Binding, 0, len(descriptor.Endpoints))

	for _, ep := range descriptor.Endpoints {
		if seen[ep.ToolName] {
			return nil, errkind.New(errkind.InvalidDescriptor, "duplicate tool_name in descriptor: "+ep.ToolName)
		}
		seen[ep.ToolName] = true

		method := toolbinding.Method(ep.Method)
		schema := make(map[string]toolbinding.ParameterSpec, len(ep.Parameters))
		for _, p := range ep.Parameters {
			loc := toolbinding.Location(p.In)
			if (method == toolbinding.MethodGet || method == toolbinding.MethodDelete) && loc == toolbinding.LocationBody {
				return nil, errkind.New(errkind.InvalidDescriptor, fmt.Sprintf("endpoint %s: %s cannot carry a body parameter", ep.ToolName, method))
			}
			pt, ok := knownTypes[p.Type]
			if !ok {
				pt = toolbinding.TypeString
			}
			schema[p.Name] = toolbinding.ParameterSpec{
				Name:     p.Name,
				Type:     pt,
				Required: p.Required,
				Location: loc,
			}
		}

		bindings = append(bindings, toolbinding.Binding{
			Service:         descriptor.ServiceName,
			Tool:            ep.ToolName,
			Version:         descriptor.Version,
			URLTemplate:     descriptor.BaseURL + ep.Path,
			HTTPMethod:      method,
			ParameterSchema: schema,
		})
	}

	return bindings, nil
}

// LoadDir reads every *.yaml/*.yml file under dir as a ServiceDescriptor and
// applies each.
func (a *Adapter) LoadDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		descriptor, err := loadDescriptorFile(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		if err := a.Apply(ctx, descriptor); err != nil {
			return fmt.Errorf("apply %s: %w", path, err)
		}
	}
	return nil
}

func loadDescriptorFile(path string) (ServiceDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ServiceDescriptor{}, err
	}
	var d ServiceDescriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return ServiceDescriptor{}, err
	}
	return d, nil
}

// Watch starts watching dir for descriptor changes, reapplying the changed
// file's descriptor on every write. Errors re-validating a changed file are
// logged, never applied partially, and leave the previously-registered
// bindings untouched. The returned stop func closes the underlying watcher.
func (a *Adapter) Watch(ctx context.Context, dir string) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	a.watcher = watcher

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
				descriptor, err := loadDescriptorFile(event.Name)
				if err != nil {
					a.logger.Warn(ctx, "descriptor reload failed to parse", "file", event.Name, "error", err.Error())
					continue
				}
				if err := a.Apply(ctx, descriptor); err != nil {
					a.logger.Warn(ctx, "descriptor reload rejected", "file", event.Name, "error", err.Error())
					continue
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				a.logger.Warn(ctx, "descriptor watcher error", "error", err.Error())
			}
		}
	}()

	return watcher.Close, nil
}
