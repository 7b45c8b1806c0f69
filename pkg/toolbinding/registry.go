// Package toolbinding owns the canonical mapping from (service, tool) to
// ToolBinding: URL template, HTTP method, parameter schema, and response
// shape. Registrations are serialized; lookups during execution observe a
// consistent snapshot.
package toolbinding

import (
	"sort"
	"strconv"
	"sync"

	"github.com/workflowcore/orchestrator/pkg/errkind"
)

// Location is where a parameter is placed on the wire.
type Location string

const (
	LocationQuery  Location = "query"
	LocationBody   Location = "body"
	LocationPath   Location = "path"
	LocationHeader Location = "header"
)

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

// ParameterSpec describes one parameter a tool binding accepts.
type ParameterSpec struct {
	Name     string
	Type     ParamType
	Required bool
	Location Location
}

// Method is the HTTP verb a binding is invoked with.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// ResponseShape optionally declares how to normalize a binding's response.
// A nil shape means pass-through: the raw decoded body is used as-is.
type ResponseShape struct {
	// Fields lists the top-level keys expected in the response, purely
	// declarative; the client does not enforce this, callers may use it to
	// drive output_mapping.
	Fields []string
}

// Binding is the registered mapping from (service, tool) to an invocable
// HTTP endpoint, built either by hand or synthesized by the discovery
// adapter from a ServiceDescriptor.
type Binding struct {
	Service        string
	Tool           string
	Version        string
	URLTemplate    string
	HTTPMethod     Method
	ParameterSchema map[string]ParameterSpec
	ResponseShape  *ResponseShape
}

func key(service, tool string) string { return service + "/" + tool }

// Registry holds tool bindings keyed by (service, tool). Safe for
// concurrent use: registrations take the write lock briefly, lookups take
// the read lock.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{bindings: map[string]Binding{}}
}

// Register adds binding, failing with duplicate_tool if the key already
// exists and the new version is not strictly greater (string comparison is
// used when the version is not a plain integer sequence; callers are
// expected to use semver-sortable version strings).
func (r *Registry) Register(b Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(b.Service, b.Tool)
	if existing, ok := r.bindings[k]; ok {
		if !versionGreater(b.Version, existing.Version) {
			return errkind.New(errkind.DuplicateTool, "tool already registered: "+k)
		}
	}
	r.bindings[k] = b
	return nil
}

// RegisterAll registers every binding under a single lock acquisition: each
// one is checked against the current table (and against the others already
// accepted in this same call) before any of them are committed, so a
// duplicate_tool failure on the Nth binding leaves the table exactly as it
// was before the call rather than partially updated. Calling Register in a
// loop cannot provide this guarantee because another goroutine's Register
// could interleave between iterations.
func (r *Registry) RegisterAll(bindings []Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := make(map[string]Binding, len(bindings))
	for _, b := range bindings {
		k := key(b.Service, b.Tool)
		existing, ok := staged[k]
		if !ok {
			existing, ok = r.bindings[k]
		}
		if ok && !versionGreater(b.Version, existing.Version) {
			return errkind.New(errkind.DuplicateTool, "tool already registered: "+k)
		}
		staged[k] = b
	}

	for k, b := range staged {
		r.bindings[k] = b
	}
	return nil
}

// Lookup returns the binding for (service, tool), or unknown_tool.
func (r *Registry) Lookup(service, tool string) (Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[key(service, tool)]
	if !ok {
		return Binding{}, errkind.New(errkind.UnknownTool, "unknown tool: "+key(service, tool))
	}
	return b, nil
}

// List returns all bindings, optionally filtered to one service, ordered by
// (service, tool) for deterministic output.
func (r *Registry) List(service string) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		if service != "" && b.Service != service {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].Tool < out[j].Tool
	})
	return out
}

// versionGreater reports whether a is strictly greater than b. Two plain
// integer versions compare numerically ("10" > "9"); any other pair compares
// as strings, which orders zero-padded or semver-sortable versions correctly.
func versionGreater(a, b string) bool {
	if ai, errA := strconv.Atoi(a); errA == nil {
		if bi, errB := strconv.Atoi(b); errB == nil {
			return ai > bi
		}
	}
	return a > b
}
