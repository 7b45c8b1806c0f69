package toolbinding

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/workflowcore/orchestrator/pkg/errkind"
)

// schemaCache holds lazily-compiled JSON schemas per (service, tool,
// version), since jsonschema.Schema compilation is not free and a binding's
// ParameterSchema never changes once registered. A newer version that
// supersedes a binding gets its own cache entry.
type schemaCache struct {
	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

var validators = &schemaCache{schemas: map[string]*jsonschema.Schema{}}

// Validate checks args against b's declared parameter schema: every
// required parameter must be present and of the declared JSON type. Args
// not declared in the schema are ignored (schemas here describe the
// binding's accepted surface, not a closed object).
func (b Binding) Validate(args map[string]any) error {
	schema, err := validators.get(b)
	if err != nil {
		return errkind.Wrap(errkind.Validation, "compile parameter schema", err)
	}
	if err := schema.Validate(args); err != nil {
		return errkind.Wrap(errkind.Validation, fmt.Sprintf("parameters failed schema validation for %s/%s", b.Service, b.Tool), err)
	}
	return nil
}

func (c *schemaCache) get(b Binding) (*jsonschema.Schema, error) {
	k := key(b.Service, b.Tool) + "/" + b.Version
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.schemas[k]; ok {
		return s, nil
	}

	doc := buildJSONSchemaDoc(b.ParameterSchema)
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	url := "mem://" + k
	unmarshalled, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	if err := compiler.AddResource(url, unmarshalled); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	c.schemas[k] = schema
	return schema, nil
}

func buildJSONSchemaDoc(schema map[string]ParameterSpec) map[string]any {
	properties := map[string]any{}
	var required []string
	for name, spec := range schema {
		properties[name] = map[string]any{"type": jsonType(spec.Type)}
		if spec.Required {
			required = append(required, name)
		}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func jsonType(t ParamType) string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeObject:
		return "object"
	case TypeArray:
		return "array"
	default:
		return "string"
	}
}
