package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowcore/orchestrator/pkg/errkind"
	"github.com/workflowcore/orchestrator/pkg/toolbinding"
)

func TestApplyRegistersAllEndpoints(t *testing.T) {
	registry := toolbinding.New()
	adapter := New(registry, nil)

	descriptor := ServiceDescriptor{
		ServiceName: "doc_store",
		BaseURL:     "http://doc-store",
		Version:     "1",
		Endpoints: []Endpoint{
			{ToolName: "fetch_document", Path: "/documents/{document_id}", Method: "GET", Parameters: []EndpointParameter{{Name: "document_id", In: "path", Type: "string", Required: true}}},
			{ToolName: "store_document", Path: "/documents", Method: "POST", Parameters: []EndpointParameter{{Name: "content", In: "body", Type: "string", Required: true}}},
		},
	}

	require.NoError(t, adapter.Apply(context.Background(), descriptor))

	fetch, err := registry.Lookup("doc_store", "fetch_document")
	require.NoError(t, err)
	assert.Equal(t, toolbinding.MethodGet, fetch.HTTPMethod)

	store, err := registry.Lookup("doc_store", "store_document")
	require.NoError(t, err)
	assert.Equal(t, toolbinding.MethodPost, store.HTTPMethod)
}

func TestApplyRejectsGetWithBodyParameter(t *testing.T) {
	registry := toolbinding.New()
	adapter := New(registry, nil)

	descriptor := ServiceDescriptor{
		ServiceName: "search_svc",
		BaseURL:     "http://search",
		Endpoints: []Endpoint{
			{ToolName: "search", Path: "/search", Method: "GET", Parameters: []EndpointParameter{{Name: "query", In: "body", Type: "string"}}},
		},
	}

	err := adapter.Apply(context.Background(), descriptor)
	var e *errkind.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errkind.InvalidDescriptor, e.Kind)

	_, lookupErr := registry.Lookup("search_svc", "search")
	assert.Error(t, lookupErr)
}

func TestApplyRejectsDuplicateToolNameAtomically(t *testing.T) {
	registry := toolbinding.New()
	adapter := New(registry, nil)

	descriptor := ServiceDescriptor{
		ServiceName: "svc",
		BaseURL:     "http://svc",
		Endpoints: []Endpoint{
			{ToolName: "dup", Path: "/a", Method: "GET"},
			{ToolName: "ok", Path: "/b", Method: "GET"},
			{ToolName: "dup", Path: "/c", Method: "GET"},
		},
	}

	err := adapter.Apply(context.Background(), descriptor)
	var e *errkind.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errkind.InvalidDescriptor, e.Kind)

	_, lookupErr := registry.Lookup("svc", "ok")
	assert.Error(t, lookupErr, "partial registration must not occur")
}

func TestUnknownParameterTypeFallsBackToString(t *testing.T) {
	registry := toolbinding.New()
	adapter := New(registry, nil)

	descriptor := ServiceDescriptor{
		ServiceName: "svc",
		BaseURL:     "http://svc",
		Endpoints: []Endpoint{
			{ToolName: "weird", Path: "/weird", Method: "POST", Parameters: []EndpointParameter{{Name: "x", In: "body", Type: "blob"}}},
		},
	}

	require.NoError(t, adapter.Apply(context.Background(), descriptor))
	b, err := registry.Lookup("svc", "weird")
	require.NoError(t, err)
	assert.Equal(t, toolbinding.TypeString, b.ParameterSchema["x"].Type)
}
