package toolbinding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowcore/orchestrator/pkg/errkind"
)

func documentSchema() map[string]ParameterSpec {
	return map[string]ParameterSpec{
		"document_id":   {Name: "document_id", Type: TypeString, Required: true, Location: LocationPath},
		"analysis_type": {Name: "analysis_type", Type: TypeString, Required: false, Location: LocationQuery},
	}
}

func TestValidateAcceptsWellFormedArgs(t *testing.T) {
	b := Binding{Service: "doc_store", Tool: "fetch_document", ParameterSchema: documentSchema()}
	err := b.Validate(map[string]any{"document_id": "doc_1", "analysis_type": "quality"})
	require.NoError(t, err)
}

func TestValidateRejectsMissingRequiredParameter(t *testing.T) {
	b := Binding{Service: "doc_store", Tool: "fetch_document", ParameterSchema: documentSchema()}
	err := b.Validate(map[string]any{"analysis_type": "quality"})
	var e *errkind.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errkind.Validation, e.Kind)
}

func TestValidateRejectsWrongType(t *testing.T) {
	b := Binding{Service: "doc_store", Tool: "fetch_document", ParameterSchema: documentSchema()}
	err := b.Validate(map[string]any{"document_id": 42})
	require.Error(t, err)
}

func TestValidateCachesCompiledSchemaAcrossCalls(t *testing.T) {
	b := Binding{Service: "doc_store", Tool: "fetch_document", ParameterSchema: documentSchema()}
	require.NoError(t, b.Validate(map[string]any{"document_id": "a"}))
	require.NoError(t, b.Validate(map[string]any{"document_id": "b"}))
}
