package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowcore/orchestrator/pkg/errkind"
	"github.com/workflowcore/orchestrator/pkg/graph"
)

func newLibraryWithBuiltins(t *testing.T) *Library {
	t.Helper()
	l := New(graph.NewConditionRegistry(), nil)
	require.NoError(t, RegisterBuiltins(l))
	return l
}

func TestRegisterBuiltinsListsAllThree(t *testing.T) {
	l := newLibraryWithBuiltins(t)
	summaries := l.List()
	names := map[string]bool{}
	for _, s := range summaries {
		names[s.Name] = true
	}
	assert.True(t, names["document_analysis"])
	assert.True(t, names["pr_confidence_analysis"])
	assert.True(t, names["end_to_end_test"])
}

func TestInstantiateDocumentAnalysisRequiresDocumentID(t *testing.T) {
	l := newLibraryWithBuiltins(t)

	_, _, err := l.Instantiate("exec-1", "document_analysis", map[string]any{}, 3, "", "")
	var e *errkind.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errkind.MissingRequired, e.Kind)
}

func TestInstantiateDocumentAnalysisAppliesDefaultAnalysisType(t *testing.T) {
	l := newLibraryWithBuiltins(t)

	compiled, st, err := l.Instantiate("exec-1", "document_analysis", map[string]any{"document_id": "doc_1"}, 3, "", "")
	require.NoError(t, err)
	assert.Equal(t, "document_analysis", compiled.Name)

	v, ok := st.GetInput("analysis_type")
	require.True(t, ok)
	assert.Equal(t, "quality", v)
}

func TestInstantiateUnknownTemplate(t *testing.T) {
	l := newLibraryWithBuiltins(t)
	_, _, err := l.Instantiate("exec-1", "does_not_exist", nil, 3, "", "")
	var e *errkind.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errkind.UnknownTemplate, e.Kind)
}

func TestInstantiateTypeMismatch(t *testing.T) {
	l := newLibraryWithBuiltins(t)
	_, _, err := l.Instantiate("exec-1", "document_analysis", map[string]any{"document_id": 123}, 3, "", "")
	var e *errkind.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errkind.TypeMismatch, e.Kind)
}

func TestPRConfidenceAnalysisHasTenNodeSequence(t *testing.T) {
	l := newLibraryWithBuiltins(t)
	compiled, _, err := l.Instantiate("exec-1", "pr_confidence_analysis", map[string]any{
		"repo": "org/repo", "pr_number": 42, "project_key": "ENG",
	}, 3, "", "")
	require.NoError(t, err)
	assert.Len(t, compiled.Nodes, 10)
}
