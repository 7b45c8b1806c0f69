package toolbinding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowcore/orchestrator/pkg/errkind"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	b := Binding{Service: "doc_store", Tool: "fetch_document", Version: "1", HTTPMethod: MethodGet, URLTemplate: "http://doc-store/documents/{document_id}"}
	require.NoError(t, r.Register(b))

	got, err := r.Lookup("doc_store", "fetch_document")
	require.NoError(t, err)
	assert.Equal(t, b.URLTemplate, got.URLTemplate)
}

func TestLookupUnknownTool(t *testing.T) {
	r := New()
	_, err := r.Lookup("doc_store", "missing")
	var e *errkind.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errkind.UnknownTool, e.Kind)
}

func TestRegisterDuplicateSameVersionRejected(t *testing.T) {
	r := New()
	b := Binding{Service: "doc_store", Tool: "fetch_document", Version: "1"}
	require.NoError(t, r.Register(b))

	err := r.Register(b)
	var e *errkind.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errkind.DuplicateTool, e.Kind)
}

func TestRegisterNewerVersionSupersedes(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Binding{Service: "doc_store", Tool: "fetch_document", Version: "1", URLTemplate: "v1"}))
	require.NoError(t, r.Register(Binding{Service: "doc_store", Tool: "fetch_document", Version: "2", URLTemplate: "v2"}))

	got, err := r.Lookup("doc_store", "fetch_document")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.URLTemplate)
}

func TestRegisterAllCommitsAllOnSuccess(t *testing.T) {
	r := New()
	err := r.RegisterAll([]Binding{
		{Service: "doc_store", Tool: "fetch", Version: "1"},
		{Service: "doc_store", Tool: "store", Version: "1"},
	})
	require.NoError(t, err)

	_, err = r.Lookup("doc_store", "fetch")
	require.NoError(t, err)
	_, err = r.Lookup("doc_store", "store")
	require.NoError(t, err)
}

func TestRegisterAllRollsBackAllOnAnyFailure(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Binding{Service: "doc_store", Tool: "store", Version: "3"}))

	// "fetch" would register fine on its own, but "store" collides with the
	// already-registered higher version; neither should end up committed.
	err := r.RegisterAll([]Binding{
		{Service: "doc_store", Tool: "fetch", Version: "1"},
		{Service: "doc_store", Tool: "store", Version: "1"},
	})
	var e *errkind.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errkind.DuplicateTool, e.Kind)

	_, err = r.Lookup("doc_store", "fetch")
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errkind.UnknownTool, e.Kind)
}

func TestListFiltersByService(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Binding{Service: "doc_store", Tool: "fetch", Version: "1"}))
	require.NoError(t, r.Register(Binding{Service: "analyzer", Tool: "analyze", Version: "1"}))

	got := r.List("doc_store")
	require.Len(t, got, 1)
	assert.Equal(t, "doc_store", got[0].Service)
}
