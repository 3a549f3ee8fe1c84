package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geniusboywonder/bmad-core/contextstore"
	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
)

func TestPutGetRoundTrip(t *testing.T) {
	store := New(nil)
	ctx := context.Background()

	id, err := store.Put(ctx, domain.ContextArtifact{
		ProjectID:    "p1",
		SourceAgent:  "analyst",
		ArtifactType: "product_requirement",
		Content:      []byte(`{"title":"Todo App"}`),
		Metadata:     map[string]string{"foo": "bar"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "p1", got.ProjectID)
	require.Equal(t, "product_requirement", got.ArtifactType)

	got.Metadata["foo"] = "mutated"
	reread, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "bar", reread.Metadata["foo"], "expected defensive copy")
}

func TestPutRejectsMissingFields(t *testing.T) {
	store := New(nil)
	ctx := context.Background()

	_, err := store.Put(ctx, domain.ContextArtifact{SourceAgent: "analyst", ArtifactType: "x"})
	require.Error(t, err)
	require.Equal(t, correrr.CodeInvalidArtifact, correrr.CodeOf(err))
}

func TestGetNotFound(t *testing.T) {
	store := New(nil)
	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	require.Equal(t, correrr.CodeNotFound, correrr.CodeOf(err))
}

func TestGetManySkipsUnknownAndPreservesOrder(t *testing.T) {
	store := New(nil)
	ctx := context.Background()

	id1, _ := store.Put(ctx, domain.ContextArtifact{ProjectID: "p1", SourceAgent: "a", ArtifactType: "t1"})
	id2, _ := store.Put(ctx, domain.ContextArtifact{ProjectID: "p1", SourceAgent: "a", ArtifactType: "t2"})

	got, err := store.GetMany(ctx, []string{id2, "missing", id1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, id2, got[0].ID)
	require.Equal(t, id1, got[1].ID)
}

func TestQueryFiltersAndOrdersByCreatedAt(t *testing.T) {
	store := New(nil)
	ctx := context.Background()

	_, _ = store.Put(ctx, domain.ContextArtifact{ProjectID: "p1", SourceAgent: "analyst", ArtifactType: "plan"})
	_, _ = store.Put(ctx, domain.ContextArtifact{ProjectID: "p1", SourceAgent: "coder", ArtifactType: "code"})
	_, _ = store.Put(ctx, domain.ContextArtifact{ProjectID: "p2", SourceAgent: "analyst", ArtifactType: "plan"})

	got, err := store.Query(ctx, "p1", contextstore.Filter{ArtifactType: "plan"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "analyst", got[0].SourceAgent)
}

func TestListForProjectOmitsContent(t *testing.T) {
	store := New(nil)
	ctx := context.Background()
	_, _ = store.Put(ctx, domain.ContextArtifact{ProjectID: "p1", SourceAgent: "a", ArtifactType: "t", Content: []byte("payload")})

	summaries, err := store.ListForProject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "t", summaries[0].ArtifactType)
}

func TestPutValidatesAgainstRegisteredSchema(t *testing.T) {
	registry := contextstore.NewSchemaRegistry()
	require.NoError(t, registry.Register("product_requirement", `{
		"type": "object",
		"required": ["title"],
		"properties": {"title": {"type": "string"}}
	}`))
	store := New(registry)
	ctx := context.Background()

	_, err := store.Put(ctx, domain.ContextArtifact{
		ProjectID: "p1", SourceAgent: "analyst", ArtifactType: "product_requirement",
		Content: []byte(`{"oops":true}`),
	})
	require.Error(t, err)
	require.Equal(t, correrr.CodeInvalidArtifact, correrr.CodeOf(err))

	_, err = store.Put(ctx, domain.ContextArtifact{
		ProjectID: "p1", SourceAgent: "analyst", ArtifactType: "product_requirement",
		Content: []byte(`{"title":"Todo App"}`),
	})
	require.NoError(t, err)
}
