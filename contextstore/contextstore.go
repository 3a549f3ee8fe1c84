// Package contextstore implements the Context Store (spec.md §4.1): a
// durable, append-only repository of typed ContextArtifacts. Artifacts are
// immutable once written; a new version requires a new id.
package contextstore

import (
	"context"
	"time"

	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
)

// Filter narrows a query() call by artifact_type and/or source_agent. Zero
// values mean "no constraint on this field".
type Filter struct {
	ArtifactType string
	SourceAgent  string
}

// Store is the Context Store contract. Implementations must guarantee writes
// are durable before Put returns (commit before ack) and that Get after Put
// within a single project is read-your-writes.
type Store interface {
	// Put writes a new artifact and returns its freshly generated id. Fails
	// with correrr.CodeInvalidArtifact if ProjectID, SourceAgent, or
	// ArtifactType are missing, or if Content fails a registered schema check.
	Put(ctx context.Context, artifact domain.ContextArtifact) (string, error)

	// Get retrieves one artifact by id, or correrr.CodeNotFound.
	Get(ctx context.Context, id string) (domain.ContextArtifact, error)

	// GetMany returns artifacts in the order requested, skipping unknown ids.
	// Callers can detect gaps by comparing len(ids) to len(result) only when
	// ids has no duplicates; otherwise match by id.
	GetMany(ctx context.Context, ids []string) ([]domain.ContextArtifact, error)

	// Query filters by artifact_type and/or source_agent within a project,
	// ordered by CreatedAt ascending.
	Query(ctx context.Context, projectID string, filter Filter) ([]domain.ContextArtifact, error)

	// ListForProject returns metadata-only summaries (no Content) for every
	// artifact belonging to projectID, ordered by CreatedAt ascending.
	ListForProject(ctx context.Context, projectID string) ([]domain.ArtifactSummary, error)
}

// validate checks the required fields every Store implementation enforces
// on Put. The inmem and mongostore packages cannot call this unexported
// helper and carry their own copy of the same check.
func validate(a domain.ContextArtifact) error {
	if a.ProjectID == "" {
		return correrr.New(correrr.CodeInvalidArtifact, "project_id is required")
	}
	if a.SourceAgent == "" {
		return correrr.New(correrr.CodeInvalidArtifact, "source_agent is required")
	}
	if a.ArtifactType == "" {
		return correrr.New(correrr.CodeInvalidArtifact, "artifact_type is required")
	}
	return nil
}

func summarize(a domain.ContextArtifact) domain.ArtifactSummary {
	return domain.ArtifactSummary{
		ID:           a.ID,
		ProjectID:    a.ProjectID,
		SourceAgent:  a.SourceAgent,
		ArtifactType: a.ArtifactType,
		Metadata:     a.Metadata,
		CreatedAt:    a.CreatedAt,
	}
}

// now is a package-level indirection so tests can freeze time; production
// code always calls time.Now().UTC().
var now = func() time.Time { return time.Now().UTC() }
