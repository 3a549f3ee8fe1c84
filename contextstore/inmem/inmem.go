// Package inmem provides an in-memory implementation of contextstore.Store
// for testing and local development. Records never survive a process
// restart; production deployments should use contextstore/mongostore.
package inmem

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geniusboywonder/bmad-core/contextstore"
	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
)

// Store implements contextstore.Store in memory. All operations are
// thread-safe via sync.RWMutex. Artifacts are defensively copied on read and
// write so callers cannot mutate stored content through a returned value.
type Store struct {
	mu       sync.RWMutex
	records  map[string]domain.ContextArtifact
	byProj   map[string][]string // project_id -> ordered artifact ids (insertion order)
	registry *contextstore.SchemaRegistry
}

// New constructs an empty Store. registry may be nil, in which case no
// artifact_type ever has a schema check.
func New(registry *contextstore.SchemaRegistry) *Store {
	return &Store{
		records:  make(map[string]domain.ContextArtifact),
		byProj:   make(map[string][]string),
		registry: registry,
	}
}

// Put implements contextstore.Store.
func (s *Store) Put(_ context.Context, a domain.ContextArtifact) (string, error) {
	if a.ProjectID == "" || a.SourceAgent == "" || a.ArtifactType == "" {
		return "", correrr.New(correrr.CodeInvalidArtifact, "project_id, source_agent, and artifact_type are required")
	}
	if s.registry != nil {
		var content any
		if err := unmarshalIfJSON(a.Content, &content); err == nil {
			if verr := s.registry.Validate(a.ArtifactType, content); verr != nil {
				return "", verr
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = uuid.NewString()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Content = cloneBytes(a.Content)
	a.Metadata = cloneMap(a.Metadata)

	s.records[a.ID] = a
	s.byProj[a.ProjectID] = append(s.byProj[a.ProjectID], a.ID)
	return a.ID, nil
}

// Get implements contextstore.Store.
func (s *Store) Get(_ context.Context, id string) (domain.ContextArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.records[id]
	if !ok {
		return domain.ContextArtifact{}, correrr.Newf(correrr.CodeNotFound, "artifact %s not found", id)
	}
	return clone(a), nil
}

// GetMany implements contextstore.Store, skipping unknown ids.
func (s *Store) GetMany(_ context.Context, ids []string) ([]domain.ContextArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ContextArtifact, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.records[id]; ok {
			out = append(out, clone(a))
		}
	}
	return out, nil
}

// Query implements contextstore.Store.
func (s *Store) Query(_ context.Context, projectID string, filter contextstore.Filter) ([]domain.ContextArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ContextArtifact
	for _, id := range s.byProj[projectID] {
		a := s.records[id]
		if filter.ArtifactType != "" && a.ArtifactType != filter.ArtifactType {
			continue
		}
		if filter.SourceAgent != "" && a.SourceAgent != filter.SourceAgent {
			continue
		}
		out = append(out, clone(a))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListForProject implements contextstore.Store.
func (s *Store) ListForProject(_ context.Context, projectID string) ([]domain.ArtifactSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ArtifactSummary, 0, len(s.byProj[projectID]))
	for _, id := range s.byProj[projectID] {
		a := s.records[id]
		out = append(out, domain.ArtifactSummary{
			ID:           a.ID,
			ProjectID:    a.ProjectID,
			SourceAgent:  a.SourceAgent,
			ArtifactType: a.ArtifactType,
			Metadata:     cloneMap(a.Metadata),
			CreatedAt:    a.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func unmarshalIfJSON(content []byte, dest any) error {
	return json.Unmarshal(content, dest)
}

func clone(a domain.ContextArtifact) domain.ContextArtifact {
	a.Content = cloneBytes(a.Content)
	a.Metadata = cloneMap(a.Metadata)
	return a
}

func cloneBytes(src []byte) []byte {
	if src == nil {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
