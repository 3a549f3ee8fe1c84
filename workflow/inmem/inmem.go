// Package inmem provides in-memory workflow.ProjectStore, workflow.RunStore,
// and workflow.DefinitionStore implementations for tests and single-process
// demos, grounded in the same map-plus-mutex idiom as scheduler/inmem and
// contextstore/inmem.
package inmem

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/workflow/definition"
)

// ProjectStore is an in-memory workflow.ProjectStore.
type ProjectStore struct {
	mu       sync.Mutex
	projects map[string]domain.Project
}

func NewProjectStore() *ProjectStore {
	return &ProjectStore{projects: make(map[string]domain.Project)}
}

func (s *ProjectStore) Create(_ context.Context, p domain.Project) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.projects[p.ID] = p
	return p.ID, nil
}

func (s *ProjectStore) Get(_ context.Context, id string) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return domain.Project{}, correrr.Newf(correrr.CodeNotFound, "project %s not found", id)
	}
	return p, nil
}

func (s *ProjectStore) Update(_ context.Context, p domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return correrr.Newf(correrr.CodeNotFound, "project %s not found", p.ID)
	}
	s.projects[p.ID] = p
	return nil
}

// RunStore is an in-memory workflow.RunStore.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]domain.WorkflowRun
}

func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]domain.WorkflowRun)}
}

func (s *RunStore) Create(_ context.Context, r domain.WorkflowRun) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.runs[r.ID] = r
	return r.ID, nil
}

func (s *RunStore) Get(_ context.Context, id string) (domain.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return domain.WorkflowRun{}, correrr.Newf(correrr.CodeNotFound, "workflow run %s not found", id)
	}
	return r, nil
}

func (s *RunStore) Update(_ context.Context, r domain.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; !ok {
		return correrr.Newf(correrr.CodeNotFound, "workflow run %s not found", r.ID)
	}
	s.runs[r.ID] = r
	return nil
}

func (s *RunStore) ListActive(_ context.Context) ([]domain.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WorkflowRun
	for _, r := range s.runs {
		if r.Status == domain.RunRunning || r.Status == domain.RunPaused {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RunStore) GetForProject(_ context.Context, projectID string) (domain.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ProjectID == projectID {
			return r, nil
		}
	}
	return domain.WorkflowRun{}, correrr.Newf(correrr.CodeNotFound, "no workflow run for project %s", projectID)
}

// DefinitionStore is an in-memory, preloaded workflow.DefinitionStore.
type DefinitionStore struct {
	mu   sync.Mutex
	defs map[string]definition.Definition
}

func NewDefinitionStore() *DefinitionStore {
	return &DefinitionStore{defs: make(map[string]definition.Definition)}
}

// Register adds or replaces a definition. Typically called once at startup
// for each workflow YAML file loaded from disk.
func (s *DefinitionStore) Register(def definition.Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.ID] = def
}

func (s *DefinitionStore) Get(_ context.Context, id string) (definition.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[id]
	if !ok {
		return definition.Definition{}, correrr.Newf(correrr.CodeNotFound, "workflow definition %s not found", id)
	}
	return def, nil
}
