package workflow

import (
	"context"
	"time"

	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/workflow/definition"
)

// ProjectStore persists Project records. The Workflow Engine owns Project
// lifecycle (spec.md §3: Project is created by "controller" and mirrors its
// WorkflowRun's terminal status), so this core keeps it alongside the
// engine rather than as a separate component.
type ProjectStore interface {
	Create(ctx context.Context, p domain.Project) (string, error)
	Get(ctx context.Context, id string) (domain.Project, error)
	Update(ctx context.Context, p domain.Project) error
}

// IsTerminal implements scheduler.ProjectStatusChecker.
func (e *Engine) IsTerminal(ctx context.Context, projectID string) (bool, error) {
	p, err := e.projects.Get(ctx, projectID)
	if err != nil {
		return false, err
	}
	return p.Status == domain.ProjectCompleted || p.Status == domain.ProjectFailed, nil
}

// RunStore persists WorkflowRun records.
type RunStore interface {
	Create(ctx context.Context, r domain.WorkflowRun) (string, error)
	Get(ctx context.Context, id string) (domain.WorkflowRun, error)
	Update(ctx context.Context, r domain.WorkflowRun) error
	// ListActive returns runs in running or paused status, for crash
	// recovery on startup.
	ListActive(ctx context.Context) ([]domain.WorkflowRun, error)
	// GetForProject returns the project's single WorkflowRun.
	GetForProject(ctx context.Context, projectID string) (domain.WorkflowRun, error)
}

// DefinitionStore resolves a workflow definition by id. Definitions are
// read-only at runtime; this core loads them from flat files or a small
// registry rather than a mutable store.
type DefinitionStore interface {
	Get(ctx context.Context, id string) (definition.Definition, error)
}

// now is a package-level indirection so tests can freeze time.
var now = func() time.Time { return time.Now().UTC() }
