// Package noop provides a deterministic scheduler.AgentExecutor for tests
// and local demos that does not call any external model provider.
package noop

import (
	"context"
	"fmt"

	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/scheduler"
)

// Executor echoes back a single artifact summarizing what it was asked to
// do, so a workflow can be driven end to end without a live LLM backend.
type Executor struct {
	ArtifactType string
}

// New constructs an Executor. artifactType defaults to "noop_output".
func New(artifactType string) *Executor {
	if artifactType == "" {
		artifactType = "noop_output"
	}
	return &Executor{ArtifactType: artifactType}
}

// Execute implements scheduler.AgentExecutor.
func (e *Executor) Execute(_ context.Context, req scheduler.ExecuteRequest) (scheduler.ExecuteResult, error) {
	if req.Progress != nil {
		req.Progress(fmt.Sprintf("noop executor handling attempt %d", req.AttemptCount))
	}
	content := fmt.Sprintf("agent_type=%s task_id=%s inputs=%d instructions=%q",
		req.AgentType, req.TaskID, len(req.Inputs), req.Instructions)
	return scheduler.ExecuteResult{
		Artifacts: []domain.ContextArtifact{{
			ArtifactType: e.ArtifactType,
			Content:      []byte(content),
			Metadata:     map[string]string{"executor": "noop"},
		}},
	}, nil
}

// Cancel implements scheduler.AgentExecutor.
func (e *Executor) Cancel(_ context.Context, _ string) error {
	return nil
}
