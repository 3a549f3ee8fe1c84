package temporal

import (
	"context"
	"errors"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/geniusboywonder/bmad-core/engine"
)

// workflowHandle adapts a Temporal client.WorkflowRun into engine.WorkflowHandle.
type workflowHandle struct {
	run    client.WorkflowRun
	client client.Client
}

func (h *workflowHandle) Wait(ctx context.Context, result any) error {
	return mapSignalError(h.run.Get(ctx, result))
}

func (h *workflowHandle) Signal(ctx context.Context, name string, payload any) error {
	return mapSignalError(h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload))
}

func (h *workflowHandle) Cancel(ctx context.Context) error {
	return mapSignalError(h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID()))
}

// mapSignalError translates Temporal's service errors into package engine's
// backend-agnostic sentinels so package workflow never needs to import the
// Temporal SDK to tell a stale run ID from a finished one.
func mapSignalError(err error) error {
	if err == nil {
		return nil
	}
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return engine.ErrWorkflowNotFound
	}
	var failedPrecondition *serviceerror.FailedPrecondition
	if errors.As(err, &failedPrecondition) {
		return engine.ErrWorkflowCompleted
	}
	return err
}
