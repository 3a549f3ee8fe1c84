package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/geniusboywonder/bmad-core/contextstore"
	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/eventfabric"
	"github.com/geniusboywonder/bmad-core/hitl"
	"github.com/geniusboywonder/bmad-core/workflow/definition"
)

// conditionInput is activityResolveCondition's input.
type conditionInput struct {
	Expr            string
	ContextSnapshot map[string]string
	Phase           string
}

// activityResolveCondition evaluates a step's condition expression against
// the run's context snapshot, reading artifact content from the Context
// Store as needed for artifact.field comparisons.
func (e *Engine) activityResolveCondition(ctx context.Context, input any) (any, error) {
	in, ok := input.(conditionInput)
	if !ok {
		return nil, fmt.Errorf("workflow: unexpected input type %T", input)
	}
	scope := EvalScope{
		Phase: in.Phase,
		HasArtifact: func(artifactType string) bool {
			_, ok := in.ContextSnapshot[artifactType]
			return ok
		},
		ArtifactField: func(artifactType, field string) (string, bool) {
			id, ok := in.ContextSnapshot[artifactType]
			if !ok {
				return "", false
			}
			artifact, err := e.artifacts.Get(ctx, id)
			if err != nil {
				return "", false
			}
			var decoded map[string]any
			if err := json.Unmarshal(artifact.Content, &decoded); err != nil {
				return "", false
			}
			value, ok := decoded[field]
			if !ok {
				return "", false
			}
			return fmt.Sprintf("%v", value), true
		},
	}
	return EvalCondition(in.Expr, scope)
}

// runStepInput is activityRunStep's input.
type runStepInput struct {
	Step            definition.Step
	RunID           string
	ProjectID       string
	Phase           string
	ContextSnapshot map[string]string
}

// activityRunStep runs one step to completion: for a gate, consults the
// HITL Gate's pre_execution check and awaits the decision; for a
// task-producing step, resolves requires, gates, submits to the Scheduler,
// and awaits the task's terminal status. Blocking happens by subscribing
// to the Event Fabric for the matching hitl.responded or task.* event, so
// the activity itself is the suspension point described in spec.md §5 —
// the workflow coroutine that called it simply awaits this activity's
// result.
func (e *Engine) activityRunStep(ctx context.Context, input any) (any, error) {
	in, ok := input.(runStepInput)
	if !ok {
		return nil, fmt.Errorf("workflow: unexpected input type %T", input)
	}
	if in.Step.IsGate() {
		return e.runGateStep(ctx, in)
	}
	return e.runTaskStep(ctx, in)
}

// runGateStep evaluates a pure marker step's HITL gate. A gate never holds
// an agent task in the Scheduler — there is no work to dispatch — so a
// rejection has no Scheduler-tracked task to cancel; it publishes
// task.cancelled for the gate's synthetic task id directly instead.
func (e *Engine) runGateStep(ctx context.Context, in runStepInput) (stepOutcome, error) {
	task := domain.Task{ID: uuid.NewString(), ProjectID: in.ProjectID, WorkflowRunID: in.RunID, StepID: in.Step.StepID}
	decision, err := e.hitlGate.Evaluate(ctx, task, hitl.EvalContext{Phase: in.Phase, RequiresStepGate: true})
	if err != nil {
		return stepOutcome{}, err
	}
	resolved, err := e.resolveDecision(ctx, task, decision, false)
	if err != nil || resolved.Failed || resolved.HaltReason != "" || resolved.PauseReason != "" {
		return resolved.stepOutcome, err
	}
	outcome := resolved.stepOutcome
	outcome.PhaseChanged = in.Step.Phase
	return outcome, nil
}

func (e *Engine) runTaskStep(ctx context.Context, in runStepInput) (stepOutcome, error) {
	contextIDs := make([]string, 0, len(in.Step.Requires))
	for _, required := range in.Step.Requires {
		id, ok := in.ContextSnapshot[required]
		if !ok {
			if in.Step.Optional {
				return stepOutcome{Skipped: true}, nil
			}
			return stepOutcome{Failed: true, ErrorMessage: fmt.Sprintf("missing required artifact type %q", required)}, nil
		}
		contextIDs = append(contextIDs, id)
	}

	task := domain.Task{
		ID: uuid.NewString(), ProjectID: in.ProjectID, WorkflowRunID: in.RunID, StepID: in.Step.StepID,
		AgentType: in.Step.AgentType, Instructions: in.Step.Instructions, ContextIDs: contextIDs,
	}
	e.publish(ctx, in.ProjectID, domain.EventWorkflowStepStarted, map[string]any{"step_id": in.Step.StepID, "run_id": in.RunID})

	decision, err := e.hitlGate.Evaluate(ctx, task, hitl.EvalContext{Phase: in.Phase})
	if err != nil {
		return stepOutcome{}, err
	}
	resolved, err := e.resolveDecision(ctx, task, decision, true)
	if err != nil || resolved.Failed || resolved.HaltReason != "" || resolved.Skipped || resolved.PauseReason != "" {
		return resolved.stepOutcome, err
	}
	if resolved.ExtraInstructions != "" {
		task.Instructions += "\n\n" + resolved.ExtraInstructions
	}

	// Subscribe before the task goes live: a synchronous executor could
	// otherwise publish task.completed before this activity starts
	// listening for it.
	wait, err := e.subscribeTaskTerminal(in.ProjectID, task.ID)
	if err != nil {
		return stepOutcome{}, err
	}
	if resolved.TaskHeld {
		err = e.scheduler.SubmitHeld(ctx, task)
	} else {
		_, err = e.scheduler.Submit(ctx, task)
	}
	if err != nil {
		return stepOutcome{Failed: true, ErrorMessage: err.Error()}, nil
	}

	matched, err := wait(ctx)
	if err != nil {
		return stepOutcome{}, err
	}
	return e.outcomeFromTerminalEvent(ctx, in, task, matched)
}

// resolvedDecision also carries the decision-resolution result for task
// steps that require a modified-instructions replay before submission.
type resolvedDecision struct {
	stepOutcome
	ExtraInstructions string
	// TaskHeld is true when decision.Kind == NeedsApproval and holdTask was
	// set: the task already exists in the Scheduler (via CreateHeld) and
	// must be released with SubmitHeld rather than freshly Submit-ed.
	TaskHeld bool
}

// resolveDecision turns an hitl.Decision into a stepOutcome: auto_approve
// proceeds immediately, halt stops the run, and needs_approval creates a
// HITLApproval and blocks (via Event Fabric subscription) until a matching
// hitl.responded event arrives.
//
// While an approval is outstanding, the run is marked paused (spec.md §4.5
// "pause/resume"); an approve/modify decision resumes it and emits
// workflow.resumed, while a reject or expiry reports a PauseReason the
// run coroutine turns into a sticky pause and workflow.paused once this
// activity returns — the run does not auto-resume from those until an
// orchestrator acts (spec.md §8 scenario 3).
//
// holdTask is true for task-producing steps: a real Task already exists (or
// is created here) in the Scheduler, so a rejection has something concrete
// to cancel. Gate/marker steps pass false — they have no Scheduler-tracked
// task to hold.
func (e *Engine) resolveDecision(ctx context.Context, task domain.Task, decision hitl.Decision, holdTask bool) (resolvedDecision, error) {
	switch decision.Kind {
	case hitl.AutoApprove:
		return resolvedDecision{}, nil
	case hitl.Halt:
		return resolvedDecision{stepOutcome: stepOutcome{HaltReason: decision.Reason}}, nil
	case hitl.NeedsApproval:
		if holdTask {
			if _, err := e.scheduler.CreateHeld(ctx, task); err != nil {
				return resolvedDecision{}, err
			}
		}
		approvalID, err := e.hitlGate.CreateApproval(ctx, task, decision.ApprovalKind, decision.Payload)
		if err != nil {
			return resolvedDecision{}, err
		}
		if err := e.pauseRunForApproval(ctx, task.WorkflowRunID); err != nil {
			return resolvedDecision{}, err
		}
		outcome, err := e.approvals.Get(ctx, approvalID)
		if err != nil {
			return resolvedDecision{}, err
		}
		if outcome.Status == domain.HITLPending {
			if err := e.awaitHITLResponse(ctx, task.ProjectID, approvalID); err != nil {
				return resolvedDecision{}, err
			}
			outcome, err = e.approvals.Get(ctx, approvalID)
			if err != nil {
				return resolvedDecision{}, err
			}
		}
		switch outcome.Status {
		case domain.HITLRejected:
			if holdTask {
				_ = e.scheduler.Cancel(ctx, task.ID, "hitl_rejected")
			} else {
				e.publish(ctx, task.ProjectID, domain.EventTaskCancelled, map[string]any{"task_id": task.ID, "reason": "hitl_rejected"})
			}
			return resolvedDecision{stepOutcome: stepOutcome{PauseReason: "hitl_rejected", ErrorMessage: "hitl approval rejected"}}, nil
		case domain.HITLExpired:
			if holdTask {
				_ = e.scheduler.Cancel(ctx, task.ID, "hitl_timeout")
			} else {
				e.publish(ctx, task.ProjectID, domain.EventTaskCancelled, map[string]any{"task_id": task.ID, "reason": "hitl_timeout"})
			}
			return resolvedDecision{stepOutcome: stepOutcome{PauseReason: "hitl_timeout", ErrorMessage: "hitl approval expired"}}, nil
		default:
			if err := e.resumeRunAfterApproval(ctx, task.WorkflowRunID); err != nil {
				return resolvedDecision{}, err
			}
			return resolvedDecision{ExtraInstructions: outcome.UserResponse, TaskHeld: holdTask}, nil
		}
	default:
		return resolvedDecision{}, fmt.Errorf("workflow: unknown hitl decision kind %q", decision.Kind)
	}
}

// pauseRunForApproval marks runID paused while a HITL decision is
// outstanding, so any observer reading the run mid-wait sees it blocked
// rather than silently running.
func (e *Engine) pauseRunForApproval(ctx context.Context, runID string) error {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == domain.RunPaused {
		return nil
	}
	run.Status = domain.RunPaused
	run.UpdatedAt = now()
	return e.runs.Update(ctx, run)
}

// resumeRunAfterApproval transitions runID back to running and publishes
// workflow.resumed, for an approved or modified decision.
func (e *Engine) resumeRunAfterApproval(ctx context.Context, runID string) error {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	run.Status = domain.RunRunning
	run.UpdatedAt = now()
	if err := e.runs.Update(ctx, run); err != nil {
		return err
	}
	e.publish(ctx, run.ProjectID, domain.EventWorkflowResumed, map[string]any{"run_id": run.ID})
	return nil
}

// awaitHITLResponse subscribes to the project's event scope and blocks
// until a hitl.responded event names approvalID, or ctx is cancelled.
func (e *Engine) awaitHITLResponse(ctx context.Context, projectID, approvalID string) error {
	return e.awaitEvent(ctx, projectID, func(payload map[string]any) bool {
		id, _ := payload["approval_id"].(string)
		return id == approvalID
	}, domain.EventHITLResponded, domain.EventHITLExpired)
}

// subscribeTaskTerminal begins listening for taskID's terminal event and
// returns a wait function the caller invokes after the task is actually
// live in the Scheduler (Submit/SubmitHeld). Subscribing first closes the
// race where a synchronous executor completes the task before the caller
// would otherwise have started listening.
func (e *Engine) subscribeTaskTerminal(projectID, taskID string) (func(ctx context.Context) (domain.Event, error), error) {
	found := make(chan domain.Event, 1)
	sub, err := e.events.Subscribe(eventfabric.Scope{ProjectID: projectID}, 16, func(_ context.Context, ev domain.Event) {
		switch ev.Kind {
		case domain.EventTaskCompleted, domain.EventTaskFailed, domain.EventTaskCancelled:
		default:
			return
		}
		id, _ := ev.Payload["task_id"].(string)
		if id != taskID {
			return
		}
		select {
		case found <- ev:
		default:
		}
	})
	if err != nil {
		return nil, err
	}

	wait := func(ctx context.Context) (domain.Event, error) {
		defer sub.Close()
		timeout := time.NewTimer(24 * time.Hour)
		defer timeout.Stop()
		select {
		case ev := <-found:
			return ev, nil
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		case <-timeout.C:
			return domain.Event{}, correrr.New(correrr.CodeStorageUnavailable, "workflow: timed out awaiting event")
		}
	}
	return wait, nil
}

// outcomeFromTerminalEvent turns a matched task.completed/failed/cancelled
// event into the step's outcome, merging a single produced artifact, per
// the one-output-artifact-per-step convention this core uses.
func (e *Engine) outcomeFromTerminalEvent(ctx context.Context, in runStepInput, task domain.Task, matched domain.Event) (stepOutcome, error) {
	switch matched.Kind {
	case domain.EventTaskCompleted:
		outcome := stepOutcome{}
		if in.Step.Creates != "" {
			if artifactID, ok := e.latestOutputArtifact(ctx, in.ProjectID, in.Step.Creates, task.ID); ok {
				outcome.NewArtifactType = in.Step.Creates
				outcome.NewArtifactID = artifactID
			}
		}
		return outcome, nil
	default: // failed or cancelled
		msg, _ := matched.Payload["reason"].(string)
		return stepOutcome{Failed: true, ErrorMessage: msg}, nil
	}
}

// latestOutputArtifact queries the Context Store for the most recent
// artifact of artifactType within projectID, as the step's declared
// output. Querying by type rather than trusting the task's own Output
// list keeps this decoupled from the Scheduler's artifact bookkeeping.
func (e *Engine) latestOutputArtifact(ctx context.Context, projectID, artifactType, _ string) (string, bool) {
	artifacts, err := e.artifacts.Query(ctx, projectID, contextstore.Filter{ArtifactType: artifactType})
	if err != nil || len(artifacts) == 0 {
		return "", false
	}
	return artifacts[len(artifacts)-1].ID, true
}

// awaitEvent is awaitEventCapture without needing the matched event back.
func (e *Engine) awaitEvent(ctx context.Context, projectID string, match func(map[string]any) bool, kinds ...domain.EventKind) error {
	var discard domain.Event
	return e.awaitEventCapture(ctx, projectID, match, &discard, kinds...)
}

// awaitEventCapture subscribes to projectID's event scope and blocks until
// an event whose Kind is one of kinds and whose Payload satisfies match
// arrives, storing it in *out. A 24h safety timeout prevents a leaked
// subscription from blocking a worker forever if an expected event is
// somehow never published (e.g. storage corruption upstream).
func (e *Engine) awaitEventCapture(ctx context.Context, projectID string, match func(map[string]any) bool, out *domain.Event, kinds ...domain.EventKind) error {
	kindSet := make(map[domain.EventKind]struct{}, len(kinds))
	for _, k := range kinds {
		kindSet[k] = struct{}{}
	}

	found := make(chan domain.Event, 1)
	sub, err := e.events.Subscribe(eventfabric.Scope{ProjectID: projectID}, 16, func(_ context.Context, ev domain.Event) {
		if _, ok := kindSet[ev.Kind]; !ok {
			return
		}
		if !match(ev.Payload) {
			return
		}
		select {
		case found <- ev:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	timeout := time.NewTimer(24 * time.Hour)
	defer timeout.Stop()
	select {
	case ev := <-found:
		*out = ev
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return correrr.New(correrr.CodeStorageUnavailable, "workflow: timed out awaiting event")
	}
}
