package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/engine"
	"github.com/geniusboywonder/bmad-core/workflow/definition"
)

// stepOutcome is what activityRunStep returns for one Step.
type stepOutcome struct {
	Skipped      bool
	Failed       bool
	ErrorMessage string
	HaltReason   string
	// PauseReason is set when a HITL decision (reject or expiry) requires
	// the run to stop and wait for an orchestrator, rather than fail
	// outright or advance to the next step.
	PauseReason string
	// NewArtifact holds the artifact type/id pair produced by a
	// task-producing step, merged into the run's ContextSnapshot.
	NewArtifactType string
	NewArtifactID   string
	PhaseChanged    string
}

// pausedErr signals runWorkflow to stop driving the run and leave it in
// domain.RunPaused rather than treat the step as failed.
type pausedErr struct{ reason string }

func (p pausedErr) Error() string { return "workflow: paused pending hitl decision: " + p.reason }

// runWorkflow is the engine.WorkflowFunc driving one WorkflowRun from
// current_step_index to completion. Grounded on the execution algorithm of
// spec.md §4.5: evaluate each step's condition, dispatch gates to the HITL
// Gate and task-producing steps to the Scheduler, merge outputs into the
// context snapshot, and advance. All side effects (HITL evaluation, task
// submission, event publication, persistence) happen inside activities so
// the coroutine body itself stays a deterministic sequence of
// ExecuteActivity/ExecuteActivityAsync calls, replay-safe under Temporal.
func (e *Engine) runWorkflow(wctx engine.WorkflowContext, input any) (any, error) {
	in, ok := input.(runInput)
	if !ok {
		return nil, fmt.Errorf("workflow: unexpected input type %T", input)
	}
	ctx := wctx.Context()

	run, err := e.runs.Get(ctx, in.RunID)
	if err != nil {
		return nil, fmt.Errorf("workflow: load run %s: %w", in.RunID, err)
	}
	def, err := e.defs.Get(ctx, in.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("workflow: load definition %s: %w", in.DefinitionID, err)
	}

	if run.Status == domain.RunPending {
		run.Status = domain.RunRunning
		_ = e.runs.Update(ctx, run)
		e.publish(ctx, run.ProjectID, domain.EventWorkflowStarted, map[string]any{"run_id": run.ID, "definition_id": def.ID})
	}

	groups := def.Groups()
	project, err := e.projects.Get(ctx, run.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("workflow: load project %s: %w", run.ProjectID, err)
	}

	for groupIndex, group := range groups {
		if groupIndex < run.CurrentStepIndex {
			continue
		}

		var stepErr error
		if group.Parallel {
			stepErr = e.runGroup(wctx, &run, project.CurrentPhase, group)
		} else {
			stepErr = e.runSingleStep(wctx, &run, &project, group.Steps[0])
		}
		if stepErr != nil {
			var paused pausedErr
			if errors.As(stepErr, &paused) {
				return e.pauseRun(ctx, run, paused.reason)
			}
			return e.failRun(ctx, run, stepErr)
		}

		run.CurrentStepIndex = groupIndex + 1
		run.UpdatedAt = now()
		if err := e.runs.Update(ctx, run); err != nil {
			return nil, fmt.Errorf("workflow: persist run %s: %w", run.ID, err)
		}
	}

	run.Status = domain.RunCompleted
	run.UpdatedAt = now()
	_ = e.runs.Update(ctx, run)
	project.Status = domain.ProjectCompleted
	_ = e.projects.Update(ctx, project)
	e.publish(ctx, run.ProjectID, domain.EventWorkflowCompleted, map[string]any{"run_id": run.ID})
	return run, nil
}

// runSingleStep drives one non-parallel step: evaluate its condition, run
// it via activityRunStep, and merge any resulting artifact/phase change
// into run and project state.
func (e *Engine) runSingleStep(wctx engine.WorkflowContext, run *domain.WorkflowRun, project *domain.Project, step definition.Step) error {
	ctx := wctx.Context()

	shouldRun, err := e.evalCondition(wctx, step.Condition, run.ContextSnapshot, project.CurrentPhase)
	if err != nil {
		return err
	}
	if !shouldRun {
		if !step.Optional {
			return fmt.Errorf("workflow: step %s condition false and step is required", step.StepID)
		}
		e.publish(ctx, run.ProjectID, domain.EventWorkflowStepCompleted, map[string]any{"step_id": step.StepID, "skipped": true})
		return nil
	}

	var outcome stepOutcome
	if err := wctx.ExecuteActivity(ctx, engine.ActivityRequest{Name: activityRunStep, Input: runStepInput{
		Step: step, RunID: run.ID, ProjectID: run.ProjectID, Phase: project.CurrentPhase, ContextSnapshot: run.ContextSnapshot,
	}}, &outcome); err != nil {
		return fmt.Errorf("workflow: run step %s: %w", step.StepID, err)
	}

	return e.applyStepOutcome(ctx, run, project, step, outcome)
}

// runGroup drives a parallel_group's member steps concurrently, joining
// when every member reaches a terminal outcome. Any non-optional failure
// fails the whole group, matching spec.md §4.5's parallel-groups rule.
func (e *Engine) runGroup(wctx engine.WorkflowContext, run *domain.WorkflowRun, phase string, group definition.Group) error {
	ctx := wctx.Context()
	futures := make([]engine.Future, len(group.Steps))
	for i, step := range group.Steps {
		shouldRun, err := e.evalCondition(wctx, step.Condition, run.ContextSnapshot, phase)
		if err != nil {
			return err
		}
		if !shouldRun {
			futures[i] = nil
			continue
		}
		f, err := wctx.ExecuteActivityAsync(ctx, engine.ActivityRequest{Name: activityRunStep, Input: runStepInput{
			Step: step, RunID: run.ID, ProjectID: run.ProjectID, Phase: phase, ContextSnapshot: run.ContextSnapshot,
		}})
		if err != nil {
			return err
		}
		futures[i] = f
	}

	var anyFailed bool
	var pauseReason string
	for i, f := range futures {
		step := group.Steps[i]
		if f == nil {
			e.publish(ctx, run.ProjectID, domain.EventWorkflowStepCompleted, map[string]any{"step_id": step.StepID, "skipped": true})
			continue
		}
		var outcome stepOutcome
		if err := f.Get(ctx, &outcome); err != nil {
			if !step.Optional {
				return fmt.Errorf("workflow: parallel step %s: %w", step.StepID, err)
			}
			anyFailed = true
			continue
		}
		if outcome.PauseReason != "" {
			pauseReason = outcome.PauseReason
			continue
		}
		if outcome.Failed && !step.Optional {
			anyFailed = true
		}
		if outcome.NewArtifactType != "" {
			run.ContextSnapshot[outcome.NewArtifactType] = outcome.NewArtifactID
		}
	}
	if pauseReason != "" {
		return pausedErr{reason: pauseReason}
	}
	if anyFailed {
		return fmt.Errorf("workflow: parallel_group %s: a required member failed", group.ID)
	}
	return nil
}

func (e *Engine) applyStepOutcome(ctx context.Context, run *domain.WorkflowRun, project *domain.Project, step definition.Step, outcome stepOutcome) error {
	if outcome.HaltReason != "" {
		return fmt.Errorf("workflow: halted at step %s: %s", step.StepID, outcome.HaltReason)
	}
	if outcome.PauseReason != "" {
		return pausedErr{reason: outcome.PauseReason}
	}
	if outcome.Failed {
		if step.Optional {
			e.publish(ctx, run.ProjectID, domain.EventWorkflowStepCompleted, map[string]any{"step_id": step.StepID, "skipped": true})
			return nil
		}
		return fmt.Errorf("workflow: step %s failed: %s", step.StepID, outcome.ErrorMessage)
	}
	if outcome.Skipped {
		e.publish(ctx, run.ProjectID, domain.EventWorkflowStepCompleted, map[string]any{"step_id": step.StepID, "skipped": true})
		return nil
	}
	if outcome.NewArtifactType != "" {
		run.ContextSnapshot[outcome.NewArtifactType] = outcome.NewArtifactID
	}
	if outcome.PhaseChanged != "" {
		project.CurrentPhase = outcome.PhaseChanged
		_ = e.projects.Update(ctx, *project)
		e.publish(ctx, run.ProjectID, domain.EventWorkflowPhaseChanged, map[string]any{"phase": outcome.PhaseChanged})
	}
	e.publish(ctx, run.ProjectID, domain.EventWorkflowStepCompleted, map[string]any{"step_id": step.StepID, "skipped": false})
	return nil
}

func (e *Engine) evalCondition(wctx engine.WorkflowContext, expr string, snapshot map[string]string, phase string) (bool, error) {
	if expr == "" {
		return true, nil
	}
	ctx := wctx.Context()
	var result bool
	err := wctx.ExecuteActivity(ctx, engine.ActivityRequest{Name: activityResolveCondition, Input: conditionInput{
		Expr: expr, ContextSnapshot: snapshot, Phase: phase,
	}}, &result)
	return result, err
}

// pauseRun ends this coroutine invocation with the run left in paused
// status at its current step index: no further steps run until an
// orchestrator responds to whatever HITL decision caused the pause and the
// run is explicitly re-driven (ResumeActive, or a future run coroutine
// start for the same run id).
func (e *Engine) pauseRun(ctx context.Context, run domain.WorkflowRun, reason string) (any, error) {
	run.Status = domain.RunPaused
	run.UpdatedAt = now()
	_ = e.runs.Update(ctx, run)
	if project, perr := e.projects.Get(ctx, run.ProjectID); perr == nil {
		project.Status = domain.ProjectPaused
		_ = e.projects.Update(ctx, project)
	}
	e.publish(ctx, run.ProjectID, domain.EventWorkflowPaused, map[string]any{"run_id": run.ID, "reason": reason})
	return run, nil
}

func (e *Engine) failRun(ctx context.Context, run domain.WorkflowRun, cause error) (any, error) {
	run.Status = domain.RunFailed
	run.UpdatedAt = now()
	_ = e.runs.Update(ctx, run)
	if project, perr := e.projects.Get(ctx, run.ProjectID); perr == nil {
		project.Status = domain.ProjectFailed
		_ = e.projects.Update(ctx, project)
	}
	e.publish(ctx, run.ProjectID, domain.EventWorkflowFailed, map[string]any{"run_id": run.ID, "error": cause.Error()})
	return nil, cause
}
