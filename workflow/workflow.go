// Package workflow implements the Workflow Execution Engine (spec.md §4.5):
// interprets a declarative Definition and drives a WorkflowRun to
// completion by delegating to the Scheduler, HITL Gate, and Context Store,
// running one logical coroutine per active run on top of a pluggable
// engine.Engine (in-memory for tests, Temporal for production durability).
// Grounded on the itsneelabh-gomind orchestration.WorkflowEngine's
// definition/execution split, narrowed from its general dependency-graph
// executor to the spec's simpler ordered-steps-plus-parallel-groups model,
// and on the teacher's engine.Engine for the coroutine-per-run host.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/geniusboywonder/bmad-core/contextstore"
	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/engine"
	"github.com/geniusboywonder/bmad-core/eventfabric"
	"github.com/geniusboywonder/bmad-core/hitl"
	"github.com/geniusboywonder/bmad-core/telemetry"
	"github.com/geniusboywonder/bmad-core/workflow/definition"
)

// Definition re-exports the declarative workflow shape so callers of this
// package don't need a separate import for the common case.
type Definition = definition.Definition

// WorkflowName is the single logical workflow registered with the host
// engine.Engine; every WorkflowRun executes through it, parameterized by
// runInput.
const WorkflowName = "sdlc.workflow_run"

const (
	activityResolveCondition = "workflow.resolve_condition"
	activityRunStep          = "workflow.run_step"
)

// SchedulerAPI is the narrow Scheduler slice the Engine needs: submitting a
// single task or a parallel group, holding a task while its pre-execution
// HITL approval is outstanding, and cancelling one outright. Signatures
// match scheduler.Scheduler's methods of the same names exactly (structural
// typing — no import of package scheduler required).
type SchedulerAPI interface {
	Submit(ctx context.Context, t domain.Task) (string, error)
	SubmitGroup(ctx context.Context, joinID string, members []domain.Task) ([]string, error)
	// CreateHeld persists a task pending HITL approval without enqueueing
	// it for execution.
	CreateHeld(ctx context.Context, t domain.Task) (string, error)
	// SubmitHeld releases a task created via CreateHeld for worker pickup
	// once its approval clears.
	SubmitHeld(ctx context.Context, t domain.Task) error
	// Cancel transitions a task to cancelled, used when its pre-execution
	// approval is rejected or expires.
	Cancel(ctx context.Context, taskID, reason string) error
}

// HITLAPI is the narrow HITL Gate slice the Engine needs: the same
// evaluate/create_approval pair the Scheduler would use if it gated tasks
// itself. The Workflow Engine gates instead, per spec.md §4.5 step 2b/2c.
type HITLAPI interface {
	Evaluate(ctx context.Context, task domain.Task, ec hitl.EvalContext) (hitl.Decision, error)
	CreateApproval(ctx context.Context, task domain.Task, kind domain.HITLKind, payload map[string]any) (string, error)
}

// ArtifactQuerier is the narrow Context Store slice the Engine needs:
// resolving a step's requires into concrete context_ids and reading
// artifact content for condition evaluation. Both methods have the same
// signatures as their contextstore.Store counterparts, so any
// contextstore.Store implementation satisfies it directly.
type ArtifactQuerier interface {
	Query(ctx context.Context, projectID string, filter contextstore.Filter) ([]domain.ContextArtifact, error)
	Get(ctx context.Context, id string) (domain.ContextArtifact, error)
}

// Engine drives WorkflowRuns. It registers itself with a host engine.Engine
// (in-memory or Temporal) and exposes StartRun for callers (typically
// package httpapi) to kick off a new run.
type Engine struct {
	host      engine.Engine
	runs      RunStore
	projects  ProjectStore
	defs      DefinitionStore
	scheduler SchedulerAPI
	hitlGate  HITLAPI
	approvals hitl.ApprovalStore
	artifacts ArtifactQuerier
	events    eventfabric.Fabric
	logger    telemetry.Logger

	taskQueue string
}

// Option configures an Engine at construction.
type Option func(*Engine)

func WithLogger(l telemetry.Logger) Option { return func(e *Engine) { e.logger = l } }
func WithTaskQueue(q string) Option        { return func(e *Engine) { e.taskQueue = q } }

// New constructs an Engine. All arguments except opts are required.
func New(host engine.Engine, runs RunStore, projects ProjectStore, defs DefinitionStore,
	scheduler SchedulerAPI, hitlGate HITLAPI, approvals hitl.ApprovalStore, artifacts ArtifactQuerier,
	events eventfabric.Fabric, opts ...Option) *Engine {
	e := &Engine{
		host:      host,
		runs:      runs,
		projects:  projects,
		defs:      defs,
		scheduler: scheduler,
		hitlGate:  hitlGate,
		approvals: approvals,
		artifacts: artifacts,
		events:    events,
		taskQueue: "sdlc-workflows",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterHandlers registers the workflow function and its activities with
// the host engine. Must be called once before StartRun or ResumeActive.
func (e *Engine) RegisterHandlers(ctx context.Context) error {
	if err := e.host.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:      WorkflowName,
		TaskQueue: e.taskQueue,
		Handler:   e.runWorkflow,
	}); err != nil {
		return fmt.Errorf("workflow: register workflow: %w", err)
	}
	if err := e.host.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    activityResolveCondition,
		Handler: e.activityResolveCondition,
	}); err != nil {
		return fmt.Errorf("workflow: register activity %s: %w", activityResolveCondition, err)
	}
	if err := e.host.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    activityRunStep,
		Handler: e.activityRunStep,
		Options: engine.ActivityOptions{Timeout: 24 * time.Hour}, // may block on HITL/task completion
	}); err != nil {
		return fmt.Errorf("workflow: register activity %s: %w", activityRunStep, err)
	}
	return nil
}

// runInput is the serializable input a WorkflowRun coroutine receives from
// StartRun or a crash-recovery ResumeActive call.
type runInput struct {
	RunID        string
	ProjectID    string
	DefinitionID string
}

// StartRun creates a Project (if projectID is empty, a new one) and a
// WorkflowRun for definitionID, then starts the run coroutine on the host
// engine. It returns the new run's id.
func (e *Engine) StartRun(ctx context.Context, projectID, projectName, definitionID string) (string, error) {
	if projectID == "" {
		id, err := e.projects.Create(ctx, domain.Project{Name: projectName, Status: domain.ProjectActive, CreatedAt: now()})
		if err != nil {
			return "", fmt.Errorf("workflow: create project: %w", err)
		}
		projectID = id
	}
	if _, err := e.defs.Get(ctx, definitionID); err != nil {
		return "", fmt.Errorf("workflow: load definition %s: %w", definitionID, err)
	}

	run := domain.WorkflowRun{
		ProjectID:       projectID,
		DefinitionID:    definitionID,
		Status:          domain.RunPending,
		ContextSnapshot: map[string]string{},
		CreatedAt:       now(),
		UpdatedAt:       now(),
	}
	runID, err := e.runs.Create(ctx, run)
	if err != nil {
		return "", fmt.Errorf("workflow: create run: %w", err)
	}

	return runID, e.start(ctx, runID, projectID, definitionID)
}

func (e *Engine) start(ctx context.Context, runID, projectID, definitionID string) error {
	_, err := e.host.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:        runID,
		Workflow:  WorkflowName,
		TaskQueue: e.taskQueue,
		Input:     runInput{RunID: runID, ProjectID: projectID, DefinitionID: definitionID},
	})
	return err
}

// ResumeActive implements the crash-recovery half of spec.md §4.5: on
// startup, every run in running or paused status is re-driven from its
// persisted current_step_index. Because the in-memory host loses all
// in-flight coroutines on restart (and a fresh Temporal worker has no
// local memory of which workflows to re-attach to either), recovery here
// means starting a fresh coroutine with the same run id; runWorkflow
// always begins by reading the persisted WorkflowRun rather than trusting
// its input, so it picks up exactly where persisted state says it left
// off.
func (e *Engine) ResumeActive(ctx context.Context) error {
	runs, err := e.runs.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("workflow: list active runs: %w", err)
	}
	for _, r := range runs {
		if err := e.start(ctx, r.ID, r.ProjectID, r.DefinitionID); err != nil {
			if e.logger != nil {
				e.logger.Error(ctx, "workflow: resume run failed", "run_id", r.ID, "error", err.Error())
			}
		}
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, projectID string, kind domain.EventKind, payload map[string]any) {
	_ = e.events.Publish(ctx, domain.Event{ProjectID: projectID, Kind: kind, Payload: payload, Timestamp: now()})
}
