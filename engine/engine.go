// Package engine defines a pluggable durable-execution abstraction so the
// Workflow Engine's coroutine-per-run model (spec.md §5) can run in-process
// for tests and small deployments or on Temporal for production durability,
// without the workflow execution algorithm in package workflow knowing
// which backend is underneath. Grounded on the teacher's
// runtime/agent/engine/engine.go Engine/WorkflowContext/Future abstraction,
// narrowed to the single workflow shape this core drives (one WorkflowRun
// per coroutine, no child workflows).
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/geniusboywonder/bmad-core/telemetry"
)

// Sentinel errors a WorkflowHandle implementation should surface when a
// Signal or Cancel targets a run the backend can no longer act on.
var (
	// ErrWorkflowNotFound means the backend has no record of the run (wrong
	// ID, or its history has been purged by retention policy).
	ErrWorkflowNotFound = errors.New("engine: workflow not found")
	// ErrWorkflowCompleted means the run exists but has already reached a
	// terminal state, so signals and cancellation no longer apply.
	ErrWorkflowCompleted = errors.New("engine: workflow already completed")
)

type (
	// Engine registers and starts the one workflow function this core runs
	// (package workflow's run coroutine) and the activities it calls out to
	// (Scheduler submit/await, HITL evaluate/await, Context Store reads).
	Engine interface {
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error
		RegisterActivity(ctx context.Context, def ActivityDefinition) error
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is the run coroutine entry point. It must be
	// deterministic under replay: it should produce the same execution
	// sequence given the same inputs and activity results, since Temporal
	// replays workflow code from history on worker restart.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to a run coroutine.
	// Implementations must ensure deterministic replay: ExecuteActivity and
	// SignalChannel are the only allowed points of non-determinism (their
	// results are recorded and replayed from history). Reading system time
	// or calling packages with hidden randomness from workflow code violates
	// this and must go through Now() or an activity instead.
	WorkflowContext interface {
		Context() context.Context
		WorkflowID() string
		RunID() string
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)
		SignalChannel(name string) SignalChannel
		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Now() time.Time
	}

	// Future represents a pending activity result.
	Future interface {
		Get(ctx context.Context, result any) error
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler with optional
	// retry/timeout defaults.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc performs a single side-effecting step (submit a task,
	// read an artifact, evaluate a HITL gate) on behalf of a run coroutine.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry and timeout behavior for an activity.
	ActivityOptions struct {
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch a run coroutine.
	WorkflowStartRequest struct {
		ID          string
		Workflow    string
		TaskQueue   string
		Input       any
		RetryPolicy RetryPolicy
	}

	// ActivityRequest contains what is needed to schedule an activity call
	// from within a run coroutine.
	ActivityRequest struct {
		Name        string
		Input       any
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle lets callers wait on, signal, or cancel a started run.
	WorkflowHandle interface {
		Wait(ctx context.Context, result any) error
		Signal(ctx context.Context, name string, payload any) error
		Cancel(ctx context.Context) error
	}

	// RetryPolicy defines retry semantics shared by workflows and
	// activities. Zero-valued fields mean the engine uses its defaults.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel exposes asynchronous signal delivery (a hitl.responded
	// event matching this run's outstanding approval, an emergency-stop
	// notice) in an engine-agnostic way.
	SignalChannel interface {
		Receive(ctx context.Context, dest any) error
		ReceiveAsync(dest any) bool
	}
)

// Signal names used by package workflow to drive pause/resume.
const (
	SignalHITLResponded = "hitl.responded"
	SignalEmergencyStop = "emergency_stop.activated"
	SignalTaskTerminal  = "task.terminal"
)
