// Package temporal adapts engine.Engine onto Temporal, giving the Workflow
// Execution Engine durable, replay-safe execution in production while
// engine/inmem serves local runs and tests. Grounded on the teacher's
// runtime/agent/engine/temporal/engine.go client/worker lifecycle and
// registration pattern, trimmed of goa-ai's typed planner/tool/hook
// activity plumbing and child-workflow routing, which this core's single
// WorkflowRun-per-run shape does not need.
package temporal

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/geniusboywonder/bmad-core/engine"
	"github.com/geniusboywonder/bmad-core/telemetry"
)

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, ClientOptions is
	// used to construct one lazily.
	Client client.Client

	// ClientOptions constructs a client when Client is nil.
	ClientOptions *client.Options

	// TaskQueue is the default queue used when a workflow or activity
	// definition omits one. Required.
	TaskQueue string

	// WorkerOptions is forwarded to worker.New for the default queue.
	WorkerOptions worker.Options

	Logger telemetry.Logger
}

// Engine implements engine.Engine using Temporal as the durable execution
// backend. One worker is created for the default task queue; workflows and
// activities register against it.
type Engine struct {
	client      client.Client
	closeClient bool
	taskQueue   string
	logger      telemetry.Logger

	mu            sync.Mutex
	w             worker.Worker
	started       bool
	workflowNames map[string]struct{}
}

// New constructs a Temporal engine adapter and the worker for its default
// task queue. The worker is started by the first StartWorkflow call.
func New(opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal engine: task queue is required")
	}
	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("temporal engine: client options required when Client is nil")
		}
		var err error
		cli, err = client.NewLazyClient(*opts.ClientOptions)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
		closeClient = true
	}

	e := &Engine{
		client:        cli,
		closeClient:   closeClient,
		taskQueue:     opts.TaskQueue,
		logger:        opts.Logger,
		workflowNames: make(map[string]struct{}),
	}
	e.w = worker.New(cli, opts.TaskQueue, opts.WorkerOptions)
	return e, nil
}

// RegisterWorkflow implements engine.Engine. The handler is wrapped so a
// workflow.Context becomes an engine.WorkflowContext before def.Handler runs,
// keeping package workflow's run coroutine engine-agnostic.
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("temporal engine: workflow definition requires Name and Handler")
	}
	e.w.RegisterWorkflowWithOptions(
		func(tctx workflow.Context, input any) (any, error) {
			return def.Handler(newWorkflowContext(e, tctx), input)
		},
		workflow.RegisterOptions{Name: def.Name},
	)
	e.mu.Lock()
	e.workflowNames[def.Name] = struct{}{}
	e.mu.Unlock()
	return nil
}

// RegisterActivity implements engine.Engine.
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("temporal engine: activity definition requires Name and Handler")
	}
	e.w.RegisterActivityWithOptions(
		func(actx context.Context, input any) (any, error) { return def.Handler(actx, input) },
		activity.RegisterOptions{Name: def.Name},
	)
	return nil
}

// StartWorkflow implements engine.Engine. Workers are started lazily on
// first call.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	if req.Workflow == "" {
		return nil, fmt.Errorf("temporal engine: workflow name is required")
	}
	e.mu.Lock()
	if _, ok := e.workflowNames[req.Workflow]; !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("temporal engine: workflow %q not registered", req.Workflow)
	}
	if !e.started {
		if err := e.w.Start(); err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("temporal engine: start worker: %w", err)
		}
		e.started = true
	}
	e.mu.Unlock()

	queue := req.TaskQueue
	if queue == "" {
		queue = e.taskQueue
	}
	startOpts := client.StartWorkflowOptions{ID: req.ID, TaskQueue: queue}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		startOpts.RetryPolicy = rp
	}

	run, err := e.client.ExecuteWorkflow(ctx, startOpts, req.Workflow, req.Input)
	if err != nil {
		return nil, err
	}
	return &workflowHandle{run: run, client: e.client}, nil
}

// Stop gracefully stops the worker and, if this Engine created the client,
// closes it.
func (e *Engine) Stop() {
	e.w.Stop()
	if e.closeClient {
		e.client.Close()
	}
}
