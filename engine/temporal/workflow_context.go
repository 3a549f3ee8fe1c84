package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/geniusboywonder/bmad-core/engine"
	"github.com/geniusboywonder/bmad-core/telemetry"
	"github.com/geniusboywonder/bmad-core/telemetry/noop"
)

// workflowContext adapts a Temporal workflow.Context into engine.WorkflowContext.
// Grounded on the teacher's temporalWorkflowContext, trimmed of child-workflow
// and typed-activity-default plumbing this core's run coroutine does not use.
type workflowContext struct {
	engine *Engine
	ctx    workflow.Context
	logger telemetry.Logger
}

func newWorkflowContext(e *Engine, ctx workflow.Context) *workflowContext {
	logger := e.logger
	if logger == nil {
		logger = noop.Logger{}
	}
	return &workflowContext{engine: e, ctx: ctx, logger: logger}
}

func (w *workflowContext) Context() context.Context { return context.Background() }

func (w *workflowContext) WorkflowID() string {
	return workflow.GetInfo(w.ctx).WorkflowExecution.ID
}

func (w *workflowContext) RunID() string {
	return workflow.GetInfo(w.ctx).WorkflowExecution.RunID
}

func (w *workflowContext) Now() time.Time { return workflow.Now(w.ctx) }

func (w *workflowContext) Logger() telemetry.Logger   { return w.logger }
func (w *workflowContext) Metrics() telemetry.Metrics { return noop.Metrics{} }

func (w *workflowContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	actCtx := w.activityContext(req)
	return workflow.ExecuteActivity(actCtx, req.Name, req.Input).Get(actCtx, result)
}

func (w *workflowContext) ExecuteActivityAsync(_ context.Context, req engine.ActivityRequest) (engine.Future, error) {
	actCtx := w.activityContext(req)
	return &future{ctx: actCtx, future: workflow.ExecuteActivity(actCtx, req.Name, req.Input)}, nil
}

func (w *workflowContext) activityContext(req engine.ActivityRequest) workflow.Context {
	opts := workflow.ActivityOptions{StartToCloseTimeout: req.Timeout}
	if opts.StartToCloseTimeout <= 0 {
		opts.StartToCloseTimeout = time.Minute
	}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		opts.RetryPolicy = rp
	}
	return workflow.WithActivityOptions(w.ctx, opts)
}

func (w *workflowContext) SignalChannel(name string) engine.SignalChannel {
	return &signalChannel{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

type future struct {
	ctx    workflow.Context
	future workflow.Future
}

func (f *future) Get(_ context.Context, result any) error { return f.future.Get(f.ctx, result) }
func (f *future) IsReady() bool                           { return f.future.IsReady() }

type signalChannel struct {
	ctx workflow.Context
	ch  workflow.ReceiveChannel
}

func (s *signalChannel) Receive(_ context.Context, dest any) error {
	s.ch.Receive(s.ctx, dest)
	return nil
}

func (s *signalChannel) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest)
}

func convertRetryPolicy(rp engine.RetryPolicy) *temporal.RetryPolicy {
	if rp.MaxAttempts == 0 && rp.InitialInterval == 0 && rp.BackoffCoefficient == 0 {
		return nil
	}
	return &temporal.RetryPolicy{
		InitialInterval:    rp.InitialInterval,
		BackoffCoefficient: rp.BackoffCoefficient,
		MaximumAttempts:    int32(rp.MaxAttempts),
	}
}
