// Package inmem provides an in-process engine.Engine for tests and small
// deployments: each started workflow runs its WorkflowFunc on its own
// goroutine, with activities executed inline and signals delivered over
// buffered channels. No history is persisted, so a process restart loses
// in-flight runs; package workflow's crash-recovery path rebuilds a run's
// state from the context store and task store instead of from engine
// replay, so this is acceptable for the in-memory backend. Grounded on the
// teacher's runtime/agent/engine/inmem/engine.go goroutine-per-workflow
// model, trimmed of child-workflow and query-handler support this core's
// single-run-shape workflow does not need.
package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/geniusboywonder/bmad-core/engine"
)

// Engine is an in-memory engine.Engine.
type Engine struct {
	mu         sync.Mutex
	workflows  map[string]engine.WorkflowDefinition
	activities map[string]engine.ActivityDefinition
	runs       map[string]*run
}

// New constructs an empty in-memory Engine.
func New() *Engine {
	return &Engine{
		workflows:  make(map[string]engine.WorkflowDefinition),
		activities: make(map[string]engine.ActivityDefinition),
		runs:       make(map[string]*run),
	}
}

// RegisterWorkflow implements engine.Engine.
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("inmem: workflow definition requires Name and Handler")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[def.Name] = def
	return nil
}

// RegisterActivity implements engine.Engine.
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("inmem: activity definition requires Name and Handler")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[def.Name] = def
	return nil
}

// StartWorkflow implements engine.Engine. The workflow handler runs on a new
// goroutine; its result is delivered through the returned handle.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	e.mu.Lock()
	def, ok := e.workflows[req.Workflow]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("inmem: unknown workflow %q", req.Workflow)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		id:      req.ID,
		engine:  e,
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		signals: make(map[string]chan any),
	}
	e.mu.Lock()
	e.runs[req.ID] = r
	e.mu.Unlock()

	go func() {
		defer close(r.done)
		result, err := def.Handler(r, req.Input)
		r.mu.Lock()
		r.result, r.err = result, err
		r.mu.Unlock()
	}()

	return r, nil
}

// activity looks up a registered activity by name for a run's
// ExecuteActivity call.
func (e *Engine) activity(name string) (engine.ActivityDefinition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.activities[name]
	return def, ok
}
