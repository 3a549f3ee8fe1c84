package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geniusboywonder/bmad-core/agentexecutor/noop"
	contextstoreinmem "github.com/geniusboywonder/bmad-core/contextstore/inmem"
	"github.com/geniusboywonder/bmad-core/domain"
	engineinmem "github.com/geniusboywonder/bmad-core/engine/inmem"
	"github.com/geniusboywonder/bmad-core/eventfabric"
	"github.com/geniusboywonder/bmad-core/hitl"
	hitlinmem "github.com/geniusboywonder/bmad-core/hitl/inmem"
	"github.com/geniusboywonder/bmad-core/scheduler"
	schedulerinmem "github.com/geniusboywonder/bmad-core/scheduler/inmem"
	"github.com/geniusboywonder/bmad-core/workflow"
	"github.com/geniusboywonder/bmad-core/workflow/definition"
	workflowinmem "github.com/geniusboywonder/bmad-core/workflow/inmem"
)

const testDefinitionYAML = `
id: greenfield
name: Greenfield Development
steps:
  - step_id: plan_gate
    phase: planning
  - step_id: build
    agent_type: coder
    creates: build_output
`

// watchAndApprove subscribes across every project before any run exists and
// auto-responds to the first hitl.requested event it sees, returning a
// channel closed once that happens. Subscribing before StartRun avoids a
// race against the workflow coroutine reaching the gate first; an empty
// Scope matches every project, which is fine since this test drives exactly
// one.
func watchAndApprove(t *testing.T, bus *eventfabric.Bus, gate *hitl.Gate, action domain.HITLAction) (<-chan struct{}, func()) {
	t.Helper()
	done := make(chan struct{})
	sub, err := bus.Subscribe(eventfabric.Scope{}, 4, func(ctx context.Context, e domain.Event) {
		if e.Kind != domain.EventHITLRequested {
			return
		}
		approvalID, _ := e.Payload["approval_id"].(string)
		if _, rerr := gate.Respond(ctx, approvalID, action, ""); rerr != nil {
			t.Errorf("respond: %v", rerr)
		}
		close(done)
	})
	require.NoError(t, err)
	return done, sub.Close
}

func TestWorkflowEngineDrivesRunToCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := eventfabric.NewBus()

	tasks := schedulerinmem.NewTaskStore()
	queue := schedulerinmem.NewQueue()
	artifacts := contextstoreinmem.New(nil)
	executor := noop.New("build_output")
	sched := scheduler.New(tasks, queue, artifacts, executor, events)
	go sched.Run(ctx)

	approvals := hitlinmem.NewApprovalStore()
	counters := hitlinmem.NewCounterStore()
	stops := hitlinmem.NewStopStore()
	gate := hitl.NewGate(approvals, counters, stops, events)

	host := engineinmem.New()
	runs := workflowinmem.NewRunStore()
	projects := workflowinmem.NewProjectStore()
	defs := workflowinmem.NewDefinitionStore()
	def, err := definition.Parse([]byte(testDefinitionYAML))
	require.NoError(t, err)
	defs.Register(def)

	eng := workflow.New(host, runs, projects, defs, sched, gate, approvals, artifacts, events)
	require.NoError(t, eng.RegisterHandlers(ctx))

	approved, closeSub := watchAndApprove(t, events, gate, domain.ActionApprove)
	defer closeSub()

	runID, err := eng.StartRun(ctx, "", "greenfield demo", "greenfield")
	require.NoError(t, err)

	run, err := runs.Get(ctx, runID)
	require.NoError(t, err)
	projectID := run.ProjectID

	select {
	case <-approved:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for hitl.requested event")
	}

	require.Eventually(t, func() bool {
		r, err := runs.Get(ctx, runID)
		return err == nil && r.Status == domain.RunCompleted
	}, 5*time.Second, 20*time.Millisecond)

	project, err := projects.Get(ctx, projectID)
	require.NoError(t, err)
	require.Equal(t, domain.ProjectCompleted, project.Status)
	require.Equal(t, "planning", project.CurrentPhase)
}
