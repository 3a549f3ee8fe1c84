package hitl_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/eventfabric"
	"github.com/geniusboywonder/bmad-core/hitl"
	"github.com/geniusboywonder/bmad-core/hitl/inmem"
)

func newGate(t *testing.T, counterRemaining int, counterEnabled bool) (*hitl.Gate, *inmem.CounterStore) {
	t.Helper()
	approvals := inmem.NewApprovalStore()
	counters := inmem.NewCounterStore()
	stops := inmem.NewStopStore()
	counters.EnsureProject("p1", counterRemaining, counterEnabled)
	gate := hitl.NewGate(approvals, counters, stops, eventfabric.NewBus())
	return gate, counters
}

func TestEvaluateHaltsOnActiveEmergencyStop(t *testing.T) {
	approvals := inmem.NewApprovalStore()
	counters := inmem.NewCounterStore()
	stops := inmem.NewStopStore()
	gate := hitl.NewGate(approvals, counters, stops, eventfabric.NewBus())

	_, err := gate.Activate(context.Background(), "p1", "incident")
	require.NoError(t, err)

	decision, err := gate.Evaluate(context.Background(), domain.Task{ProjectID: "p1"}, hitl.EvalContext{})
	require.NoError(t, err)
	require.Equal(t, hitl.Halt, decision.Kind)
}

func TestEvaluateCounterAutoApprovesAndDecrements(t *testing.T) {
	gate, counters := newGate(t, 2, true)

	decision, err := gate.Evaluate(context.Background(), domain.Task{ProjectID: "p1"}, hitl.EvalContext{})
	require.NoError(t, err)
	require.Equal(t, hitl.AutoApprove, decision.Kind)

	counter, err := counters.Get(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 1, counter.Remaining)
}

func TestEvaluateCounterExhaustedNeedsApproval(t *testing.T) {
	gate, _ := newGate(t, 0, true)

	decision, err := gate.Evaluate(context.Background(), domain.Task{ProjectID: "p1"}, hitl.EvalContext{})
	require.NoError(t, err)
	require.Equal(t, hitl.NeedsApproval, decision.Kind)
	require.Equal(t, domain.HITLCounterExpiry, decision.ApprovalKind)
}

func TestEvaluateCounterDisabledAutoApproves(t *testing.T) {
	gate, _ := newGate(t, 0, false)

	decision, err := gate.Evaluate(context.Background(), domain.Task{ProjectID: "p1"}, hitl.EvalContext{})
	require.NoError(t, err)
	require.Equal(t, hitl.AutoApprove, decision.Kind)
}

func TestRespondIsIdempotentOnNonPendingApproval(t *testing.T) {
	gate, _ := newGate(t, 0, false)

	id, err := gate.CreateApproval(context.Background(), domain.Task{ID: "t1", ProjectID: "p1"}, domain.HITLPhaseGate, nil)
	require.NoError(t, err)

	first, err := gate.Respond(context.Background(), id, domain.ActionApprove, "")
	require.NoError(t, err)
	require.True(t, first.ResumeTask)

	second, err := gate.Respond(context.Background(), id, domain.ActionReject, "")
	require.NoError(t, err)
	require.Equal(t, first.Approval.Status, second.Approval.Status, "repeated respond must not change an already-resolved approval")
}

func TestCreateApprovalRejectsSecondPendingForSameTask(t *testing.T) {
	gate, _ := newGate(t, 0, false)
	task := domain.Task{ID: "t1", ProjectID: "p1"}

	_, err := gate.CreateApproval(context.Background(), task, domain.HITLPhaseGate, nil)
	require.NoError(t, err)

	_, err = gate.CreateApproval(context.Background(), task, domain.HITLPhaseGate, nil)
	require.Error(t, err)
}
