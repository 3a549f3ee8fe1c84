// Package hitl implements the Human-in-the-Loop Gate (spec.md §4.4): the
// component consulted before any Task enters the working state, deciding
// whether to auto-approve, require a human decision, or halt outright.
package hitl

import (
	"context"
	"time"

	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/eventfabric"
)

// DecisionKind is the outcome of evaluate().
type DecisionKind string

const (
	AutoApprove   DecisionKind = "auto_approve"
	NeedsApproval DecisionKind = "needs_approval"
	Halt          DecisionKind = "halt"
)

// Decision is the result of evaluate(), a pure function over task and
// context consulted by the Scheduler and Workflow Engine before a task
// transitions to working.
type Decision struct {
	Kind         DecisionKind
	ApprovalKind domain.HITLKind // set when Kind == NeedsApproval
	Payload      map[string]any  // set when Kind == NeedsApproval
	Reason       string          // set when Kind == Halt
}

// EvalContext carries the information evaluate() needs beyond the task
// itself: whether the step declares a phase-gate/pre-execution requirement,
// and the policy-relevant metadata a PolicyEvaluator inspects.
type EvalContext struct {
	Phase             string
	RequiresStepGate  bool
	PreExecutionCheck bool
	StepMetadata      map[string]any
}

// PolicyEvaluator is the pluggable pre-execution/policy-violation check,
// consulted second in the decision order (after EmergencyStop). A hard
// deny produces kind=policy_violation; everything else falls through to
// the phase-gate and counter checks.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, task domain.Task, ec EvalContext) (*PolicyVerdict, error)
}

// PolicyVerdict is what a PolicyEvaluator returns. Deny == true means a
// policy_violation approval must be created; RequirePreExecution == true
// with Deny == false means a pre_execution approval must be created.
type PolicyVerdict struct {
	Deny                bool
	RequirePreExecution bool
	Message             string
}

// ApprovalStore persists HITLApprovals.
type ApprovalStore interface {
	Create(ctx context.Context, a domain.HITLApproval) (string, error)
	Get(ctx context.Context, id string) (domain.HITLApproval, error)
	// PendingForTask returns the task's single pending approval, if any
	// (correrr.CodeNotFound if none), enforcing the "at most one pending
	// per task" invariant.
	PendingForTask(ctx context.Context, taskID string) (domain.HITLApproval, error)
	Update(ctx context.Context, a domain.HITLApproval) error
	// ListExpiring returns pending approvals with ExpiresAt <= at, for
	// expire_stale's periodic sweep.
	ListExpiring(ctx context.Context, at time.Time) ([]domain.HITLApproval, error)
	// ListForProject returns every approval (any status) for projectID,
	// newest first, for the pending-list and project-summary endpoints.
	ListForProject(ctx context.Context, projectID string) ([]domain.HITLApproval, error)
}

// CounterStore persists per-project HITLCounters with atomic, linearizable
// decrement semantics: concurrent callers must observe a strictly
// decreasing, gap-free sequence of remaining values.
type CounterStore interface {
	Get(ctx context.Context, projectID string) (domain.HITLCounter, error)
	// Decrement atomically decrements remaining by 1 if remaining > 0,
	// returning the counter after the attempt and whether the decrement
	// actually happened (false when remaining was already 0).
	Decrement(ctx context.Context, projectID string) (domain.HITLCounter, bool, error)
	Refill(ctx context.Context, projectID string, value int) (domain.HITLCounter, error)
	SetEnabled(ctx context.Context, projectID string, enabled bool) (domain.HITLCounter, error)
}

// StopStore persists EmergencyStops.
type StopStore interface {
	// Active returns the EmergencyStop covering scope (project-specific or
	// global), or correrr.CodeNotFound if none is active.
	Active(ctx context.Context, projectID string) (domain.EmergencyStop, error)
	Activate(ctx context.Context, scope, reason string) (domain.EmergencyStop, error)
	Deactivate(ctx context.Context, id string) (domain.EmergencyStop, error)
}

// TaskCanceller is the narrow slice of the Scheduler that Gate.Activate
// needs: cancelling every pending, waiting_for_hitl, or working task in
// scope.
type TaskCanceller interface {
	CancelAllInScope(ctx context.Context, projectID string, reason string) error
}

// Gate implements spec.md §4.4's evaluate/create_approval/respond/
// expire_stale/activate/deactivate operations.
type Gate struct {
	approvals ApprovalStore
	counters  CounterStore
	stops     StopStore
	policy    PolicyEvaluator
	events    eventfabric.Fabric
	tasks     TaskCanceller
	ttl       time.Duration
}

// Option configures a Gate at construction.
type Option func(*Gate)

// WithPolicy overrides the default permissive PolicyEvaluator.
func WithPolicy(p PolicyEvaluator) Option { return func(g *Gate) { g.policy = p } }

// WithApprovalTTL sets the default expires_at horizon for new approvals
// that don't specify one explicitly; defaults to 24h.
func WithApprovalTTL(d time.Duration) Option { return func(g *Gate) { g.ttl = d } }

// WithTaskCanceller wires the Scheduler's cancellation hook used by
// Activate to cancel in-scope tasks.
func WithTaskCanceller(tc TaskCanceller) Option { return func(g *Gate) { g.tasks = tc } }

// NewGate constructs a Gate. approvals, counters, stops, and events are
// required; policy defaults to AllowAll.
func NewGate(approvals ApprovalStore, counters CounterStore, stops StopStore, events eventfabric.Fabric, opts ...Option) *Gate {
	g := &Gate{approvals: approvals, counters: counters, stops: stops, events: events, policy: AllowAll{}, ttl: 24 * time.Hour}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate implements the decision order of spec.md §4.4 exactly:
//  1. EmergencyStop active -> halt.
//  2. Policy deny -> needs_approval(policy_violation).
//  3. Phase-gate or pre-execution required -> needs_approval(phase_gate | pre_execution).
//  4. Counter enabled and remaining == 0 -> needs_approval(counter_expiry).
//  5. Counter enabled and remaining > 0 -> decrement, emit counter.decremented, auto_approve.
//  6. Counter disabled -> auto_approve.
func (g *Gate) Evaluate(ctx context.Context, task domain.Task, ec EvalContext) (Decision, error) {
	if stop, err := g.stops.Active(ctx, task.ProjectID); err == nil && stop.Active {
		return Decision{Kind: Halt, Reason: stop.Reason}, nil
	} else if err != nil && correrr.CodeOf(err) != correrr.CodeNotFound {
		return Decision{}, err
	}

	verdict, err := g.policy.Evaluate(ctx, task, ec)
	if err != nil {
		return Decision{}, err
	}
	if verdict != nil && verdict.Deny {
		return Decision{Kind: NeedsApproval, ApprovalKind: domain.HITLPolicyViolated, Payload: map[string]any{"message": verdict.Message}}, nil
	}

	requiresGate := ec.RequiresStepGate || (verdict != nil && verdict.RequirePreExecution) || ec.PreExecutionCheck
	if requiresGate {
		kind := domain.HITLPhaseGate
		if ec.PreExecutionCheck || (verdict != nil && verdict.RequirePreExecution) {
			kind = domain.HITLPreExecution
		}
		return Decision{Kind: NeedsApproval, ApprovalKind: kind, Payload: map[string]any{"phase": ec.Phase}}, nil
	}

	counter, err := g.counters.Get(ctx, task.ProjectID)
	if err != nil && correrr.CodeOf(err) != correrr.CodeNotFound {
		return Decision{}, err
	}
	if err == nil && counter.Enabled {
		if counter.Remaining == 0 {
			g.publish(ctx, task.ProjectID, domain.EventCounterExhausted, map[string]any{})
			return Decision{Kind: NeedsApproval, ApprovalKind: domain.HITLCounterExpiry, Payload: map[string]any{}}, nil
		}
		updated, ok, derr := g.counters.Decrement(ctx, task.ProjectID)
		if derr != nil {
			return Decision{}, derr
		}
		if ok {
			g.publish(ctx, task.ProjectID, domain.EventCounterDecremented, map[string]any{"remaining": updated.Remaining})
			if updated.Remaining == 0 {
				g.publish(ctx, task.ProjectID, domain.EventCounterExhausted, map[string]any{})
			}
			return Decision{Kind: AutoApprove}, nil
		}
		// Lost the race to another caller's decrement: treat as expired.
		g.publish(ctx, task.ProjectID, domain.EventCounterExhausted, map[string]any{})
		return Decision{Kind: NeedsApproval, ApprovalKind: domain.HITLCounterExpiry, Payload: map[string]any{}}, nil
	}

	return Decision{Kind: AutoApprove}, nil
}

// CreateApproval persists a new pending approval, emits hitl.requested,
// and returns the new approval's id. Callers are responsible for
// transitioning the task to waiting_for_hitl.
func (g *Gate) CreateApproval(ctx context.Context, task domain.Task, kind domain.HITLKind, payload map[string]any) (string, error) {
	if _, err := g.approvals.PendingForTask(ctx, task.ID); err == nil {
		return "", correrr.New(correrr.CodePolicyViolation, "task already has a pending approval")
	}
	now := time.Now().UTC()
	approval := domain.HITLApproval{
		ProjectID:      task.ProjectID,
		TaskID:         task.ID,
		AgentType:      task.AgentType,
		Kind:           kind,
		RequestPayload: payload,
		Status:         domain.HITLPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(g.ttl),
	}
	id, err := g.approvals.Create(ctx, approval)
	if err != nil {
		return "", err
	}
	g.publish(ctx, task.ProjectID, domain.EventHITLRequested, map[string]any{
		"approval_id": id, "task_id": task.ID, "kind": string(kind),
	})
	return id, nil
}

// RespondOutcome is the resolved effect of respond(), used by the
// Scheduler to decide the task's next transition.
type RespondOutcome struct {
	Approval   domain.HITLApproval
	ResumeTask bool   // action == approve or modify
	CancelTask bool   // action == reject
	ExtraInput string // non-empty when action == modify
}

// Respond implements spec.md §4.4's respond() operation, idempotent on a
// non-pending approval: a repeated call returns the already-recorded
// outcome without side effects.
func (g *Gate) Respond(ctx context.Context, approvalID string, action domain.HITLAction, userText string) (RespondOutcome, error) {
	approval, err := g.approvals.Get(ctx, approvalID)
	if err != nil {
		return RespondOutcome{}, err
	}
	if approval.Status != domain.HITLPending {
		return outcomeFor(approval), nil
	}

	now := time.Now().UTC()
	approval.Action = action
	approval.UserResponse = userText
	approval.RespondedAt = &now
	switch action {
	case domain.ActionApprove:
		approval.Status = domain.HITLApproved
	case domain.ActionModify:
		approval.Status = domain.HITLModified
	case domain.ActionReject:
		approval.Status = domain.HITLRejected
	default:
		return RespondOutcome{}, correrr.Newf(correrr.CodeValidation, "unknown hitl action %q", action)
	}
	if err := g.approvals.Update(ctx, approval); err != nil {
		return RespondOutcome{}, err
	}
	g.publish(ctx, approval.ProjectID, domain.EventHITLResponded, map[string]any{
		"approval_id": approval.ID, "action": string(action),
	})
	return outcomeFor(approval), nil
}

func outcomeFor(a domain.HITLApproval) RespondOutcome {
	switch a.Status {
	case domain.HITLApproved:
		return RespondOutcome{Approval: a, ResumeTask: true}
	case domain.HITLModified:
		return RespondOutcome{Approval: a, ResumeTask: true, ExtraInput: a.UserResponse}
	case domain.HITLRejected:
		return RespondOutcome{Approval: a, CancelTask: true}
	default:
		return RespondOutcome{Approval: a}
	}
}

// ExpireStale implements expire_stale(): transitions every pending
// approval whose ExpiresAt has passed to expired, and returns the
// expired approvals so the Scheduler can fail their tasks with
// hitl_timeout.
func (g *Gate) ExpireStale(ctx context.Context) ([]domain.HITLApproval, error) {
	now := time.Now().UTC()
	pending, err := g.approvals.ListExpiring(ctx, now)
	if err != nil {
		return nil, err
	}
	expired := make([]domain.HITLApproval, 0, len(pending))
	for _, a := range pending {
		a.Status = domain.HITLExpired
		a.RespondedAt = &now
		if err := g.approvals.Update(ctx, a); err != nil {
			continue
		}
		g.publish(ctx, a.ProjectID, domain.EventHITLExpired, map[string]any{"approval_id": a.ID})
		expired = append(expired, a)
	}
	return expired, nil
}

// Activate implements activate(): sets the EmergencyStop flag and cancels
// every pending, waiting_for_hitl, or working task in scope via the wired
// TaskCanceller.
func (g *Gate) Activate(ctx context.Context, scope, reason string) (domain.EmergencyStop, error) {
	stop, err := g.stops.Activate(ctx, scope, reason)
	if err != nil {
		return domain.EmergencyStop{}, err
	}
	if g.tasks != nil {
		if err := g.tasks.CancelAllInScope(ctx, scope, reason); err != nil {
			return stop, err
		}
	}
	g.publish(ctx, scope, domain.EventEmergencyStopActivated, map[string]any{"scope": scope, "reason": reason})
	return stop, nil
}

// Deactivate implements deactivate(). Previously cancelled tasks are never
// auto-resumed; callers must explicitly restart the workflow.
func (g *Gate) Deactivate(ctx context.Context, id string) (domain.EmergencyStop, error) {
	stop, err := g.stops.Deactivate(ctx, id)
	if err != nil {
		return domain.EmergencyStop{}, err
	}
	g.publish(ctx, stop.Scope, domain.EventEmergencyStopDeactive, map[string]any{"emergency_stop_id": id})
	return stop, nil
}

// Refill implements the counter management refill() operation.
func (g *Gate) Refill(ctx context.Context, projectID string, value int) (domain.HITLCounter, error) {
	counter, err := g.counters.Refill(ctx, projectID, value)
	if err != nil {
		return domain.HITLCounter{}, err
	}
	g.publish(ctx, projectID, domain.EventCounterRefilled, map[string]any{"value": value})
	return counter, nil
}

// SetCounterEnabled implements the counter toggle. Disabling never resets
// remaining.
func (g *Gate) SetCounterEnabled(ctx context.Context, projectID string, enabled bool) (domain.HITLCounter, error) {
	return g.counters.SetEnabled(ctx, projectID, enabled)
}

func (g *Gate) publish(ctx context.Context, projectID string, kind domain.EventKind, payload map[string]any) {
	if g.events == nil {
		return
	}
	_ = g.events.Publish(ctx, domain.Event{ProjectID: projectID, Kind: kind, Payload: payload})
}
