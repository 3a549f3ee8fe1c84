package hitl

import (
	"context"

	"github.com/geniusboywonder/bmad-core/domain"
)

// AllowAll is the permissive default PolicyEvaluator: it never denies and
// never requires pre-execution review beyond what the workflow step
// itself declares. Deployments with a phase/agent sensitivity list use
// RuleBasedPolicy instead.
type AllowAll struct{}

// Evaluate implements PolicyEvaluator.
func (AllowAll) Evaluate(context.Context, domain.Task, EvalContext) (*PolicyVerdict, error) {
	return nil, nil
}

// RuleBasedPolicy denies or flags tasks by declarative (phase, agent_type)
// rules, grounded on itsneelabh-gomind's orchestration.RuleBasedPolicy
// (ShouldApprovePlan/ShouldApproveBeforeStep sensitive-agent/sensitive-
// capability checks), adapted from plan/step routing to the
// phase/agent_type pairing this spec's PhasePolicy rule operates over.
type RuleBasedPolicy struct {
	// DeniedPhaseAgents hard-denies a task whose (phase, agent_type) pair
	// appears here; the task is marked policy_violation and a human must
	// reject or modify it before it can proceed.
	DeniedPhaseAgents map[string]map[string]bool
	// ReviewPhaseAgents requires pre_execution review (but does not deny)
	// for the listed (phase, agent_type) pairs.
	ReviewPhaseAgents map[string]map[string]bool
}

// NewRuleBasedPolicy constructs an empty RuleBasedPolicy; callers populate
// DeniedPhaseAgents/ReviewPhaseAgents directly or via the With* helpers.
func NewRuleBasedPolicy() *RuleBasedPolicy {
	return &RuleBasedPolicy{
		DeniedPhaseAgents: make(map[string]map[string]bool),
		ReviewPhaseAgents: make(map[string]map[string]bool),
	}
}

// Deny registers a hard-deny rule for (phase, agentType).
func (p *RuleBasedPolicy) Deny(phase, agentType string) *RuleBasedPolicy {
	addPair(p.DeniedPhaseAgents, phase, agentType)
	return p
}

// RequireReview registers a pre-execution review rule for (phase, agentType).
func (p *RuleBasedPolicy) RequireReview(phase, agentType string) *RuleBasedPolicy {
	addPair(p.ReviewPhaseAgents, phase, agentType)
	return p
}

func addPair(m map[string]map[string]bool, phase, agentType string) {
	if m[phase] == nil {
		m[phase] = make(map[string]bool)
	}
	m[phase][agentType] = true
}

// Evaluate implements PolicyEvaluator. A denied pair always wins over a
// review-only pair for the same (phase, agent_type), matching the
// "sensitive operations found -> require approval regardless" precedence
// of the teacher's ShouldApprovePlan.
func (p *RuleBasedPolicy) Evaluate(_ context.Context, task domain.Task, ec EvalContext) (*PolicyVerdict, error) {
	if p.DeniedPhaseAgents[ec.Phase][task.AgentType] {
		return &PolicyVerdict{Deny: true, Message: "phase/agent pair is denied by policy"}, nil
	}
	if p.ReviewPhaseAgents[ec.Phase][task.AgentType] {
		return &PolicyVerdict{RequirePreExecution: true}, nil
	}
	return nil, nil
}
