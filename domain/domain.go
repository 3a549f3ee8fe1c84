// Package domain defines the core entities of the orchestration engine:
// projects, workflow runs, tasks, context artifacts, HITL approvals, and
// events. These types cross component boundaries (Context Store, Scheduler,
// HITL Gate, Workflow Engine, Event Fabric) and are kept free of any
// storage-backend dependency.
package domain

import "time"

type (
	// ProjectStatus is the lifecycle state of a Project.
	ProjectStatus string

	// Project is a user's end-to-end engagement with the platform. It owns
	// exactly one WorkflowRun and all Tasks, ContextArtifacts, HITLApprovals,
	// the HITLCounter, and Events scoped to it.
	Project struct {
		ID           string
		Name         string
		Status       ProjectStatus
		CurrentPhase string
		CreatedAt    time.Time
	}

	// WorkflowRunStatus is the lifecycle state of a WorkflowRun.
	WorkflowRunStatus string

	// WorkflowRun is one execution of a workflow definition for a project.
	// ContextSnapshot is persisted after every committed step so the engine
	// can resume purely from persisted state after a crash.
	WorkflowRun struct {
		ID               string
		ProjectID        string
		DefinitionID     string
		Status           WorkflowRunStatus
		CurrentStepIndex int
		ContextSnapshot  map[string]string // artifact_type -> latest artifact id
		CreatedAt        time.Time
		UpdatedAt        time.Time
	}

	// TaskStatus is the lifecycle state of a Task. Valid transitions are
	// restricted to the two DAGs described in spec.md §3, plus the
	// cancellation and rejection edges CanTransition also allows:
	//   pending -> working -> {completed, failed, cancelled}
	//   pending -> working -> waiting_for_hitl -> working -> {completed, failed, cancelled}
	//   pending -> cancelled
	//   waiting_for_hitl -> {cancelled, failed}
	TaskStatus string

	// Task is a unit of agent work executing one workflow step.
	Task struct {
		ID             string
		ProjectID      string
		WorkflowRunID  string
		StepID         string
		AgentType      string
		Status         TaskStatus
		Instructions   string
		ContextIDs     []string
		Output         []string // ids of ContextArtifacts produced
		Error          string
		AttemptCount   int
		StartedAt      *time.Time
		CompletedAt    *time.Time
		LastHeartbeat  time.Time
		CancelReason   string
		CancelledBySys bool
		// JoinID, if non-empty, names the synthetic join task this Task is a
		// parallel-group member of, for group-progress tracking.
		JoinID string
	}

	// ContextArtifact is a typed, immutable piece of content produced by an
	// agent. Metadata may carry a "supersedes" hint but the store never
	// enforces semantic versioning.
	ContextArtifact struct {
		ID           string
		ProjectID    string
		SourceAgent  string
		ArtifactType string
		Content      []byte // opaque structured payload, typically JSON
		Metadata     map[string]string
		CreatedAt    time.Time
	}

	// ArtifactSummary is the metadata-only projection returned by
	// list_for_project (no Content).
	ArtifactSummary struct {
		ID           string
		ProjectID    string
		SourceAgent  string
		ArtifactType string
		Metadata     map[string]string
		CreatedAt    time.Time
	}

	// HITLKind classifies why an approval was raised.
	HITLKind string

	// HITLStatus is the lifecycle state of a HITLApproval.
	HITLStatus string

	// HITLAction is the decision a user records against a pending approval.
	HITLAction string

	// HITLApproval is a pending or resolved human decision gating a Task.
	HITLApproval struct {
		ID             string
		ProjectID      string
		TaskID         string
		AgentType      string
		Kind           HITLKind
		RequestPayload map[string]any
		Status         HITLStatus
		Action         HITLAction
		UserResponse   string
		CreatedAt      time.Time
		ExpiresAt      time.Time
		RespondedAt    *time.Time
	}

	// HITLCounter is the per-project auto-approval budget.
	HITLCounter struct {
		ProjectID    string
		Enabled      bool
		Remaining    int
		InitialValue int
	}

	// EmergencyStop is a global or project-scoped halt flag.
	EmergencyStop struct {
		ID            string
		Scope         string // "global" or a project_id
		Active        bool
		Reason        string
		CreatedAt     time.Time
		DeactivatedAt *time.Time
	}

	// EventKind enumerates the minimum event vocabulary of spec.md §4.2.
	EventKind string

	// Event is an immutable audit record and broadcast message.
	Event struct {
		ID        string
		ProjectID string
		Kind      EventKind
		Payload   map[string]any
		Timestamp time.Time
	}
)

// Project statuses.
const (
	ProjectActive    ProjectStatus = "active"
	ProjectPaused    ProjectStatus = "paused"
	ProjectCompleted ProjectStatus = "completed"
	ProjectFailed    ProjectStatus = "failed"
)

// WorkflowRun statuses.
const (
	RunPending   WorkflowRunStatus = "pending"
	RunRunning   WorkflowRunStatus = "running"
	RunPaused    WorkflowRunStatus = "paused"
	RunCompleted WorkflowRunStatus = "completed"
	RunFailed    WorkflowRunStatus = "failed"
)

// Task statuses.
const (
	TaskPending        TaskStatus = "pending"
	TaskWorking        TaskStatus = "working"
	TaskWaitingForHITL TaskStatus = "waiting_for_hitl"
	TaskCompleted      TaskStatus = "completed"
	TaskFailed         TaskStatus = "failed"
	TaskCancelled      TaskStatus = "cancelled"
)

// HITL kinds.
const (
	HITLPreExecution   HITLKind = "pre_execution"
	HITLPhaseGate      HITLKind = "phase_gate"
	HITLCounterExpiry  HITLKind = "counter_expiry"
	HITLPolicyViolated HITLKind = "policy_violation"
)

// HITL statuses.
const (
	HITLPending  HITLStatus = "pending"
	HITLApproved HITLStatus = "approved"
	HITLRejected HITLStatus = "rejected"
	HITLModified HITLStatus = "modified"
	HITLExpired  HITLStatus = "expired"
)

// HITL actions, as accepted by respond().
const (
	ActionApprove HITLAction = "approve"
	ActionReject  HITLAction = "reject"
	ActionModify  HITLAction = "modify"
)

// Event kinds, the minimum set from spec.md §4.2.
const (
	EventProjectCreated         EventKind = "project.created"
	EventWorkflowStarted        EventKind = "workflow.started"
	EventWorkflowStepStarted    EventKind = "workflow.step_started"
	EventWorkflowStepCompleted  EventKind = "workflow.step_completed"
	EventWorkflowCompleted      EventKind = "workflow.completed"
	EventWorkflowFailed         EventKind = "workflow.failed"
	EventWorkflowPaused         EventKind = "workflow.paused"
	EventWorkflowResumed        EventKind = "workflow.resumed"
	EventWorkflowPhaseChanged   EventKind = "workflow.phase_changed"
	EventTaskCreated            EventKind = "task.created"
	EventTaskStarted            EventKind = "task.started"
	EventTaskProgress           EventKind = "task.progress"
	EventTaskCompleted          EventKind = "task.completed"
	EventTaskFailed             EventKind = "task.failed"
	EventTaskCancelled          EventKind = "task.cancelled"
	EventArtifactCreated        EventKind = "artifact.created"
	EventHITLRequested          EventKind = "hitl.requested"
	EventHITLResponded          EventKind = "hitl.responded"
	EventHITLExpired            EventKind = "hitl.expired"
	EventEmergencyStopActivated EventKind = "emergency_stop.activated"
	EventEmergencyStopDeactive  EventKind = "emergency_stop.deactivated"
	EventCounterDecremented     EventKind = "counter.decremented"
	EventCounterExhausted       EventKind = "counter.exhausted"
	EventCounterRefilled        EventKind = "counter.refilled"
	EventPolicyViolation        EventKind = "policy.violation"
)

// IsTerminal reports whether s is one of the terminal Task states.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal edge of the
// Task state machine listed on TaskStatus; the empty status (a task not yet
// created) may only move to pending.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case "":
		return next == TaskPending
	case TaskPending:
		return next == TaskWorking || next == TaskCancelled
	case TaskWorking:
		return next == TaskCompleted || next == TaskFailed || next == TaskCancelled || next == TaskWaitingForHITL
	case TaskWaitingForHITL:
		return next == TaskWorking || next == TaskCancelled || next == TaskFailed
	default:
		return false
	}
}
