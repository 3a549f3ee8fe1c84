// Package scheduler implements the Scheduler (spec.md §4.3): executes
// agent tasks off the request path with retries, soft attempt timeouts,
// progress heartbeats, and crash recovery. A pool of workers consumes from
// a durable per-project queue, so one project's retries or a slow
// executor call never blocks another project's tasks.
package scheduler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/eventfabric"
	"github.com/geniusboywonder/bmad-core/telemetry"
)

// Default tuning values from spec.md §4.3.
const (
	DefaultAttemptTimeout    = 5 * time.Minute
	DefaultCancelGrace       = 30 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultOrphanThreshold   = 2 * time.Minute
	DefaultMaxRetries        = 3 // 1s, 2s, 4s backoff, then give up
)

// backoffSchedule is the exponential backoff sequence for transient
// failures: 1s, 2s, 4s, then give up, per spec.md §4.3.
var backoffSchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// AgentExecutor is the injected capability the Scheduler calls to run a
// task's instructions. The Scheduler never interprets instructions
// itself; it loads ContextArtifacts by ContextIDs, calls Execute, and
// writes the returned outputs back to the Context Store.
type AgentExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
	// Cancel requests cooperative cancellation of an in-flight call for
	// taskID; implementations that cannot interrupt mid-call may no-op and
	// rely on the Scheduler's grace-period timeout.
	Cancel(ctx context.Context, taskID string) error
}

// ExecuteRequest carries everything an AgentExecutor needs: the resolved
// artifact contents (not just ids), so the executor has no Context Store
// dependency of its own.
type ExecuteRequest struct {
	TaskID       string
	AgentType    string
	Instructions string
	Inputs       []domain.ContextArtifact
	AttemptCount int
	// Progress, if non-nil, lets a long-running executor emit task.progress
	// events itself; the Scheduler's own heartbeat ticker covers executors
	// that don't.
	Progress func(message string)
}

// ExecuteResult is what Execute returns on success: zero or more artifacts
// to persist as the task's Output.
type ExecuteResult struct {
	Artifacts []domain.ContextArtifact
}

// ArtifactStore is the narrow Context Store slice the Scheduler needs:
// resolving inputs and persisting outputs.
type ArtifactStore interface {
	GetMany(ctx context.Context, ids []string) ([]domain.ContextArtifact, error)
	Put(ctx context.Context, a domain.ContextArtifact) (string, error)
}

// TaskStore persists Task records and their state-machine transitions.
type TaskStore interface {
	Create(ctx context.Context, t domain.Task) (string, error)
	Get(ctx context.Context, id string) (domain.Task, error)
	Update(ctx context.Context, t domain.Task) error
	// ListStaleWorking returns tasks in status=working whose LastHeartbeat
	// is older than threshold, for crash-recovery orphan detection.
	ListStaleWorking(ctx context.Context, threshold time.Time) ([]domain.Task, error)
	// ListByStatusInProject returns all tasks for projectID in any of the
	// given statuses, for EmergencyStop.Activate cancellation.
	ListByStatusInProject(ctx context.Context, projectID string, statuses ...domain.TaskStatus) ([]domain.Task, error)
}

// ProjectStatusChecker is the narrow Project-state slice submit() needs to
// enforce "task must reference an existing Project in non-terminal status".
type ProjectStatusChecker interface {
	IsTerminal(ctx context.Context, projectID string) (bool, error)
}

// EmergencyStopChecker is consulted by submit() to fail-fast with Halted.
type EmergencyStopChecker interface {
	IsActive(ctx context.Context, projectID string) (bool, error)
}

// Queue is a durable, per-project FIFO of pending task ids.
type Queue interface {
	Enqueue(ctx context.Context, projectID, taskID string) error
	// Dequeue blocks up to timeout for the next task id from any project
	// this worker should service, or returns ok=false on timeout.
	Dequeue(ctx context.Context, timeout time.Duration) (projectID, taskID string, ok bool, err error)
}

// Scheduler implements spec.md §4.3's submit/cancel/on_event contract.
type Scheduler struct {
	tasks    TaskStore
	queue    Queue
	artifact ArtifactStore
	executor AgentExecutor
	projects ProjectStatusChecker
	stops    EmergencyStopChecker
	events   eventfabric.Fabric
	logger   telemetry.Logger
	metrics  telemetry.Metrics
	limiter  *rate.Limiter

	workerPoolSize    int
	attemptTimeout    time.Duration
	cancelGrace       time.Duration
	heartbeatInterval time.Duration
	orphanThreshold   time.Duration
	maxRetries        int

	mu        sync.Mutex
	cancelled map[string]context.CancelFunc
	wg        sync.WaitGroup
	joins     map[string]*childTracker
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

func WithWorkerPoolSize(n int) Option           { return func(s *Scheduler) { s.workerPoolSize = n } }
func WithAttemptTimeout(d time.Duration) Option { return func(s *Scheduler) { s.attemptTimeout = d } }
func WithCancelGrace(d time.Duration) Option    { return func(s *Scheduler) { s.cancelGrace = d } }
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.heartbeatInterval = d }
}
func WithOrphanThreshold(d time.Duration) Option { return func(s *Scheduler) { s.orphanThreshold = d } }
func WithMaxRetries(n int) Option                { return func(s *Scheduler) { s.maxRetries = n } }
func WithRateLimiter(l *rate.Limiter) Option     { return func(s *Scheduler) { s.limiter = l } }
func WithLogger(l telemetry.Logger) Option       { return func(s *Scheduler) { s.logger = l } }
func WithMetrics(m telemetry.Metrics) Option     { return func(s *Scheduler) { s.metrics = m } }
func WithProjectStatusChecker(p ProjectStatusChecker) Option {
	return func(s *Scheduler) { s.projects = p }
}
func WithEmergencyStopChecker(c EmergencyStopChecker) Option {
	return func(s *Scheduler) { s.stops = c }
}

// New constructs a Scheduler. tasks, queue, artifact, executor, and events
// are required.
func New(tasks TaskStore, queue Queue, artifact ArtifactStore, executor AgentExecutor, events eventfabric.Fabric, opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:             tasks,
		queue:             queue,
		artifact:          artifact,
		executor:          executor,
		events:            events,
		workerPoolSize:    runtime.NumCPU() * 2,
		attemptTimeout:    DefaultAttemptTimeout,
		cancelGrace:       DefaultCancelGrace,
		heartbeatInterval: DefaultHeartbeatInterval,
		orphanThreshold:   DefaultOrphanThreshold,
		maxRetries:        DefaultMaxRetries,
		cancelled:         make(map[string]context.CancelFunc),
		joins:             make(map[string]*childTracker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit implements submit(): enqueues a new pending task.
func (s *Scheduler) Submit(ctx context.Context, t domain.Task) (string, error) {
	if s.stops != nil {
		if active, err := s.stops.IsActive(ctx, t.ProjectID); err != nil {
			return "", err
		} else if active {
			return "", correrr.New(correrr.CodeHalted, "project is covered by an active emergency stop")
		}
	}
	if s.projects != nil {
		if terminal, err := s.projects.IsTerminal(ctx, t.ProjectID); err != nil {
			return "", err
		} else if terminal {
			return "", correrr.New(correrr.CodeAlreadyTerminal, "project is in a terminal status")
		}
	}

	t.Status = domain.TaskPending
	t.LastHeartbeat = time.Now().UTC()
	id, err := s.tasks.Create(ctx, t)
	if err != nil {
		return "", err
	}
	if err := s.queue.Enqueue(ctx, t.ProjectID, id); err != nil {
		return "", correrr.Wrap(correrr.CodeQueueFull, err)
	}
	s.publish(ctx, t.ProjectID, domain.EventTaskCreated, map[string]any{"task_id": id})
	return id, nil
}

// SubmitGroup submits a parallel group of tasks sharing joinID as a single
// unit: members without an id get one here, a childTracker is registered
// for those ids before any member is enqueued, and then every member is
// created and enqueued, so each member's terminal transition reports
// group-level task.progress on joinID until the whole group resolves.
func (s *Scheduler) SubmitGroup(ctx context.Context, joinID string, members []domain.Task) ([]string, error) {
	ids := make([]string, 0, len(members))
	memberIDs := make([]string, len(members))
	for i := range members {
		members[i].JoinID = joinID
		if members[i].ID == "" {
			members[i].ID = uuid.NewString()
		}
		memberIDs[i] = members[i].ID
	}

	s.mu.Lock()
	s.joins[joinID] = newChildTracker(joinID, memberIDs)
	s.mu.Unlock()

	for _, m := range members {
		id, err := s.Submit(ctx, m)
		if err != nil {
			s.mu.Lock()
			delete(s.joins, joinID)
			s.mu.Unlock()
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CreateHeld persists t as a new pending task without enqueueing it for
// execution, for callers — the Workflow Engine's pre-execution HITL gate —
// that need a durable, queryable Task before a human decision is known. A
// held task is only ever released by a matching SubmitHeld (decision
// favorable) or transitioned straight to cancelled by Cancel (rejected or
// expired); it is never picked up by a worker on its own.
func (s *Scheduler) CreateHeld(ctx context.Context, t domain.Task) (string, error) {
	if s.stops != nil {
		if active, err := s.stops.IsActive(ctx, t.ProjectID); err != nil {
			return "", err
		} else if active {
			return "", correrr.New(correrr.CodeHalted, "project is covered by an active emergency stop")
		}
	}
	if s.projects != nil {
		if terminal, err := s.projects.IsTerminal(ctx, t.ProjectID); err != nil {
			return "", err
		} else if terminal {
			return "", correrr.New(correrr.CodeAlreadyTerminal, "project is in a terminal status")
		}
	}

	t.Status = domain.TaskPending
	t.LastHeartbeat = time.Now().UTC()
	id, err := s.tasks.Create(ctx, t)
	if err != nil {
		return "", err
	}
	s.publish(ctx, t.ProjectID, domain.EventTaskCreated, map[string]any{"task_id": id})
	return id, nil
}

// SubmitHeld persists t's current fields (a HITL modify response may have
// amended its instructions since CreateHeld) and enqueues it for worker
// pickup, once a pre-execution approval clears favorably.
func (s *Scheduler) SubmitHeld(ctx context.Context, t domain.Task) error {
	if err := s.tasks.Update(ctx, t); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, t.ProjectID, t.ID); err != nil {
		return correrr.Wrap(correrr.CodeQueueFull, err)
	}
	return nil
}

// reportGroupProgress updates joinID's childTracker after a member task
// reaches a terminal state, emitting a group-level task.progress event and
// dropping the tracker once every member has resolved.
func (s *Scheduler) reportGroupProgress(ctx context.Context, projectID, joinID, taskID string, succeeded bool) {
	s.mu.Lock()
	tracker, ok := s.joins[joinID]
	s.mu.Unlock()
	if !ok {
		return
	}

	var done bool
	if succeeded {
		done = tracker.recordCompleted(taskID)
	} else {
		done = tracker.recordFailed(taskID)
	}
	completed, total, anyFailed := tracker.progress()
	s.publish(ctx, projectID, domain.EventTaskProgress, map[string]any{
		"join_id": joinID, "completed": completed, "total": total, "any_failed": anyFailed,
	})
	if done {
		s.mu.Lock()
		delete(s.joins, joinID)
		s.mu.Unlock()
	}
}

// Cancel implements cancel(). A pending task transitions directly to
// cancelled; a working task is signaled and must observe cancellation at
// its next cooperative check within CancelGrace before being forcibly
// abandoned (a timer started here marks the task cancelled once
// CancelGrace elapses if it is still not terminal).
func (s *Scheduler) Cancel(ctx context.Context, taskID, reason string) error {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return correrr.Newf(correrr.CodeAlreadyTerminal, "task %s is already terminal", taskID)
	}
	if t.Status == domain.TaskPending {
		return s.transition(ctx, t, domain.TaskCancelled, reason, true)
	}

	s.mu.Lock()
	cancel, ok := s.cancelled[taskID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	_ = s.executor.Cancel(ctx, taskID)

	go func() {
		timer := time.NewTimer(s.cancelGrace)
		defer timer.Stop()
		<-timer.C
		current, err := s.tasks.Get(context.Background(), taskID)
		if err == nil && !current.Status.IsTerminal() {
			_ = s.transition(context.Background(), current, domain.TaskCancelled, "cancel grace period elapsed", true)
		}
	}()
	return nil
}

// CancelAllInScope implements hitl.TaskCanceller: cancels every pending,
// waiting_for_hitl, or working task in projectID, used by Gate.Activate.
func (s *Scheduler) CancelAllInScope(ctx context.Context, projectID, reason string) error {
	tasks, err := s.tasks.ListByStatusInProject(ctx, projectID, domain.TaskPending, domain.TaskWaitingForHITL, domain.TaskWorking)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := s.Cancel(ctx, t.ID, reason); err != nil && correrr.CodeOf(err) != correrr.CodeAlreadyTerminal {
			return err
		}
	}
	return nil
}

func (s *Scheduler) publish(ctx context.Context, projectID string, kind domain.EventKind, payload map[string]any) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, domain.Event{ProjectID: projectID, Kind: kind, Payload: payload})
}

func (s *Scheduler) transition(ctx context.Context, t domain.Task, next domain.TaskStatus, reason string, cancelledBySys bool) error {
	if !t.Status.CanTransition(next) {
		return correrr.Newf(correrr.CodeValidation, "task %s cannot transition %s -> %s", t.ID, t.Status, next)
	}
	t.Status = next
	if next == domain.TaskCancelled {
		t.CancelReason = reason
		t.CancelledBySys = cancelledBySys
	}
	now := time.Now().UTC()
	if next.IsTerminal() {
		t.CompletedAt = &now
	}
	if err := s.tasks.Update(ctx, t); err != nil {
		return err
	}
	kind := domain.EventTaskCancelled
	switch next {
	case domain.TaskCompleted:
		kind = domain.EventTaskCompleted
	case domain.TaskFailed:
		kind = domain.EventTaskFailed
	}
	s.publish(ctx, t.ProjectID, kind, map[string]any{"task_id": t.ID, "reason": reason})
	if t.JoinID != "" && next.IsTerminal() {
		s.reportGroupProgress(ctx, t.ProjectID, t.JoinID, t.ID, next == domain.TaskCompleted)
	}
	return nil
}
