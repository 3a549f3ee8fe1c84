package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/eventfabric"
	"github.com/geniusboywonder/bmad-core/scheduler"
	"github.com/geniusboywonder/bmad-core/scheduler/inmem"
)

type fakeArtifactStore struct {
	mu   sync.Mutex
	byID map[string]domain.ContextArtifact
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{byID: make(map[string]domain.ContextArtifact)}
}

func (f *fakeArtifactStore) GetMany(_ context.Context, ids []string) ([]domain.ContextArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ContextArtifact, 0, len(ids))
	for _, id := range ids {
		if a, ok := f.byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeArtifactStore) Put(_ context.Context, a domain.ContextArtifact) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == "" {
		a.ID = "artifact-" + string(rune('a'+len(f.byID)))
	}
	f.byID[a.ID] = a
	return a.ID, nil
}

type scriptedExecutor struct {
	executed  int32
	cancelled int32
}

func (e *scriptedExecutor) Execute(_ context.Context, _ scheduler.ExecuteRequest) (scheduler.ExecuteResult, error) {
	atomic.AddInt32(&e.executed, 1)
	return scheduler.ExecuteResult{Artifacts: []domain.ContextArtifact{{ArtifactType: "story"}}}, nil
}

func (e *scriptedExecutor) Cancel(_ context.Context, _ string) error {
	atomic.AddInt32(&e.cancelled, 1)
	return nil
}

func newTestScheduler(t *testing.T, executor scheduler.AgentExecutor) (*scheduler.Scheduler, *inmem.TaskStore, *inmem.Queue, eventfabric.Fabric) {
	t.Helper()
	tasks := inmem.NewTaskStore()
	queue := inmem.NewQueue()
	artifacts := newFakeArtifactStore()
	bus := eventfabric.NewBus()
	s := scheduler.New(tasks, queue, artifacts, executor, bus,
		scheduler.WithWorkerPoolSize(2),
		scheduler.WithAttemptTimeout(2*time.Second),
		scheduler.WithHeartbeatInterval(50*time.Millisecond),
	)
	return s, tasks, queue, bus
}

func TestSubmitEnqueuesPendingTask(t *testing.T) {
	s, tasks, _, _ := newTestScheduler(t, &scriptedExecutor{})
	id, err := s.Submit(context.Background(), domain.Task{ProjectID: "p1", AgentType: "dev"})
	require.NoError(t, err)

	stored, err := tasks.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, domain.TaskPending, stored.Status)
}

func TestRunExecutesSubmittedTaskToCompletion(t *testing.T) {
	executor := &scriptedExecutor{}
	s, tasks, _, _ := newTestScheduler(t, executor)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.Run(ctx)

	id, err := s.Submit(ctx, domain.Task{ProjectID: "p1", AgentType: "dev"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := tasks.Get(context.Background(), id)
		return err == nil && task.Status == domain.TaskCompleted
	}, time.Second, 10*time.Millisecond)
}

func TestCancelPendingTaskTransitionsImmediately(t *testing.T) {
	s, tasks, _, _ := newTestScheduler(t, &scriptedExecutor{})
	id, err := s.Submit(context.Background(), domain.Task{ProjectID: "p1", AgentType: "dev"})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(context.Background(), id, "user requested"))

	stored, err := tasks.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, domain.TaskCancelled, stored.Status)
	require.True(t, stored.CancelledBySys)
}

func TestRecoverOrphansRequeuesStaleWorkingTasks(t *testing.T) {
	s, tasks, queue, _ := newTestScheduler(t, &scriptedExecutor{})
	id, err := tasks.Create(context.Background(), domain.Task{
		ProjectID:     "p1",
		Status:        domain.TaskWorking,
		AttemptCount:  1,
		LastHeartbeat: time.Now().Add(-10 * time.Minute),
	})
	require.NoError(t, err)

	require.NoError(t, s.RecoverOrphans(context.Background()))

	stored, err := tasks.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, domain.TaskPending, stored.Status)

	_, dequeuedID, ok, err := queue.Dequeue(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, dequeuedID)
}

func TestSubmitGroupTracksJoinProgress(t *testing.T) {
	executor := &scriptedExecutor{}
	s, _, _, bus := newTestScheduler(t, executor)

	var progressEvents int32
	sub, err := bus.Subscribe(eventfabric.Scope{ProjectID: "p1"}, 16, func(_ context.Context, e domain.Event) {
		if e.Kind == domain.EventTaskProgress {
			if _, ok := e.Payload["join_id"]; ok {
				atomic.AddInt32(&progressEvents, 1)
			}
		}
	})
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.Run(ctx)

	_, err = s.SubmitGroup(ctx, "join-1", []domain.Task{
		{ProjectID: "p1", AgentType: "dev"},
		{ProjectID: "p1", AgentType: "qa"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&progressEvents) >= 2
	}, time.Second, 10*time.Millisecond)
}
