package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/eventfabric"
	"github.com/geniusboywonder/bmad-core/scheduler"
)

// flakyExecutor fails its first failUntil attempts with a transient error,
// then succeeds.
type flakyExecutor struct {
	mu         sync.Mutex
	failUntil  int32
	calls      int32
	failReason error
}

func (e *flakyExecutor) Execute(_ context.Context, req scheduler.ExecuteRequest) (scheduler.ExecuteResult, error) {
	e.mu.Lock()
	e.calls++
	attempt := e.calls
	e.mu.Unlock()
	if int32(attempt) <= e.failUntil {
		return scheduler.ExecuteResult{}, correrr.Newf(correrr.CodeStorageUnavailable, "timeout on attempt %d", attempt)
	}
	return scheduler.ExecuteResult{Artifacts: []domain.ContextArtifact{{ArtifactType: "build_output"}}}, nil
}

func (e *flakyExecutor) Cancel(context.Context, string) error { return nil }

// TestRetryThenSucceedTracksAttemptCount exercises spec.md §8's end-to-end
// retry scenario: a task fails with a transient error on attempts 1 and 2
// and succeeds on attempt 3, ending with attempt_count == 3 and a
// task.started/task.progress(error)/task.completed event sequence.
func TestRetryThenSucceedTracksAttemptCount(t *testing.T) {
	executor := &flakyExecutor{failUntil: 2}
	s, tasks, _, bus := newTestScheduler(t, executor)

	var mu sync.Mutex
	var kinds []domain.EventKind
	var retryProgress int
	sub, err := bus.Subscribe(eventfabric.Scope{ProjectID: "p1"}, 0, func(_ context.Context, e domain.Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		if e.Kind == domain.EventTaskProgress && e.Payload["error"] != nil {
			retryProgress++
		}
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go s.Run(ctx)

	id, err := s.Submit(ctx, domain.Task{ProjectID: "p1", AgentType: "dev"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := tasks.Get(context.Background(), id)
		return err == nil && task.Status == domain.TaskCompleted
	}, 9*time.Second, 20*time.Millisecond)

	task, err := tasks.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 3, task.AttemptCount)
	require.Len(t, task.Output, 1)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, countKind(kinds, domain.EventTaskStarted), 3)
	require.GreaterOrEqual(t, retryProgress, 2)
	require.Equal(t, 1, countKind(kinds, domain.EventTaskCompleted))
}

func countKind(kinds []domain.EventKind, want domain.EventKind) int {
	n := 0
	for _, k := range kinds {
		if k == want {
			n++
		}
	}
	return n
}
