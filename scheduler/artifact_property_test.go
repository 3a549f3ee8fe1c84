package scheduler_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/scheduler"
)

// artifactCountExecutor always succeeds, returning n freshly-typed artifacts.
type artifactCountExecutor struct{ n int }

func (e *artifactCountExecutor) Execute(_ context.Context, _ scheduler.ExecuteRequest) (scheduler.ExecuteResult, error) {
	artifacts := make([]domain.ContextArtifact, e.n)
	for i := range artifacts {
		artifacts[i] = domain.ContextArtifact{ArtifactType: fmt.Sprintf("artifact-%d", i)}
	}
	return scheduler.ExecuteResult{Artifacts: artifacts}, nil
}

func (e *artifactCountExecutor) Cancel(context.Context, string) error { return nil }

// permanentFailureExecutor always fails with a non-transient error, so the
// scheduler's retry policy gives up on the first attempt.
type permanentFailureExecutor struct{ message string }

func (e *permanentFailureExecutor) Execute(context.Context, scheduler.ExecuteRequest) (scheduler.ExecuteResult, error) {
	return scheduler.ExecuteResult{}, correrr.Newf(correrr.CodeValidation, "%s", e.message)
}

func (e *permanentFailureExecutor) Cancel(context.Context, string) error { return nil }

// TestCompletedTaskProducesArtifactsProperty covers universal invariant 5's
// completed half (spec.md §8): every completed Task has produced at least
// one ContextArtifact, and the count recorded on the task matches exactly
// what the executor returned.
func TestCompletedTaskProducesArtifactsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("a completed task's Output has exactly as many entries as artifacts produced", prop.ForAll(
		func(n int) bool {
			executor := &artifactCountExecutor{n: n}
			s, tasks, _, _ := newTestScheduler(t, executor)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			go s.Run(ctx)

			id, err := s.Submit(ctx, domain.Task{ProjectID: "p1", AgentType: "dev"})
			if err != nil {
				return false
			}

			deadline := time.Now().Add(time.Second)
			for time.Now().Before(deadline) {
				task, err := tasks.Get(context.Background(), id)
				if err == nil && task.Status == domain.TaskCompleted {
					return len(task.Output) == n
				}
				time.Sleep(5 * time.Millisecond)
			}
			return false
		},
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

// TestFailedTaskHasErrorProperty covers universal invariant 5's failed half:
// every failed Task carries a non-empty error message, matching the cause
// the executor raised.
func TestFailedTaskHasErrorProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("a failed task's Error is non-empty and reflects the cause", prop.ForAll(
		func(message string) bool {
			if message == "" {
				message = "boom"
			}
			executor := &permanentFailureExecutor{message: message}
			s, tasks, _, _ := newTestScheduler(t, executor)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			go s.Run(ctx)

			id, err := s.Submit(ctx, domain.Task{ProjectID: "p1", AgentType: "dev"})
			if err != nil {
				return false
			}

			deadline := time.Now().Add(time.Second)
			for time.Now().Before(deadline) {
				task, err := tasks.Get(context.Background(), id)
				if err == nil && task.Status == domain.TaskFailed {
					return task.Error != ""
				}
				time.Sleep(5 * time.Millisecond)
			}
			return false
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
