package scheduler

import (
	"context"
	"time"

	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
)

// Run starts the worker pool and blocks until ctx is cancelled, then waits
// for in-flight attempts to stop. Callers typically run Run in its own
// goroutine from cmd/orchestratord's main.
func (s *Scheduler) Run(ctx context.Context) {
	for i := 0; i < s.workerPoolSize; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx)
	}
	<-ctx.Done()
	s.wg.Wait()
}

func (s *Scheduler) workerLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		projectID, taskID, ok, err := s.queue.Dequeue(ctx, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if s.logger != nil {
				s.logger.Warn(ctx, "scheduler: dequeue failed", "error", err.Error())
			}
			continue
		}
		if !ok {
			continue
		}
		s.runAttempt(ctx, projectID, taskID)
	}
}

// runAttempt executes exactly one attempt of taskID, applying the soft
// attempt timeout, heartbeat ticker, and retry/backoff decision on
// failure described in spec.md §4.3.
func (s *Scheduler) runAttempt(ctx context.Context, projectID, taskID string) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return
	}
	if t.Status.IsTerminal() {
		return
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
	}

	t.Status = domain.TaskWorking
	t.AttemptCount++
	now := time.Now().UTC()
	t.StartedAt = &now
	t.LastHeartbeat = now
	if err := s.tasks.Update(ctx, t); err != nil {
		return
	}
	s.publish(ctx, projectID, domain.EventTaskStarted, map[string]any{"task_id": taskID, "attempt": t.AttemptCount})

	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	s.mu.Lock()
	s.cancelled[taskID] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.cancelled, taskID)
		s.mu.Unlock()
	}()

	stopHeartbeat := s.startHeartbeat(attemptCtx, t)
	inputs, err := s.artifact.GetMany(attemptCtx, t.ContextIDs)
	if err != nil {
		stopHeartbeat()
		s.handleFailure(ctx, t, err)
		return
	}

	result, err := s.executor.Execute(attemptCtx, ExecuteRequest{
		TaskID:       t.ID,
		AgentType:    t.AgentType,
		Instructions: t.Instructions,
		Inputs:       inputs,
		AttemptCount: t.AttemptCount,
		Progress: func(message string) {
			s.publish(ctx, projectID, domain.EventTaskProgress, map[string]any{"task_id": t.ID, "message": message})
		},
	})
	stopHeartbeat()

	if attemptCtx.Err() == context.DeadlineExceeded {
		err = correrr.Newf(correrr.CodeStorageUnavailable, "task %s attempt %d exceeded soft deadline", t.ID, t.AttemptCount)
	}
	if err != nil {
		s.handleFailure(ctx, t, err)
		return
	}

	if err := s.persistOutputs(ctx, &t, result); err != nil {
		s.handleFailure(ctx, t, err)
		return
	}
	if len(result.Artifacts) == 0 {
		s.handleFailure(ctx, t, correrr.New(correrr.CodeValidation, "executor completed with no artifacts"))
		return
	}
	_ = s.transition(ctx, t, domain.TaskCompleted, "", false)
}

func (s *Scheduler) persistOutputs(ctx context.Context, t *domain.Task, result ExecuteResult) error {
	for _, artifact := range result.Artifacts {
		artifact.ProjectID = t.ProjectID
		artifact.SourceAgent = t.AgentType
		id, err := s.artifact.Put(ctx, artifact)
		if err != nil {
			return err
		}
		t.Output = append(t.Output, id)
		s.publish(ctx, t.ProjectID, domain.EventArtifactCreated, map[string]any{"artifact_id": id, "task_id": t.ID})
	}
	return nil
}

// handleFailure applies spec.md §4.3's retry policy: transient errors
// retry with exponential backoff up to maxRetries, then give up;
// non-transient errors are terminal on first occurrence.
func (s *Scheduler) handleFailure(ctx context.Context, t domain.Task, cause error) {
	t.Error = cause.Error()
	if !correrr.IsTransient(cause) || t.AttemptCount > s.maxRetries {
		_ = s.transition(ctx, t, domain.TaskFailed, cause.Error(), false)
		return
	}

	delay := backoffSchedule[(t.AttemptCount-1)%len(backoffSchedule)]
	t.Status = domain.TaskPending
	t.Instructions = applyRetryHint(t.Instructions, cause)
	_ = s.tasks.Update(ctx, t)
	s.publish(ctx, t.ProjectID, domain.EventTaskProgress, map[string]any{
		"task_id": t.ID, "attempt": t.AttemptCount, "error": cause.Error(), "retrying_in_seconds": delay.Seconds(), "transient": true,
	})

	go func() {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		_ = s.queue.Enqueue(context.Background(), t.ProjectID, t.ID)
	}()
}

// startHeartbeat launches a ticker emitting task.progress at most every
// HeartbeatInterval and updating LastHeartbeat, so crash-recovery's stale-
// working scan has a fresh signal while the attempt is alive. Returns a
// stop function to call when the attempt completes.
func (s *Scheduler) startHeartbeat(ctx context.Context, t domain.Task) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				current, err := s.tasks.Get(ctx, t.ID)
				if err != nil {
					continue
				}
				current.LastHeartbeat = time.Now().UTC()
				_ = s.tasks.Update(ctx, current)
				s.publish(ctx, t.ProjectID, domain.EventTaskProgress, map[string]any{"task_id": t.ID, "attempt": current.AttemptCount})
			}
		}
	}()
	return func() { close(done) }
}
