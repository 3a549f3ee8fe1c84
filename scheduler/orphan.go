package scheduler

import (
	"context"
	"time"

	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
)

// RecoverOrphans implements the crash-recovery scan from spec.md §4.3: on
// startup (and periodically thereafter via RunOrphanSweeper), tasks stuck in
// working with a LastHeartbeat older than OrphanThreshold are assumed to
// belong to a worker that died mid-attempt. They are re-enqueued if attempts
// remain, otherwise failed with CodeOrphaned.
func (s *Scheduler) RecoverOrphans(ctx context.Context) error {
	threshold := time.Now().UTC().Add(-s.orphanThreshold)
	stale, err := s.tasks.ListStaleWorking(ctx, threshold)
	if err != nil {
		return err
	}
	for _, t := range stale {
		if t.AttemptCount <= s.maxRetries {
			t.Status = domain.TaskPending
			if err := s.tasks.Update(ctx, t); err != nil {
				return err
			}
			if err := s.queue.Enqueue(ctx, t.ProjectID, t.ID); err != nil {
				return correrr.Wrap(correrr.CodeQueueFull, err)
			}
			s.publish(ctx, t.ProjectID, domain.EventTaskFailed, map[string]any{
				"task_id": t.ID, "reason": "orphaned", "requeued": true,
			})
			continue
		}
		t.Error = correrr.New(correrr.CodeOrphaned, "worker died and no attempts remain").Error()
		if err := s.transition(ctx, t, domain.TaskFailed, "orphaned: worker died and no attempts remain", false); err != nil {
			return err
		}
	}
	return nil
}

// RunOrphanSweeper runs RecoverOrphans once immediately and then every
// OrphanThreshold until ctx is cancelled. Callers start it alongside Run.
func (s *Scheduler) RunOrphanSweeper(ctx context.Context) {
	if err := s.RecoverOrphans(ctx); err != nil && s.logger != nil {
		s.logger.Error(ctx, "scheduler: initial orphan recovery failed", "error", err.Error())
	}
	ticker := time.NewTicker(s.orphanThreshold)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RecoverOrphans(ctx); err != nil && s.logger != nil {
				s.logger.Error(ctx, "scheduler: orphan recovery failed", "error", err.Error())
			}
		}
	}
}
