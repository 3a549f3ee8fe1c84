// Package inmem provides in-memory scheduler.TaskStore and scheduler.Queue
// implementations for tests and single-process demos, grounded in the
// teacher's runtime/agent/runlog/inmem append-and-filter idiom.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
)

// TaskStore is an in-memory scheduler.TaskStore.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
}

// NewTaskStore constructs an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]domain.Task)}
}

// Create implements scheduler.TaskStore.
func (s *TaskStore) Create(_ context.Context, t domain.Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.tasks[t.ID] = t
	return t.ID, nil
}

// Get implements scheduler.TaskStore.
func (s *TaskStore) Get(_ context.Context, id string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, correrr.Newf(correrr.CodeNotFound, "task %s not found", id)
	}
	return t, nil
}

// Update implements scheduler.TaskStore.
func (s *TaskStore) Update(_ context.Context, t domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return correrr.Newf(correrr.CodeNotFound, "task %s not found", t.ID)
	}
	s.tasks[t.ID] = t
	return nil
}

// ListStaleWorking implements scheduler.TaskStore.
func (s *TaskStore) ListStaleWorking(_ context.Context, threshold time.Time) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.Status == domain.TaskWorking && t.LastHeartbeat.Before(threshold) {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListByStatusInProject implements scheduler.TaskStore.
func (s *TaskStore) ListByStatusInProject(_ context.Context, projectID string, statuses ...domain.TaskStatus) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[domain.TaskStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []domain.Task
	for _, t := range s.tasks {
		if t.ProjectID == projectID && want[t.Status] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Queue is an in-memory, per-project FIFO scheduler.Queue. Dequeue
// round-robins across projects with pending entries so one busy project
// cannot starve another, mirroring the fairness goal of the Redis-backed
// implementation's per-project list keys.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	order  []string // project ids in round-robin order, deduped lazily
	byProj map[string][]string
}

// NewQueue constructs an empty Queue.
func NewQueue() *Queue {
	q := &Queue{byProj: make(map[string][]string)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue implements scheduler.Queue.
func (q *Queue) Enqueue(_ context.Context, projectID, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byProj[projectID]; !ok {
		q.order = append(q.order, projectID)
	}
	q.byProj[projectID] = append(q.byProj[projectID], taskID)
	q.cond.Signal()
	return nil
}

// Dequeue implements scheduler.Queue, round-robining across projects with
// pending entries and blocking up to timeout when none are available.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (string, string, bool, error) {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if pid, tid, ok := q.popLocked(); ok {
			return pid, tid, true, nil
		}
		if ctx.Err() != nil {
			return "", "", false, ctx.Err()
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", "", false, nil
		}
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		q.cond.Wait()
		timer.Stop()
		if time.Now().After(deadline) {
			return "", "", false, nil
		}
	}
}

func (q *Queue) popLocked() (string, string, bool) {
	for len(q.order) > 0 {
		pid := q.order[0]
		tasks := q.byProj[pid]
		if len(tasks) == 0 {
			q.order = q.order[1:]
			delete(q.byProj, pid)
			continue
		}
		taskID := tasks[0]
		q.byProj[pid] = tasks[1:]
		q.order = append(q.order[1:], pid)
		return pid, taskID, true
	}
	return "", "", false
}
