package scheduler

import "sync"

// childTracker tracks the member tasks of a parallel group under a synthetic
// join task id, so the Event Fabric can report group-level progress ("3 of 5
// branch tasks completed") instead of leaving callers to reconstruct it from
// individual task.completed events. Grounded in the teacher's
// runtime/agent/runtime/child_tracker.go, adapted from discovered-tool-call
// tracking to parallel-branch-task tracking.
type childTracker struct {
	mu        sync.Mutex
	joinID    string
	expected  map[string]struct{}
	completed map[string]struct{}
	failed    map[string]struct{}
}

func newChildTracker(joinID string, memberTaskIDs []string) *childTracker {
	expected := make(map[string]struct{}, len(memberTaskIDs))
	for _, id := range memberTaskIDs {
		expected[id] = struct{}{}
	}
	return &childTracker{
		joinID:    joinID,
		expected:  expected,
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
	}
}

// recordCompleted marks a member task done and reports whether the group is
// now fully resolved (every member either completed or failed).
func (c *childTracker) recordCompleted(taskID string) (done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed[taskID] = struct{}{}
	return c.isResolved()
}

// recordFailed marks a member task failed and reports whether the group is
// now fully resolved.
func (c *childTracker) recordFailed(taskID string) (done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed[taskID] = struct{}{}
	return c.isResolved()
}

func (c *childTracker) isResolved() bool {
	return len(c.completed)+len(c.failed) >= len(c.expected)
}

// progress returns (done, total, anyFailed) for emitting a group-level
// task.progress payload on the join task.
func (c *childTracker) progress() (done, total int, anyFailed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.completed) + len(c.failed), len(c.expected), len(c.failed) > 0
}
