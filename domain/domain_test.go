package domain

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allTaskStatuses = []TaskStatus{
	"",
	TaskPending,
	TaskWorking,
	TaskWaitingForHITL,
	TaskCompleted,
	TaskFailed,
	TaskCancelled,
}

func genTaskStatus() gopter.Gen {
	return gen.OneConstOf(
		TaskStatus(""),
		TaskPending,
		TaskWorking,
		TaskWaitingForHITL,
		TaskCompleted,
		TaskFailed,
		TaskCancelled,
	)
}

// TestTaskStatusTransitionProperty covers universal invariant 1 (spec.md
// §8): the sequence of observed Task status values is always a valid path
// in the state machine, which holds exactly when a terminal status has no
// legal outgoing transition and every non-terminal status has at least one.
func TestTaskStatusTransitionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("terminal statuses have no legal outgoing transition", prop.ForAll(
		func(s TaskStatus) bool {
			if !s.IsTerminal() {
				return true
			}
			for _, next := range allTaskStatuses {
				if s.CanTransition(next) {
					return false
				}
			}
			return true
		},
		genTaskStatus(),
	))

	properties.Property("non-terminal statuses have at least one legal outgoing transition", prop.ForAll(
		func(s TaskStatus) bool {
			if s.IsTerminal() {
				return true
			}
			for _, next := range allTaskStatuses {
				if s.CanTransition(next) {
					return true
				}
			}
			return false
		},
		genTaskStatus(),
	))

	properties.Property("every legal transition target differs from its source", prop.ForAll(
		func(s, next TaskStatus) bool {
			if s.CanTransition(next) {
				return s != next
			}
			return true
		},
		genTaskStatus(), genTaskStatus(),
	))

	properties.Property("a random walk of legal transitions never revisits a terminal status", prop.ForAll(
		func(path []int) bool {
			cur := TaskStatus("")
			for _, choice := range path {
				if cur.IsTerminal() {
					return pickLegalNext(cur, choice) == "" // a terminal status has no legal next step
				}
				next := pickLegalNext(cur, choice)
				if next == "" {
					return false // a non-terminal status always has a legal move
				}
				cur = next
			}
			return true
		},
		gen.SliceOfN(20, gen.IntRange(0, 10)),
	))

	properties.TestingRun(t)
}

// pickLegalNext deterministically maps choice onto one of s's legal
// outgoing transitions, or "" if none exist.
func pickLegalNext(s TaskStatus, choice int) TaskStatus {
	var legal []TaskStatus
	for _, next := range allTaskStatuses {
		if s.CanTransition(next) {
			legal = append(legal, next)
		}
	}
	if len(legal) == 0 {
		return ""
	}
	return legal[choice%len(legal)]
}
