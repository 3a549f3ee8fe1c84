package inmem

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/geniusboywonder/bmad-core/domain"
)

// TestRunCurrentStepIndexMonotonicProperty covers universal invariant 2
// (spec.md §8): a WorkflowRun's current_step_index is monotonically
// non-decreasing across persisted snapshots. It drives RunStore the way
// workflow.Engine's runWorkflow loop does - one Update per completed group,
// always advancing to groupIndex+1, starting from whatever index was
// already persisted - and checks the sequence of Get results never steps
// backward and ends at the number of groups advanced through.
func TestRunCurrentStepIndexMonotonicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("persisted current_step_index never decreases and ends at group count", prop.ForAll(
		func(startIndex, groupCount int) bool {
			if startIndex > groupCount {
				startIndex = groupCount
			}
			ctx := context.Background()
			store := NewRunStore()

			id, err := store.Create(ctx, domain.WorkflowRun{ProjectID: "p1", CurrentStepIndex: startIndex})
			if err != nil {
				return false
			}

			observed := make([]int, 0, groupCount+1)
			run, err := store.Get(ctx, id)
			if err != nil {
				return false
			}
			observed = append(observed, run.CurrentStepIndex)

			for groupIndex := 0; groupIndex < groupCount; groupIndex++ {
				if groupIndex < run.CurrentStepIndex {
					continue
				}
				run.CurrentStepIndex = groupIndex + 1
				if err := store.Update(ctx, run); err != nil {
					return false
				}
				got, err := store.Get(ctx, id)
				if err != nil {
					return false
				}
				run = got
				observed = append(observed, run.CurrentStepIndex)
			}

			for i := 1; i < len(observed); i++ {
				if observed[i] < observed[i-1] {
					return false
				}
			}
			want := groupCount
			if startIndex > want {
				want = startIndex
			}
			return run.CurrentStepIndex == want
		},
		gen.IntRange(0, 10), gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
