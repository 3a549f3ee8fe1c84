package hitl_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/geniusboywonder/bmad-core/domain"
)

// TestAtMostOnePendingApprovalPerTaskProperty covers universal invariant 3
// (spec.md §8): for a given task, there is never more than one pending
// HITLApproval at a time. Drives Gate.CreateApproval/Respond through a
// random sequence of "create" and "respond(approve)" steps on a single
// task and checks CreateApproval only ever rejects while a prior approval
// is still pending, never once it has been responded to.
func TestAtMostOnePendingApprovalPerTaskProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("create succeeds iff no approval is currently pending for the task", prop.ForAll(
		func(steps []bool) bool {
			ctx := context.Background()
			gate, _ := newGate(t, 0, false)
			task := domain.Task{ID: "t1", ProjectID: "p1", AgentType: "dev"}

			var pendingID string
			for _, respond := range steps {
				if pendingID == "" {
					id, err := gate.CreateApproval(ctx, task, domain.HITLPreExecution, nil)
					if err != nil {
						return false
					}
					pendingID = id
					continue
				}
				if respond {
					if _, err := gate.Respond(ctx, pendingID, domain.ActionApprove, ""); err != nil {
						return false
					}
					pendingID = ""
					continue
				}
				if _, err := gate.CreateApproval(ctx, task, domain.HITLPreExecution, nil); err == nil {
					return false // a second pending approval was allowed through
				}
			}
			return true
		},
		gen.SliceOfN(15, gen.Bool()),
	))

	properties.TestingRun(t)
}
