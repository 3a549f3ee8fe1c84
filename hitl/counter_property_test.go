package hitl_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/geniusboywonder/bmad-core/hitl/inmem"
)

// TestCounterDecrementProperty covers universal invariant 4 (spec.md §8):
// after counter.refilled(N) and K subsequent decrements (with no other
// changes), remaining == max(N-K, 0) and exactly min(N, K) of the K
// decrement attempts actually succeed.
func TestCounterDecrementProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("remaining after K decrements is max(N-K, 0)", prop.ForAll(
		func(n, k int) bool {
			ctx := context.Background()
			store := inmem.NewCounterStore()
			store.EnsureProject("p1", n, true)
			if _, err := store.Refill(ctx, "p1", n); err != nil {
				return false
			}

			succeeded := 0
			for i := 0; i < k; i++ {
				_, ok, err := store.Decrement(ctx, "p1")
				if err != nil {
					return false
				}
				if ok {
					succeeded++
				}
			}

			c, err := store.Get(ctx, "p1")
			if err != nil {
				return false
			}
			want := n - k
			if want < 0 {
				want = 0
			}
			wantSucceeded := k
			if wantSucceeded > n {
				wantSucceeded = n
			}
			return c.Remaining == want && succeeded == wantSucceeded
		},
		gen.IntRange(0, 50), gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}
