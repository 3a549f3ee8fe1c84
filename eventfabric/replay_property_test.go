package eventfabric

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/eventfabric/memlog"
)

// genTimestamps produces n strictly increasing timestamps a fixed epoch
// apart, so publish order always matches timestamp order without ties.
func genTimestamps(epoch time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = epoch.Add(time.Duration(i) * time.Second)
	}
	return out
}

// TestReplayOrderingProperty covers universal invariant 6 (spec.md §8):
// events within a project are totally ordered by (timestamp, id), and
// replaying from any cursor yields a suffix of that order.
func TestReplayOrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	epoch := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("replay(0) returns every published event in publish order", prop.ForAll(
		func(n int) bool {
			ctx := context.Background()
			bus := NewBus(WithLog(memlog.New()))
			times := genTimestamps(epoch, n)

			for i, ts := range times {
				e := domain.Event{ID: fmt.Sprintf("e%d", i), ProjectID: "p1", Kind: domain.EventKind("task.progress"), Timestamp: ts}
				if err := bus.Publish(ctx, e); err != nil {
					return false
				}
			}

			got, err := bus.Replay(ctx, "p1", time.Time{})
			if err != nil || len(got) != n {
				return false
			}
			for i, e := range got {
				if e.ID != fmt.Sprintf("e%d", i) {
					return false
				}
				if i > 0 && got[i-1].Timestamp.After(e.Timestamp) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 30),
	))

	properties.Property("replay(since) is a suffix of replay(0)", prop.ForAll(
		func(n, cursor int) bool {
			if n == 0 {
				return true
			}
			cursor = cursor % n
			ctx := context.Background()
			bus := NewBus(WithLog(memlog.New()))
			times := genTimestamps(epoch, n)

			for i, ts := range times {
				e := domain.Event{ID: fmt.Sprintf("e%d", i), ProjectID: "p1", Kind: domain.EventKind("task.progress"), Timestamp: ts}
				if err := bus.Publish(ctx, e); err != nil {
					return false
				}
			}

			full, err := bus.Replay(ctx, "p1", time.Time{})
			if err != nil {
				return false
			}
			since, err := bus.Replay(ctx, "p1", times[cursor])
			if err != nil {
				return false
			}
			want := full[cursor+1:]
			if len(since) != len(want) {
				return false
			}
			for i := range want {
				if since[i].ID != want[i].ID {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 30), gen.IntRange(0, 29),
	))

	properties.Property("events from a different project never appear in this project's replay", prop.ForAll(
		func(n int) bool {
			ctx := context.Background()
			bus := NewBus(WithLog(memlog.New()))
			times := genTimestamps(epoch, n)

			for i, ts := range times {
				e := domain.Event{ID: fmt.Sprintf("e%d", i), ProjectID: "other", Kind: domain.EventKind("task.progress"), Timestamp: ts}
				if err := bus.Publish(ctx, e); err != nil {
					return false
				}
			}

			got, err := bus.Replay(ctx, "p1", time.Time{})
			return err == nil && len(got) == 0
		},
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
