package eventfabric

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/eventfabric/memlog"
)

func TestPublishDeliversToMatchingScope(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var got []domain.Event

	sub, err := bus.Subscribe(Scope{ProjectID: "p1"}, 0, func(_ context.Context, e domain.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(context.Background(), domain.Event{ProjectID: "p1", Kind: domain.EventTaskCreated}))
	require.NoError(t, bus.Publish(context.Background(), domain.Event{ProjectID: "p2", Kind: domain.EventTaskCreated}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)
}

func TestPublishAppendsToLogBeforeFanout(t *testing.T) {
	log := memlog.New()
	bus := NewBus(WithLog(log))

	require.NoError(t, bus.Publish(context.Background(), domain.Event{ProjectID: "p1", Kind: domain.EventWorkflowStarted}))

	events, err := bus.Replay(context.Background(), "p1", time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventWorkflowStarted, events[0].Kind)
}

func TestSubscriberOverflowDropsAndSignalsResync(t *testing.T) {
	var dropped Subscription
	var mu sync.Mutex

	bus := NewBus(WithDropHandler(func(sub Subscription, _ Scope) {
		mu.Lock()
		defer mu.Unlock()
		dropped = sub
	}))

	block := make(chan struct{})
	sub, err := bus.Subscribe(Scope{}, 1, func(_ context.Context, _ domain.Event) {
		<-block // handler never returns, forcing the queue to fill
	})
	require.NoError(t, err)
	defer close(block)

	// First publish is consumed by the blocked handler; the queue (size 1)
	// absorbs the second; the third overflows and triggers the drop.
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), domain.Event{Kind: domain.EventTaskProgress}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dropped != nil
	}, time.Second, time.Millisecond)

	mu.Lock()
	require.Equal(t, sub.ID(), dropped.ID())
	mu.Unlock()
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe(Scope{}, 0, func(context.Context, domain.Event) {})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		sub.Close()
		sub.Close()
	})
}
