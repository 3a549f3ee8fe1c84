package main

import (
	"context"
	"time"

	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/eventfabric"
	"github.com/geniusboywonder/bmad-core/eventfabric/redisbus"
)

// clusterFabric wraps a *eventfabric.Bus with a *redisbus.Bridge so every
// locally-accepted Publish also fans out to the rest of the fleet over
// Redis Pub/Sub. The Bus has no remote-publish hook of its own; this is the
// thin adapter that gives it one without changing package eventfabric's
// Option set.
type clusterFabric struct {
	bus    *eventfabric.Bus
	bridge *redisbus.Bridge
}

func newClusterFabric(bus *eventfabric.Bus, bridge *redisbus.Bridge) *clusterFabric {
	return &clusterFabric{bus: bus, bridge: bridge}
}

func (f *clusterFabric) Publish(ctx context.Context, e domain.Event) error {
	if err := f.bus.Publish(ctx, e); err != nil {
		return err
	}
	return f.bridge.PublishRemote(ctx, e)
}

func (f *clusterFabric) Subscribe(scope eventfabric.Scope, queueSize int, handler eventfabric.Handler) (eventfabric.Subscription, error) {
	return f.bus.Subscribe(scope, queueSize, handler)
}

func (f *clusterFabric) Replay(ctx context.Context, projectID string, since time.Time) ([]domain.Event, error) {
	return f.bus.Replay(ctx, projectID, since)
}
