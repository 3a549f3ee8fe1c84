// Package redisbus bridges a local eventfabric.Bus across process
// instances using Redis Pub/Sub, grounded on the project-scoped
// channel-per-checkpoint pattern of itsneelabh-gomind's
// orchestration.RedisCommandStore, adapted from Redis commands to project
// ids and from go-redis/v8 to the teacher's go-redis/v9.
//
// A Bridge publishes every local Publish to a project-scoped Redis channel
// and republishes every message it receives on that channel back into the
// local Bus, so subscribers anywhere in the fleet see every project's
// events regardless of which instance accepted the originating request.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/eventfabric"
	"github.com/geniusboywonder/bmad-core/telemetry"
)

const defaultKeyPrefix = "bmad-core"

// Bridge wires a Redis client to a local eventfabric.Bus.
type Bridge struct {
	client    *redis.Client
	bus       *eventfabric.Bus
	keyPrefix string
	logger    telemetry.Logger
	nodeID    string
}

// Options configures a Bridge.
type Options struct {
	Client    *redis.Client
	Bus       *eventfabric.Bus
	KeyPrefix string // defaults to "bmad-core"
	Logger    telemetry.Logger
	// NodeID tags outgoing messages so a node can ignore its own echo when
	// Redis delivers to the publisher's own subscription.
	NodeID string
}

// New constructs a Bridge. Call Subscribe to begin receiving remote events.
func New(opts Options) *Bridge {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Bridge{client: opts.Client, bus: opts.Bus, keyPrefix: prefix, logger: opts.Logger, nodeID: opts.NodeID}
}

func (b *Bridge) channel(projectID string) string {
	return fmt.Sprintf("%s:project:%s:events", b.keyPrefix, projectID)
}

type wireMessage struct {
	NodeID string       `json:"node_id"`
	Event  domain.Event `json:"event"`
}

// PublishRemote sends e to every other instance subscribed to projectID's
// channel. eventfabric.Bus has no remote-publish hook, so cmd/orchestratord's
// clusterFabric calls this after every local Publish to fan events out
// cluster-wide; the Bus itself remains responsible for local, in-process
// delivery.
func (b *Bridge) PublishRemote(ctx context.Context, e domain.Event) error {
	data, err := json.Marshal(wireMessage{NodeID: b.nodeID, Event: e})
	if err != nil {
		return fmt.Errorf("redisbus: marshal event: %w", err)
	}
	return b.client.Publish(ctx, b.channel(e.ProjectID), data).Err()
}

// Subscribe starts a goroutine that forwards remote events for projectID
// into the local Bus until ctx is done. Safe to call once per project of
// interest; a cluster-wide listener subscribes to "*" by passing an empty
// projectID, which this bridge maps to a wildcard PSubscribe.
func (b *Bridge) Subscribe(ctx context.Context, projectID string) error {
	var pubsub *redis.PubSub
	if projectID == "" {
		pubsub = b.client.PSubscribe(ctx, fmt.Sprintf("%s:project:*:events", b.keyPrefix))
	} else {
		pubsub = b.client.Subscribe(ctx, b.channel(projectID))
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redisbus: subscribe: %w", err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.handle(ctx, msg)
			}
		}
	}()
	return nil
}

func (b *Bridge) handle(ctx context.Context, msg *redis.Message) {
	var wm wireMessage
	if err := json.Unmarshal([]byte(msg.Payload), &wm); err != nil {
		if b.logger != nil {
			b.logger.Warn(ctx, "redisbus: failed to unmarshal event", "error", err.Error())
		}
		return
	}
	if wm.NodeID != "" && wm.NodeID == b.nodeID {
		return // echo of our own PublishRemote call
	}
	if err := b.bus.Publish(ctx, wm.Event); err != nil {
		if b.logger != nil {
			b.logger.Warn(ctx, "redisbus: failed to republish locally", "error", err.Error())
		}
	}
}
