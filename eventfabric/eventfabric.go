// Package eventfabric implements the Real-Time Event Fabric (spec.md §4.2):
// an in-process pub/sub bus that fans out domain.Events to subscribers,
// with a durable log for audit and replay. Unlike the teacher's
// synchronous, fail-fast hooks.Bus, Publish here never blocks on a slow
// subscriber: each subscription owns a dedicated delivery goroutine
// draining a bounded queue, so one stalled consumer cannot hold up
// publication to the others or to the caller.
package eventfabric

import (
	"context"
	"time"

	"github.com/geniusboywonder/bmad-core/domain"
)

// DefaultQueueSize is the per-subscriber outstanding-event high-water mark
// used when config.EventsConfig.SubscriberQueueSize is unset.
const DefaultQueueSize = 1024

// Scope narrows a Subscribe call to one project, or to every project when
// ProjectID is empty (used by the audit/admin surface, not per-connection
// clients).
type Scope struct {
	ProjectID string
}

func (s Scope) matches(e domain.Event) bool {
	return s.ProjectID == "" || s.ProjectID == e.ProjectID
}

// Handler receives one delivered event at a time, in order, on its
// subscription's dedicated delivery goroutine. A Handler that panics or
// blocks only affects its own subscription.
type Handler func(ctx context.Context, e domain.Event)

// Subscription is returned by Subscribe. Close stops delivery and is
// idempotent and safe to call from any goroutine, including from within
// the Handler itself.
type Subscription interface {
	Close()
	// ID is the subscription's unique id; eventfabric/wshub uses it as the
	// key for its connected clients.
	ID() string
}

// Log is the durable, append-only backing store behind Replay. Production
// deployments wire eventfabric/mongolog; tests and local runs use
// eventfabric/memlog.
type Log interface {
	Append(ctx context.Context, e domain.Event) error
	// Since returns events for projectID with Timestamp strictly after
	// since, ordered oldest first. A zero since returns the full history.
	Since(ctx context.Context, projectID string, since time.Time) ([]domain.Event, error)
}

// Fabric is the Event Fabric contract: publish, subscribe, and replay.
type Fabric interface {
	// Publish appends e to the durable log (if configured) and fans it out
	// to every matching live subscriber. Publish returns once the append
	// and enqueue to each subscriber's queue complete; it does not wait for
	// handlers to run.
	Publish(ctx context.Context, e domain.Event) error

	// Subscribe registers handler for events matching scope. queueSize <= 0
	// uses DefaultQueueSize.
	Subscribe(scope Scope, queueSize int, handler Handler) (Subscription, error)

	// Replay returns the durable history for projectID since the given
	// time, for a reconnecting client recovering from resync_required.
	Replay(ctx context.Context, projectID string, since time.Time) ([]domain.Event, error)
}

// DropHandler is invoked, outside any subscription's own Handler, when a
// subscriber's queue overflows and that subscriber is dropped. Production
// wiring uses it to push a resync_required signal down the subscriber's
// transport (see eventfabric/bridge and eventfabric/wshub).
type DropHandler func(sub Subscription, scope Scope)
