package eventfabric

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/telemetry"
)

// Bus is the in-memory Fabric implementation: the live fan-out path for a
// single process. Register/Close follow the teacher's snapshot-under-lock
// pattern (runtime/agent/hooks.Bus): Publish takes a read lock just long
// enough to copy the current subscriber list, so a concurrent Subscribe or
// Close never blocks or is blocked by an in-flight Publish.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}

	log     Log
	logger  telemetry.Logger
	metrics telemetry.Metrics
	onDrop  DropHandler
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithLog attaches a durable Log consulted by Replay and written by Publish.
func WithLog(l Log) Option { return func(b *Bus) { b.log = l } }

// WithLogger attaches a telemetry.Logger; defaults to a discarding logger.
func WithLogger(l telemetry.Logger) Option { return func(b *Bus) { b.logger = l } }

// WithMetrics attaches a telemetry.Metrics sink.
func WithMetrics(m telemetry.Metrics) Option { return func(b *Bus) { b.metrics = m } }

// WithDropHandler registers a callback fired when a subscriber's queue
// overflows and it is dropped.
func WithDropHandler(h DropHandler) Option { return func(b *Bus) { b.onDrop = h } }

// NewBus constructs an empty Bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{subs: make(map[*subscription]struct{})}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type subscription struct {
	id      string
	scope   Scope
	queue   chan domain.Event
	handler Handler
	bus     *Bus
	closed  atomic.Bool
	once    sync.Once
	done    chan struct{}
}

func (s *subscription) ID() string { return s.id }

func (s *subscription) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.done)
	})
}

// run is the subscription's dedicated delivery goroutine. It drains queue
// until Close, so a slow or panicking handler only stalls or crashes this
// one goroutine.
func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case e, ok := <-s.queue:
			if !ok {
				return
			}
			s.deliver(e)
		}
	}
}

func (s *subscription) deliver(e domain.Event) {
	defer func() {
		if r := recover(); r != nil && s.bus.logger != nil {
			s.bus.logger.Error(context.Background(), "eventfabric: subscriber handler panicked",
				"subscription_id", s.id, "panic", r)
		}
	}()
	s.handler(context.Background(), e)
}

// Subscribe implements Fabric.
func (b *Bus) Subscribe(scope Scope, queueSize int, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, correrr.New(correrr.CodeMissingInput, "eventfabric: handler is required")
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	sub := &subscription{
		id:      uuid.NewString(),
		scope:   scope,
		queue:   make(chan domain.Event, queueSize),
		handler: handler,
		bus:     b,
		done:    make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run()
	return sub, nil
}

// Publish implements Fabric. Append to the log happens before fan-out so a
// Replay immediately after Publish returns always includes e.
func (b *Bus) Publish(ctx context.Context, e domain.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if b.log != nil {
		if err := b.log.Append(ctx, e); err != nil {
			return err
		}
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for sub := range b.subs {
		if sub.scope.matches(e) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.IncCounter("eventfabric.events_fanned", float64(len(targets)), "kind", string(e.Kind))
	}

	for _, sub := range targets {
		select {
		case sub.queue <- e:
		default:
			b.dropSubscriber(ctx, sub)
		}
	}
	return nil
}

// dropSubscriber removes an overflowing subscriber and signals
// resync_required via onDrop so the owning transport can push the client
// to call Replay. The subscriber's own queue is never force-fed; a
// persistently slow consumer stays dropped until it resubscribes.
func (b *Bus) dropSubscriber(ctx context.Context, sub *subscription) {
	sub.Close()
	if b.logger != nil {
		b.logger.Warn(ctx, "eventfabric: subscriber queue overflow, dropping",
			"subscription_id", sub.id, "project_id", sub.scope.ProjectID)
	}
	if b.metrics != nil {
		b.metrics.IncCounter("eventfabric.subscribers_dropped", 1, "project_id", sub.scope.ProjectID)
	}
	if b.onDrop != nil {
		b.onDrop(sub, sub.scope)
	}
}

// Replay implements Fabric by delegating to the attached Log. Returns an
// empty slice, not an error, when no Log is configured: in-memory-only
// deployments have nothing to replay.
func (b *Bus) Replay(ctx context.Context, projectID string, since time.Time) ([]domain.Event, error) {
	if b.log == nil {
		return nil, nil
	}
	return b.log.Since(ctx, projectID, since)
}
