// Package wshub implements the WebSocket transport for spec.md §6's
// /events and /events/{project_id} endpoints, grounded on the
// ping/pong keepalive and per-client writer-goroutine pattern of
// itsneelabh-gomind's ui/transports/websocket.WebSocketTransport, adapted
// from UI chat events to eventfabric.WireEvent broadcast.
package wshub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/eventfabric"
	"github.com/geniusboywonder/bmad-core/telemetry"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 5 * time.Second
	pingInterval = (pongWait * 9) / 10
)

// Hub upgrades HTTP connections to WebSocket and bridges them to a Fabric
// subscription. One Hub serves both the global /events feed and the
// per-project /events/{project_id} feed, depending on the Scope passed to
// ServeHTTP.
type Hub struct {
	fabric    eventfabric.Fabric
	upgrader  websocket.Upgrader
	queueSize int
	logger    telemetry.Logger

	mu      sync.Mutex
	clients map[string]*client // subscription id -> connection
}

// Options configures a Hub.
type Options struct {
	Fabric eventfabric.Fabric
	// QueueSize is the per-connection subscriber queue high-water mark;
	// zero uses eventfabric.DefaultQueueSize.
	QueueSize int
	Logger    telemetry.Logger
	// CheckOrigin overrides the upgrader's origin check; nil allows all
	// origins, matching local/dev deployments.
	CheckOrigin func(r *http.Request) bool
}

// New constructs a Hub.
func New(opts Options) *Hub {
	return &Hub{
		fabric:    opts.Fabric,
		queueSize: opts.QueueSize,
		logger:    opts.Logger,
		clients:   make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

// DropHandler returns an eventfabric.DropHandler to register with the Bus
// at construction time (eventfabric.WithDropHandler(hub.DropHandler())).
// When the Bus drops an overflowing subscriber, this pushes a
// resync_required message to the owning connection and lets the client's
// own writePump close the socket naturally afterward.
func (h *Hub) DropHandler() eventfabric.DropHandler {
	return func(sub eventfabric.Subscription, _ eventfabric.Scope) {
		h.mu.Lock()
		c, ok := h.clients[sub.ID()]
		h.mu.Unlock()
		if !ok {
			return
		}
		c.enqueue(eventfabric.NewResyncRequired(""))
		close(c.send)
	}
}

func (h *Hub) effectiveQueueSize() int {
	if h.queueSize <= 0 {
		return eventfabric.DefaultQueueSize
	}
	return h.queueSize
}

// ServeHTTP upgrades the request and streams WireEvents matching scope
// until the client disconnects or is dropped for backpressure. since, if
// non-zero, replays the durable backlog before live events begin so a
// reconnecting client never misses events between its last delivery and
// the new subscription taking effect.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, scope eventfabric.Scope, since time.Time) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn(r.Context(), "wshub: upgrade failed", "error", err.Error())
		}
		return
	}

	c := newClient(conn, h.effectiveQueueSize(), h.logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.writePump(cancel)
	go c.readPump(cancel) // drains client pings/close frames; no inbound app messages expected

	if !since.IsZero() {
		if backlog, err := h.fabric.Replay(ctx, scope.ProjectID, since); err == nil {
			for _, e := range backlog {
				c.enqueue(eventfabric.ToWire(e))
			}
		}
	}

	sub, err := h.fabric.Subscribe(scope, h.effectiveQueueSize(), func(_ context.Context, e domain.Event) {
		c.enqueue(eventfabric.ToWire(e))
	})
	if err != nil {
		c.close()
		return
	}
	h.mu.Lock()
	h.clients[sub.ID()] = c
	h.mu.Unlock()
	defer func() {
		sub.Close()
		h.mu.Lock()
		delete(h.clients, sub.ID())
		h.mu.Unlock()
	}()

	<-ctx.Done()
}
