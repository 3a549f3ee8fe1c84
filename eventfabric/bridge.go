package eventfabric

import (
	"time"

	"github.com/geniusboywonder/bmad-core/domain"
)

// WireEvent is the client-facing JSON envelope sent over /events and
// /events/{project_id}, per spec.md §6's event wire contract. It is the
// marshaling boundary between the internal domain.Event and transports:
// transports never serialize domain.Event directly so internal field
// renames don't leak into the wire format.
type WireEvent struct {
	EventID   string         `json:"event_id"`
	Kind      string         `json:"kind"`
	ProjectID string         `json:"project_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ResyncRequired is sent in place of a WireEvent when a subscriber's queue
// has overflowed and it has been dropped; the client must call the
// /audit/events replay endpoint with LastEventID before resubscribing.
type ResyncRequired struct {
	Type        string `json:"type"`
	LastEventID string `json:"last_event_id,omitempty"`
}

// ToWire translates a domain.Event into its wire representation. All
// internal-only event kinds currently defined are client-facing, so
// unlike the teacher's StreamSubscriber filter this is a pure projection
// rather than a filter; a future internal-only EventKind would be
// filtered here before it ever reaches ToWire's caller.
func ToWire(e domain.Event) WireEvent {
	return WireEvent{
		EventID:   e.ID,
		Kind:      string(e.Kind),
		ProjectID: e.ProjectID,
		Timestamp: e.Timestamp,
		Payload:   e.Payload,
	}
}

// NewResyncRequired builds the drop signal referencing the last event id
// the subscriber is known to have received, if any.
func NewResyncRequired(lastEventID string) ResyncRequired {
	return ResyncRequired{Type: "resync_required", LastEventID: lastEventID}
}
