package ingest

import "github.com/fleetgazer/fleetgazer/internal/models"

// EventType worker 向上层投递的消息类型
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventReconnecting EventType = "reconnecting"
	EventBulkUpdate   EventType = "bulk_update"
	EventMessage      EventType = "message"
	EventError        EventType = "error"
)

// Event is the only thing that crosses the worker boundary. Worker-internal
// failures are converted to EventError, never thrown across.
type Event struct {
	Type EventType

	// EventBulkUpdate: coalesced updates, one per vehicle, last write wins.
	Updates []models.VehicleUpdate

	// EventMessage: pass-through frame for non-position event types.
	Frame *models.Frame

	// EventReconnecting: retry attempt number (1-based).
	Attempt int

	// EventError / EventDisconnected (when caused by a failure).
	Err error

	// EventDisconnected: true once the retry cap is exhausted; no further
	// recovery happens without an explicit Connect.
	Terminal bool
}
