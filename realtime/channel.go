package realtime

import (
	"encoding/json"
	"errors"
)

// ErrDisconnected is returned by Emit while the transport is down. It is a
// transient liveness loss: controllers must not treat it as session end.
var ErrDisconnected = errors.New("realtime channel disconnected")

// Handler consumes one inbound event payload. Handlers for the same
// connection are invoked sequentially from the read loop, so controller
// mutations triggered by channel events are naturally serialized.
type Handler func(data json.RawMessage)

// RoomKind selects the join event used to register a room.
type RoomKind string

const (
	RoomUser         RoomKind = "user"
	RoomProfessional RoomKind = "professional"
	RoomBooking      RoomKind = "booking"
)

// Room is a server-side fan-out group the connection belongs to. Rooms are
// remembered locally and re-joined after every reconnect.
type Room struct {
	Kind RoomKind
	ID   string
}

func (r Room) joinEvent() string {
	switch r.Kind {
	case RoomProfessional:
		return EventJoinProfessional
	case RoomBooking:
		return EventJoinBooking
	default:
		return EventJoinUser
	}
}

// Channel is the bidirectional event pub/sub used by every controller.
// Implemented by Socket; tests substitute fakes.
type Channel interface {
	// Emit publishes one event. Delivery is at-least-once once connected,
	// best-effort at-most-once from this side's perspective.
	Emit(event string, payload interface{}) error

	// On registers a handler for an inbound event name. Multiple handlers
	// per event are allowed.
	On(event string, h Handler)

	// Join registers a room now and after every future reconnect.
	Join(room Room) error

	// Leave forgets a room registration.
	Leave(room Room)

	// Connected reports transport liveness.
	Connected() bool

	// OnReconnect registers a hook invoked after the transport comes back
	// and rooms have been re-joined. Used for explicit state resync.
	OnReconnect(fn func())
}
