package realtime

import (
	"encoding/json"
	"time"

	"counsel/models"
)

// Event names making up the realtime channel contract. Room joins go
// client->server, lifecycle notifications server->client, and call-status /
// chat-message / typing flow both ways.
const (
	EventJoinUser         = "join-user"
	EventJoinProfessional = "join-professional"
	EventJoinBooking      = "join-booking"
	EventIncomingCall     = "incoming-call"
	EventBookingAccepted  = "booking-accepted"
	EventSessionStarted   = "session-started"
	EventMediaCredentials = "media-credentials"
	EventCallStatus       = "call-status"
	EventChatMessage      = "chat-message"
	EventTyping           = "typing"
	EventEndSession       = "end-session"
	EventSessionEnded     = "session-ended"
	// EventCheckStatus asks the server to replay the current session state
	// for a booking. Emitted after a reconnect; the server answers with the
	// usual session-started / call-status events.
	EventCheckStatus = "check-session-status"
)

// Envelope is the wire frame: an event name plus its JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// IncomingCallPayload announces a paid booking awaiting the professional's
// decision.
type IncomingCallPayload struct {
	BookingID string      `json:"bookingId"`
	Mode      models.Mode `json:"mode"`
	UserID    string      `json:"userId"`
	UserName  string      `json:"userName,omitempty"`
	Duration  int         `json:"duration"`
	Timestamp time.Time   `json:"timestamp"`
}

// BookingAcceptedPayload is sent by the professional side on accept.
type BookingAcceptedPayload struct {
	BookingID      string `json:"bookingId"`
	ProfessionalID string `json:"professionalId"`
	UserID         string `json:"userId"`
	Duration       int    `json:"duration"`
}

// SessionStartedPayload confirms the server opened the session clock.
type SessionStartedPayload struct {
	BookingID string `json:"bookingId"`
	Duration  int    `json:"duration"`
}

// MediaCredentialsPayload delivers join credentials out of band when they
// were not part of the payment verification response.
type MediaCredentialsPayload struct {
	BookingID string `json:"bookingId"`
	models.MediaCredentials
}

// CallStatusPayload carries call lifecycle changes in both directions.
type CallStatusPayload struct {
	BookingID      string `json:"bookingId"`
	Status         string `json:"status"`
	ProfessionalID string `json:"professionalId,omitempty"`
}

// TypingPayload is the transient typing indicator.
type TypingPayload struct {
	BookingID string `json:"bookingId"`
	SenderID  string `json:"senderId"`
}

// EndSessionPayload requests or reports session termination.
type EndSessionPayload struct {
	BookingID string `json:"bookingId"`
}
