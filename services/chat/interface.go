package chat

import (
	"context"

	"counsel/models"
)

// ChatService drives timed chat sessions over the realtime channel.
//
//	waiting --session-started--> active --countdown zero / end--> expired
//
// Messages are accepted only while active and the channel is up. The
// countdown runs client side at one tick per second and requests session
// termination exactly once when it reaches zero.
type ChatService interface {
	// Activate enters a verified chat booking in waiting state. Part of the
	// payment activation contract.
	Activate(ctx context.Context, grant models.SessionGrant) error

	// Accept acknowledges a queued incoming chat booking (professional side).
	// The session stays waiting until the server confirms session-started.
	Accept(ctx context.Context, bookingID string) error

	// SendMessage appends a text message optimistically and emits it. The
	// persisted copy is written in the background.
	SendMessage(ctx context.Context, bookingID, content string) (*models.Message, error)

	// SendFile sends a file attachment message by reference.
	SendFile(ctx context.Context, bookingID, fileName, fileType, content string) (*models.Message, error)

	// Typing signals the typing indicator, throttled so repeated keystrokes
	// collapse into at most one event per throttle window.
	Typing(ctx context.Context, bookingID string) error

	// End expires the session and requests termination from the server.
	// Repeated and concurrent ends emit the termination request once.
	End(ctx context.Context, bookingID string) error

	// Get returns the session model for a booking.
	Get(bookingID string) (*models.ChatSession, bool)

	// PeerTyping reports whether the peer's typing indicator is currently lit.
	PeerTyping(bookingID string) bool

	// Sessions snapshots all live sessions.
	Sessions() []models.ChatSession
}
