package call

import (
	"context"

	"counsel/models"
)

// CallService owns the lifecycle of call/video sessions, one state machine
// per booking:
//
//	incoming --accept--> connecting --peer-joined--> active --end--> ended
//	incoming --reject--> rejected
//	connecting --fail/timeout--> ended
//
// rejected and ended are terminal. At most one session exists per booking id.
type CallService interface {
	// Activate enters a verified call/video booking on the paying side:
	// the session starts in connecting and the media channel is joined as
	// soon as credentials are known.
	Activate(ctx context.Context, grant models.SessionGrant) error

	// Accept notifies the peer and moves an incoming session to connecting.
	Accept(ctx context.Context, bookingID string) error

	// Reject notifies the peer and discards the incoming session.
	Reject(ctx context.Context, bookingID string) error

	// End terminates a session, notifies the peer and leaves the media
	// channel. Idempotent, including against a racing remote end.
	End(ctx context.Context, bookingID string) error

	// Get returns the current session for a booking, if any.
	Get(bookingID string) (*models.CallSession, bool)

	// Sessions snapshots all live sessions (pending and active).
	Sessions() []models.CallSession
}
