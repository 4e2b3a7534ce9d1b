package call

import "fmt"

// AcceptanceError means notifying the peer of the accept failed remotely.
// The session stays in incoming so the user may retry.
type AcceptanceError struct {
	BookingID string
	Err       error
}

func (e *AcceptanceError) Error() string {
	return fmt.Sprintf("failed to accept call for booking %s: %v", e.BookingID, e.Err)
}

func (e *AcceptanceError) Unwrap() error { return e.Err }
