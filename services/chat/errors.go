package chat

import "fmt"

// SendError reports why a message could not be accepted for delivery.
type SendError struct {
	BookingID string
	Code      int
	Message   string
	Err       error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chat send failed for booking %s: %s: %v", e.BookingID, e.Message, e.Err)
	}
	return fmt.Sprintf("chat send failed for booking %s: %s", e.BookingID, e.Message)
}

func (e *SendError) Unwrap() error { return e.Err }

// NewSessionInactiveError marks a send attempted outside an active session.
func NewSessionInactiveError(bookingID string) *SendError {
	return &SendError{BookingID: bookingID, Code: 409, Message: "session is not active"}
}

// NewChannelDownError marks a send attempted while the channel is down.
func NewChannelDownError(bookingID string, err error) *SendError {
	return &SendError{BookingID: bookingID, Code: 503, Message: "realtime channel unavailable", Err: err}
}
