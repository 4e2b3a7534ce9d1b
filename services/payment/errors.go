package payment

import "fmt"

// OrderCreationError means the remote order/booking could not be created.
type OrderCreationError struct {
	Code    string
	Message string
	Err     error
}

func (e *OrderCreationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *OrderCreationError) Unwrap() error { return e.Err }

func NewOrderCreationError(msg string, err error) error {
	return &OrderCreationError{
		Code:    "orderCreationError",
		Message: msg,
		Err:     err,
	}
}

// VerificationError means the payment proof was not accepted. The session
// must not be considered paid: no controller is activated and no realtime
// rooms are joined.
type VerificationError struct {
	Code    string
	Message string
	Err     error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *VerificationError) Unwrap() error { return e.Err }

func NewVerificationError(msg string, err error) error {
	return &VerificationError{
		Code:    "verificationError",
		Message: msg,
		Err:     err,
	}
}
