package models

// OrderRequest describes the consultation a client wants to pay for. The
// backend prices it at DurationMinutes x RatePerMinute in minor units.
type OrderRequest struct {
	ProfessionalID  string `json:"professionalId"`
	Mode            Mode   `json:"mode"`
	DurationMinutes int    `json:"duration"`
	RatePerMinute   int64  `json:"ratePerMinute"`
}

// Amount returns the order total in minor currency units.
func (r OrderRequest) Amount() int64 {
	return int64(r.DurationMinutes) * r.RatePerMinute * 100
}

// Order is the gateway order paired with the provisional booking the backend
// created for it.
type Order struct {
	OrderID   string `json:"orderId"`
	BookingID string `json:"bookingId"`
	Amount    int64  `json:"amount"`
}

// PaymentProof is what the checkout widget hands back after the user pays.
// The signature is verified server-side; this core never trusts it locally.
type PaymentProof struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Signature string `json:"signature"`
	BookingID string `json:"bookingId"`
}

// VerificationResult is the backend's verdict on a payment proof. Media
// credentials are present only for call/video bookings.
type VerificationResult struct {
	Verified bool              `json:"verified"`
	Booking  *Booking          `json:"booking,omitempty"`
	Media    *MediaCredentials `json:"mediaCredentials,omitempty"`
}

// SessionGrant is what the payment orchestrator hands to the controller
// matching the booking mode after a successful verification: the verified
// booking, exactly one locally generated session token, and the media
// credentials when the mode needs them.
type SessionGrant struct {
	Booking      *Booking
	SessionToken string
	Media        *MediaCredentials
}
