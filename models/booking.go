package models

import (
	"fmt"
	"time"
)

// Mode selects how a consultation is conducted.
type Mode string

const (
	ModeChat  Mode = "chat"
	ModeCall  Mode = "call"
	ModeVideo Mode = "video"
)

// ParseMode validates a wire-level mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeChat, ModeCall, ModeVideo:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown consultation mode %q", s)
}

// HasMedia reports whether the mode drives a realtime media channel.
func (m Mode) HasMedia() bool {
	return m == ModeCall || m == ModeVideo
}

// Booking identifies one paid consultation instance. Immutable once created;
// owned by the payment orchestrator until handed to a controller.
type Booking struct {
	ID             string    `json:"bookingId"`
	Mode           Mode      `json:"mode"`
	ClientID       string    `json:"clientId"`
	ProfessionalID string    `json:"professionalId"`
	Amount         int64     `json:"amount"` // minor currency units
	DurationSec    int       `json:"duration"`
	CreatedAt      time.Time `json:"createdAt"`
}
