package models

import "time"

// MessageKind distinguishes plain text from file attachments.
type MessageKind string

const (
	MessageText MessageKind = "text"
	MessageFile MessageKind = "file"
)

// Role of a message sender within a consultation.
type Role string

const (
	RoleClient       Role = "client"
	RoleProfessional Role = "professional"
)

// Message is one chat message. ID is client-generated and unique per sender;
// dedup on replay keys on (SenderID, ID), not ID alone, to survive id reuse
// across reconnects.
type Message struct {
	ID         string      `json:"id"`
	BookingID  string      `json:"bookingId"`
	SenderID   string      `json:"senderId"`
	SenderRole Role        `json:"senderRole"`
	Content    string      `json:"content"`
	Kind       MessageKind `json:"kind"`
	FileName   string      `json:"fileName,omitempty"`
	FileType   string      `json:"fileType,omitempty"`
	SentAt     time.Time   `json:"timestamp"`
}
