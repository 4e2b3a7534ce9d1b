package models

import "time"

// CallStatus values for a call/video session. Transitions are monotonic
// except that rejected and ended are terminal.
type CallStatus string

const (
	CallIncoming   CallStatus = "incoming"
	CallAccepted   CallStatus = "accepted"
	CallRejected   CallStatus = "rejected"
	CallConnecting CallStatus = "connecting"
	CallActive     CallStatus = "active"
	CallEnded      CallStatus = "ended"
)

// Terminal reports whether no further transition is possible.
func (s CallStatus) Terminal() bool {
	return s == CallRejected || s == CallEnded
}

// ChatStatus values for a chat session.
type ChatStatus string

const (
	ChatWaiting ChatStatus = "waiting"
	ChatActive  ChatStatus = "active"
	ChatExpired ChatStatus = "expired"
)

// MediaCredentials are the short-lived, server-issued parameters authorizing
// a client to join a specific realtime media channel. Opaque to this core.
type MediaCredentials struct {
	AppID       string `json:"appId"`
	ChannelName string `json:"channelName"`
	Token       string `json:"token"`
	UID         uint32 `json:"uid"`
}

// CallSession is one call/video session tied to a booking. At most one
// exists per bookingId at a time.
type CallSession struct {
	BookingID   string            `json:"bookingId"`
	Mode        Mode              `json:"mode"`
	Status      CallStatus        `json:"status"`
	PeerID      string            `json:"peerId"`
	Credentials *MediaCredentials `json:"mediaCredentials,omitempty"`
	StartedAt   time.Time         `json:"startedAt,omitempty"`
}

// ChatSession is one chat session tied to a booking. RemainingSeconds is
// monotonically non-increasing while active and never negative.
type ChatSession struct {
	BookingID        string     `json:"bookingId"`
	Status           ChatStatus `json:"status"`
	RemainingSeconds int        `json:"remainingSeconds"`
	PeerID           string     `json:"peerId"`
	Messages         []Message  `json:"messages"`
}

// MediaParticipant tracks whether a remote peer currently has published
// audio/video. Ephemeral: exists only while subscribed.
type MediaParticipant struct {
	UID      uint32 `json:"uid"`
	HasAudio bool   `json:"hasAudio"`
	HasVideo bool   `json:"hasVideo"`
}
