package media

import (
	"context"
	"fmt"

	"counsel/models"
)

// TrackKind distinguishes local capture tracks.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// LocalTrack is an opaque local capture track owned by the adapter between
// Join and Leave.
type LocalTrack interface {
	Kind() TrackKind
	Stop() error
}

// RemotePublication announces that a remote participant published a track.
type RemotePublication struct {
	UID  uint32
	Kind TrackKind
}

// EngineEvents are the callbacks an Engine raises into its adapter. The
// engine never touches session state itself.
type EngineEvents struct {
	OnRemotePublished   func(pub RemotePublication)
	OnRemoteUnpublished func(pub RemotePublication)
	OnRemoteLeft        func(uid uint32)
}

// Engine is the opaque join/publish/subscribe/leave capability of the
// underlying RTC stack. One Engine instance serves one media session.
type Engine interface {
	// Join connects to the media channel named by the credentials.
	Join(ctx context.Context, creds models.MediaCredentials, events EngineEvents) error

	// CreateAudioTrack opens the microphone.
	CreateAudioTrack() (LocalTrack, error)

	// CreateVideoTrack opens the camera.
	CreateVideoTrack() (LocalTrack, error)

	// Publish announces local tracks to the channel.
	Publish(ctx context.Context, tracks []LocalTrack) error

	// Subscribe starts consuming a remote publication. Audio is played
	// immediately; video is associated with the supplied render target.
	Subscribe(uid uint32, kind TrackKind, renderTarget string) error

	// Leave disconnects from the channel. Idempotent.
	Leave(ctx context.Context) error
}

// JoinError is a media engine failure during channel join. A camera failure
// degrades to audio-only instead; microphone failure is terminal because a
// call has no fallback below audio.
type JoinError struct {
	Stage string // "microphone", "channel", "credentials"
	Err   error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("media join failed at %s: %v", e.Stage, e.Err)
}

func (e *JoinError) Unwrap() error { return e.Err }

// PublishError is a failure announcing local tracks after a successful join.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("media publish failed: %v", e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
