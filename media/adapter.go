package media

import (
	"context"
	"errors"
	"sync"

	"counsel/models"
	"counsel/utils"

	"go.uber.org/zap"
)

// errAlreadyJoined guards the per-session join/leave serialization: a second
// Join is a programming error until the prior Leave resolved.
var errAlreadyJoined = errors.New("media session already joined")

// Events are the adapter's notifications to the controller owning the
// session. The adapter reports; only the controller mutates session state.
type Events struct {
	// OnFirstRemotePublish fires once per joined channel, when the first
	// remote participant publishes anything. Drives connecting -> active.
	OnFirstRemotePublish func(uid uint32)

	// OnPeerLeft fires when a subscribed participant leaves the channel.
	OnPeerLeft func(uid uint32)
}

// SessionAdapter is what controllers program against; Adapter implements it
// and tests substitute fakes.
type SessionAdapter interface {
	Join(ctx context.Context, creds models.MediaCredentials, mode models.Mode) error
	Leave(ctx context.Context) error
	Joined() bool
	Participants() []models.MediaParticipant
}

// Adapter wraps an Engine for one session: local track lifecycle, the video
// degradation policy, the remote participant registry, and idempotent leave.
// Every Join must be paired with exactly one eventual Leave; the owning
// controller is responsible for calling Leave on all exit paths.
type Adapter struct {
	engine       Engine
	events       Events
	renderTarget string
	log          *zap.Logger

	mu           sync.Mutex
	joined       bool
	sawRemote    bool
	local        []LocalTrack
	participants map[uint32]*models.MediaParticipant
}

// NewAdapter builds an adapter around one engine instance. renderTarget is
// the caller-supplied sink remote video gets associated with on subscribe.
func NewAdapter(engine Engine, events Events, renderTarget string, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Adapter{
		engine:       engine,
		events:       events,
		renderTarget: renderTarget,
		log:          logger,
		participants: make(map[uint32]*models.MediaParticipant),
	}
}

// Join creates local tracks, connects the channel and publishes. The local
// audio track is always created; a video track only in video mode, and a
// camera failure degrades the session to audio-only rather than aborting.
// A microphone failure is a terminal JoinError. Calling Join while already
// joined is an error: the controller must serialize Join/Leave per session.
func (a *Adapter) Join(ctx context.Context, creds models.MediaCredentials, mode models.Mode) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.joined {
		return &JoinError{Stage: "channel", Err: errAlreadyJoined}
	}

	audio, err := a.engine.CreateAudioTrack()
	if err != nil {
		utils.MediaJoins.WithLabelValues("mic_failed").Inc()
		return &JoinError{Stage: "microphone", Err: err}
	}
	tracks := []LocalTrack{audio}

	if mode == models.ModeVideo {
		video, err := a.engine.CreateVideoTrack()
		if err != nil {
			// Audio-only fallback: the consultation continues without video.
			a.log.Warn("media: camera unavailable, continuing audio-only",
				zap.String("channel", creds.ChannelName), zap.Error(err))
		} else {
			tracks = append(tracks, video)
		}
	}

	if err := a.engine.Join(ctx, creds, EngineEvents{
		OnRemotePublished:   a.onRemotePublished,
		OnRemoteUnpublished: a.onRemoteUnpublished,
		OnRemoteLeft:        a.onRemoteLeft,
	}); err != nil {
		stopTracks(tracks, a.log)
		utils.MediaJoins.WithLabelValues("join_failed").Inc()
		return &JoinError{Stage: "channel", Err: err}
	}

	if err := a.engine.Publish(ctx, tracks); err != nil {
		stopTracks(tracks, a.log)
		if lerr := a.engine.Leave(ctx); lerr != nil {
			a.log.Warn("media: leave after failed publish", zap.Error(lerr))
		}
		utils.MediaJoins.WithLabelValues("publish_failed").Inc()
		return &PublishError{Err: err}
	}

	a.local = tracks
	a.joined = true
	a.sawRemote = false
	utils.MediaJoins.WithLabelValues("ok").Inc()
	a.log.Info("media: joined channel",
		zap.String("channel", creds.ChannelName),
		zap.Uint32("uid", creds.UID),
		zap.Int("localTracks", len(tracks)))
	return nil
}

// Leave stops and releases every local track, then leaves the channel.
// Idempotent: leaving twice, or without a prior join, is a no-op.
func (a *Adapter) Leave(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.joined {
		return nil
	}
	stopTracks(a.local, a.log)
	a.local = nil
	a.participants = make(map[uint32]*models.MediaParticipant)
	a.joined = false

	if err := a.engine.Leave(ctx); err != nil {
		a.log.Warn("media: leave failed", zap.Error(err))
		return err
	}
	a.log.Info("media: left channel")
	return nil
}

// Joined reports whether a join is currently outstanding.
func (a *Adapter) Joined() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.joined
}

// Participants snapshots the remote participant registry.
func (a *Adapter) Participants() []models.MediaParticipant {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.MediaParticipant, 0, len(a.participants))
	for _, p := range a.participants {
		out = append(out, *p)
	}
	return out
}

func (a *Adapter) onRemotePublished(pub RemotePublication) {
	a.mu.Lock()
	if !a.joined {
		a.mu.Unlock()
		return
	}
	p, ok := a.participants[pub.UID]
	if !ok {
		p = &models.MediaParticipant{UID: pub.UID}
		a.participants[pub.UID] = p
	}
	switch pub.Kind {
	case TrackAudio:
		p.HasAudio = true
	case TrackVideo:
		p.HasVideo = true
	}
	first := !a.sawRemote
	a.sawRemote = true
	target := a.renderTarget
	a.mu.Unlock()

	if err := a.engine.Subscribe(pub.UID, pub.Kind, target); err != nil {
		a.log.Warn("media: subscribe failed",
			zap.Uint32("uid", pub.UID), zap.String("kind", string(pub.Kind)), zap.Error(err))
	}
	if first && a.events.OnFirstRemotePublish != nil {
		a.events.OnFirstRemotePublish(pub.UID)
	}
}

func (a *Adapter) onRemoteUnpublished(pub RemotePublication) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.participants[pub.UID]
	if !ok {
		return
	}
	switch pub.Kind {
	case TrackAudio:
		p.HasAudio = false
	case TrackVideo:
		p.HasVideo = false
	}
	if !p.HasAudio && !p.HasVideo {
		delete(a.participants, pub.UID)
	}
}

func (a *Adapter) onRemoteLeft(uid uint32) {
	a.mu.Lock()
	delete(a.participants, uid)
	a.mu.Unlock()
	if a.events.OnPeerLeft != nil {
		a.events.OnPeerLeft(uid)
	}
}

func stopTracks(tracks []LocalTrack, log *zap.Logger) {
	for _, t := range tracks {
		if err := t.Stop(); err != nil {
			log.Warn("media: track stop failed", zap.String("kind", string(t.Kind())), zap.Error(err))
		}
	}
}
