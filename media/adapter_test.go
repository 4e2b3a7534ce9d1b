package media

import (
	"context"
	"errors"
	"sync"
	"testing"

	"counsel/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTrack struct {
	kind    TrackKind
	mu      sync.Mutex
	stopped int
}

func (t *fakeTrack) Kind() TrackKind { return t.kind }

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped++
	return nil
}

type fakeEngine struct {
	mu sync.Mutex

	micErr     error
	cameraErr  error
	joinErr    error
	publishErr error

	events    EngineEvents
	joins     int
	leaves    int
	published []LocalTrack
	audio     *fakeTrack
	video     *fakeTrack
	subs      []RemotePublication
}

func (e *fakeEngine) Join(_ context.Context, _ models.MediaCredentials, events EngineEvents) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.joinErr != nil {
		return e.joinErr
	}
	e.events = events
	e.joins++
	return nil
}

func (e *fakeEngine) CreateAudioTrack() (LocalTrack, error) {
	if e.micErr != nil {
		return nil, e.micErr
	}
	e.audio = &fakeTrack{kind: TrackAudio}
	return e.audio, nil
}

func (e *fakeEngine) CreateVideoTrack() (LocalTrack, error) {
	if e.cameraErr != nil {
		return nil, e.cameraErr
	}
	e.video = &fakeTrack{kind: TrackVideo}
	return e.video, nil
}

func (e *fakeEngine) Publish(_ context.Context, tracks []LocalTrack) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.publishErr != nil {
		return e.publishErr
	}
	e.published = tracks
	return nil
}

func (e *fakeEngine) Subscribe(uid uint32, kind TrackKind, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, RemotePublication{UID: uid, Kind: kind})
	return nil
}

func (e *fakeEngine) Leave(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leaves++
	return nil
}

func creds() models.MediaCredentials {
	return models.MediaCredentials{AppID: "app", ChannelName: "bk-1", Token: "tok", UID: 7}
}

func TestJoinVideoPublishesBothTracks(t *testing.T) {
	engine := &fakeEngine{}
	a := NewAdapter(engine, Events{}, "", zap.NewNop())

	require.NoError(t, a.Join(context.Background(), creds(), models.ModeVideo))
	assert.True(t, a.Joined())
	assert.Len(t, engine.published, 2)
}

func TestJoinCallModeSkipsCamera(t *testing.T) {
	engine := &fakeEngine{}
	a := NewAdapter(engine, Events{}, "", zap.NewNop())

	require.NoError(t, a.Join(context.Background(), creds(), models.ModeCall))
	assert.Len(t, engine.published, 1)
	assert.Equal(t, TrackAudio, engine.published[0].Kind())
	assert.Nil(t, engine.video)
}

func TestJoinCameraFailureDegradesToAudioOnly(t *testing.T) {
	engine := &fakeEngine{cameraErr: errors.New("camera busy")}
	a := NewAdapter(engine, Events{}, "", zap.NewNop())

	require.NoError(t, a.Join(context.Background(), creds(), models.ModeVideo))
	assert.True(t, a.Joined())
	assert.Len(t, engine.published, 1)
	assert.Equal(t, TrackAudio, engine.published[0].Kind())
}

func TestJoinMicrophoneFailureIsTerminal(t *testing.T) {
	engine := &fakeEngine{micErr: errors.New("no device")}
	a := NewAdapter(engine, Events{}, "", zap.NewNop())

	err := a.Join(context.Background(), creds(), models.ModeVideo)
	var jerr *JoinError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, "microphone", jerr.Stage)
	assert.False(t, a.Joined())
	assert.Zero(t, engine.joins)
}

func TestJoinChannelFailureStopsLocalTracks(t *testing.T) {
	engine := &fakeEngine{joinErr: errors.New("ice failed")}
	a := NewAdapter(engine, Events{}, "", zap.NewNop())

	err := a.Join(context.Background(), creds(), models.ModeCall)
	var jerr *JoinError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, "channel", jerr.Stage)
	assert.Equal(t, 1, engine.audio.stopped)
}

func TestJoinPublishFailureLeavesChannel(t *testing.T) {
	engine := &fakeEngine{publishErr: errors.New("rejected")}
	a := NewAdapter(engine, Events{}, "", zap.NewNop())

	err := a.Join(context.Background(), creds(), models.ModeCall)
	var perr *PublishError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, engine.leaves)
	assert.False(t, a.Joined())
}

func TestDoubleJoinIsRejected(t *testing.T) {
	engine := &fakeEngine{}
	a := NewAdapter(engine, Events{}, "", zap.NewNop())

	require.NoError(t, a.Join(context.Background(), creds(), models.ModeCall))
	err := a.Join(context.Background(), creds(), models.ModeCall)
	require.Error(t, err)
	assert.ErrorIs(t, err, errAlreadyJoined)
	assert.Equal(t, 1, engine.joins)
}

func TestLeaveIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	a := NewAdapter(engine, Events{}, "", zap.NewNop())

	require.NoError(t, a.Join(context.Background(), creds(), models.ModeCall))
	require.NoError(t, a.Leave(context.Background()))
	require.NoError(t, a.Leave(context.Background()))
	require.NoError(t, a.Leave(context.Background()))

	assert.Equal(t, 1, engine.leaves)
	assert.Equal(t, 1, engine.audio.stopped)
	assert.False(t, a.Joined())
}

func TestFirstRemotePublishFiresOnce(t *testing.T) {
	engine := &fakeEngine{}
	var fired []uint32
	a := NewAdapter(engine, Events{
		OnFirstRemotePublish: func(uid uint32) { fired = append(fired, uid) },
	}, "remote-view", zap.NewNop())

	require.NoError(t, a.Join(context.Background(), creds(), models.ModeVideo))

	engine.events.OnRemotePublished(RemotePublication{UID: 42, Kind: TrackAudio})
	engine.events.OnRemotePublished(RemotePublication{UID: 42, Kind: TrackVideo})
	engine.events.OnRemotePublished(RemotePublication{UID: 99, Kind: TrackAudio})

	assert.Equal(t, []uint32{42}, fired)
	assert.Len(t, engine.subs, 3)
}

func TestParticipantRegistryTracksPublications(t *testing.T) {
	engine := &fakeEngine{}
	a := NewAdapter(engine, Events{}, "", zap.NewNop())
	require.NoError(t, a.Join(context.Background(), creds(), models.ModeVideo))

	engine.events.OnRemotePublished(RemotePublication{UID: 42, Kind: TrackAudio})
	engine.events.OnRemotePublished(RemotePublication{UID: 42, Kind: TrackVideo})

	parts := a.Participants()
	require.Len(t, parts, 1)
	assert.True(t, parts[0].HasAudio)
	assert.True(t, parts[0].HasVideo)

	engine.events.OnRemoteUnpublished(RemotePublication{UID: 42, Kind: TrackVideo})
	parts = a.Participants()
	require.Len(t, parts, 1)
	assert.False(t, parts[0].HasVideo)

	engine.events.OnRemoteUnpublished(RemotePublication{UID: 42, Kind: TrackAudio})
	assert.Empty(t, a.Participants())
}

func TestPeerLeftNotifiesAndClearsRegistry(t *testing.T) {
	engine := &fakeEngine{}
	var left []uint32
	a := NewAdapter(engine, Events{
		OnPeerLeft: func(uid uint32) { left = append(left, uid) },
	}, "", zap.NewNop())
	require.NoError(t, a.Join(context.Background(), creds(), models.ModeCall))

	engine.events.OnRemotePublished(RemotePublication{UID: 42, Kind: TrackAudio})
	engine.events.OnRemoteLeft(42)

	assert.Equal(t, []uint32{42}, left)
	assert.Empty(t, a.Participants())
}
