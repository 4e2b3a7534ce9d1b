package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"counsel/media"
	"counsel/models"
	"counsel/realtime"
	"counsel/store"
	"counsel/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type emitted struct {
	event   string
	payload interface{}
}

type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	emitErr   error
	handlers  map[string][]realtime.Handler
	emits     []emitted
	rooms     []realtime.Room
	hooks     []func()
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{connected: true, handlers: make(map[string][]realtime.Handler)}
}

func (c *fakeChannel) Emit(event string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	c.emits = append(c.emits, emitted{event: event, payload: payload})
	return nil
}

func (c *fakeChannel) On(event string, h realtime.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

func (c *fakeChannel) Join(room realtime.Room) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = append(c.rooms, room)
	return nil
}

func (c *fakeChannel) Leave(realtime.Room) {}

func (c *fakeChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// fire delivers an inbound event to every registered handler, the way the
// socket read loop would.
func (c *fakeChannel) fire(t *testing.T, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	c.mu.Lock()
	hs := append([]realtime.Handler(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

func (c *fakeChannel) emitsOf(event string) []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []emitted
	for _, e := range c.emits {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeAdapter struct {
	mu      sync.Mutex
	joinErr error
	joins   int
	leaves  int
	joined  bool
}

func (a *fakeAdapter) Join(_ context.Context, _ models.MediaCredentials, _ models.Mode) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.joinErr != nil {
		return a.joinErr
	}
	a.joins++
	a.joined = true
	return nil
}

func (a *fakeAdapter) Leave(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.joined {
		a.leaves++
	}
	a.joined = false
	return nil
}

func (a *fakeAdapter) Joined() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.joined
}

func (a *fakeAdapter) Participants() []models.MediaParticipant { return nil }

func (a *fakeAdapter) joinCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.joins
}

func (a *fakeAdapter) leaveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.leaves
}

type harness struct {
	channel *fakeChannel
	adapter *fakeAdapter
	events  media.Events
	svc     *DefaultCallService
}

func newHarness(t *testing.T, role string, connectTimeout time.Duration) *harness {
	t.Helper()
	h := &harness{channel: newFakeChannel(), adapter: &fakeAdapter{}}
	factory := func(events media.Events) media.SessionAdapter {
		h.events = events
		return h.adapter
	}
	identity := &utils.Identity{AccountID: role + "-1", Role: role}
	h.svc = NewDefaultCallService(h.channel, identity, store.NewMemoryStore(), factory, connectTimeout, zap.NewNop())
	return h
}

func incoming(bookingID string, mode models.Mode) realtime.IncomingCallPayload {
	return realtime.IncomingCallPayload{
		BookingID: bookingID,
		Mode:      mode,
		UserID:    "client-9",
		Duration:  15,
		Timestamp: time.Now(),
	}
}

func grant(bookingID string, mode models.Mode, withCreds bool) models.SessionGrant {
	g := models.SessionGrant{
		Booking: &models.Booking{
			ID:             bookingID,
			Mode:           mode,
			ClientID:       "client-1",
			ProfessionalID: "pro-9",
			DurationSec:    900,
		},
		SessionToken: "session_abc",
	}
	if withCreds {
		g.Media = &models.MediaCredentials{AppID: "app", ChannelName: bookingID, Token: "tok", UID: 3}
	}
	return g
}

func TestIncomingCallQueuedForProfessional(t *testing.T) {
	h := newHarness(t, "professional", 0)

	h.channel.fire(t, realtime.EventIncomingCall, incoming("bk-1", models.ModeVideo))

	sess, ok := h.svc.Get("bk-1")
	require.True(t, ok)
	assert.Equal(t, models.CallIncoming, sess.Status)
	assert.Equal(t, "client-9", sess.PeerID)
	assert.Equal(t, models.ModeVideo, sess.Mode)
}

func TestIncomingCallIgnoredOnClientSide(t *testing.T) {
	h := newHarness(t, "client", 0)

	h.channel.fire(t, realtime.EventIncomingCall, incoming("bk-1", models.ModeVideo))

	_, ok := h.svc.Get("bk-1")
	assert.False(t, ok)
}

func TestAcceptNotifiesPeerAndConnects(t *testing.T) {
	h := newHarness(t, "professional", 0)
	h.channel.fire(t, realtime.EventIncomingCall, incoming("bk-1", models.ModeCall))

	require.NoError(t, h.svc.Accept(context.Background(), "bk-1"))

	accepts := h.channel.emitsOf(realtime.EventBookingAccepted)
	require.Len(t, accepts, 1)
	p := accepts[0].payload.(realtime.BookingAcceptedPayload)
	assert.Equal(t, "bk-1", p.BookingID)
	assert.Equal(t, "professional-1", p.ProfessionalID)
	assert.Equal(t, "client-9", p.UserID)

	sess, _ := h.svc.Get("bk-1")
	assert.Equal(t, models.CallConnecting, sess.Status)
	// No credentials yet, so the media channel stays untouched.
	assert.Zero(t, h.adapter.joinCount())
}

func TestAcceptFailureKeepsSessionIncoming(t *testing.T) {
	h := newHarness(t, "professional", 0)
	h.channel.fire(t, realtime.EventIncomingCall, incoming("bk-1", models.ModeCall))
	h.channel.emitErr = errors.New("socket closed")

	err := h.svc.Accept(context.Background(), "bk-1")
	var aerr *AcceptanceError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "bk-1", aerr.BookingID)

	sess, _ := h.svc.Get("bk-1")
	assert.Equal(t, models.CallIncoming, sess.Status)

	// Retry succeeds once the channel recovers.
	h.channel.mu.Lock()
	h.channel.emitErr = nil
	h.channel.mu.Unlock()
	require.NoError(t, h.svc.Accept(context.Background(), "bk-1"))
}

func TestCredentialsArrivalJoinsMedia(t *testing.T) {
	h := newHarness(t, "professional", 0)
	h.channel.fire(t, realtime.EventIncomingCall, incoming("bk-1", models.ModeCall))
	require.NoError(t, h.svc.Accept(context.Background(), "bk-1"))

	h.channel.fire(t, realtime.EventMediaCredentials, realtime.MediaCredentialsPayload{
		BookingID:        "bk-1",
		MediaCredentials: models.MediaCredentials{AppID: "app", ChannelName: "bk-1", Token: "tok", UID: 3},
	})

	require.Eventually(t, func() bool { return h.adapter.joinCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestPeerPublishActivatesSession(t *testing.T) {
	h := newHarness(t, "client", 0)
	require.NoError(t, h.svc.Activate(context.Background(), grant("bk-1", models.ModeVideo, true)))

	require.Eventually(t, func() bool { return h.adapter.joinCount() == 1 },
		time.Second, 5*time.Millisecond)

	h.events.OnFirstRemotePublish(42)

	sess, _ := h.svc.Get("bk-1")
	assert.Equal(t, models.CallActive, sess.Status)
	assert.False(t, sess.StartedAt.IsZero())
}

func TestActivateRejectsDuplicateBooking(t *testing.T) {
	h := newHarness(t, "client", 0)
	require.NoError(t, h.svc.Activate(context.Background(), grant("bk-1", models.ModeCall, true)))
	assert.Error(t, h.svc.Activate(context.Background(), grant("bk-1", models.ModeCall, true)))
}

func TestRejectEmitsExactlyOneStatus(t *testing.T) {
	h := newHarness(t, "professional", 0)
	h.channel.fire(t, realtime.EventIncomingCall, incoming("bk-1", models.ModeCall))

	require.NoError(t, h.svc.Reject(context.Background(), "bk-1"))
	require.NoError(t, h.svc.Reject(context.Background(), "bk-1"))
	require.NoError(t, h.svc.Reject(context.Background(), "bk-1"))

	statuses := h.channel.emitsOf(realtime.EventCallStatus)
	require.Len(t, statuses, 1)
	p := statuses[0].payload.(realtime.CallStatusPayload)
	assert.Equal(t, string(models.CallRejected), p.Status)

	_, ok := h.svc.Get("bk-1")
	assert.False(t, ok)
}

func TestEndRacingRemoteEndLeavesMediaOnce(t *testing.T) {
	h := newHarness(t, "client", 0)
	require.NoError(t, h.svc.Activate(context.Background(), grant("bk-1", models.ModeCall, true)))
	require.Eventually(t, func() bool { return h.adapter.joinCount() == 1 },
		time.Second, 5*time.Millisecond)
	h.events.OnFirstRemotePublish(42)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = h.svc.End(context.Background(), "bk-1")
	}()
	go func() {
		defer wg.Done()
		h.channel.fire(t, realtime.EventSessionEnded, realtime.EndSessionPayload{BookingID: "bk-1"})
	}()
	wg.Wait()

	assert.Equal(t, 1, h.adapter.leaveCount())
	_, ok := h.svc.Get("bk-1")
	assert.False(t, ok)

	// Late remote status for the same booking is absorbed.
	h.channel.fire(t, realtime.EventCallStatus, realtime.CallStatusPayload{
		BookingID: "bk-1", Status: string(models.CallEnded),
	})
	assert.Equal(t, 1, h.adapter.leaveCount())
}

func TestEndOfUnknownBookingIsNoop(t *testing.T) {
	h := newHarness(t, "client", 0)
	assert.NoError(t, h.svc.End(context.Background(), "missing"))
}

func TestConnectTimeoutEndsSession(t *testing.T) {
	h := newHarness(t, "client", 30*time.Millisecond)
	require.NoError(t, h.svc.Activate(context.Background(), grant("bk-1", models.ModeCall, true)))

	require.Eventually(t, func() bool {
		_, ok := h.svc.Get("bk-1")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.adapter.leaveCount())
}

func TestRedeliveredIncomingDoesNotResetProgress(t *testing.T) {
	h := newHarness(t, "professional", 0)
	h.channel.fire(t, realtime.EventIncomingCall, incoming("bk-1", models.ModeCall))
	require.NoError(t, h.svc.Accept(context.Background(), "bk-1"))

	h.channel.fire(t, realtime.EventIncomingCall, incoming("bk-1", models.ModeCall))

	sess, _ := h.svc.Get("bk-1")
	assert.Equal(t, models.CallConnecting, sess.Status)
}

func TestReconnectQueriesEverySession(t *testing.T) {
	h := newHarness(t, "professional", 0)
	h.channel.fire(t, realtime.EventIncomingCall, incoming("bk-1", models.ModeCall))
	h.channel.fire(t, realtime.EventIncomingCall, incoming("bk-2", models.ModeVideo))

	require.Len(t, h.channel.hooks, 1)
	h.channel.hooks[0]()

	checks := h.channel.emitsOf(realtime.EventCheckStatus)
	assert.Len(t, checks, 2)
}
