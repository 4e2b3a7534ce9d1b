package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"counsel/media"
	"counsel/models"
	"counsel/realtime"
	"counsel/store"
	"counsel/utils"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// AdapterFactory creates one media session adapter per call session. The
// events are already bound to the owning booking.
type AdapterFactory func(events media.Events) media.SessionAdapter

// DefaultCallService implements CallService. All mutations for one booking
// run under that session's lock, so events arriving from the channel, the
// media engine and user commands are serialized per booking while distinct
// bookings proceed independently.
type DefaultCallService struct {
	Channel        realtime.Channel
	Identity       *utils.Identity
	Store          store.SessionStore
	NewAdapter     AdapterFactory
	ConnectTimeout time.Duration
	Logger         *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu          sync.Mutex
	machine     *fsm.FSM
	model       models.CallSession
	token       string
	durationSec int
	adapter     media.SessionAdapter
	joining     bool
	cancelWait  context.CancelFunc
}

func newMachine(initial models.CallStatus) *fsm.FSM {
	return fsm.NewFSM(
		string(initial),
		fsm.Events{
			{Name: "accept", Src: []string{string(models.CallIncoming)}, Dst: string(models.CallConnecting)},
			{Name: "reject", Src: []string{string(models.CallIncoming)}, Dst: string(models.CallRejected)},
			{Name: "peer_joined", Src: []string{string(models.CallConnecting)}, Dst: string(models.CallActive)},
			{Name: "end", Src: []string{
				string(models.CallIncoming),
				string(models.CallConnecting),
				string(models.CallActive),
			}, Dst: string(models.CallEnded)},
		}, nil,
	)
}

// NewDefaultCallService builds the controller and subscribes it to the
// realtime channel.
func NewDefaultCallService(channel realtime.Channel, identity *utils.Identity, st store.SessionStore, newAdapter AdapterFactory, connectTimeout time.Duration, logger *zap.Logger) *DefaultCallService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	s := &DefaultCallService{
		Channel:        channel,
		Identity:       identity,
		Store:          st,
		NewAdapter:     newAdapter,
		ConnectTimeout: connectTimeout,
		Logger:         logger,
		sessions:       make(map[string]*session),
	}

	channel.On(realtime.EventIncomingCall, func(data json.RawMessage) {
		var p realtime.IncomingCallPayload
		if err := json.Unmarshal(data, &p); err != nil {
			s.Logger.Warn("call: bad incoming-call payload", zap.Error(err))
			return
		}
		s.handleIncoming(p)
	})
	channel.On(realtime.EventMediaCredentials, func(data json.RawMessage) {
		var p realtime.MediaCredentialsPayload
		if err := json.Unmarshal(data, &p); err != nil {
			s.Logger.Warn("call: bad media-credentials payload", zap.Error(err))
			return
		}
		s.handleCredentials(p)
	})
	channel.On(realtime.EventCallStatus, func(data json.RawMessage) {
		var p realtime.CallStatusPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		switch p.Status {
		case string(models.CallEnded):
			_ = s.endSession(context.Background(), p.BookingID, "remote", false)
		case string(models.CallRejected):
			_ = s.endSession(context.Background(), p.BookingID, "rejected", false)
		}
	})
	channel.On(realtime.EventSessionEnded, func(data json.RawMessage) {
		var p realtime.EndSessionPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		_ = s.endSession(context.Background(), p.BookingID, "remote", false)
	})
	channel.OnReconnect(s.resync)

	return s
}

// handleIncoming queues a paid booking awaiting the professional's decision.
// Redelivery of the same incoming-call replaces the queued session instead
// of duplicating it.
func (s *DefaultCallService) handleIncoming(p realtime.IncomingCallPayload) {
	if s.Identity.Role != string(models.RoleProfessional) {
		return
	}
	if !p.Mode.HasMedia() {
		// Chat bookings ring through the chat controller's session-started.
		return
	}

	s.mu.Lock()
	existing, ok := s.sessions[p.BookingID]
	if ok && existing.status() != models.CallIncoming {
		// Already progressing; a stale redelivery must not reset it.
		s.mu.Unlock()
		return
	}
	sess := &session{
		machine:     newMachine(models.CallIncoming),
		durationSec: p.Duration,
		model: models.CallSession{
			BookingID: p.BookingID,
			Mode:      p.Mode,
			Status:    models.CallIncoming,
			PeerID:    p.UserID,
		},
	}
	s.sessions[p.BookingID] = sess
	s.mu.Unlock()

	if !ok {
		utils.ActiveSessions.WithLabelValues(string(p.Mode)).Inc()
	}
	s.saveSnapshot(sess)
	s.Logger.Info("call: incoming",
		zap.String("bookingId", p.BookingID),
		zap.String("mode", string(p.Mode)),
		zap.String("from", p.UserID))
}

// Activate enters a verified booking on the paying side: connecting from the
// start, media joined as soon as credentials are known.
func (s *DefaultCallService) Activate(ctx context.Context, grant models.SessionGrant) error {
	b := grant.Booking
	peer := b.ProfessionalID
	if s.Identity.Role == string(models.RoleProfessional) {
		peer = b.ClientID
	}

	s.mu.Lock()
	if _, exists := s.sessions[b.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("call session already exists for booking %s", b.ID)
	}
	sess := &session{
		machine:     newMachine(models.CallConnecting),
		token:       grant.SessionToken,
		durationSec: b.DurationSec,
		model: models.CallSession{
			BookingID:   b.ID,
			Mode:        b.Mode,
			Status:      models.CallConnecting,
			PeerID:      peer,
			Credentials: grant.Media,
		},
	}
	s.sessions[b.ID] = sess
	s.mu.Unlock()
	utils.ActiveSessions.WithLabelValues(string(b.Mode)).Inc()

	sess.mu.Lock()
	s.startMediaJoinLocked(sess)
	s.armConnectTimeoutLocked(sess)
	sess.mu.Unlock()

	s.saveSnapshot(sess)
	return nil
}

// Accept notifies the peer and moves the session to connecting. A remote
// failure leaves the session in incoming so the user may retry.
func (s *DefaultCallService) Accept(ctx context.Context, bookingID string) error {
	sess := s.get(bookingID)
	if sess == nil {
		return fmt.Errorf("no pending call for booking %s", bookingID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if st := sess.status(); st != models.CallIncoming {
		return fmt.Errorf("booking %s is %s, not incoming", bookingID, st)
	}

	if err := s.Channel.Emit(realtime.EventBookingAccepted, realtime.BookingAcceptedPayload{
		BookingID:      bookingID,
		ProfessionalID: s.Identity.AccountID,
		UserID:         sess.model.PeerID,
		Duration:       sess.durationSec,
	}); err != nil {
		return &AcceptanceError{BookingID: bookingID, Err: err}
	}

	_ = sess.machine.Event(ctx, "accept")
	sess.model.Status = models.CallConnecting
	s.startMediaJoinLocked(sess)
	s.armConnectTimeoutLocked(sess)
	s.saveSnapshotLocked(sess)

	s.Logger.Info("call: accepted", zap.String("bookingId", bookingID))
	return nil
}

// Reject notifies the peer and discards the session. Emits exactly one
// call-status rejected; repeated rejects are absorbed.
func (s *DefaultCallService) Reject(ctx context.Context, bookingID string) error {
	sess := s.get(bookingID)
	if sess == nil {
		return nil
	}

	sess.mu.Lock()
	if err := sess.machine.Event(ctx, "reject"); err != nil {
		sess.mu.Unlock()
		return nil
	}
	sess.model.Status = models.CallRejected
	mode := sess.model.Mode
	sess.mu.Unlock()

	if err := s.Channel.Emit(realtime.EventCallStatus, realtime.CallStatusPayload{
		BookingID:      bookingID,
		Status:         string(models.CallRejected),
		ProfessionalID: s.Identity.AccountID,
	}); err != nil {
		s.Logger.Warn("call: reject notification failed", zap.String("bookingId", bookingID), zap.Error(err))
	}

	s.remove(bookingID, mode, "rejected")
	s.Logger.Info("call: rejected", zap.String("bookingId", bookingID))
	return nil
}

// End terminates the session locally and notifies the peer.
func (s *DefaultCallService) End(ctx context.Context, bookingID string) error {
	return s.endSession(ctx, bookingID, "local", true)
}

// Get returns the session model for a booking.
func (s *DefaultCallService) Get(bookingID string) (*models.CallSession, bool) {
	sess := s.get(bookingID)
	if sess == nil {
		return nil, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	cp := sess.model
	return &cp, true
}

// Sessions snapshots all live sessions.
func (s *DefaultCallService) Sessions() []models.CallSession {
	s.mu.Lock()
	all := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	out := make([]models.CallSession, 0, len(all))
	for _, sess := range all {
		sess.mu.Lock()
		out = append(out, sess.model)
		sess.mu.Unlock()
	}
	return out
}

// endSession is the single terminal path shared by local end, remote end,
// peer-left, connect failure and timeout. The fsm transition is the
// idempotency guard: exactly one caller wins it, performs exactly one media
// Leave and one removal; every other caller is absorbed silently.
func (s *DefaultCallService) endSession(ctx context.Context, bookingID, outcome string, notifyPeer bool) error {
	sess := s.get(bookingID)
	if sess == nil {
		return nil
	}

	sess.mu.Lock()
	if err := sess.machine.Event(ctx, "end"); err != nil {
		sess.mu.Unlock()
		return nil
	}
	sess.model.Status = models.CallEnded
	mode := sess.model.Mode
	adapter := sess.adapter
	cancel := sess.cancelWait
	sess.cancelWait = nil
	sess.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if notifyPeer {
		if err := s.Channel.Emit(realtime.EventCallStatus, realtime.CallStatusPayload{
			BookingID:      bookingID,
			Status:         string(models.CallEnded),
			ProfessionalID: s.Identity.AccountID,
		}); err != nil {
			s.Logger.Warn("call: end notification failed", zap.String("bookingId", bookingID), zap.Error(err))
		}
	}
	if adapter != nil {
		if err := adapter.Leave(ctx); err != nil {
			s.Logger.Warn("call: media leave failed", zap.String("bookingId", bookingID), zap.Error(err))
		}
	}

	s.remove(bookingID, mode, outcome)
	s.Logger.Info("call: ended",
		zap.String("bookingId", bookingID), zap.String("outcome", outcome))
	return nil
}

func (s *DefaultCallService) handleCredentials(p realtime.MediaCredentialsPayload) {
	sess := s.get(p.BookingID)
	if sess == nil {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.model.Credentials == nil {
		creds := p.MediaCredentials
		sess.model.Credentials = &creds
	}
	if sess.status() == models.CallConnecting {
		s.startMediaJoinLocked(sess)
	}
	s.saveSnapshotLocked(sess)
}

// startMediaJoinLocked launches the media join for a connecting session. The
// join itself runs off the session lock because it suspends on network and
// device setup; its completion or failure re-enters through the usual event
// paths. Requires sess.mu held.
func (s *DefaultCallService) startMediaJoinLocked(sess *session) {
	if sess.model.Credentials == nil {
		s.Logger.Info("call: waiting for media credentials", zap.String("bookingId", sess.model.BookingID))
		return
	}
	if sess.joining || (sess.adapter != nil && sess.adapter.Joined()) {
		return
	}

	bookingID := sess.model.BookingID
	if sess.adapter == nil {
		sess.adapter = s.NewAdapter(media.Events{
			OnFirstRemotePublish: func(uid uint32) { s.peerJoined(bookingID, uid) },
			OnPeerLeft:           func(uid uint32) { s.peerLeft(bookingID, uid) },
		})
	}
	sess.joining = true
	adapter := sess.adapter
	creds := *sess.model.Credentials
	mode := sess.model.Mode

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := adapter.Join(ctx, creds, mode)

		sess.mu.Lock()
		sess.joining = false
		sess.mu.Unlock()

		if err != nil {
			s.Logger.Error("call: media join failed",
				zap.String("bookingId", bookingID), zap.Error(err))
			_ = s.endSession(context.Background(), bookingID, "join_failed", true)
		}
	}()
}

// armConnectTimeoutLocked bounds the connecting phase when configured; zero
// keeps the session waiting until the peer publishes or the user ends it.
// Requires sess.mu held.
func (s *DefaultCallService) armConnectTimeoutLocked(sess *session) {
	if s.ConnectTimeout <= 0 || sess.cancelWait != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess.cancelWait = cancel
	bookingID := sess.model.BookingID

	go func() {
		select {
		case <-time.After(s.ConnectTimeout):
			s.Logger.Warn("call: connect timeout", zap.String("bookingId", bookingID))
			_ = s.endSession(context.Background(), bookingID, "timeout", true)
		case <-ctx.Done():
		}
	}()
}

// peerJoined moves connecting to active on the first remote publish.
func (s *DefaultCallService) peerJoined(bookingID string, uid uint32) {
	sess := s.get(bookingID)
	if sess == nil {
		return
	}
	sess.mu.Lock()
	if err := sess.machine.Event(context.Background(), "peer_joined"); err != nil {
		sess.mu.Unlock()
		return
	}
	sess.model.Status = models.CallActive
	sess.model.StartedAt = time.Now()
	mode := sess.model.Mode
	cancel := sess.cancelWait
	sess.cancelWait = nil
	s.saveSnapshotLocked(sess)
	sess.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	utils.SessionsStarted.WithLabelValues(string(mode)).Inc()
	s.Logger.Info("call: active",
		zap.String("bookingId", bookingID), zap.Uint32("peerUid", uid))
}

func (s *DefaultCallService) peerLeft(bookingID string, uid uint32) {
	s.Logger.Info("call: peer left",
		zap.String("bookingId", bookingID), zap.Uint32("peerUid", uid))
	_ = s.endSession(context.Background(), bookingID, "peer_left", false)
}

// resync runs after every reconnect: the server may have lost or advanced
// session state while we were away, so ask it to replay.
func (s *DefaultCallService) resync() {
	for _, m := range s.Sessions() {
		if err := s.Channel.Emit(realtime.EventCheckStatus, realtime.EndSessionPayload{BookingID: m.BookingID}); err != nil {
			s.Logger.Warn("call: resync query failed", zap.String("bookingId", m.BookingID), zap.Error(err))
		}
	}
}

func (s *DefaultCallService) get(bookingID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[bookingID]
}

func (s *DefaultCallService) remove(bookingID string, mode models.Mode, outcome string) {
	s.mu.Lock()
	_, ok := s.sessions[bookingID]
	delete(s.sessions, bookingID)
	s.mu.Unlock()
	if !ok {
		return
	}

	utils.ActiveSessions.WithLabelValues(string(mode)).Dec()
	utils.SessionsEnded.WithLabelValues(string(mode), outcome).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Store.Delete(ctx, bookingID); err != nil {
		s.Logger.Warn("call: snapshot delete failed", zap.String("bookingId", bookingID), zap.Error(err))
	}
}

func (s *DefaultCallService) saveSnapshot(sess *session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	s.saveSnapshotLocked(sess)
}

func (s *DefaultCallService) saveSnapshotLocked(sess *session) {
	snap := &store.Snapshot{
		BookingID:    sess.model.BookingID,
		Mode:         sess.model.Mode,
		SessionToken: sess.token,
		PeerID:       sess.model.PeerID,
		CallStatus:   sess.status(),
		Credentials:  sess.model.Credentials,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Store.Save(ctx, snap); err != nil {
		s.Logger.Warn("call: snapshot save failed", zap.String("bookingId", sess.model.BookingID), zap.Error(err))
	}
}

func (sess *session) status() models.CallStatus {
	return models.CallStatus(sess.machine.Current())
}
