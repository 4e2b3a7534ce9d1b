package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"counsel/models"
	"counsel/realtime"
	"counsel/store"
	"counsel/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultChatService implements ChatService. Each booking gets its own
// session with its own lock; channel events, countdown ticks and user
// commands for one booking are serialized while distinct bookings proceed
// independently.
type DefaultChatService struct {
	Channel        realtime.Channel
	Identity       *utils.Identity
	Store          store.SessionStore
	History        HistoryClient
	TypingThrottle time.Duration
	TypingTTL      time.Duration
	Logger         *zap.Logger

	// tick is the countdown resolution. One second in production; tests
	// shrink it.
	tick time.Duration

	mu       sync.Mutex
	sessions map[string]*chatSession
}

type chatSession struct {
	mu          sync.Mutex
	model       models.ChatSession
	token       string
	durationSec int

	// seen keys received messages by senderId+"/"+id so replays after a
	// reconnect do not duplicate the transcript.
	seen map[string]struct{}

	// pending buffers live messages that arrive before the history fetch
	// resolves; the merge sorts both by timestamp so ordering survives the
	// race between the live feed and the backfill.
	historyLoaded bool
	pending       []models.Message

	endEmitted  bool
	cancelClock context.CancelFunc

	typingLimiter *rate.Limiter
	peerTyping    bool
	typingTimer   *time.Timer
}

// NewDefaultChatService builds the controller and subscribes it to the
// realtime channel.
func NewDefaultChatService(channel realtime.Channel, identity *utils.Identity, st store.SessionStore, history HistoryClient, typingThrottle, typingTTL time.Duration, logger *zap.Logger) *DefaultChatService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	s := &DefaultChatService{
		Channel:        channel,
		Identity:       identity,
		Store:          st,
		History:        history,
		TypingThrottle: typingThrottle,
		TypingTTL:      typingTTL,
		Logger:         logger,
		tick:           time.Second,
		sessions:       make(map[string]*chatSession),
	}

	channel.On(realtime.EventIncomingCall, func(data json.RawMessage) {
		var p realtime.IncomingCallPayload
		if err := json.Unmarshal(data, &p); err != nil {
			s.Logger.Warn("chat: bad incoming-call payload", zap.Error(err))
			return
		}
		s.handleIncoming(p)
	})
	channel.On(realtime.EventSessionStarted, func(data json.RawMessage) {
		var p realtime.SessionStartedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			s.Logger.Warn("chat: bad session-started payload", zap.Error(err))
			return
		}
		s.handleStarted(p)
	})
	channel.On(realtime.EventChatMessage, func(data json.RawMessage) {
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.Logger.Warn("chat: bad chat-message payload", zap.Error(err))
			return
		}
		s.receiveMessage(msg)
	})
	channel.On(realtime.EventTyping, func(data json.RawMessage) {
		var p realtime.TypingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		s.handleTyping(p)
	})
	channel.On(realtime.EventSessionEnded, func(data json.RawMessage) {
		var p realtime.EndSessionPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		s.handleRemoteEnded(p.BookingID)
	})
	channel.OnReconnect(s.resync)

	return s
}

// handleIncoming queues a paid chat booking awaiting the professional's
// acknowledgement. Redelivery replaces the queued session.
func (s *DefaultChatService) handleIncoming(p realtime.IncomingCallPayload) {
	if s.Identity.Role != string(models.RoleProfessional) || p.Mode != models.ModeChat {
		return
	}

	s.mu.Lock()
	existing, ok := s.sessions[p.BookingID]
	if ok && existing.status() != models.ChatWaiting {
		s.mu.Unlock()
		return
	}
	sess := s.newSession(p.BookingID, p.UserID, p.Duration, "")
	s.sessions[p.BookingID] = sess
	s.mu.Unlock()

	if !ok {
		utils.ActiveSessions.WithLabelValues(string(models.ModeChat)).Inc()
	}
	s.saveSnapshot(sess)
	s.Logger.Info("chat: incoming",
		zap.String("bookingId", p.BookingID), zap.String("from", p.UserID))
}

// Activate enters a verified chat booking on the paying side. The session
// waits until the server confirms session-started.
func (s *DefaultChatService) Activate(ctx context.Context, grant models.SessionGrant) error {
	b := grant.Booking
	peer := b.ProfessionalID
	if s.Identity.Role == string(models.RoleProfessional) {
		peer = b.ClientID
	}

	s.mu.Lock()
	if _, exists := s.sessions[b.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("chat session already exists for booking %s", b.ID)
	}
	sess := s.newSession(b.ID, peer, b.DurationSec, grant.SessionToken)
	s.sessions[b.ID] = sess
	s.mu.Unlock()

	utils.ActiveSessions.WithLabelValues(string(models.ModeChat)).Inc()
	s.saveSnapshot(sess)
	return nil
}

// Accept acknowledges a queued chat booking. The session stays waiting;
// activation comes from the server's session-started.
func (s *DefaultChatService) Accept(ctx context.Context, bookingID string) error {
	sess := s.get(bookingID)
	if sess == nil {
		return fmt.Errorf("no pending chat for booking %s", bookingID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.status() != models.ChatWaiting {
		return fmt.Errorf("booking %s is %s, not waiting", bookingID, sess.status())
	}

	if err := s.Channel.Emit(realtime.EventBookingAccepted, realtime.BookingAcceptedPayload{
		BookingID:      bookingID,
		ProfessionalID: s.Identity.AccountID,
		UserID:         sess.model.PeerID,
		Duration:       sess.durationSec,
	}); err != nil {
		return fmt.Errorf("failed to acknowledge booking %s: %w", bookingID, err)
	}
	return nil
}

// handleStarted opens the session clock: waiting becomes active, the
// countdown starts and the transcript backfill kicks off.
func (s *DefaultChatService) handleStarted(p realtime.SessionStartedPayload) {
	sess := s.get(p.BookingID)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	if sess.status() != models.ChatWaiting {
		sess.mu.Unlock()
		return
	}
	sess.model.Status = models.ChatActive
	duration := p.Duration
	if duration <= 0 {
		duration = sess.durationSec
	}
	sess.model.RemainingSeconds = duration

	ctx, cancel := context.WithCancel(context.Background())
	sess.cancelClock = cancel
	sess.mu.Unlock()

	go s.runClock(ctx, p.BookingID)
	go s.loadHistory(p.BookingID)

	utils.SessionsStarted.WithLabelValues(string(models.ModeChat)).Inc()
	s.saveSnapshot(sess)
	s.Logger.Info("chat: active",
		zap.String("bookingId", p.BookingID), zap.Int("duration", duration))
}

// runClock decrements the countdown once per tick and expires the session
// when it reaches zero.
func (s *DefaultChatService) runClock(ctx context.Context, bookingID string) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess := s.get(bookingID)
			if sess == nil {
				return
			}
			sess.mu.Lock()
			if sess.status() != models.ChatActive {
				sess.mu.Unlock()
				return
			}
			if sess.model.RemainingSeconds > 0 {
				sess.model.RemainingSeconds--
			}
			expired := sess.model.RemainingSeconds == 0
			sess.mu.Unlock()

			if expired {
				_ = s.End(ctx, bookingID)
				return
			}
		}
	}
}

// loadHistory backfills the transcript once and merges it with any live
// messages buffered meanwhile.
func (s *DefaultChatService) loadHistory(bookingID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	history, err := s.History.GetHistory(ctx, bookingID)
	if err != nil {
		s.Logger.Warn("chat: history backfill failed",
			zap.String("bookingId", bookingID), zap.Error(err))
		history = nil
	}

	sess := s.get(bookingID)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.historyLoaded {
		return
	}

	merged := make([]models.Message, 0, len(history)+len(sess.pending)+len(sess.model.Messages))
	keys := make(map[string]struct{}, cap(merged))
	appendUnique := func(msgs []models.Message) {
		for _, m := range msgs {
			k := dedupKey(m)
			if _, dup := keys[k]; dup {
				continue
			}
			keys[k] = struct{}{}
			merged = append(merged, m)
		}
	}
	appendUnique(history)
	appendUnique(sess.model.Messages)
	appendUnique(sess.pending)

	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].SentAt.Equal(merged[j].SentAt) {
			return merged[i].SentAt.Before(merged[j].SentAt)
		}
		return merged[i].ID < merged[j].ID
	})

	sess.model.Messages = merged
	sess.seen = keys
	sess.pending = nil
	sess.historyLoaded = true
}

// SendMessage appends a text message optimistically and emits it.
func (s *DefaultChatService) SendMessage(ctx context.Context, bookingID, content string) (*models.Message, error) {
	return s.send(ctx, bookingID, models.Message{
		Content: content,
		Kind:    models.MessageText,
	})
}

// SendFile sends a file attachment message by reference.
func (s *DefaultChatService) SendFile(ctx context.Context, bookingID, fileName, fileType, content string) (*models.Message, error) {
	return s.send(ctx, bookingID, models.Message{
		Content:  content,
		Kind:     models.MessageFile,
		FileName: fileName,
		FileType: fileType,
	})
}

func (s *DefaultChatService) send(ctx context.Context, bookingID string, msg models.Message) (*models.Message, error) {
	sess := s.get(bookingID)
	if sess == nil {
		return nil, NewSessionInactiveError(bookingID)
	}
	if !s.Channel.Connected() {
		return nil, NewChannelDownError(bookingID, realtime.ErrDisconnected)
	}

	msg.ID = uuid.NewString()
	msg.BookingID = bookingID
	msg.SenderID = s.Identity.AccountID
	msg.SenderRole = models.Role(s.Identity.Role)
	msg.SentAt = time.Now()

	sess.mu.Lock()
	if sess.status() != models.ChatActive {
		sess.mu.Unlock()
		return nil, NewSessionInactiveError(bookingID)
	}
	// Optimistic append: the local echo shows immediately, and marking the
	// key seen suppresses the server's rebroadcast of our own message.
	sess.model.Messages = append(sess.model.Messages, msg)
	sess.seen[dedupKey(msg)] = struct{}{}
	sess.mu.Unlock()

	if err := s.Channel.Emit(realtime.EventChatMessage, msg); err != nil {
		return nil, NewChannelDownError(bookingID, err)
	}
	utils.MessagesSent.Inc()

	// Archive in the background; delivery already happened on the channel.
	go func() {
		pctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.History.Persist(pctx, msg); err != nil {
			s.Logger.Warn("chat: message archive failed",
				zap.String("bookingId", bookingID), zap.String("messageId", msg.ID), zap.Error(err))
		}
	}()

	return &msg, nil
}

// receiveMessage appends a peer message, dropping our own echo and replayed
// duplicates. Messages arriving before the history backfill are buffered.
func (s *DefaultChatService) receiveMessage(msg models.Message) {
	if msg.SenderID == s.Identity.AccountID {
		return
	}
	sess := s.get(msg.BookingID)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	k := dedupKey(msg)
	if _, dup := sess.seen[k]; dup {
		return
	}
	sess.seen[k] = struct{}{}

	if !sess.historyLoaded && sess.status() == models.ChatActive {
		sess.pending = append(sess.pending, msg)
	} else {
		sess.model.Messages = append(sess.model.Messages, msg)
	}
	utils.MessagesReceived.Inc()
}

// Typing emits the typing indicator, collapsed to at most one event per
// throttle window.
func (s *DefaultChatService) Typing(ctx context.Context, bookingID string) error {
	sess := s.get(bookingID)
	if sess == nil {
		return nil
	}

	sess.mu.Lock()
	if sess.status() != models.ChatActive || !sess.typingLimiter.Allow() {
		sess.mu.Unlock()
		return nil
	}
	sess.mu.Unlock()

	return s.Channel.Emit(realtime.EventTyping, realtime.TypingPayload{
		BookingID: bookingID,
		SenderID:  s.Identity.AccountID,
	})
}

// handleTyping lights the peer typing indicator and schedules its decay.
func (s *DefaultChatService) handleTyping(p realtime.TypingPayload) {
	if p.SenderID == s.Identity.AccountID {
		return
	}
	sess := s.get(p.BookingID)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.peerTyping = true
	if sess.typingTimer != nil {
		sess.typingTimer.Stop()
	}
	sess.typingTimer = time.AfterFunc(s.TypingTTL, func() {
		sess.mu.Lock()
		sess.peerTyping = false
		sess.mu.Unlock()
	})
}

// PeerTyping reports whether the peer's typing indicator is currently lit.
func (s *DefaultChatService) PeerTyping(bookingID string) bool {
	sess := s.get(bookingID)
	if sess == nil {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.peerTyping
}

// End expires the session and requests termination. The endEmitted guard
// makes the countdown-vs-user race benign: whichever caller wins sends
// exactly one end-session.
func (s *DefaultChatService) End(ctx context.Context, bookingID string) error {
	return s.expire(ctx, bookingID, true, "local")
}

func (s *DefaultChatService) handleRemoteEnded(bookingID string) {
	_ = s.expire(context.Background(), bookingID, false, "remote")
}

func (s *DefaultChatService) expire(ctx context.Context, bookingID string, emit bool, outcome string) error {
	sess := s.get(bookingID)
	if sess == nil {
		return nil
	}

	sess.mu.Lock()
	if sess.status() == models.ChatExpired || sess.endEmitted {
		sess.mu.Unlock()
		return nil
	}
	sess.endEmitted = true
	sess.model.Status = models.ChatExpired
	sess.model.RemainingSeconds = 0
	cancel := sess.cancelClock
	sess.cancelClock = nil
	if sess.typingTimer != nil {
		sess.typingTimer.Stop()
		sess.typingTimer = nil
	}
	sess.peerTyping = false
	sess.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if emit {
		if err := s.Channel.Emit(realtime.EventEndSession, realtime.EndSessionPayload{BookingID: bookingID}); err != nil {
			s.Logger.Warn("chat: end request failed", zap.String("bookingId", bookingID), zap.Error(err))
		}
	}

	s.remove(bookingID, outcome)
	s.Logger.Info("chat: expired",
		zap.String("bookingId", bookingID), zap.String("outcome", outcome))
	return nil
}

// Get returns the session model for a booking.
func (s *DefaultChatService) Get(bookingID string) (*models.ChatSession, bool) {
	sess := s.get(bookingID)
	if sess == nil {
		return nil, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	cp := sess.model
	cp.Messages = append([]models.Message(nil), sess.model.Messages...)
	return &cp, true
}

// Sessions snapshots all live sessions.
func (s *DefaultChatService) Sessions() []models.ChatSession {
	s.mu.Lock()
	all := make([]*chatSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	out := make([]models.ChatSession, 0, len(all))
	for _, sess := range all {
		sess.mu.Lock()
		out = append(out, sess.model)
		sess.mu.Unlock()
	}
	return out
}

// resync asks the server to replay session state after a reconnect.
func (s *DefaultChatService) resync() {
	for _, m := range s.Sessions() {
		if err := s.Channel.Emit(realtime.EventCheckStatus, realtime.EndSessionPayload{BookingID: m.BookingID}); err != nil {
			s.Logger.Warn("chat: resync query failed", zap.String("bookingId", m.BookingID), zap.Error(err))
		}
	}
}

func (s *DefaultChatService) newSession(bookingID, peerID string, durationSec int, token string) *chatSession {
	throttle := s.TypingThrottle
	if throttle <= 0 {
		throttle = time.Second
	}
	return &chatSession{
		token:         token,
		durationSec:   durationSec,
		seen:          make(map[string]struct{}),
		typingLimiter: rate.NewLimiter(rate.Every(throttle), 1),
		model: models.ChatSession{
			BookingID: bookingID,
			Status:    models.ChatWaiting,
			PeerID:    peerID,
		},
	}
}

func (s *DefaultChatService) get(bookingID string) *chatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[bookingID]
}

func (s *DefaultChatService) remove(bookingID, outcome string) {
	s.mu.Lock()
	_, ok := s.sessions[bookingID]
	delete(s.sessions, bookingID)
	s.mu.Unlock()
	if !ok {
		return
	}

	utils.ActiveSessions.WithLabelValues(string(models.ModeChat)).Dec()
	utils.SessionsEnded.WithLabelValues(string(models.ModeChat), outcome).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Store.Delete(ctx, bookingID); err != nil {
		s.Logger.Warn("chat: snapshot delete failed", zap.String("bookingId", bookingID), zap.Error(err))
	}
}

func (s *DefaultChatService) saveSnapshot(sess *chatSession) {
	sess.mu.Lock()
	snap := &store.Snapshot{
		BookingID:        sess.model.BookingID,
		Mode:             models.ModeChat,
		SessionToken:     sess.token,
		PeerID:           sess.model.PeerID,
		ChatStatus:       sess.status(),
		RemainingSeconds: sess.model.RemainingSeconds,
	}
	sess.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Store.Save(ctx, snap); err != nil {
		s.Logger.Warn("chat: snapshot save failed", zap.String("bookingId", snap.BookingID), zap.Error(err))
	}
}

func (sess *chatSession) status() models.ChatStatus {
	return sess.model.Status
}

func dedupKey(m models.Message) string {
	return m.SenderID + "/" + m.ID
}
