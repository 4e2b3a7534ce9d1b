package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"counsel/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options configure the websocket-backed channel.
type Options struct {
	URL       string
	Header    http.Header
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Logger    *zap.Logger
}

// Socket is the gorilla/websocket implementation of Channel. One goroutine
// owns the read side; writes are serialized by a mutex. On transport loss it
// reconnects with capped exponential backoff, re-joins all registered rooms
// and then invokes the reconnect hooks so owners can resync session state.
// It never assumes the server kept any per-connection state.
type Socket struct {
	opts Options
	log  *zap.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	rooms        []Room
	reconnectFns []func()

	hmu      sync.RWMutex
	handlers map[string][]Handler

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSocket builds a Socket; Start must be called before it is usable.
func NewSocket(opts Options) *Socket {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = utils.GetLogger()
	}
	return &Socket{
		opts:     opts,
		log:      log,
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}
}

// Start launches the connect/read loop. It returns immediately; the first
// connection attempt happens in the background like any reconnect.
func (s *Socket) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// Close tears the connection down and stops the reconnect loop.
func (s *Socket) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
	return nil
}

func (s *Socket) run(ctx context.Context) {
	defer close(s.done)

	delay := s.opts.BaseDelay
	first := true
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.opts.URL, s.opts.Header)
		if err != nil {
			s.log.Warn("realtime: dial failed", zap.String("url", s.opts.URL), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > s.opts.MaxDelay {
				delay = s.opts.MaxDelay
			}
			continue
		}
		delay = s.opts.BaseDelay

		s.mu.Lock()
		s.conn = conn
		s.connected = true
		rooms := make([]Room, len(s.rooms))
		copy(rooms, s.rooms)
		hooks := make([]func(), len(s.reconnectFns))
		copy(hooks, s.reconnectFns)
		s.mu.Unlock()

		for _, r := range rooms {
			if err := s.Emit(r.joinEvent(), r.ID); err != nil {
				s.log.Warn("realtime: room rejoin failed", zap.String("room", string(r.Kind)+":"+r.ID), zap.Error(err))
			}
		}
		if !first {
			utils.ChannelReconnects.Inc()
			s.log.Info("realtime: reconnected", zap.Int("rooms", len(rooms)))
			for _, fn := range hooks {
				fn()
			}
		}
		first = false

		s.readLoop(conn)

		s.mu.Lock()
		s.connected = false
		s.conn = nil
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		default:
			s.log.Warn("realtime: connection lost, retrying")
		}
	}
}

// readLoop dispatches inbound envelopes until the connection dies. Handlers
// run on this goroutine, which is what serializes controller mutations per
// connection.
func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			conn.Close()
			return
		}
		s.hmu.RLock()
		hs := s.handlers[env.Event]
		s.hmu.RUnlock()
		for _, h := range hs {
			h(env.Data)
		}
	}
}

// Emit publishes one event on the live connection.
func (s *Socket) Emit(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.conn == nil {
		return ErrDisconnected
	}
	return s.conn.WriteJSON(Envelope{Event: event, Data: data})
}

// On registers a handler for an event name.
func (s *Socket) On(event string, h Handler) {
	s.hmu.Lock()
	s.handlers[event] = append(s.handlers[event], h)
	s.hmu.Unlock()
}

// Join registers a room for this and every future connection. When currently
// connected the join event goes out immediately.
func (s *Socket) Join(room Room) error {
	s.mu.Lock()
	for _, r := range s.rooms {
		if r == room {
			s.mu.Unlock()
			return nil
		}
	}
	s.rooms = append(s.rooms, room)
	connected := s.connected
	s.mu.Unlock()

	if connected {
		return s.Emit(room.joinEvent(), room.ID)
	}
	return nil
}

// Leave forgets a room registration; the server forgets the membership on
// its own when the connection drops.
func (s *Socket) Leave(room Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rooms {
		if r == room {
			s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
			return
		}
	}
}

// Connected reports transport liveness.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// OnReconnect registers a resync hook.
func (s *Socket) OnReconnect(fn func()) {
	s.mu.Lock()
	s.reconnectFns = append(s.reconnectFns, fn)
	s.mu.Unlock()
}
