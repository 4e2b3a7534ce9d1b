package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"counsel/models"
)

// ErrInvalidDriver is returned by NewStore for an unknown driver name.
var ErrInvalidDriver = errors.New("unknown session store driver")

// Snapshot is the durable view of one session, written by the controllers on
// every transition and read back on restart/reconnect resync. Exactly one of
// CallStatus/ChatStatus is set depending on the booking mode.
type Snapshot struct {
	BookingID        string                   `json:"bookingId"`
	Mode             models.Mode              `json:"mode"`
	SessionToken     string                   `json:"sessionToken"`
	PeerID           string                   `json:"peerId"`
	CallStatus       models.CallStatus        `json:"callStatus,omitempty"`
	ChatStatus       models.ChatStatus        `json:"chatStatus,omitempty"`
	RemainingSeconds int                      `json:"remainingSeconds,omitempty"`
	Credentials      *models.MediaCredentials `json:"mediaCredentials,omitempty"`
	UpdatedAt        time.Time                `json:"updatedAt"`
}

// SessionStore persists session snapshots keyed by booking id.
type SessionStore interface {
	// Save upserts a snapshot.
	Save(ctx context.Context, snap *Snapshot) error

	// Get retrieves a snapshot. Returns nil when absent (not an error).
	Get(ctx context.Context, bookingID string) (*Snapshot, error)

	// Delete removes a snapshot. Deleting an absent snapshot is a no-op.
	Delete(ctx context.Context, bookingID string) error

	// Close releases store resources.
	Close() error
}

// memoryStore keeps snapshots in-process; the default for a single agent.
type memoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore() SessionStore {
	return &memoryStore{snapshots: make(map[string]*Snapshot)}
}

func (s *memoryStore) Save(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	cp.UpdatedAt = time.Now()
	s.snapshots[snap.BookingID] = &cp
	return nil
}

func (s *memoryStore) Get(_ context.Context, bookingID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[bookingID]
	if !ok {
		return nil, nil
	}
	cp := *snap
	return &cp, nil
}

func (s *memoryStore) Delete(_ context.Context, bookingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, bookingID)
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = nil
	return nil
}
