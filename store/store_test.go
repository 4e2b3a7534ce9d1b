package store

import (
	"context"
	"testing"
	"time"

	"counsel/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(bookingID string) *Snapshot {
	return &Snapshot{
		BookingID:    bookingID,
		Mode:         models.ModeVideo,
		SessionToken: "session_abc",
		PeerID:       "pro-9",
		CallStatus:   models.CallConnecting,
		Credentials:  &models.MediaCredentials{AppID: "app", ChannelName: bookingID, Token: "tok", UID: 7},
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, snapshot("bk-1")))

	got, err := s.Get(ctx, "bk-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.CallConnecting, got.CallStatus)
	assert.Equal(t, "session_abc", got.SessionToken)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestMemoryStoreGetAbsentReturnsNil(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	got, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreSaveUpserts(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, snapshot("bk-1")))

	updated := snapshot("bk-1")
	updated.CallStatus = models.CallActive
	require.NoError(t, s.Save(ctx, updated))

	got, err := s.Get(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, models.CallActive, got.CallStatus)
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, snapshot("bk-1")))
	require.NoError(t, s.Delete(ctx, "bk-1"))
	require.NoError(t, s.Delete(ctx, "bk-1"))

	got, err := s.Get(ctx, "bk-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, snapshot("bk-1")))

	first, err := s.Get(ctx, "bk-1")
	require.NoError(t, err)
	first.CallStatus = models.CallEnded

	second, err := s.Get(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, models.CallConnecting, second.CallStatus)
}

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewStore("cabinet", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidDriver)
}

func TestNewStoreMemoryDriver(t *testing.T) {
	s, err := NewStore("memory", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, s)
	defer s.Close()
}
