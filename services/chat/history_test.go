package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"counsel/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHistorySortsByTimestamp(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/common/chathistory/bk-1", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": false,
			"messages": []models.Message{
				{ID: "m2", BookingID: "bk-1", SenderID: "a", Content: "second", SentAt: base.Add(time.Minute)},
				{ID: "m1", BookingID: "bk-1", SenderID: "a", Content: "first", SentAt: base},
			},
		})
	}))
	defer srv.Close()

	c := NewDefaultHistoryClient(srv.URL, "token")
	msgs, err := c.GetHistory(context.Background(), "bk-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
}

func TestGetHistoryBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"error": true, "message": "no such booking"})
	}))
	defer srv.Close()

	c := NewDefaultHistoryClient(srv.URL, "token")
	_, err := c.GetHistory(context.Background(), "bk-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such booking")
}

func TestPersistPostsMessage(t *testing.T) {
	var got models.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/common/chatmessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewDefaultHistoryClient(srv.URL, "token")
	err := c.Persist(context.Background(), models.Message{
		ID: "m1", BookingID: "bk-1", SenderID: "client-1", Content: "hello", Kind: models.MessageText,
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "hello", got.Content)
}

func TestPersistRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewDefaultHistoryClient(srv.URL, "token")
	err := c.Persist(context.Background(), models.Message{ID: "m1"})
	assert.Error(t, err)
}
