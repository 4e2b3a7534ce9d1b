package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"counsel/models"
)

// HistoryClient is the persistence collaborator for chat transcripts. The
// realtime channel is the delivery path; this client only backfills history
// and archives sent messages.
type HistoryClient interface {
	// GetHistory fetches the transcript for a booking, oldest first.
	GetHistory(ctx context.Context, bookingID string) ([]models.Message, error)

	// Persist archives one sent message.
	Persist(ctx context.Context, msg models.Message) error
}

// DefaultHistoryClient talks to the platform's REST API.
type DefaultHistoryClient struct {
	BaseURL   string
	AuthToken string
	Client    *http.Client
}

// NewDefaultHistoryClient creates a history client with a bounded HTTP timeout.
func NewDefaultHistoryClient(baseURL, authToken string) *DefaultHistoryClient {
	return &DefaultHistoryClient{
		BaseURL:   baseURL,
		AuthToken: authToken,
		Client:    &http.Client{Timeout: 15 * time.Second},
	}
}

type historyResponse struct {
	Error    bool             `json:"error"`
	Message  string           `json:"message,omitempty"`
	Messages []models.Message `json:"messages"`
}

func (c *DefaultHistoryClient) GetHistory(ctx context.Context, bookingID string) ([]models.Message, error) {
	url := fmt.Sprintf("%s/common/chathistory/%s", c.BaseURL, bookingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build history request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.AuthToken)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request returned status %d", resp.StatusCode)
	}

	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode history response: %w", err)
	}
	if body.Error {
		return nil, fmt.Errorf("history request rejected: %s", body.Message)
	}

	msgs := body.Messages
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].SentAt.Before(msgs[j].SentAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs, nil
}

func (c *DefaultHistoryClient) Persist(ctx context.Context, msg models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/common/chatmessage", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build persist request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AuthToken)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("persist request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("persist request returned status %d", resp.StatusCode)
	}
	return nil
}
