// Package notify delivers push notifications through Expo's push service.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrPushFailed is returned when Expo rejects or cannot deliver a message.
var ErrPushFailed = errors.New("push delivery failed")

// Pusher sends one notification to one device token.
type Pusher interface {
	Push(ctx context.Context, token, title, body string, data map[string]string) error
}

// ExpoClient implements Pusher against the Expo push HTTP API.
type ExpoClient struct {
	baseURL string
	client  *http.Client
}

// NewExpoClient creates a new Expo push client.
func NewExpoClient(baseURL string, timeout time.Duration) *ExpoClient {
	return &ExpoClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *ExpoClient) Push(ctx context.Context, token, title, body string, data map[string]string) error {
	msg := pushMessage{
		To:    token,
		Title: title,
		Body:  body,
		Sound: "default",
		Data:  data,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding push message: %w", err)
	}

	u := c.baseURL + "/--/api/v2/push/send"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPushFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrPushFailed, resp.StatusCode)
	}

	var ticket pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		return fmt.Errorf("%w: decoding ticket: %v", ErrPushFailed, err)
	}
	if ticket.Data.Status == "error" {
		return fmt.Errorf("%w: %s", ErrPushFailed, ticket.Data.Message)
	}
	return nil
}

// --- Expo API types ---

type pushMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Sound string            `json:"sound"`
	Data  map[string]string `json:"data,omitempty"`
}

type pushResponse struct {
	Data struct {
		Status  string `json:"status"`
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"data"`
}

// Compile-time check that ExpoClient implements Pusher.
var _ Pusher = (*ExpoClient)(nil)
