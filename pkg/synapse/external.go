package synapse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ExternalChannel is the guaranteed out-of-band delivery path used by
// tier-3 escalations (SMS-gateway-like). Its success is independent of
// bus delivery.
type ExternalChannel interface {
	Deliver(ctx context.Context, subject, body string) error
}

// WebhookChannel delivers messages to an HTTP webhook endpoint.
type WebhookChannel struct {
	url     string
	token   string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewWebhookChannel creates a webhook-backed external channel.
// Returns nil if url is empty; all methods on a nil channel fail with a
// delivery error so callers can record the miss.
func NewWebhookChannel(url, token string, timeout time.Duration) *WebhookChannel {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		url:     url,
		token:   token,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  slog.Default().With("component", "external-channel"),
	}
}

type webhookPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	SentAt  string `json:"sent_at"`
}

// Deliver posts the message to the webhook. A non-2xx response is a
// delivery error.
func (c *WebhookChannel) Deliver(ctx context.Context, subject, body string) error {
	if c == nil {
		return fmt.Errorf("external channel not configured")
	}

	payload, err := json.Marshal(webhookPayload{
		Subject: subject,
		Body:    body,
		SentAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to external channel: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("external channel returned status %d", resp.StatusCode)
	}

	c.logger.Debug("External delivery succeeded", "subject", subject)
	return nil
}
