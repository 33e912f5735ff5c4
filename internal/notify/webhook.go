// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/gatewatch/internal/models"
)

// HTTPDoer is the subset of *http.Client the HTTP sinks use.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookConfig configures the generic webhook sink.
type WebhookConfig struct {
	URL     string
	Headers map[string]string // Custom headers (e.g., auth)
	// RateLimit is the minimum gap between requests (default: 500ms)
	RateLimit time.Duration
	Client    HTTPDoer
}

// WebhookPayload is the JSON body posted to the webhook endpoint.
type WebhookPayload struct {
	Alert     *models.Alert `json:"alert"`
	EventType string        `json:"event_type"`
	Timestamp time.Time     `json:"timestamp"`
	Source    string        `json:"source"`
}

// WebhookSink posts alerts to a generic JSON webhook.
type WebhookSink struct {
	url     string
	headers map[string]string
	client  HTTPDoer
	limiter *rate.Limiter
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 500 * time.Millisecond
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &WebhookSink{
		url:     cfg.URL,
		headers: headers,
		client:  clientOrDefault(cfg.Client),
		limiter: rate.NewLimiter(rate.Every(cfg.RateLimit), 1),
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

// Send posts the alert. Non-2xx responses are errors.
func (s *WebhookSink) Send(ctx context.Context, a *models.Alert) error {
	payload := WebhookPayload{
		Alert:     a,
		EventType: "sweep_alert",
		Timestamp: a.CreatedAt,
		Source:    "gatewatch",
	}
	return postJSON(ctx, s.client, s.limiter, s.url, s.headers, payload, "webhook")
}

func clientOrDefault(c HTTPDoer) HTTPDoer {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// postJSON waits for the limiter, then posts body as JSON.
func postJSON(ctx context.Context, client HTTPDoer, limiter *rate.Limiter, url string, headers map[string]string, body interface{}, label string) error {
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit wait: %w", label, err)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", label, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", label, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", label, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", label, resp.StatusCode)
	}
	return nil
}
