// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/gatewatch/internal/models"
)

// SlackConfig configures the Slack sink.
type SlackConfig struct {
	WebhookURL string
	Channel    string // optional override of the webhook's channel
	Username   string // default: "Gatewatch"
	// RateLimit is the minimum gap between messages (default: 1s)
	RateLimit time.Duration
	Client    HTTPDoer
}

// SlackSink posts alerts to a Slack incoming webhook as attachments.
type SlackSink struct {
	url      string
	channel  string
	username string
	client   HTTPDoer
	limiter  *rate.Limiter
}

// NewSlackSink creates a Slack sink.
func NewSlackSink(cfg SlackConfig) *SlackSink {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = time.Second
	}
	if cfg.Username == "" {
		cfg.Username = "Gatewatch"
	}
	return &SlackSink{
		url:      cfg.WebhookURL,
		channel:  cfg.Channel,
		username: cfg.Username,
		client:   clientOrDefault(cfg.Client),
		limiter:  rate.NewLimiter(rate.Every(cfg.RateLimit), 1),
	}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, a *models.Alert) error {
	payload := slackPayload{
		Channel:     s.channel,
		Username:    s.username,
		IconEmoji:   ":shield:",
		Attachments: []slackAttachment{buildAttachment(a)},
	}
	return postJSON(ctx, s.client, s.limiter, s.url, nil, payload, "slack webhook")
}

func buildAttachment(a *models.Alert) slackAttachment {
	fields := []slackField{
		{Title: "Kind", Value: string(a.Kind), Short: true},
		{Title: "Severity", Value: string(a.Severity), Short: true},
		{Title: "Subject", Value: orDash(a.Subject), Short: true},
		{Title: "Count", Value: strconv.Itoa(a.Count), Short: true},
	}
	if len(a.Targets) > 0 {
		fields = append(fields, slackField{Title: "Targeted accounts", Value: strings.Join(a.Targets, ", ")})
	}
	return slackAttachment{
		Color:  slackColor(a.Severity),
		Title:  fmt.Sprintf("%s Gatewatch: %s", slackEmoji(a.Severity), a.Kind),
		Text:   a.Detail,
		Fields: fields,
		TS:     a.CreatedAt.Unix(),
	}
}

func slackColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "danger"
	case models.SeverityWarning:
		return "warning"
	default:
		return "good"
	}
}

func slackEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return ":rotating_light:"
	case models.SeverityWarning:
		return ":warning:"
	default:
		return ":information_source:"
	}
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	TS     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

var _ Sink = (*SlackSink)(nil)
