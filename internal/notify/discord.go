// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/gatewatch/internal/models"
)

// DiscordConfig configures the Discord sink.
type DiscordConfig struct {
	WebhookURL string
	// RateLimit is the minimum gap between messages (default: 1s)
	RateLimit time.Duration
	Client    HTTPDoer
}

// DiscordSink posts alerts to a Discord webhook as embeds.
type DiscordSink struct {
	url     string
	client  HTTPDoer
	limiter *rate.Limiter
}

// NewDiscordSink creates a Discord sink.
func NewDiscordSink(cfg DiscordConfig) *DiscordSink {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = time.Second
	}
	return &DiscordSink{
		url:     cfg.WebhookURL,
		client:  clientOrDefault(cfg.Client),
		limiter: rate.NewLimiter(rate.Every(cfg.RateLimit), 1),
	}
}

func (s *DiscordSink) Name() string { return "discord" }

func (s *DiscordSink) Send(ctx context.Context, a *models.Alert) error {
	payload := discordWebhookPayload{Embeds: []discordEmbed{buildEmbed(a)}}
	return postJSON(ctx, s.client, s.limiter, s.url, nil, payload, "discord webhook")
}

// Discord caps field values at 1024 characters.
const discordFieldMax = 1024

func buildEmbed(a *models.Alert) discordEmbed {
	fields := []discordEmbedField{
		{Name: "Kind", Value: string(a.Kind), Inline: true},
		{Name: "Severity", Value: string(a.Severity), Inline: true},
		{Name: "Count", Value: fmt.Sprintf("%d", a.Count), Inline: true},
		{Name: "Subject", Value: truncate(orDash(a.Subject), discordFieldMax), Inline: false},
		{Name: "Span", Value: fmt.Sprintf("%s to %s", a.FirstSeen.Format(time.RFC3339), a.LastSeen.Format(time.RFC3339)), Inline: false},
	}
	if len(a.Targets) > 0 {
		fields = append(fields, discordEmbedField{
			Name:   "Targeted accounts",
			Value:  truncate(strings.Join(a.Targets, ", "), discordFieldMax),
			Inline: false,
		})
	}

	return discordEmbed{
		Title:       fmt.Sprintf("Gatewatch: %s", a.Kind),
		Description: a.Detail,
		Color:       severityColor(a.Severity),
		Timestamp:   a.CreatedAt.Format(time.RFC3339),
		Fields:      fields,
		Footer:      discordEmbedFooter{Text: "Gatewatch Sweep"},
	}
}

func severityColor(severity models.Severity) int {
	switch severity {
	case models.SeverityCritical:
		return 0xFF0000 // Red
	case models.SeverityWarning:
		return 0xFFA500 // Orange
	case models.SeverityInfo:
		return 0x3498DB // Blue
	default:
		return 0x95A5A6 // Gray
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

type discordWebhookPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      discordEmbedFooter  `json:"footer,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

var (
	_ Sink = (*WebhookSink)(nil)
	_ Sink = (*DiscordSink)(nil)
)
