// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/gatewatch/internal/logging"
	"github.com/tomtom215/gatewatch/internal/models"
)

var errSinkPanic = errors.New("sink panicked")

// LogSink writes alerts to the structured log.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink on the global logger.
func NewLogSink() *LogSink {
	return &LogSink{logger: logging.WithComponent("notify")}
}

func (s *LogSink) Name() string { return "log" }

// Send logs critical alerts at error level and the rest at warn.
func (s *LogSink) Send(ctx context.Context, a *models.Alert) error {
	ev := s.logger.Warn()
	if a.Severity == models.SeverityCritical {
		ev = s.logger.Error()
	}
	if id := logging.CorrelationID(ctx); id != "" {
		ev = ev.Str("correlation_id", id)
	}
	ev.Str("alert_id", a.ID).
		Str("kind", string(a.Kind)).
		Str("severity", string(a.Severity)).
		Str("subject", a.Subject).
		Int("count", a.Count).
		Time("first_seen", a.FirstSeen).
		Time("last_seen", a.LastSeen).
		Strs("targets", a.Targets).
		Msg(a.Detail)
	return nil
}

// AlertArchive is the storage the ArchiveSink writes to.
type AlertArchive interface {
	SaveAlert(ctx context.Context, alert *models.Alert) error
}

// ArchiveSink persists alerts to the history store.
type ArchiveSink struct {
	store AlertArchive
}

// NewArchiveSink creates an ArchiveSink.
func NewArchiveSink(store AlertArchive) *ArchiveSink {
	return &ArchiveSink{store: store}
}

func (s *ArchiveSink) Name() string { return "archive" }

func (s *ArchiveSink) Send(ctx context.Context, a *models.Alert) error {
	if err := s.store.SaveAlert(ctx, a); err != nil {
		return fmt.Errorf("archive alert: %w", err)
	}
	return nil
}

// AlertTopic is the default bus topic for published alerts.
const AlertTopic = "gatewatch.alerts"

// NATSSink publishes alerts as JSON messages on a watermill publisher.
// The alert ID doubles as the message UUID so JetStream can deduplicate
// repeated sweeps of the same window.
type NATSSink struct {
	publisher message.Publisher
	topic     string
}

// NewNATSSink creates a NATSSink. An empty topic uses AlertTopic.
func NewNATSSink(publisher message.Publisher, topic string) *NATSSink {
	if topic == "" {
		topic = AlertTopic
	}
	return &NATSSink{publisher: publisher, topic: topic}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Send(ctx context.Context, a *models.Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	msg := message.NewMessage(a.ID, body)
	msg.Metadata.Set("kind", string(a.Kind))
	msg.Metadata.Set("severity", string(a.Severity))
	if id := logging.CorrelationID(ctx); id != "" {
		msg.Metadata.Set("correlation_id", id)
	}
	msg.SetContext(ctx)

	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return fmt.Errorf("publish alert to %s: %w", s.topic, err)
	}
	return nil
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*ArchiveSink)(nil)
	_ Sink = (*NATSSink)(nil)
)
