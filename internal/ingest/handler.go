// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

// Package ingest consumes login events from the message bus, records them,
// assesses them and publishes the verdict.
//
// Delivery semantics:
//   - Malformed payloads and invalid events are acknowledged and dropped.
//   - Store failures are returned so the message is nacked and redelivered.
//   - An event without an ID takes the message UUID, so a redelivered
//     message records the same row instead of a new one.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/gatewatch/internal/cache"
	"github.com/tomtom215/gatewatch/internal/logging"
	"github.com/tomtom215/gatewatch/internal/metrics"
	"github.com/tomtom215/gatewatch/internal/models"
	"github.com/tomtom215/gatewatch/internal/risk"
)

// Metadata keys set on verdict messages.
const (
	MetaCorrelationID = "correlation_id"
	MetaEventID       = "event_id"
	MetaUserID        = "user_id"
	MetaLevel         = "level"
)

// EventRecorder appends events to history.
type EventRecorder interface {
	Record(ctx context.Context, e *models.LoginEvent) (string, error)
}

// Assessor scores an event against history.
type Assessor interface {
	Assess(ctx context.Context, e *models.LoginEvent) (*risk.Assessment, error)
}

var verdictNamespace = uuid.MustParse("5f8e2b51-3c0a-4b7e-9d7e-1a4f6c2d9b10")

// Handler processes one login message.
type Handler struct {
	events   EventRecorder
	assessor Assessor
	seen     *cache.LRU[struct{}]
}

// NewHandler creates a Handler. dedupTTL bounds how long a processed event
// ID suppresses redeliveries; zero disables in-process deduplication.
func NewHandler(events EventRecorder, assessor Assessor, dedupCapacity int, dedupTTL time.Duration) *Handler {
	h := &Handler{events: events, assessor: assessor}
	if dedupTTL > 0 && dedupCapacity > 0 {
		h.seen = cache.NewLRU[struct{}](dedupCapacity, dedupTTL)
	}
	return h
}

// Handle implements message.HandlerFunc. It returns the verdict message for
// the router to publish.
func (h *Handler) Handle(msg *message.Message) ([]*message.Message, error) {
	ctx := msg.Context()
	corrID := msg.Metadata.Get(MetaCorrelationID)
	if corrID == "" {
		corrID = msg.UUID
	}
	ctx = logging.WithCorrelationID(ctx, corrID)
	log := logging.Ctx(ctx)

	var event models.LoginEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		metrics.RecordIngest("poison")
		log.Warn().Err(err).Str("component", "ingest").Str("message_uuid", msg.UUID).Msg("dropping undecodable login message")
		return nil, nil
	}
	if event.ID == "" {
		event.ID = msg.UUID
	}
	if err := event.Validate(); err != nil {
		metrics.RecordIngest("poison")
		log.Warn().Err(err).Str("component", "ingest").Str("event_id", event.ID).Msg("dropping invalid login event")
		return nil, nil
	}

	if h.seen != nil && h.seen.Seen(event.ID) {
		metrics.RecordIngest("duplicate")
		log.Debug().Str("component", "ingest").Str("event_id", event.ID).Msg("skipping duplicate login event")
		return nil, nil
	}

	out, err := h.process(ctx, &event, corrID)
	if err != nil {
		if h.seen != nil {
			h.seen.Remove(event.ID)
		}
		if errors.Is(err, models.ErrInvalidEvent) {
			metrics.RecordIngest("poison")
			log.Warn().Err(err).Str("component", "ingest").Str("event_id", event.ID).Msg("dropping invalid login event")
			return nil, nil
		}
		metrics.RecordIngest("failed")
		log.Error().Err(err).Str("component", "ingest").Str("event_id", event.ID).Msg("login event processing failed, will be redelivered")
		return nil, err
	}

	metrics.RecordIngest("processed")
	return []*message.Message{out}, nil
}

func (h *Handler) process(ctx context.Context, event *models.LoginEvent, corrID string) (*message.Message, error) {
	if _, err := h.events.Record(ctx, event); err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}

	assessment, err := h.assessor.Assess(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("assess event: %w", err)
	}

	payload, err := json.Marshal(assessment)
	if err != nil {
		return nil, fmt.Errorf("marshal verdict: %w", err)
	}

	out := message.NewMessage(uuid.NewSHA1(verdictNamespace, []byte(event.ID)).String(), payload)
	out.Metadata.Set(MetaCorrelationID, corrID)
	out.Metadata.Set(MetaEventID, event.ID)
	out.Metadata.Set(MetaLevel, string(assessment.Level))
	if event.UserID != "" {
		out.Metadata.Set(MetaUserID, event.UserID)
	}
	return out, nil
}
