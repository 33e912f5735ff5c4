// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package baseline

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/gatewatch/internal/models"
)

// EventSource reads login history ordered by timestamp.
type EventSource interface {
	Query(ctx context.Context, filter models.EventFilter) ([]models.LoginEvent, error)
}

// FingerprintSource reads a user's fingerprints ordered by creation time.
type FingerprintSource interface {
	QueryFingerprints(ctx context.Context, userID string, r models.TimeRange) ([]models.DeviceFingerprint, error)
}

// Builder computes baselines from the history stores.
type Builder struct {
	events       EventSource
	fingerprints FingerprintSource
}

// NewBuilder returns a Builder. fingerprints may be nil, in which case
// fingerprint statistics stay at zero.
func NewBuilder(events EventSource, fingerprints FingerprintSource) *Builder {
	return &Builder{events: events, fingerprints: fingerprints}
}

// History is the raw input Compute needs for one user.
type History struct {
	Events       []models.LoginEvent
	Fingerprints []models.DeviceFingerprint
}

// Fetch reads everything the baseline for userID as of asOf depends on.
// Store failures wrap models.ErrStoreUnavailable.
func (b *Builder) Fetch(ctx context.Context, userID string, asOf time.Time, w Windows) (*History, error) {
	events, err := b.events.Query(ctx, models.EventFilter{
		UserID: userID,
		Range:  models.Trailing(asOf, w.EventSpan()),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: user events: %w", models.ErrStoreUnavailable, err)
	}

	h := &History{Events: events}
	if b.fingerprints == nil {
		return h, nil
	}

	h.Fingerprints, err = b.fingerprints.QueryFingerprints(ctx, userID, models.Trailing(asOf, w.Fingerprints))
	if err != nil {
		return nil, fmt.Errorf("%w: user fingerprints: %w", models.ErrStoreUnavailable, err)
	}
	return h, nil
}

// Build fetches history and computes the baseline.
func (b *Builder) Build(ctx context.Context, userID string, asOf time.Time, w Windows) (*UserBaseline, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", models.ErrInvalidEvent)
	}
	h, err := b.Fetch(ctx, userID, asOf, w)
	if err != nil {
		return nil, err
	}
	return Compute(userID, asOf, h.Events, h.Fingerprints, w), nil
}
