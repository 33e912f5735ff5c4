// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

// Package store holds the login event history, device fingerprints, archived
// sweep alerts and the append-only assessment log.
//
// Two history backends exist: MemoryStore for tests and single-process
// deployments, and DuckDBStore for durable storage. Both return results in
// ascending timestamp order with ties kept in insertion order. IPs are
// stored in canonical form, so IPv4-mapped IPv6 addresses group with their
// IPv4 equivalent. Breaker wraps
// either one with a circuit breaker so a failing backend surfaces as
// models.ErrStoreUnavailable instead of piling up slow queries.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/gatewatch/internal/models"
	"github.com/tomtom215/gatewatch/internal/signals"
)

// EventStore records and queries login events.
type EventStore interface {
	// Record stores the event and returns its ID. An event without an ID
	// gets a generated one. Recording an ID that already exists is a no-op.
	Record(ctx context.Context, event *models.LoginEvent) (string, error)

	// Query returns matching events ordered by timestamp ascending.
	Query(ctx context.Context, filter models.EventFilter) ([]models.LoginEvent, error)
}

// FingerprintStore records and queries device fingerprints.
type FingerprintStore interface {
	// RecordFingerprint stores fp and returns its hash. Hashes are unique;
	// recording a known hash again keeps the first copy.
	RecordFingerprint(ctx context.Context, fp *models.DeviceFingerprint) (string, error)
	QueryFingerprints(ctx context.Context, userID string, r models.TimeRange) ([]models.DeviceFingerprint, error)
}

// AlertStore archives sweep alerts.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *models.Alert) error
	// ListAlerts returns archived alerts newest first.
	ListAlerts(ctx context.Context, limit int) ([]models.Alert, error)
}

// Store is the full history backend.
type Store interface {
	EventStore
	FingerprintStore
	AlertStore

	// Prune deletes events and fingerprints older than before. Archived
	// alerts are kept.
	Prune(ctx context.Context, before time.Time) (PruneResult, error)

	Ping(ctx context.Context) error
	Close() error
}

// PruneResult counts the rows Prune removed.
type PruneResult struct {
	Events       int64
	Fingerprints int64
}

// DefaultAlertLimit caps ListAlerts when the caller passes a non-positive limit.
const DefaultAlertLimit = 100

func prepareEvent(event *models.LoginEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.IP = signals.NormalizeIP(event.IP)
	event.Timestamp = event.Timestamp.UTC()
	return nil
}

func normalizeFilter(f models.EventFilter) models.EventFilter {
	if f.IP != "" {
		f.IP = signals.NormalizeIP(f.IP)
	}
	return f
}

func prepareFingerprint(fp *models.DeviceFingerprint) error {
	if err := fp.Validate(); err != nil {
		return err
	}
	fp.IP = signals.NormalizeIP(fp.IP)
	fp.CreatedAt = fp.CreatedAt.UTC()
	return nil
}

func alertLimit(limit int) int {
	if limit <= 0 {
		return DefaultAlertLimit
	}
	return limit
}
