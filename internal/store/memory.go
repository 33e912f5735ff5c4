// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tomtom215/gatewatch/internal/models"
)

// MemoryStore keeps history in process memory. Events and fingerprints are
// held sorted by time so range queries binary-search their lower bound.
type MemoryStore struct {
	mu           sync.RWMutex
	events       []models.LoginEvent
	ids          map[string]struct{}
	fingerprints map[string][]models.DeviceFingerprint
	hashes       map[string]struct{}
	alerts       []models.Alert
	alertIDs     map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids:          make(map[string]struct{}),
		fingerprints: make(map[string][]models.DeviceFingerprint),
		hashes:       make(map[string]struct{}),
		alertIDs:     make(map[string]struct{}),
	}
}

// Record implements EventStore. The caller's event gets its generated ID.
func (m *MemoryStore) Record(ctx context.Context, event *models.LoginEvent) (string, error) {
	if err := prepareEvent(event); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	stored := *event
	if event.Metadata != nil {
		stored.Metadata = make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			stored.Metadata[k] = v
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.ids[stored.ID]; dup {
		return stored.ID, nil
	}
	m.ids[stored.ID] = struct{}{}

	// First index strictly after the new timestamp keeps equal stamps in
	// insertion order.
	i := sort.Search(len(m.events), func(i int) bool {
		return m.events[i].Timestamp.After(stored.Timestamp)
	})
	m.events = append(m.events, models.LoginEvent{})
	copy(m.events[i+1:], m.events[i:])
	m.events[i] = stored
	return stored.ID, nil
}

// Query implements EventStore.
func (m *MemoryStore) Query(ctx context.Context, filter models.EventFilter) ([]models.LoginEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter = normalizeFilter(filter)

	m.mu.RLock()
	defer m.mu.RUnlock()

	start := 0
	if !filter.Range.Start.IsZero() {
		start = sort.Search(len(m.events), func(i int) bool {
			return !m.events[i].Timestamp.Before(filter.Range.Start)
		})
	}

	var out []models.LoginEvent
	for i := start; i < len(m.events); i++ {
		e := &m.events[i]
		if !filter.Range.End.IsZero() && e.Timestamp.After(filter.Range.End) {
			break
		}
		if filter.Matches(e) {
			out = append(out, *e)
		}
	}
	return out, nil
}

// RecordFingerprint implements FingerprintStore and returns the hash.
func (m *MemoryStore) RecordFingerprint(ctx context.Context, fp *models.DeviceFingerprint) (string, error) {
	if err := prepareFingerprint(fp); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.hashes[fp.Hash]; dup {
		return fp.Hash, nil
	}
	m.hashes[fp.Hash] = struct{}{}

	list := m.fingerprints[fp.UserID]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt.After(fp.CreatedAt)
	})
	list = append(list, models.DeviceFingerprint{})
	copy(list[i+1:], list[i:])
	list[i] = *fp
	m.fingerprints[fp.UserID] = list
	return fp.Hash, nil
}

// QueryFingerprints implements FingerprintStore.
func (m *MemoryStore) QueryFingerprints(ctx context.Context, userID string, r models.TimeRange) ([]models.DeviceFingerprint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.DeviceFingerprint
	for _, fp := range m.fingerprints[userID] {
		if r.Contains(fp.CreatedAt) {
			out = append(out, fp)
		}
	}
	return out, nil
}

// SaveAlert implements AlertStore. Saving an ID twice keeps the first copy.
func (m *MemoryStore) SaveAlert(ctx context.Context, alert *models.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.alertIDs[alert.ID]; dup {
		return nil
	}
	m.alertIDs[alert.ID] = struct{}{}
	m.alerts = append(m.alerts, *alert)
	return nil
}

// ListAlerts implements AlertStore.
func (m *MemoryStore) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = alertLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Alert, len(m.alerts))
	copy(out, m.alerts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prune implements Store.
func (m *MemoryStore) Prune(ctx context.Context, before time.Time) (PruneResult, error) {
	if err := ctx.Err(); err != nil {
		return PruneResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var res PruneResult
	cut := sort.Search(len(m.events), func(i int) bool {
		return !m.events[i].Timestamp.Before(before)
	})
	for _, e := range m.events[:cut] {
		delete(m.ids, e.ID)
	}
	m.events = append([]models.LoginEvent(nil), m.events[cut:]...)
	res.Events = int64(cut)

	for user, list := range m.fingerprints {
		cut := sort.Search(len(list), func(i int) bool {
			return !list[i].CreatedAt.Before(before)
		})
		for _, fp := range list[:cut] {
			delete(m.hashes, fp.Hash)
		}
		res.Fingerprints += int64(cut)
		if cut == len(list) {
			delete(m.fingerprints, user)
			continue
		}
		m.fingerprints[user] = append([]models.DeviceFingerprint(nil), list[cut:]...)
	}
	return res, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
