// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/gatewatch/internal/logging"
	"github.com/tomtom215/gatewatch/internal/metrics"
	"github.com/tomtom215/gatewatch/internal/models"
)

// BreakerConfig tunes the circuit breaker around a Store.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32        // allowed in half-open state
	Interval     time.Duration // closed-state count reset
	Timeout      time.Duration // open-state wait before half-open
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerConfig opens after 60% failures over at least 10 requests
// and retries after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "history-store",
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// Breaker guards a Store with a circuit breaker. While the circuit is open
// every call fails fast with models.ErrStoreUnavailable.
//
// Invalid input and caller cancellation do not count as backend failures.
type Breaker struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// NewBreaker wraps next.
func NewBreaker(next Store, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = def.MinRequests
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = def.FailureRatio
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	log := logging.WithComponent("store")
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= cfg.FailureRatio {
				log.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", ratio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
				return true
			}
			return false
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, models.ErrInvalidEvent) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("breaker", name).Str("from", stateToString(from)).Str("to", stateToString(to)).Msg("[CIRCUIT BREAKER] State transition")
			metrics.RecordCircuitBreakerTransition(name, stateToString(from), stateToString(to), stateToFloat(to))
		},
	})

	return &Breaker{next: next, cb: cb, name: cfg.Name}
}

// State reports the breaker's current state name.
func (b *Breaker) State() string {
	return stateToString(b.cb.State())
}

func (b *Breaker) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w: %w", b.name, models.ErrStoreUnavailable, err)
	}
	return result, err
}

func cast[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// Record implements EventStore.
func (b *Breaker) Record(ctx context.Context, event *models.LoginEvent) (string, error) {
	return cast[string](b.execute(func() (any, error) {
		return b.next.Record(ctx, event)
	}))
}

// Query implements EventStore.
func (b *Breaker) Query(ctx context.Context, filter models.EventFilter) ([]models.LoginEvent, error) {
	return cast[[]models.LoginEvent](b.execute(func() (any, error) {
		return b.next.Query(ctx, filter)
	}))
}

// RecordFingerprint implements FingerprintStore.
func (b *Breaker) RecordFingerprint(ctx context.Context, fp *models.DeviceFingerprint) (string, error) {
	return cast[string](b.execute(func() (any, error) {
		return b.next.RecordFingerprint(ctx, fp)
	}))
}

// QueryFingerprints implements FingerprintStore.
func (b *Breaker) QueryFingerprints(ctx context.Context, userID string, r models.TimeRange) ([]models.DeviceFingerprint, error) {
	return cast[[]models.DeviceFingerprint](b.execute(func() (any, error) {
		return b.next.QueryFingerprints(ctx, userID, r)
	}))
}

// SaveAlert implements AlertStore.
func (b *Breaker) SaveAlert(ctx context.Context, alert *models.Alert) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.next.SaveAlert(ctx, alert)
	})
	return err
}

// ListAlerts implements AlertStore.
func (b *Breaker) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	return cast[[]models.Alert](b.execute(func() (any, error) {
		return b.next.ListAlerts(ctx, limit)
	}))
}

// Prune implements Store.
func (b *Breaker) Prune(ctx context.Context, before time.Time) (PruneResult, error) {
	return cast[PruneResult](b.execute(func() (any, error) {
		return b.next.Prune(ctx, before)
	}))
}

// Ping bypasses the breaker so health checks see the backend directly.
func (b *Breaker) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

// Close closes the wrapped store.
func (b *Breaker) Close() error {
	return b.next.Close()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var _ Store = (*Breaker)(nil)
