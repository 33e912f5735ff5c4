// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package services

import (
	"context"
	"time"

	"github.com/tomtom215/gatewatch/internal/logging"
	"github.com/tomtom215/gatewatch/internal/store"
)

// GarbageCollector is satisfied by *store.AssessmentLog.
type GarbageCollector interface {
	RunGC() error
}

// Pruner is satisfied by every store.Store.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (store.PruneResult, error)
}

// PeriodicService runs a task on a fixed interval. Task errors are logged
// and do not stop the service, so a transient failure never triggers a
// supervisor restart.
type PeriodicService struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error
}

// NewPeriodicService creates a periodic task. A non-positive interval
// defaults to 10 minutes.
func NewPeriodicService(name string, interval time.Duration, task func(ctx context.Context) error) *PeriodicService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &PeriodicService{name: name, interval: interval, task: task}
}

// NewGCService reclaims Badger value log space every interval.
func NewGCService(gc GarbageCollector, interval time.Duration) *PeriodicService {
	return NewPeriodicService("assessment-log-gc", interval, func(context.Context) error {
		return gc.RunGC()
	})
}

// NewRetentionService deletes history older than retention every interval.
func NewRetentionService(p Pruner, retention, interval time.Duration) *PeriodicService {
	return NewPeriodicService("history-retention", interval, func(ctx context.Context) error {
		res, err := p.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			return err
		}
		if res.Events > 0 || res.Fingerprints > 0 {
			log := logging.WithComponent("store")
			log.Info().
				Int64("events", res.Events).
				Int64("fingerprints", res.Fingerprints).
				Dur("retention", retention).
				Msg("Pruned expired history")
		}
		return nil
	})
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	log := logging.WithComponent(p.name)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.task(ctx); err != nil {
				log.Warn().Err(err).Msg("Periodic task failed")
			}
		}
	}
}

func (p *PeriodicService) String() string {
	return p.name
}
