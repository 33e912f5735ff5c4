// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package sweep

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/gatewatch/internal/logging"
	"github.com/tomtom215/gatewatch/internal/metrics"
	"github.com/tomtom215/gatewatch/internal/models"
)

// SchedulerConfig holds configuration for the sweep scheduler.
type SchedulerConfig struct {
	// Interval between runs (default: 1 hour)
	Interval time.Duration

	// Window is the trailing history each run covers (default: 1 hour)
	Window time.Duration

	// RunTimeout bounds a single run (default: 5 minutes)
	RunTimeout time.Duration

	// LockTTL bounds how long a crashed run can block others (default: RunTimeout + 1 minute)
	LockTTL time.Duration

	// RunOnStart runs a sweep immediately when the scheduler starts
	RunOnStart bool
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:   time.Hour,
		Window:     time.Hour,
		RunTimeout: 5 * time.Minute,
		LockTTL:    6 * time.Minute,
		RunOnStart: true,
	}
}

// RunStatus describes the most recent scheduled run.
type RunStatus struct {
	StartedAt  time.Time          `json:"started_at"`
	Window     models.TimeRange   `json:"window"`
	Alerts     int                `json:"alerts"`
	Failed     []models.AlertKind `json:"failed_detectors,omitempty"`
	Error      string             `json:"error,omitempty"`
	Skipped    bool               `json:"skipped"`
	DurationMS int64              `json:"duration_ms"`
}

// Scheduler runs the sweeper on a fixed interval under a run-level lock.
type Scheduler struct {
	sweeper *Sweeper
	locker  Locker
	config  SchedulerConfig
	logger  zerolog.Logger
	clock   func() time.Time

	mu   sync.RWMutex
	last *RunStatus
}

// NewScheduler creates a scheduler. A nil locker uses a LocalLocker.
func NewScheduler(sweeper *Sweeper, locker Locker, config SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = def.RunTimeout
	}
	if config.LockTTL <= 0 {
		config.LockTTL = config.RunTimeout + time.Minute
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Scheduler{
		sweeper: sweeper,
		locker:  locker,
		config:  config,
		logger:  logging.WithComponent("sweep"),
		clock:   time.Now,
	}
}

// Serve runs the scheduler loop until ctx is canceled. It satisfies
// suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.config.Interval).
		Dur("window", s.config.Window).
		Dur("run_timeout", s.config.RunTimeout).
		Msg("Starting sweep scheduler")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.logger.Info().Msg("Sweep scheduler stopped")
			return ctx.Err()
		}
	}
}

// String names the service in supervisor logs.
func (s *Scheduler) String() string { return "sweep-scheduler" }

func (s *Scheduler) tick(ctx context.Context) {
	ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID())
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, models.ErrSweepInProgress) {
		logging.Ctx(ctx).Error().Err(err).Str("component", "sweep").Msg("Scheduled sweep failed")
	}
}

// RunOnce sweeps the trailing window ending now. It returns
// models.ErrSweepInProgress without sweeping when another run holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) ([]models.Alert, error) {
	return s.RunWindow(ctx, models.Trailing(s.clock().UTC(), s.config.Window))
}

// RunWindow sweeps an explicit window under the same lock and run timeout
// as scheduled runs.
func (s *Scheduler) RunWindow(ctx context.Context, window models.TimeRange) ([]models.Alert, error) {
	now := s.clock().UTC()
	status := &RunStatus{StartedAt: now, Window: window}
	defer func() {
		status.DurationMS = s.clock().Sub(now).Milliseconds()
		s.mu.Lock()
		s.last = status
		s.mu.Unlock()
	}()

	unlock, err := s.locker.TryLock(ctx, LockName, s.config.LockTTL)
	if err != nil {
		status.Error = err.Error()
		if errors.Is(err, models.ErrSweepInProgress) {
			status.Skipped = true
			metrics.RecordSweepSkipped()
			logging.Ctx(ctx).Info().Str("component", "sweep").Str("lock", LockName).Msg("Sweep skipped, another run holds the lock")
		}
		return nil, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlock(releaseCtx); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to release sweep lock")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	alerts, err := s.sweeper.Sweep(runCtx, window)
	status.Alerts = len(alerts)
	if err != nil {
		status.Error = err.Error()
		var pf *PartialFailure
		if errors.As(err, &pf) {
			status.Failed = pf.Failed()
		}
	}
	return alerts, err
}

// LastRun returns the most recent run status, or nil before the first run.
func (s *Scheduler) LastRun() *RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	cp := *s.last
	return &cp
}

// Window returns the trailing window length each run covers.
func (s *Scheduler) Window() time.Duration { return s.config.Window }
