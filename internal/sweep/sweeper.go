// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package sweep

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/tomtom215/gatewatch/internal/logging"
	"github.com/tomtom215/gatewatch/internal/metrics"
	"github.com/tomtom215/gatewatch/internal/models"
)

// ErrInvalidWindow is returned for a zero or inverted sweep window.
var ErrInvalidWindow = errors.New("invalid sweep window")

// EventSource reads the history window a sweep runs over.
type EventSource interface {
	Query(ctx context.Context, filter models.EventFilter) ([]models.LoginEvent, error)
}

// AlertSink receives alerts as a sweep produces them. Emit must not block
// on delivery.
type AlertSink interface {
	Emit(ctx context.Context, alert models.Alert)
}

// DetectorError is one detector's failure inside a sweep.
type DetectorError struct {
	Detector models.AlertKind
	Err      error
}

func (e DetectorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Detector, e.Err)
}

func (e DetectorError) Unwrap() error { return e.Err }

// PartialFailure is returned with the alerts of the detectors that did run
// when one or more detectors failed.
type PartialFailure struct {
	Failures []DetectorError
}

func (p *PartialFailure) Error() string {
	parts := make([]string, len(p.Failures))
	for i, f := range p.Failures {
		parts[i] = f.Error()
	}
	return "sweep partially failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes each detector error to errors.Is and errors.As.
func (p *PartialFailure) Unwrap() []error {
	errs := make([]error, len(p.Failures))
	for i, f := range p.Failures {
		errs[i] = f
	}
	return errs
}

// Failed lists the kinds of the detectors that failed.
func (p *PartialFailure) Failed() []models.AlertKind {
	kinds := make([]models.AlertKind, len(p.Failures))
	for i, f := range p.Failures {
		kinds[i] = f.Detector
	}
	return kinds
}

// Sweeper runs every detector over one fetched event window.
type Sweeper struct {
	source    EventSource
	detectors []Detector
	sink      AlertSink
}

// NewSweeper creates a sweeper. A nil sink keeps alerts in the return value only.
func NewSweeper(source EventSource, sink AlertSink, detectors ...Detector) *Sweeper {
	if len(detectors) == 0 {
		detectors = DefaultDetectors(DefaultThresholds(), GroupAdjacent)
	}
	return &Sweeper{source: source, detectors: detectors, sink: sink}
}

// Sweep reads every event in window once and runs each detector over it.
// Alerts are returned in detector order and emitted to the sink.
//
// A history read failure returns models.ErrStoreUnavailable and no alerts.
// Detector failures, panics included, produce a *PartialFailure next to the
// alerts the other detectors found. Cancellation is checked between detectors.
func (s *Sweeper) Sweep(ctx context.Context, window models.TimeRange) ([]models.Alert, error) {
	if !window.Valid() {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidWindow, window.Start, window.End)
	}
	start := time.Now()
	log := logging.Ctx(ctx).With().Str("component", "sweep").Logger()

	events, err := s.source.Query(ctx, models.EventFilter{Range: window})
	if err != nil {
		metrics.RecordSweep("store_error", time.Since(start), 0, nil, nil)
		if errors.Is(err, models.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("sweep fetch: %w: %w", models.ErrStoreUnavailable, err)
	}
	events = timeOrdered(events)

	var (
		alerts   []models.Alert
		failures []DetectorError
	)
	for _, d := range s.detectors {
		if err := ctx.Err(); err != nil {
			metrics.RecordSweep("canceled", time.Since(start), len(events), alertKinds(alerts), nil)
			return alerts, err
		}
		found, err := runDetector(d, events, window)
		if err != nil {
			log.Error().Err(err).Str("detector", string(d.Kind())).Msg("Detector failed")
			failures = append(failures, DetectorError{Detector: d.Kind(), Err: err})
			continue
		}
		alerts = append(alerts, found...)
	}

	if s.sink != nil {
		for _, a := range alerts {
			s.sink.Emit(ctx, a)
		}
	}

	outcome := "success"
	var failed []string
	if len(failures) > 0 {
		outcome = "partial"
		for _, f := range failures {
			failed = append(failed, string(f.Detector))
		}
	}
	metrics.RecordSweep(outcome, time.Since(start), len(events), alertKinds(alerts), failed)

	log.Info().
		Time("window_start", window.Start).
		Time("window_end", window.End).
		Int("events", len(events)).
		Int("alerts", len(alerts)).
		Int("failed_detectors", len(failures)).
		Dur("duration", time.Since(start)).
		Msg("Sweep complete")

	if len(failures) > 0 {
		return alerts, &PartialFailure{Failures: failures}
	}
	return alerts, nil
}

func runDetector(d Detector, events []models.LoginEvent, window models.TimeRange) (alerts []models.Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Str("detector", string(d.Kind())).Bytes("stack", debug.Stack()).Msg("Detector panicked")
			alerts, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return d.Detect(events, window)
}

func alertKinds(alerts []models.Alert) []string {
	kinds := make([]string, len(alerts))
	for i, a := range alerts {
		kinds[i] = string(a.Kind)
	}
	return kinds
}

// timeOrdered returns events sorted by timestamp, copying only when the
// source returned them out of order.
func timeOrdered(events []models.LoginEvent) []models.LoginEvent {
	less := func(e []models.LoginEvent) func(i, j int) bool {
		return func(i, j int) bool { return e[i].Timestamp.Before(e[j].Timestamp) }
	}
	if sort.SliceIsSorted(events, less(events)) {
		return events
	}
	out := append([]models.LoginEvent(nil), events...)
	sort.SliceStable(out, less(out))
	return out
}
