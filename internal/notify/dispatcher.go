// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

// Package notify delivers sweep alerts to external channels.
//
// The Dispatcher is the sweeper's alert sink. Every Emit fans the alert out
// to each registered sink on its own goroutine with a delivery timeout, so
// a slow or failing channel never holds up a sweep. Failures are logged and
// counted, never returned.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/gatewatch/internal/logging"
	"github.com/tomtom215/gatewatch/internal/metrics"
	"github.com/tomtom215/gatewatch/internal/models"
)

// Sink delivers one alert to one channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, alert *models.Alert) error
}

// DefaultDeliveryTimeout bounds a single Send.
const DefaultDeliveryTimeout = 10 * time.Second

type route struct {
	sink        Sink
	minSeverity models.Severity
}

// Dispatcher fans alerts out to sinks.
type Dispatcher struct {
	timeout time.Duration

	mu     sync.RWMutex
	routes []route
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given per-delivery timeout.
func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	return &Dispatcher{timeout: timeout}
}

// Add registers a sink. Alerts below minSeverity are not sent to it; an
// empty minSeverity accepts everything.
func (d *Dispatcher) Add(sink Sink, minSeverity models.Severity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes = append(d.routes, route{sink: sink, minSeverity: minSeverity})
}

// Sinks lists the registered sink names.
func (d *Dispatcher) Sinks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.routes))
	for i, r := range d.routes {
		names[i] = r.sink.Name()
	}
	return names
}

// Emit implements sweep.AlertSink. It returns immediately.
//
// Deliveries outlive ctx's cancellation but keep its values, so correlation
// IDs still reach the sink logs.
func (d *Dispatcher) Emit(ctx context.Context, alert models.Alert) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		logging.Warn().Str("component", "notify").Str("alert_id", alert.ID).Msg("Dispatcher closed, dropping alert")
		return
	}

	base := context.WithoutCancel(ctx)
	for _, r := range d.routes {
		if !alert.Severity.AtLeast(r.minSeverity) {
			metrics.RecordNotificationFiltered(r.sink.Name())
			continue
		}
		a := alert
		d.wg.Add(1)
		go d.deliver(base, r.sink, &a)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, alert *models.Alert) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Str("component", "notify").Str("sink", sink.Name()).Interface("panic", r).Msg("Sink panicked")
			metrics.RecordNotification(sink.Name(), errSinkPanic)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := sink.Send(ctx, alert)
	metrics.RecordNotification(sink.Name(), err)
	if err != nil {
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("component", "notify").
			Str("sink", sink.Name()).
			Str("alert_id", alert.ID).
			Str("kind", string(alert.Kind)).
			Msg("Alert delivery failed")
	}
}

// Close stops accepting alerts and waits for outstanding deliveries.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}
