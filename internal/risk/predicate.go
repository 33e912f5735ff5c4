// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package risk

import (
	"context"
	"time"

	"github.com/tomtom215/gatewatch/internal/models"
	"github.com/tomtom215/gatewatch/internal/signals"
)

// Predicate decides an extension rule that needs data outside login
// history, such as geo-IP or fingerprint diffing. Predicates run before
// scoring; an error makes the rule contribute nothing.
type Predicate interface {
	Evaluate(ctx context.Context, event *models.LoginEvent, ev *Evidence) (bool, error)
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(ctx context.Context, event *models.LoginEvent, ev *Evidence) (bool, error)

func (f PredicateFunc) Evaluate(ctx context.Context, event *models.LoginEvent, ev *Evidence) (bool, error) {
	return f(ctx, event, ev)
}

// Never is the default for every extension slot.
var Never Predicate = PredicateFunc(func(context.Context, *models.LoginEvent, *Evidence) (bool, error) {
	return false, nil
})

// Any fires when at least one of ps fires. It evaluates every predicate
// and returns the first error only if none fired.
func Any(ps ...Predicate) Predicate {
	return PredicateFunc(func(ctx context.Context, event *models.LoginEvent, ev *Evidence) (bool, error) {
		var firstErr error
		for _, p := range ps {
			ok, err := p.Evaluate(ctx, event, ev)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if ok {
				return true, nil
			}
		}
		return false, firstErr
	})
}

// FingerprintDrift fires when the user's most recent device change falls
// within Lookback before the event.
type FingerprintDrift struct {
	Lookback time.Duration
}

func (d FingerprintDrift) Evaluate(_ context.Context, event *models.LoginEvent, ev *Evidence) (bool, error) {
	if ev == nil || ev.Baseline == nil {
		return false, nil
	}
	change := ev.Baseline.LatestDeviceChange()
	if change == nil {
		return false, nil
	}
	return models.Trailing(event.Timestamp, d.Lookback).Contains(change.At), nil
}

// UnseenIP fires when the user has at least MinHistory events in the
// activity window and none came from the event's IP.
type UnseenIP struct {
	MinHistory int
}

func (u UnseenIP) Evaluate(_ context.Context, event *models.LoginEvent, ev *Evidence) (bool, error) {
	if ev == nil || ev.Baseline == nil || ev.Baseline.EventCount < u.MinHistory {
		return false, nil
	}
	return signals.NovelIP(event.IP, ev.Baseline.DistinctIPs), nil
}
