// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package geo

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/gatewatch/internal/models"
	"github.com/tomtom215/gatewatch/internal/risk"
	"github.com/tomtom215/gatewatch/internal/signals"
)

// minTravelHours stands in for near-simultaneous logins so the implied
// speed stays finite but enormous.
const minTravelHours = 0.001

// ImpossibleTravel fires when reaching the event's location from the user's
// last successful login would need more than MaxSpeedKMH.
type ImpossibleTravel struct {
	Provider      Provider
	MaxSpeedKMH   float64
	MinDistanceKM float64
}

// NewImpossibleTravel uses 900 km/h and 100 km when the limits are zero.
func NewImpossibleTravel(p Provider, maxSpeedKMH, minDistanceKM float64) *ImpossibleTravel {
	if maxSpeedKMH <= 0 {
		maxSpeedKMH = 900
	}
	if minDistanceKM <= 0 {
		minDistanceKM = 100
	}
	return &ImpossibleTravel{Provider: p, MaxSpeedKMH: maxSpeedKMH, MinDistanceKM: minDistanceKM}
}

// Travel describes the hop between two logins.
type Travel struct {
	From       Location
	To         Location
	DistanceKM float64
	Elapsed    time.Duration
	SpeedKMH   float64
}

// Evaluate implements risk.Predicate.
func (it *ImpossibleTravel) Evaluate(ctx context.Context, event *models.LoginEvent, ev *risk.Evidence) (bool, error) {
	tr, err := it.Measure(ctx, event, ev)
	if err != nil || tr == nil {
		return false, err
	}
	return tr.DistanceKM >= it.MinDistanceKM && tr.SpeedKMH > it.MaxSpeedKMH, nil
}

// Measure resolves the hop from the last successful login to event. It
// returns nil without error when there is nothing to compare.
func (it *ImpossibleTravel) Measure(ctx context.Context, event *models.LoginEvent, ev *risk.Evidence) (*Travel, error) {
	if ev == nil || ev.Baseline == nil || ev.Baseline.LastSuccess == nil {
		return nil, nil
	}
	prev := ev.Baseline.LastSuccess
	if signals.NormalizeIP(prev.IP) == signals.NormalizeIP(event.IP) {
		return nil, nil
	}
	if !signals.IsPublicIP(prev.IP) || !signals.IsPublicIP(event.IP) {
		return nil, nil
	}
	elapsed := event.Timestamp.Sub(prev.Timestamp)
	if elapsed < 0 {
		return nil, nil
	}

	from, err := it.Provider.Lookup(ctx, prev.IP)
	if err != nil {
		return nil, ignoreNotFound(err)
	}
	to, err := it.Provider.Lookup(ctx, event.IP)
	if err != nil {
		return nil, ignoreNotFound(err)
	}

	hours := elapsed.Hours()
	if hours < minTravelHours {
		hours = minTravelHours
	}
	dist := DistanceKM(from, to)
	return &Travel{
		From:       from,
		To:         to,
		DistanceKM: dist,
		Elapsed:    elapsed,
		SpeedKMH:   dist / hours,
	}, nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}

var _ risk.Predicate = (*ImpossibleTravel)(nil)
