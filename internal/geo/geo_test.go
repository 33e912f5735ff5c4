// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package geo

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/gatewatch/internal/baseline"
	"github.com/tomtom215/gatewatch/internal/models"
	"github.com/tomtom215/gatewatch/internal/risk"
)

var (
	newYork = Location{Latitude: 40.7128, Longitude: -74.0060, City: "New York", Country: "US"}
	london  = Location{Latitude: 51.5074, Longitude: -0.1278, City: "London", Country: "GB"}
	newark  = Location{Latitude: 40.7357, Longitude: -74.1724, City: "Newark", Country: "US"}
)

func testProvider(t *testing.T) *StaticProvider {
	t.Helper()
	p, err := NewStaticProvider([]Range{
		{CIDR: "8.8.0.0/16", Location: newYork},
		{CIDR: "8.8.4.0/24", Location: newark},
		{CIDR: "1.1.1.0/24", Location: london},
	})
	if err != nil {
		t.Fatalf("NewStaticProvider() error = %v", err)
	}
	return p
}

func TestDistanceKM(t *testing.T) {
	d := DistanceKM(newYork, london)
	if math.Abs(d-5570) > 15 {
		t.Errorf("DistanceKM(NY, London) = %.1f, want about 5570", d)
	}
	if DistanceKM(london, london) != 0 {
		t.Error("distance to self should be 0")
	}
}

func TestStaticProvider_Lookup(t *testing.T) {
	p := testProvider(t)
	ctx := context.Background()

	if loc, err := p.Lookup(ctx, "8.8.8.8"); err != nil || loc.City != "New York" {
		t.Errorf("Lookup(8.8.8.8) = %v, %v", loc, err)
	}
	if loc, err := p.Lookup(ctx, "8.8.4.4"); err != nil || loc.City != "Newark" {
		t.Errorf("Lookup(8.8.4.4) = %v, %v, want the more specific range", loc, err)
	}
	if _, err := p.Lookup(ctx, "9.9.9.9"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Lookup(9.9.9.9) error = %v, want ErrNotFound", err)
	}
	if _, err := NewStaticProvider([]Range{{CIDR: "bogus"}}); err == nil {
		t.Error("NewStaticProvider(bogus) = nil error")
	}
}

type countingProvider struct {
	calls atomic.Int32
	next  Provider
	err   error
}

func (c *countingProvider) Lookup(ctx context.Context, ip string) (Location, error) {
	c.calls.Add(1)
	if c.err != nil {
		return Location{}, c.err
	}
	return c.next.Lookup(ctx, ip)
}

func TestCachedProvider(t *testing.T) {
	inner := &countingProvider{next: testProvider(t)}
	p := NewCachedProvider(inner, 10, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.Lookup(ctx, "1.1.1.1"); err != nil {
			t.Fatal(err)
		}
		if _, err := p.Lookup(ctx, "9.9.9.9"); !errors.Is(err, models.ErrNotFound) {
			t.Fatalf("Lookup(9.9.9.9) error = %v", err)
		}
	}
	if got := inner.calls.Load(); got != 2 {
		t.Errorf("inner calls = %d, want 2", got)
	}

	failing := &countingProvider{err: errors.New("timeout")}
	fp := NewCachedProvider(failing, 10, time.Minute)
	_, _ = fp.Lookup(ctx, "1.1.1.1")
	_, _ = fp.Lookup(ctx, "1.1.1.1")
	if got := failing.calls.Load(); got != 2 {
		t.Errorf("failing calls = %d, want 2 (errors are not cached)", got)
	}
}

func evidenceWithLastSuccess(ip string, at time.Time) *risk.Evidence {
	return &risk.Evidence{Baseline: &baseline.UserBaseline{
		LastSuccess: &models.LoginEvent{UserID: "alice", IP: ip, Timestamp: at, Success: true},
	}}
}

func TestImpossibleTravel_Evaluate(t *testing.T) {
	it := NewImpossibleTravel(testProvider(t), 0, 0)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	at := func(ip string) *models.LoginEvent {
		return &models.LoginEvent{UserID: "alice", IP: ip, Timestamp: now}
	}

	tests := []struct {
		name  string
		event *models.LoginEvent
		ev    *risk.Evidence
		want  bool
	}{
		{"no history", at("1.1.1.1"), &risk.Evidence{}, false},
		{"no prior success", at("1.1.1.1"), &risk.Evidence{Baseline: &baseline.UserBaseline{}}, false},
		{"same ip", at("8.8.8.8"), evidenceWithLastSuccess("8.8.8.8", now.Add(-time.Minute)), false},
		{"ny to london in an hour", at("1.1.1.1"), evidenceWithLastSuccess("8.8.8.8", now.Add(-time.Hour)), true},
		{"ny to london in ten hours", at("1.1.1.1"), evidenceWithLastSuccess("8.8.8.8", now.Add(-10*time.Hour)), false},
		{"simultaneous", at("1.1.1.1"), evidenceWithLastSuccess("8.8.8.8", now), true},
		{"ny to newark is too close", at("8.8.4.4"), evidenceWithLastSuccess("8.8.8.8", now), false},
		{"private source", at("1.1.1.1"), evidenceWithLastSuccess("10.0.0.1", now.Add(-time.Minute)), false},
		{"unknown location", at("9.9.9.9"), evidenceWithLastSuccess("8.8.8.8", now.Add(-time.Minute)), false},
		{"out of order", at("1.1.1.1"), evidenceWithLastSuccess("8.8.8.8", now.Add(time.Hour)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := it.Evaluate(context.Background(), tt.event, tt.ev)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestImpossibleTravel_ProviderError(t *testing.T) {
	it := NewImpossibleTravel(&countingProvider{err: errors.New("geo api 503")}, 900, 100)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	ok, err := it.Evaluate(context.Background(), &models.LoginEvent{IP: "1.1.1.1", Timestamp: now}, evidenceWithLastSuccess("8.8.8.8", now.Add(-time.Hour)))
	if ok || err == nil {
		t.Errorf("Evaluate() = %v, %v, want false with error", ok, err)
	}
}

func TestImpossibleTravel_WithAssessorSlot(t *testing.T) {
	// the predicate plugs into the unusual IP slot and its error is absorbed
	var p risk.Predicate = NewImpossibleTravel(testProvider(t), 900, 100)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ok, err := p.Evaluate(context.Background(), &models.LoginEvent{IP: "1.1.1.1", Timestamp: now}, evidenceWithLastSuccess("8.8.8.8", now.Add(-30*time.Minute)))
	if err != nil || !ok {
		t.Errorf("Evaluate() = %v, %v, want true, nil", ok, err)
	}
}
