// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

// Package geo supplies the impossible-travel extension for the unusual IP
// rule. IP geolocation itself is delegated to a Provider.
package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"strings"
	"time"

	"github.com/tomtom215/gatewatch/internal/cache"
	"github.com/tomtom215/gatewatch/internal/models"
)

// Location is a resolved IP position.
type Location struct {
	Latitude  float64 `json:"latitude" koanf:"latitude"`
	Longitude float64 `json:"longitude" koanf:"longitude"`
	City      string  `json:"city,omitempty" koanf:"city"`
	Country   string  `json:"country,omitempty" koanf:"country"`
}

func (l Location) String() string {
	switch {
	case l.City != "" && l.Country != "":
		return l.City + ", " + l.Country
	case l.Country != "":
		return l.Country
	default:
		return fmt.Sprintf("%.4f,%.4f", l.Latitude, l.Longitude)
	}
}

// Provider resolves IPs. It returns models.ErrNotFound for addresses it
// knows nothing about.
type Provider interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}

// Range maps a CIDR block to a location.
type Range struct {
	CIDR     string   `koanf:"cidr"`
	Location Location `koanf:"location"`
}

// StaticProvider answers from a fixed CIDR table. The most specific
// matching prefix wins.
type StaticProvider struct {
	prefixes  []netip.Prefix
	locations []Location
}

// NewStaticProvider parses ranges.
func NewStaticProvider(ranges []Range) (*StaticProvider, error) {
	p := &StaticProvider{}
	for _, r := range ranges {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(r.CIDR))
		if err != nil {
			return nil, fmt.Errorf("geo range %q: %w", r.CIDR, err)
		}
		p.prefixes = append(p.prefixes, prefix.Masked())
		p.locations = append(p.locations, r.Location)
	}
	return p, nil
}

func (p *StaticProvider) Lookup(_ context.Context, ip string) (Location, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return Location{}, fmt.Errorf("parse %q: %w", ip, err)
	}
	addr = addr.Unmap()

	best := -1
	for i, prefix := range p.prefixes {
		if prefix.Contains(addr) && (best < 0 || prefix.Bits() > p.prefixes[best].Bits()) {
			best = i
		}
	}
	if best < 0 {
		return Location{}, models.ErrNotFound
	}
	return p.locations[best], nil
}

// CachedProvider memoizes another provider, including negative answers.
type CachedProvider struct {
	next  Provider
	cache *cache.LRU[cachedLookup]
}

type cachedLookup struct {
	loc   Location
	found bool
}

// NewCachedProvider wraps next with an LRU of the given size and TTL.
func NewCachedProvider(next Provider, size int, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, cache: cache.NewLRU[cachedLookup](size, ttl)}
}

func (c *CachedProvider) Lookup(ctx context.Context, ip string) (Location, error) {
	if hit, ok := c.cache.Get(ip); ok {
		if !hit.found {
			return Location{}, models.ErrNotFound
		}
		return hit.loc, nil
	}

	loc, err := c.next.Lookup(ctx, ip)
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.cache.Add(ip, cachedLookup{})
		return Location{}, err
	case err != nil:
		// transient failures are not cached
		return Location{}, err
	}
	c.cache.Add(ip, cachedLookup{loc: loc, found: true})
	return loc, nil
}

// DistanceKM is the great-circle distance between two points.
func DistanceKM(a, b Location) float64 {
	const earthRadiusKM = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	lat1, lat2 := toRad(a.Latitude), toRad(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRad(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
