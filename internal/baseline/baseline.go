// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

// Package baseline summarizes a user's recent login history into the
// statistics novelty rules compare against.
//
// A UserBaseline is a recomputable view derived from history on demand. It is
// never stored and never treated as a source of truth. Compute is pure; the
// caller supplies the evaluation time.
package baseline

import (
	"math"
	"sort"
	"time"

	"github.com/tomtom215/gatewatch/internal/models"
)

// Windows sets how far back each group of statistics looks.
type Windows struct {
	// Activity covers frequency, hour histogram, success rate and IP consistency.
	Activity time.Duration `json:"activity"`
	// Agents covers the distinct user-agent set.
	Agents time.Duration `json:"agents"`
	// Fingerprints covers fingerprint stability and device changes.
	Fingerprints time.Duration `json:"fingerprints"`
}

// DefaultWindows is 7 days of activity and 30 days of agents and fingerprints.
func DefaultWindows() Windows {
	return Windows{
		Activity:     7 * 24 * time.Hour,
		Agents:       30 * 24 * time.Hour,
		Fingerprints: 30 * 24 * time.Hour,
	}
}

// EventSpan is the longest of the event windows.
func (w Windows) EventSpan() time.Duration {
	if w.Agents > w.Activity {
		return w.Agents
	}
	return w.Activity
}

// DeviceChange is a pair of consecutive fingerprints whose agents differ.
type DeviceChange struct {
	At       time.Time `json:"at"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	FromHash string    `json:"from_hash"`
	ToHash   string    `json:"to_hash"`
}

// UserBaseline is the summary for one user as of one instant.
type UserBaseline struct {
	UserID  string    `json:"user_id"`
	AsOf    time.Time `json:"as_of"`
	Windows Windows   `json:"windows"`

	EventCount     int       `json:"event_count"`
	FirstSeen      time.Time `json:"first_seen,omitempty"`
	LastSeen       time.Time `json:"last_seen,omitempty"`
	LoginFrequency float64   `json:"login_frequency"` // events per hour
	HourHistogram  [24]int   `json:"hour_histogram"`
	HourSpread     int       `json:"hour_spread"`
	NightLogins    int       `json:"night_logins"`
	SuccessRate    float64   `json:"success_rate"` // percent
	IPConsistency  float64   `json:"ip_consistency"`
	DistinctIPs    []string  `json:"distinct_ips"`

	// DistinctUserAgents is ordered by first appearance.
	DistinctUserAgents []string `json:"distinct_user_agents"`

	// LastSuccess is the most recent successful event in the activity
	// window, if any.
	LastSuccess *models.LoginEvent `json:"last_success,omitempty"`

	FingerprintCount     int            `json:"fingerprint_count"`
	FingerprintStability float64        `json:"fingerprint_stability"`
	DeviceChanges        []DeviceChange `json:"device_changes"`
}

// Compute builds the baseline for userID from the supplied history. Events
// and fingerprints outside their windows are ignored; input order does not
// matter. Hours are taken in UTC.
func Compute(userID string, asOf time.Time, events []models.LoginEvent, fps []models.DeviceFingerprint, w Windows) *UserBaseline {
	b := &UserBaseline{
		UserID:             userID,
		AsOf:               asOf,
		Windows:            w,
		DistinctIPs:        []string{},
		DistinctUserAgents: []string{},
		DeviceChanges:      []DeviceChange{},
	}

	sorted := sortedEvents(events)
	activityRange := models.Trailing(asOf, w.Activity)
	agentRange := models.Trailing(asOf, w.Agents)

	var successes int
	seenIP := make(map[string]struct{})
	seenUA := make(map[string]struct{})

	for i := range sorted {
		e := &sorted[i]

		if agentRange.Contains(e.Timestamp) {
			if _, ok := seenUA[e.UserAgent]; !ok {
				seenUA[e.UserAgent] = struct{}{}
				b.DistinctUserAgents = append(b.DistinctUserAgents, e.UserAgent)
			}
		}

		if !activityRange.Contains(e.Timestamp) {
			continue
		}

		if b.EventCount == 0 {
			b.FirstSeen = e.Timestamp
		}
		b.LastSeen = e.Timestamp
		b.EventCount++

		hour := e.Timestamp.UTC().Hour()
		b.HourHistogram[hour]++
		if isNight(hour) {
			b.NightLogins++
		}

		if e.Success {
			successes++
			b.LastSuccess = e
		}
		if _, ok := seenIP[e.IP]; !ok {
			seenIP[e.IP] = struct{}{}
			b.DistinctIPs = append(b.DistinctIPs, e.IP)
		}
	}

	if b.EventCount > 0 {
		elapsed := asOf.Sub(b.FirstSeen).Hours()
		b.LoginFrequency = float64(b.EventCount) / math.Max(elapsed, 1)
		b.SuccessRate = round2(float64(successes) / float64(b.EventCount) * 100)
		b.IPConsistency = round2(1 - float64(len(b.DistinctIPs))/float64(b.EventCount))
		b.HourSpread = hourSpread(b.HourHistogram)
	}
	if b.LastSuccess != nil {
		last := *b.LastSuccess
		b.LastSuccess = &last
	}

	applyFingerprints(b, fps, models.Trailing(asOf, w.Fingerprints))
	return b
}

// KnowsIP reports whether ip appeared in the activity window.
func (b *UserBaseline) KnowsIP(ip string) bool {
	for _, known := range b.DistinctIPs {
		if known == ip {
			return true
		}
	}
	return false
}

// LatestDeviceChange returns the most recent device change, or nil.
func (b *UserBaseline) LatestDeviceChange() *DeviceChange {
	if len(b.DeviceChanges) == 0 {
		return nil
	}
	return &b.DeviceChanges[len(b.DeviceChanges)-1]
}

func applyFingerprints(b *UserBaseline, fps []models.DeviceFingerprint, r models.TimeRange) {
	inRange := make([]models.DeviceFingerprint, 0, len(fps))
	for _, fp := range fps {
		if r.Contains(fp.CreatedAt) {
			inRange = append(inRange, fp)
		}
	}
	sort.SliceStable(inRange, func(i, j int) bool {
		return inRange[i].CreatedAt.Before(inRange[j].CreatedAt)
	})

	b.FingerprintCount = len(inRange)
	if len(inRange) == 0 {
		return
	}

	counts := make(map[string]int)
	top := 0
	for i, fp := range inRange {
		counts[fp.UserAgent]++
		if counts[fp.UserAgent] > top {
			top = counts[fp.UserAgent]
		}
		if i > 0 && inRange[i-1].UserAgent != fp.UserAgent {
			b.DeviceChanges = append(b.DeviceChanges, DeviceChange{
				At:       fp.CreatedAt,
				From:     inRange[i-1].UserAgent,
				To:       fp.UserAgent,
				FromHash: inRange[i-1].Hash,
				ToHash:   fp.Hash,
			})
		}
	}
	b.FingerprintStability = round2(float64(top) / float64(len(inRange)))
}

// sortedEvents returns a time-ordered copy.
func sortedEvents(events []models.LoginEvent) []models.LoginEvent {
	out := make([]models.LoginEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// isNight covers [22,24) and [0,6].
func isNight(hour int) bool {
	return hour >= 22 || hour <= 6
}

func hourSpread(hist [24]int) int {
	lo, hi := -1, -1
	for h, n := range hist {
		if n == 0 {
			continue
		}
		if lo < 0 {
			lo = h
		}
		hi = h
	}
	if lo < 0 {
		return 0
	}
	return hi - lo
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
