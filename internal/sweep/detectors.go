// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package sweep

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/gatewatch/internal/models"
)

// Detector finds one kind of aggregate pattern in a time-ordered event window.
// Sweeper sorts events by timestamp before calling Detect; callers invoking
// Detect directly must do the same. Implementations must not retain or
// modify events.
type Detector interface {
	Kind() models.AlertKind
	Detect(events []models.LoginEvent, window models.TimeRange) ([]models.Alert, error)
}

// Grouping selects how the brute-force detector forms runs.
type Grouping string

const (
	// GroupAdjacent treats consecutive same-IP events in the global stream
	// as one run. Another IP's event in between ends the run.
	GroupAdjacent Grouping = "adjacent"

	// GroupPerIP looks at each IP's events on their own and reports the
	// densest burst inside the span limit.
	GroupPerIP Grouping = "per_ip"
)

// Thresholds are strict lower bounds: a group must exceed the count to alert.
type Thresholds struct {
	IPFailures       int
	UserAgentEvents  int
	BruteForceEvents int
	BruteForceSpan   time.Duration
	TakeoverUsers    int
}

// DefaultThresholds returns the production detector limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		IPFailures:       5,
		UserAgentEvents:  10,
		BruteForceEvents: 10,
		BruteForceSpan:   10 * time.Minute,
		TakeoverUsers:    5,
	}
}

// DefaultDetectors returns the four built-in detectors in report order.
func DefaultDetectors(t Thresholds, grouping Grouping) []Detector {
	return []Detector{
		IPFlood{Limit: t.IPFailures},
		UserAgentFlood{Limit: t.UserAgentEvents},
		BruteForce{Limit: t.BruteForceEvents, Span: t.BruteForceSpan, Grouping: grouping},
		TakeoverProbe{Limit: t.TakeoverUsers},
	}
}

// group is a set of events sharing a key, in stream order.
type group struct {
	key    string
	events []*models.LoginEvent
}

// groupBy buckets events by key. Groups come back in order of first
// appearance so output is deterministic for a given window.
func groupBy(events []models.LoginEvent, key func(*models.LoginEvent) (string, bool)) []*group {
	index := make(map[string]*group)
	var out []*group
	for i := range events {
		e := &events[i]
		k, ok := key(e)
		if !ok {
			continue
		}
		g, seen := index[k]
		if !seen {
			g = &group{key: k}
			index[k] = g
			out = append(out, g)
		}
		g.events = append(g.events, e)
	}
	return out
}

func (g *group) first() time.Time { return g.events[0].Timestamp }
func (g *group) last() time.Time  { return g.events[len(g.events)-1].Timestamp }

// alertNamespace seeds deterministic alert IDs so re-running the same window
// yields the same IDs.
var alertNamespace = uuid.MustParse("0b6d4c1e-5d8f-4f7a-9a37-6b2f1f0d9c11")

func newAlert(kind models.AlertKind, subject string, window models.TimeRange, first, last time.Time, count int) models.Alert {
	seed := strings.Join([]string{
		string(kind), subject,
		strconv.FormatInt(window.Start.UnixNano(), 10),
		strconv.FormatInt(window.End.UnixNano(), 10),
		strconv.FormatInt(first.UnixNano(), 10),
	}, "|")
	return models.Alert{
		ID:          uuid.NewSHA1(alertNamespace, []byte(seed)).String(),
		Kind:        kind,
		Severity:    models.SeverityFor(kind),
		Subject:     subject,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		FirstSeen:   first,
		LastSeen:    last,
		Count:       count,
		CreatedAt:   window.End,
	}
}

// IPFlood flags IPs with more than Limit failed attempts in the window.
type IPFlood struct {
	Limit int
}

func (IPFlood) Kind() models.AlertKind { return models.AlertIPFlood }

func (d IPFlood) Detect(events []models.LoginEvent, window models.TimeRange) ([]models.Alert, error) {
	groups := groupBy(events, func(e *models.LoginEvent) (string, bool) {
		return e.IP, !e.Success
	})
	var alerts []models.Alert
	for _, g := range groups {
		if len(g.events) <= d.Limit {
			continue
		}
		a := newAlert(models.AlertIPFlood, g.key, window, g.first(), g.last(), len(g.events))
		a.Detail = fmt.Sprintf("%d failed logins from %s over %s", a.Count, g.key, a.Span())
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// UserAgentFlood flags exact user-agent strings seen in more than Limit
// events regardless of outcome.
type UserAgentFlood struct {
	Limit int
}

func (UserAgentFlood) Kind() models.AlertKind { return models.AlertUAFlood }

func (d UserAgentFlood) Detect(events []models.LoginEvent, window models.TimeRange) ([]models.Alert, error) {
	groups := groupBy(events, func(e *models.LoginEvent) (string, bool) {
		return e.UserAgent, true
	})
	var alerts []models.Alert
	for _, g := range groups {
		if len(g.events) <= d.Limit {
			continue
		}
		a := newAlert(models.AlertUAFlood, g.key, window, g.first(), g.last(), len(g.events))
		label := g.key
		if label == "" {
			label = "(empty user-agent)"
		}
		a.Detail = fmt.Sprintf("%d logins with user-agent %q over %s", a.Count, label, a.Span())
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// BruteForce flags runs of more than Limit same-IP events spanning less
// than Span.
//
// In adjacent mode a run that is still open when the stream ends is
// measured up to the window end, the sweep's notion of now.
type BruteForce struct {
	Limit    int
	Span     time.Duration
	Grouping Grouping
}

func (BruteForce) Kind() models.AlertKind { return models.AlertBruteForce }

func (d BruteForce) Detect(events []models.LoginEvent, window models.TimeRange) ([]models.Alert, error) {
	switch d.Grouping {
	case GroupPerIP:
		return d.perIP(events, window), nil
	case GroupAdjacent, "":
		return d.adjacent(events, window), nil
	default:
		return nil, fmt.Errorf("unknown brute-force grouping %q", d.Grouping)
	}
}

func (d BruteForce) adjacent(events []models.LoginEvent, window models.TimeRange) []models.Alert {
	var alerts []models.Alert
	start := 0
	for i := 1; i <= len(events); i++ {
		if i < len(events) && events[i].IP == events[start].IP {
			continue
		}
		run := events[start:i]
		first, last := run[0].Timestamp, run[len(run)-1].Timestamp
		end := last
		if i == len(events) {
			end = window.End
		}
		if len(run) > d.Limit && end.Sub(first) < d.Span {
			alerts = append(alerts, d.alert(run[0].IP, window, first, last, len(run)))
		}
		start = i
	}
	return alerts
}

func (d BruteForce) perIP(events []models.LoginEvent, window models.TimeRange) []models.Alert {
	groups := groupBy(events, func(e *models.LoginEvent) (string, bool) {
		return e.IP, true
	})
	var alerts []models.Alert
	for _, g := range groups {
		// Densest burst whose span stays under the limit.
		bestLo, bestHi := 0, 0
		lo := 0
		for hi := range g.events {
			for lo < hi && g.events[hi].Timestamp.Sub(g.events[lo].Timestamp) >= d.Span {
				lo++
			}
			if hi-lo > bestHi-bestLo {
				bestLo, bestHi = lo, hi
			}
		}
		count := bestHi - bestLo + 1
		if count <= d.Limit {
			continue
		}
		alerts = append(alerts, d.alert(g.key, window, g.events[bestLo].Timestamp, g.events[bestHi].Timestamp, count))
	}
	return alerts
}

func (d BruteForce) alert(ip string, window models.TimeRange, first, last time.Time, count int) models.Alert {
	a := newAlert(models.AlertBruteForce, ip, window, first, last, count)
	a.Detail = fmt.Sprintf("%d consecutive attempts from %s within %s", count, ip, a.Span())
	return a
}

// TakeoverProbe flags IPs that targeted more than Limit distinct users.
type TakeoverProbe struct {
	Limit int
}

func (TakeoverProbe) Kind() models.AlertKind { return models.AlertTakeoverProbe }

func (d TakeoverProbe) Detect(events []models.LoginEvent, window models.TimeRange) ([]models.Alert, error) {
	groups := groupBy(events, func(e *models.LoginEvent) (string, bool) {
		return e.IP, true
	})
	var alerts []models.Alert
	for _, g := range groups {
		users := make(map[string]struct{})
		for _, e := range g.events {
			if e.UserID != "" {
				users[e.UserID] = struct{}{}
			}
		}
		if len(users) <= d.Limit {
			continue
		}
		targets := make([]string, 0, len(users))
		for u := range users {
			targets = append(targets, u)
		}
		sort.Strings(targets)

		a := newAlert(models.AlertTakeoverProbe, g.key, window, g.first(), g.last(), len(targets))
		a.Targets = targets
		a.Detail = fmt.Sprintf("%s tried %d distinct accounts: %s", g.key, len(targets), strings.Join(targets, ", "))
		alerts = append(alerts, a)
	}
	return alerts, nil
}
