// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package models

import "time"

// AlertKind names the sweep detector that raised an alert.
type AlertKind string

const (
	AlertIPFlood       AlertKind = "ip-flood"
	AlertUAFlood       AlertKind = "ua-flood"
	AlertBruteForce    AlertKind = "brute-force"
	AlertTakeoverProbe AlertKind = "account-takeover-probe"
)

// AlertKinds lists every kind in the order detectors run.
var AlertKinds = []AlertKind{AlertIPFlood, AlertUAFlood, AlertBruteForce, AlertTakeoverProbe}

// Severity orders alerts for sink filtering.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank is 0 for info, 1 for warning, 2 for critical and -1 for anything else.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return -1
	}
}

// AtLeast reports whether s is as severe as min. An unknown min passes
// everything.
func (s Severity) AtLeast(min Severity) bool {
	if min.Rank() < 0 {
		return true
	}
	return s.Rank() >= min.Rank()
}

// SeverityFor maps an alert kind to its default severity.
func SeverityFor(kind AlertKind) Severity {
	switch kind {
	case AlertBruteForce, AlertTakeoverProbe:
		return SeverityCritical
	case AlertIPFlood:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Alert is an aggregate finding over a sweep window. Subject is the IP or
// user-agent string the events were grouped by. FirstSeen and LastSeen
// bound the grouped events inside the window.
type Alert struct {
	ID          string    `json:"id"`
	Kind        AlertKind `json:"kind"`
	Severity    Severity  `json:"severity"`
	Subject     string    `json:"subject"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Count       int       `json:"count"`
	Detail      string    `json:"detail"`
	Targets     []string  `json:"targets,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Span is LastSeen minus FirstSeen.
func (a *Alert) Span() time.Duration {
	return a.LastSeen.Sub(a.FirstSeen)
}
