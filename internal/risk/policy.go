// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

// Package risk scores individual login attempts.
//
// Scoring is an additive sum of fixed rule weights, clamped to 1. Score is a
// pure function of the event, the gathered Evidence and the Policy; the
// Assessor does the store reads and extension lookups that produce the
// Evidence.
package risk

import (
	"fmt"
	"time"
)

// RuleName is the factor label reported when a rule fires.
type RuleName string

const (
	RuleUnusualIP          RuleName = "unusual IP"
	RuleUnusualUserAgent   RuleName = "unusual user-agent"
	RuleRapidAttempts      RuleName = "rapid attempts"
	RuleIPFailures         RuleName = "recent same-IP failures"
	RuleFingerprintChanged RuleName = "fingerprint changed"
	RuleUnusualTime        RuleName = "unusual time"
)

// RuleOrder is the evaluation and reporting order.
var RuleOrder = []RuleName{
	RuleUnusualIP,
	RuleUnusualUserAgent,
	RuleRapidAttempts,
	RuleIPFailures,
	RuleFingerprintChanged,
	RuleUnusualTime,
}

// Level is an ordered risk bracket.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Thresholds are the lower bounds of each bracket above low.
type Thresholds struct {
	Medium   float64 `json:"medium"`
	High     float64 `json:"high"`
	Critical float64 `json:"critical"`
}

// LevelFor maps a score to its bracket. Each bound belongs to the higher
// bracket.
func (t Thresholds) LevelFor(score float64) Level {
	switch {
	case score >= t.Critical:
		return LevelCritical
	case score >= t.High:
		return LevelHigh
	case score >= t.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Policy is the tunable scoring table.
type Policy struct {
	Weights    map[RuleName]float64 `json:"weights"`
	Thresholds Thresholds           `json:"thresholds"`

	// RapidWindow and RapidLimit: more than RapidLimit prior events from the
	// same user inside RapidWindow fires rapid attempts.
	RapidWindow time.Duration `json:"rapid_window"`
	RapidLimit  int           `json:"rapid_limit"`

	// FailureWindow and FailureLimit: more than FailureLimit prior failures
	// from the same IP inside FailureWindow fires recent same-IP failures.
	FailureWindow time.Duration `json:"failure_window"`
	FailureLimit  int           `json:"failure_limit"`

	// Unusual time covers UTC hours in [UnusualHourStart, UnusualHourEnd].
	UnusualHourStart int `json:"unusual_hour_start"`
	UnusualHourEnd   int `json:"unusual_hour_end"`

	// StepUpAbove and BlockAbove are strict lower bounds for the step-up and
	// block recommendations.
	StepUpAbove float64 `json:"step_up_above"`
	BlockAbove  float64 `json:"block_above"`
}

// DefaultPolicy returns the standard weights and brackets.
func DefaultPolicy() Policy {
	return Policy{
		Weights: map[RuleName]float64{
			RuleUnusualIP:          0.3,
			RuleUnusualUserAgent:   0.2,
			RuleRapidAttempts:      0.4,
			RuleIPFailures:         0.3,
			RuleFingerprintChanged: 0.2,
			RuleUnusualTime:        0.1,
		},
		Thresholds:       Thresholds{Medium: 0.3, High: 0.6, Critical: 0.8},
		RapidWindow:      5 * time.Minute,
		RapidLimit:       3,
		FailureWindow:    time.Hour,
		FailureLimit:     2,
		UnusualHourStart: 2,
		UnusualHourEnd:   6,
		StepUpAbove:      0.6,
		BlockAbove:       0.8,
	}
}

// Weight returns the weight for rule, or 0 when unset.
func (p *Policy) Weight(rule RuleName) float64 {
	return p.Weights[rule]
}

// Validate reports the first inconsistency in the table.
func (p *Policy) Validate() error {
	for name, w := range p.Weights {
		if !knownRule(name) {
			return fmt.Errorf("unknown rule %q", name)
		}
		if w < 0 {
			return fmt.Errorf("weight for %q must not be negative", name)
		}
	}
	t := p.Thresholds
	if !(t.Medium > 0 && t.Medium < t.High && t.High < t.Critical && t.Critical <= 1) {
		return fmt.Errorf("thresholds must satisfy 0 < medium < high < critical <= 1, got %v/%v/%v", t.Medium, t.High, t.Critical)
	}
	if p.RapidWindow <= 0 || p.FailureWindow <= 0 {
		return fmt.Errorf("rule windows must be positive")
	}
	if p.RapidLimit < 0 || p.FailureLimit < 0 {
		return fmt.Errorf("rule limits must not be negative")
	}
	if p.UnusualHourStart < 0 || p.UnusualHourEnd > 23 || p.UnusualHourStart > p.UnusualHourEnd {
		return fmt.Errorf("unusual hours must satisfy 0 <= start <= end <= 23")
	}
	return nil
}

func knownRule(name RuleName) bool {
	for _, r := range RuleOrder {
		if r == name {
			return true
		}
	}
	return false
}
