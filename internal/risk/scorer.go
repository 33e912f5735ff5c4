// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package risk

import (
	"math"
	"time"

	"github.com/tomtom215/gatewatch/internal/baseline"
	"github.com/tomtom215/gatewatch/internal/models"
	"github.com/tomtom215/gatewatch/internal/signals"
)

// Recommendation strings, in the order they are emitted.
const (
	RecommendStepUp         = "require step-up authentication"
	RecommendRateLimit      = "apply rate limiting to this account"
	RecommendVerifyLocation = "verify the login location with the account owner"
	RecommendBlockAndReview = "block pending manual review"
)

// Evidence is everything a score depends on besides the event itself.
type Evidence struct {
	// Baseline is nil for attempts without a user, which disables the
	// user-based rules.
	Baseline *baseline.UserBaseline `json:"-"`

	// RecentUserAttempts counts the user's prior events in the rapid window.
	RecentUserAttempts int `json:"recent_user_attempts"`

	// RecentIPFailures counts prior failures from the event's IP in the
	// failure window.
	RecentIPFailures int `json:"recent_ip_failures"`

	// Extensions holds the outcome of pluggable predicates. Missing entries
	// count as false.
	Extensions map[RuleName]bool `json:"extensions,omitempty"`
}

// RuleResult explains one rule's contribution.
type RuleResult struct {
	Rule      RuleName `json:"rule"`
	Triggered bool     `json:"triggered"`
	Weight    float64  `json:"weight"`
}

// Assessment is the verdict for one event.
type Assessment struct {
	EventID         string            `json:"event_id,omitempty"`
	UserID          string            `json:"user_id,omitempty"`
	IP              string            `json:"ip"`
	EvaluatedAt     time.Time         `json:"evaluated_at"`
	Score           float64           `json:"score"`
	Level           Level             `json:"level"`
	Factors         []string          `json:"factors"`
	Recommendations []string          `json:"recommendations"`
	Rules           []RuleResult      `json:"rules"`
	Agent           signals.AgentInfo `json:"agent"`
	Evidence        Evidence          `json:"evidence"`
	Warnings        []string          `json:"warnings,omitempty"`
}

// HasFactor reports whether rule fired.
func (a *Assessment) HasFactor(rule RuleName) bool {
	for _, f := range a.Factors {
		if f == string(rule) {
			return true
		}
	}
	return false
}

// Scorer applies a Policy. It holds no mutable state and is safe for
// concurrent use.
type Scorer struct {
	policy     Policy
	classifier *signals.Classifier
}

// NewScorer returns a Scorer for policy. A nil classifier uses the default
// user-agent tables.
func NewScorer(policy Policy, classifier *signals.Classifier) *Scorer {
	if classifier == nil {
		classifier = signals.NewClassifier()
	}
	return &Scorer{policy: policy, classifier: classifier}
}

// Policy returns the table the scorer applies.
func (s *Scorer) Policy() Policy {
	return s.policy
}

// Score evaluates every rule in RuleOrder against the event and evidence.
// The evaluation time is the event's timestamp.
func (s *Scorer) Score(event *models.LoginEvent, ev *Evidence) (*Assessment, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if ev == nil {
		ev = &Evidence{}
	}

	fired := map[RuleName]bool{
		RuleUnusualIP:          ev.Extensions[RuleUnusualIP],
		RuleUnusualUserAgent:   s.unusualAgent(event, ev),
		RuleRapidAttempts:      ev.Baseline != nil && ev.RecentUserAttempts > s.policy.RapidLimit,
		RuleIPFailures:         ev.RecentIPFailures > s.policy.FailureLimit,
		RuleFingerprintChanged: ev.Extensions[RuleFingerprintChanged],
		RuleUnusualTime:        s.unusualTime(event.Timestamp),
	}

	a := &Assessment{
		EventID:         event.ID,
		UserID:          event.UserID,
		IP:              event.IP,
		EvaluatedAt:     event.Timestamp,
		Factors:         []string{},
		Recommendations: []string{},
		Rules:           make([]RuleResult, 0, len(RuleOrder)),
		Agent:           s.classifier.Classify(event.UserAgent),
		Evidence:        *ev,
	}

	var sum float64
	for _, rule := range RuleOrder {
		w := s.policy.Weight(rule)
		a.Rules = append(a.Rules, RuleResult{Rule: rule, Triggered: fired[rule], Weight: w})
		if fired[rule] {
			sum += w
			a.Factors = append(a.Factors, string(rule))
		}
	}

	a.Score = clamp(sum)
	a.Level = s.policy.Thresholds.LevelFor(a.Score)
	a.Recommendations = s.recommend(a)
	return a, nil
}

func (s *Scorer) unusualAgent(event *models.LoginEvent, ev *Evidence) bool {
	if ev.Baseline == nil {
		return false
	}
	return signals.NovelAgent(event.UserAgent, ev.Baseline.DistinctUserAgents)
}

func (s *Scorer) unusualTime(ts time.Time) bool {
	h := ts.UTC().Hour()
	return h >= s.policy.UnusualHourStart && h <= s.policy.UnusualHourEnd
}

func (s *Scorer) recommend(a *Assessment) []string {
	out := []string{}
	if a.Score > s.policy.StepUpAbove {
		out = append(out, RecommendStepUp)
	}
	if a.HasFactor(RuleRapidAttempts) {
		out = append(out, RecommendRateLimit)
	}
	if a.HasFactor(RuleUnusualIP) {
		out = append(out, RecommendVerifyLocation)
	}
	if a.Score > s.policy.BlockAbove {
		out = append(out, RecommendBlockAndReview)
	}
	return out
}

// clamp bounds the sum to [0,1] and rounds away float noise so bracket
// boundaries compare exactly.
func clamp(sum float64) float64 {
	sum = math.Round(sum*1e6) / 1e6
	return math.Max(0, math.Min(1, sum))
}
