// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/gatewatch/internal/baseline"
	"github.com/tomtom215/gatewatch/internal/logging"
	"github.com/tomtom215/gatewatch/internal/metrics"
	"github.com/tomtom215/gatewatch/internal/models"
)

// Recorder persists assessments. Failures are logged, never returned to
// the caller of Assess.
type Recorder interface {
	Append(ctx context.Context, a *Assessment) error
}

// AssessorConfig wires an Assessor.
type AssessorConfig struct {
	Policy  Policy
	Windows baseline.Windows

	// StoreTimeout bounds all history reads for one assessment.
	StoreTimeout time.Duration

	// UnusualIP and FingerprintChanged fill the extension slots. Nil means
	// Never.
	UnusualIP          Predicate
	FingerprintChanged Predicate

	// Recorder is optional.
	Recorder Recorder

	// Scorer overrides the scorer built from Policy.
	Scorer *Scorer
}

// Assessor gathers evidence for an event and scores it.
type Assessor struct {
	events     baseline.EventSource
	builder    *baseline.Builder
	scorer     *Scorer
	windows    baseline.Windows
	timeout    time.Duration
	extensions map[RuleName]Predicate
	recorder   Recorder
}

// NewAssessor returns an Assessor reading from events and fingerprints.
// fingerprints may be nil.
func NewAssessor(events baseline.EventSource, fingerprints baseline.FingerprintSource, cfg AssessorConfig) *Assessor {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if cfg.Windows == (baseline.Windows{}) {
		cfg.Windows = baseline.DefaultWindows()
	}
	if cfg.Scorer == nil {
		cfg.Scorer = NewScorer(cfg.Policy, nil)
	}
	if cfg.UnusualIP == nil {
		cfg.UnusualIP = Never
	}
	if cfg.FingerprintChanged == nil {
		cfg.FingerprintChanged = Never
	}

	return &Assessor{
		events:  events,
		builder: baseline.NewBuilder(events, fingerprints),
		scorer:  cfg.Scorer,
		windows: cfg.Windows,
		timeout: cfg.StoreTimeout,
		extensions: map[RuleName]Predicate{
			RuleUnusualIP:          cfg.UnusualIP,
			RuleFingerprintChanged: cfg.FingerprintChanged,
		},
		recorder: cfg.Recorder,
	}
}

// Assess validates, gathers evidence and scores event. It returns an error
// wrapping models.ErrInvalidEvent for bad input and models.ErrStoreUnavailable
// when history cannot be read in time; no partial verdict is returned in
// either case.
func (a *Assessor) Assess(ctx context.Context, event *models.LoginEvent) (*Assessment, error) {
	start := time.Now()

	if err := event.Validate(); err != nil {
		metrics.RecordAssessmentError("invalid_event")
		return nil, err
	}
	if event.UserID != "" {
		ctx = logging.WithUserID(ctx, event.UserID)
	}

	ev, err := a.Gather(ctx, event)
	if err != nil {
		metrics.RecordAssessmentError("store_unavailable")
		logging.Ctx(ctx).Warn().Err(err).Str("ip", event.IP).Msg("risk assessment aborted")
		return nil, err
	}

	var warnings []string
	ev.Extensions = make(map[RuleName]bool, len(a.extensions))
	for _, rule := range RuleOrder {
		p, ok := a.extensions[rule]
		if !ok {
			continue
		}
		fired, perr := p.Evaluate(ctx, event, ev)
		if perr != nil {
			metrics.PredicateErrors.WithLabelValues(string(rule)).Inc()
			logging.Ctx(ctx).Warn().Err(perr).Str("rule", string(rule)).Msg("extension predicate failed")
			warnings = append(warnings, fmt.Sprintf("%s: %v", rule, perr))
			fired = false
		}
		ev.Extensions[rule] = fired
	}

	assessment, err := a.scorer.Score(event, ev)
	if err != nil {
		return nil, err
	}
	assessment.Warnings = warnings

	metrics.RecordAssessment(string(assessment.Level), assessment.Factors, time.Since(start))
	logging.Ctx(ctx).Debug().
		Str("event_id", event.ID).
		Float64("score", assessment.Score).
		Str("level", string(assessment.Level)).
		Strs("factors", assessment.Factors).
		Msg("event assessed")

	if a.recorder != nil && event.ID != "" {
		if rerr := a.recorder.Append(ctx, assessment); rerr != nil {
			logging.Ctx(ctx).Warn().Err(rerr).Str("event_id", event.ID).Msg("failed to persist assessment")
		}
	}
	return assessment, nil
}

// Gather reads the history the rules depend on. Every window ends at the
// event's timestamp, and an already-recorded copy of the event is excluded.
func (a *Assessor) Gather(ctx context.Context, event *models.LoginEvent) (*Evidence, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	asOf := event.Timestamp
	policy := a.scorer.Policy()
	ev := &Evidence{}

	if event.UserID != "" {
		h, err := a.builder.Fetch(ctx, event.UserID, asOf, a.windows)
		if err != nil {
			return nil, wrapTimeout(ctx, err)
		}
		prior := excludeEvent(h.Events, event.ID)
		ev.Baseline = baseline.Compute(event.UserID, asOf, prior, h.Fingerprints, a.windows)
		ev.RecentUserAttempts = countWithin(prior, models.Trailing(asOf, policy.RapidWindow))
	}

	failures, err := a.events.Query(ctx, models.EventFilter{
		IP:      event.IP,
		Success: models.Bool(false),
		Range:   models.Trailing(asOf, policy.FailureWindow),
	})
	if err != nil {
		return nil, wrapTimeout(ctx, fmt.Errorf("%w: ip failures: %w", models.ErrStoreUnavailable, err))
	}
	ev.RecentIPFailures = len(excludeEvent(failures, event.ID))

	return ev, nil
}

// wrapTimeout makes sure a deadline hit shows up as store unavailability.
func wrapTimeout(ctx context.Context, err error) error {
	if errors.Is(err, models.ErrStoreUnavailable) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, ctx.Err())
	}
	return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
}

func excludeEvent(events []models.LoginEvent, id string) []models.LoginEvent {
	if id == "" {
		return events
	}
	out := events[:0:0]
	for _, e := range events {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

func countWithin(events []models.LoginEvent, r models.TimeRange) int {
	n := 0
	for i := range events {
		if r.Contains(events[i].Timestamp) {
			n++
		}
	}
	return n
}
