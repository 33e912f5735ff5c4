// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/gatewatch/internal/logging"
	"github.com/tomtom215/gatewatch/internal/models"
)

// Validate checks every section and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !c.Server.RateLimitDisabled && (c.Server.RateLimitReqs <= 0 || c.Server.RateLimitWindow <= 0) {
		add("server.rate_limit_requests and server.rate_limit_window must be positive")
	}

	// Logging
	if !logging.ValidLevel(c.Logging.Level) {
		add("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		add("logging.format must be json or console, got %q", c.Logging.Format)
	}

	// Store
	switch c.Store.Driver {
	case "duckdb":
		if c.Store.Threads < 0 {
			add("store.threads must not be negative")
		}
	case "memory":
	default:
		add("store.driver must be duckdb or memory, got %q", c.Store.Driver)
	}
	if c.Store.Retention < 0 {
		add("store.retention must not be negative")
	}
	if c.Store.Retention > 0 {
		if c.Store.PruneInterval <= 0 {
			add("store.prune_interval must be positive when store.retention is set")
		}
		if longest := c.longestWindow(); c.Store.Retention < longest {
			add("store.retention %s is shorter than the longest baseline or sweep window %s", c.Store.Retention, longest)
		}
	}
	if c.Store.Breaker.Enabled {
		b := c.Store.Breaker
		if b.FailureRatio <= 0 || b.FailureRatio > 1 {
			add("store.breaker.failure_ratio must be in (0, 1], got %v", b.FailureRatio)
		}
		if b.Timeout <= 0 {
			add("store.breaker.timeout must be positive")
		}
	}
	if c.AssessmentLog.Enabled && c.AssessmentLog.Path == "" {
		add("assessment_log.path is required when the assessment log is enabled")
	}
	if c.AssessmentLog.Retention < 0 {
		add("assessment_log.retention must not be negative")
	}

	// Risk
	policy := c.RiskPolicy()
	if err := policy.Validate(); err != nil {
		add("risk: %w", err)
	}
	if c.Risk.StoreTimeout <= 0 {
		add("risk.store_timeout must be positive")
	}
	if !validPredicate(c.Risk.UnusualIP, PredicateNever, PredicateUnseenIP, PredicateImpossibleTravel, PredicateAny) {
		add("risk.unusual_ip must be one of never, unseen_ip, impossible_travel, any; got %q", c.Risk.UnusualIP)
	}
	if !validPredicate(c.Risk.FingerprintChanged, PredicateNever, PredicateDrift) {
		add("risk.fingerprint_changed must be never or drift, got %q", c.Risk.FingerprintChanged)
	}
	if c.Risk.FingerprintChanged == PredicateDrift && c.Risk.DriftLookback <= 0 {
		add("risk.drift_lookback must be positive when fingerprint_changed is drift")
	}

	// Baseline
	if c.Baseline.ActivityWindow <= 0 || c.Baseline.AgentWindow <= 0 || c.Baseline.FingerprintWindow <= 0 {
		add("baseline windows must be positive")
	}

	// Sweep
	if c.Sweep.Enabled {
		if c.Sweep.Interval <= 0 || c.Sweep.Window <= 0 || c.Sweep.RunTimeout <= 0 {
			add("sweep.interval, sweep.window and sweep.run_timeout must be positive")
		}
		if c.Sweep.LockTTL != 0 && c.Sweep.LockTTL < c.Sweep.RunTimeout {
			add("sweep.lock_ttl must be at least sweep.run_timeout")
		}
	}
	switch c.Sweep.Grouping {
	case "adjacent", "per_ip":
	default:
		add("sweep.grouping must be adjacent or per_ip, got %q", c.Sweep.Grouping)
	}
	switch c.Sweep.Lock {
	case "local":
	case "redis":
		if c.Redis.Addr == "" {
			add("redis.addr is required when sweep.lock is redis")
		}
	default:
		add("sweep.lock must be local or redis, got %q", c.Sweep.Lock)
	}
	if c.Sweep.IPFailures < 1 || c.Sweep.UserAgentEvents < 1 || c.Sweep.BruteForceEvents < 1 || c.Sweep.TakeoverUsers < 1 {
		add("sweep detector thresholds must be at least 1")
	}
	if c.Sweep.BruteForceSpan <= 0 {
		add("sweep.brute_force_span must be positive")
	}

	// NATS
	if c.NATS.Enabled {
		if c.NATS.Embedded.Enabled {
			if c.NATS.Embedded.StoreDir == "" {
				add("nats.embedded.store_dir is required when the embedded server is enabled")
			}
		} else if c.NATS.URL == "" {
			add("nats.url is required when nats is enabled")
		}
		if c.NATS.LoginTopic == "" || c.NATS.VerdictTopic == "" {
			add("nats.login_topic and nats.verdict_topic are required when nats is enabled")
		}
		if c.NATS.SubscribersCount < 1 {
			add("nats.subscribers_count must be at least 1")
		}
	}
	if c.Notify.NATS.Enabled && !c.NATS.Enabled {
		add("notify.nats requires nats.enabled")
	}

	// Notify
	if c.Notify.DeliveryTimeout <= 0 {
		add("notify.delivery_timeout must be positive")
	}
	for name, sev := range map[string]string{
		"log":     c.Notify.Log.MinSeverity,
		"archive": c.Notify.Archive.MinSeverity,
		"nats":    c.Notify.NATS.MinSeverity,
		"webhook": c.Notify.Webhook.MinSeverity,
		"discord": c.Notify.Discord.MinSeverity,
		"slack":   c.Notify.Slack.MinSeverity,
	} {
		if sev != "" && models.Severity(sev).Rank() < 0 {
			add("notify.%s.min_severity %q is not a valid severity", name, sev)
		}
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		add("notify.webhook.url is required when the webhook sink is enabled")
	}
	if c.Notify.Discord.Enabled && c.Notify.Discord.WebhookURL == "" {
		add("notify.discord.webhook_url is required when the discord sink is enabled")
	}
	if c.Notify.Slack.Enabled && c.Notify.Slack.WebhookURL == "" {
		add("notify.slack.webhook_url is required when the slack sink is enabled")
	}

	// Geo
	if usesTravel(c.Risk.UnusualIP) {
		if c.Geo.MaxSpeedKMH <= 0 {
			add("geo.max_speed_kmh must be positive")
		}
		if c.Geo.MinDistanceKM < 0 {
			add("geo.min_distance_km must not be negative")
		}
	}

	return errors.Join(errs...)
}

func validPredicate(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func usesTravel(p string) bool {
	return p == PredicateImpossibleTravel || p == PredicateAny
}

// longestWindow is the furthest back any assessment or sweep reads.
func (c *Config) longestWindow() time.Duration {
	longest := c.Sweep.Window
	for _, w := range []time.Duration{c.Baseline.ActivityWindow, c.Baseline.AgentWindow, c.Baseline.FingerprintWindow} {
		if w > longest {
			longest = w
		}
	}
	return longest
}
