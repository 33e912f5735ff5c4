// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/tomtom215/gatewatch/internal/baseline"
	"github.com/tomtom215/gatewatch/internal/bus"
	"github.com/tomtom215/gatewatch/internal/logging"
	"github.com/tomtom215/gatewatch/internal/models"
	"github.com/tomtom215/gatewatch/internal/risk"
	"github.com/tomtom215/gatewatch/internal/store"
	"github.com/tomtom215/gatewatch/internal/sweep"
)

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LoggingConfig converts the logging section. Output goes to stdout.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		Caller:    c.Logging.Caller,
		Timestamp: true,
		Output:    os.Stdout,
	}
}

// RiskPolicy converts the risk section to a scoring policy.
func (c *Config) RiskPolicy() risk.Policy {
	w := c.Risk.Weights
	return risk.Policy{
		Weights: map[risk.RuleName]float64{
			risk.RuleUnusualIP:          w.UnusualIP,
			risk.RuleUnusualUserAgent:   w.UnusualUserAgent,
			risk.RuleRapidAttempts:      w.RapidAttempts,
			risk.RuleIPFailures:         w.IPFailures,
			risk.RuleFingerprintChanged: w.FingerprintChanged,
			risk.RuleUnusualTime:        w.UnusualTime,
		},
		Thresholds: risk.Thresholds{
			Medium:   c.Risk.ThresholdMedium,
			High:     c.Risk.ThresholdHigh,
			Critical: c.Risk.ThresholdCritical,
		},
		RapidWindow:      c.Risk.RapidWindow,
		RapidLimit:       c.Risk.RapidLimit,
		FailureWindow:    c.Risk.FailureWindow,
		FailureLimit:     c.Risk.FailureLimit,
		UnusualHourStart: c.Risk.UnusualHourStart,
		UnusualHourEnd:   c.Risk.UnusualHourEnd,
		StepUpAbove:      c.Risk.StepUpAbove,
		BlockAbove:       c.Risk.BlockAbove,
	}
}

// BaselineWindows converts the baseline section.
func (c *Config) BaselineWindows() baseline.Windows {
	return baseline.Windows{
		Activity:     c.Baseline.ActivityWindow,
		Agents:       c.Baseline.AgentWindow,
		Fingerprints: c.Baseline.FingerprintWindow,
	}
}

// SweepThresholds converts the sweep detector limits.
func (c *Config) SweepThresholds() sweep.Thresholds {
	return sweep.Thresholds{
		IPFailures:       c.Sweep.IPFailures,
		UserAgentEvents:  c.Sweep.UserAgentEvents,
		BruteForceEvents: c.Sweep.BruteForceEvents,
		BruteForceSpan:   c.Sweep.BruteForceSpan,
		TakeoverUsers:    c.Sweep.TakeoverUsers,
	}
}

// SweepGrouping returns the brute-force grouping mode.
func (c *Config) SweepGrouping() sweep.Grouping {
	return sweep.Grouping(c.Sweep.Grouping)
}

// SchedulerConfig converts the sweep scheduling settings.
func (c *Config) SchedulerConfig() sweep.SchedulerConfig {
	return sweep.SchedulerConfig{
		Interval:   c.Sweep.Interval,
		Window:     c.Sweep.Window,
		RunTimeout: c.Sweep.RunTimeout,
		LockTTL:    c.Sweep.LockTTL,
		RunOnStart: c.Sweep.RunOnStart,
	}
}

// BreakerConfig converts the store breaker settings.
func (c *Config) BreakerConfig() store.BreakerConfig {
	b := c.Store.Breaker
	return store.BreakerConfig{
		Name:         "history-store",
		MaxRequests:  b.MaxRequests,
		Interval:     b.Interval,
		Timeout:      b.Timeout,
		MinRequests:  b.MinRequests,
		FailureRatio: b.FailureRatio,
	}
}

// AssessmentLogStoreConfig converts the assessment log section.
func (c *Config) AssessmentLogStoreConfig() store.AssessmentLogConfig {
	return store.AssessmentLogConfig{
		Path:      c.AssessmentLog.Path,
		Retention: c.AssessmentLog.Retention,
	}
}

// BusConfig converts the NATS section to a bus configuration.
func (c *Config) BusConfig() bus.Config {
	n := c.NATS
	cfg := bus.DefaultConfig(n.URL)
	cfg.StreamName = n.StreamName
	cfg.LoginTopic = n.LoginTopic
	cfg.VerdictTopic = n.VerdictTopic
	cfg.AlertTopic = n.AlertTopic
	cfg.DurableName = n.DurableName
	cfg.QueueGroup = n.QueueGroup
	if n.SubscribersCount > 0 {
		cfg.SubscribersCount = n.SubscribersCount
	}
	if n.AckWait > 0 {
		cfg.AckWaitTimeout = n.AckWait
	}
	if n.MaxDeliver > 0 {
		cfg.MaxDeliver = n.MaxDeliver
	}
	if n.RetentionDays > 0 {
		cfg.MaxAge = time.Duration(n.RetentionDays) * 24 * time.Hour
	}
	return cfg
}

// EmbeddedServerConfig converts nats.embedded to the in-process server settings.
func (c *Config) EmbeddedServerConfig() bus.ServerConfig {
	e := c.NATS.Embedded
	cfg := bus.DefaultServerConfig()
	cfg.Host = e.Host
	cfg.Port = e.Port
	cfg.StoreDir = e.StoreDir
	if e.MaxMemory > 0 {
		cfg.MaxMemory = e.MaxMemory
	}
	if e.MaxStore > 0 {
		cfg.MaxStore = e.MaxStore
	}
	return cfg
}

// MinSeverity parses a sink's severity floor. Empty accepts everything.
func MinSeverity(s string) models.Severity {
	return models.Severity(s)
}
