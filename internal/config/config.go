// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

// Package config loads Gatewatch configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"time"

	"github.com/tomtom215/gatewatch/internal/geo"
)

// Config is the complete application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Store         StoreConfig         `koanf:"store"`
	AssessmentLog AssessmentLogConfig `koanf:"assessment_log"`
	Risk          RiskConfig          `koanf:"risk"`
	Baseline      BaselineConfig      `koanf:"baseline"`
	Sweep         SweepConfig         `koanf:"sweep"`
	Redis         RedisConfig         `koanf:"redis"`
	NATS          NATSConfig          `koanf:"nats"`
	Notify        NotifyConfig        `koanf:"notify"`
	Geo           GeoConfig           `koanf:"geo"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error
	Format string `koanf:"format"` // json, console
	Caller bool   `koanf:"caller"`
}

// StoreConfig selects and tunes the history store.
type StoreConfig struct {
	Driver  string `koanf:"driver"` // duckdb, memory
	Path    string `koanf:"path"`
	Threads int    `koanf:"threads"` // 0 = DuckDB default

	// Retention drops events and fingerprints older than this; 0 keeps everything.
	Retention     time.Duration `koanf:"retention"`
	PruneInterval time.Duration `koanf:"prune_interval"`

	Breaker BreakerConfig `koanf:"breaker"`
}

// BreakerConfig tunes the circuit breaker around the history store.
type BreakerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	MaxRequests  uint32        `koanf:"max_requests"`
	Interval     time.Duration `koanf:"interval"`
	Timeout      time.Duration `koanf:"timeout"`
	MinRequests  uint32        `koanf:"min_requests"`
	FailureRatio float64       `koanf:"failure_ratio"`
}

// AssessmentLogConfig controls the Badger-backed verdict log.
type AssessmentLogConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Path       string        `koanf:"path"`
	Retention  time.Duration `koanf:"retention"` // 0 = keep forever
	GCInterval time.Duration `koanf:"gc_interval"`
}

// RiskWeights holds the per-rule weights.
type RiskWeights struct {
	UnusualIP          float64 `koanf:"unusual_ip"`
	UnusualUserAgent   float64 `koanf:"unusual_user_agent"`
	RapidAttempts      float64 `koanf:"rapid_attempts"`
	IPFailures         float64 `koanf:"ip_failures"`
	FingerprintChanged float64 `koanf:"fingerprint_changed"`
	UnusualTime        float64 `koanf:"unusual_time"`
}

// Predicate choices for the extension slots.
const (
	PredicateNever            = "never"
	PredicateUnseenIP         = "unseen_ip"
	PredicateImpossibleTravel = "impossible_travel"
	PredicateAny              = "any" // unseen_ip or impossible_travel
	PredicateDrift            = "drift"
)

// RiskConfig is the scoring policy and extension predicate selection.
type RiskConfig struct {
	Weights RiskWeights `koanf:"weights"`

	ThresholdMedium   float64 `koanf:"threshold_medium"`
	ThresholdHigh     float64 `koanf:"threshold_high"`
	ThresholdCritical float64 `koanf:"threshold_critical"`

	RapidWindow      time.Duration `koanf:"rapid_window"`
	RapidLimit       int           `koanf:"rapid_limit"`
	FailureWindow    time.Duration `koanf:"failure_window"`
	FailureLimit     int           `koanf:"failure_limit"`
	UnusualHourStart int           `koanf:"unusual_hour_start"`
	UnusualHourEnd   int           `koanf:"unusual_hour_end"`
	StepUpAbove      float64       `koanf:"step_up_above"`
	BlockAbove       float64       `koanf:"block_above"`

	StoreTimeout time.Duration `koanf:"store_timeout"`

	UnusualIP          string        `koanf:"unusual_ip"`
	UnseenIPMinHistory int           `koanf:"unseen_ip_min_history"`
	FingerprintChanged string        `koanf:"fingerprint_changed"`
	DriftLookback      time.Duration `koanf:"drift_lookback"`
}

// BaselineConfig holds the baseline window lengths.
type BaselineConfig struct {
	ActivityWindow    time.Duration `koanf:"activity_window"`
	AgentWindow       time.Duration `koanf:"agent_window"`
	FingerprintWindow time.Duration `koanf:"fingerprint_window"`
}

// SweepConfig controls the aggregate sweeper and its scheduler.
type SweepConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Interval   time.Duration `koanf:"interval"`
	Window     time.Duration `koanf:"window"`
	RunTimeout time.Duration `koanf:"run_timeout"`
	RunOnStart bool          `koanf:"run_on_start"`
	Grouping   string        `koanf:"grouping"` // adjacent, per_ip

	IPFailures       int           `koanf:"ip_failures"`
	UserAgentEvents  int           `koanf:"user_agent_events"`
	BruteForceEvents int           `koanf:"brute_force_events"`
	BruteForceSpan   time.Duration `koanf:"brute_force_span"`
	TakeoverUsers    int           `koanf:"takeover_users"`

	Lock    string        `koanf:"lock"` // local, redis
	LockTTL time.Duration `koanf:"lock_ttl"`
}

// RedisConfig is used by the redis sweep lock.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// NATSConfig controls JetStream ingest and publishing.
type NATSConfig struct {
	Enabled          bool          `koanf:"enabled"`
	URL              string        `koanf:"url"`
	Provision        bool          `koanf:"provision"`
	StreamName       string        `koanf:"stream_name"`
	LoginTopic       string        `koanf:"login_topic"`
	VerdictTopic     string        `koanf:"verdict_topic"`
	AlertTopic       string        `koanf:"alert_topic"`
	DurableName      string        `koanf:"durable_name"`
	QueueGroup       string        `koanf:"queue_group"`
	SubscribersCount int           `koanf:"subscribers_count"`
	AckWait          time.Duration `koanf:"ack_wait"`
	MaxDeliver       int           `koanf:"max_deliver"`
	RetentionDays    int           `koanf:"retention_days"`

	Embedded EmbeddedNATSConfig `koanf:"embedded"`
}

// EmbeddedNATSConfig runs JetStream in-process instead of dialing nats.url.
type EmbeddedNATSConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Host      string `koanf:"host"`
	Port      int    `koanf:"port"` // -1 = random
	StoreDir  string `koanf:"store_dir"`
	MaxMemory int64  `koanf:"max_memory"`
	MaxStore  int64  `koanf:"max_store"`
}

// SinkConfig enables a sink and sets its severity floor.
type SinkConfig struct {
	Enabled     bool   `koanf:"enabled"`
	MinSeverity string `koanf:"min_severity"` // info, warning, critical; empty = all
}

// WebhookSinkConfig configures the generic webhook sink.
type WebhookSinkConfig struct {
	Enabled     bool              `koanf:"enabled"`
	MinSeverity string            `koanf:"min_severity"`
	URL         string            `koanf:"url"`
	Headers     map[string]string `koanf:"headers"`
	RateLimit   time.Duration     `koanf:"rate_limit"`
}

// DiscordSinkConfig configures the Discord sink.
type DiscordSinkConfig struct {
	Enabled     bool          `koanf:"enabled"`
	MinSeverity string        `koanf:"min_severity"`
	WebhookURL  string        `koanf:"webhook_url"`
	RateLimit   time.Duration `koanf:"rate_limit"`
}

// SlackSinkConfig configures the Slack sink.
type SlackSinkConfig struct {
	Enabled     bool          `koanf:"enabled"`
	MinSeverity string        `koanf:"min_severity"`
	WebhookURL  string        `koanf:"webhook_url"`
	Channel     string        `koanf:"channel"`
	Username    string        `koanf:"username"`
	RateLimit   time.Duration `koanf:"rate_limit"`
}

// NotifyConfig lists the alert sinks.
type NotifyConfig struct {
	DeliveryTimeout time.Duration     `koanf:"delivery_timeout"`
	Log             SinkConfig        `koanf:"log"`
	Archive         SinkConfig        `koanf:"archive"`
	NATS            SinkConfig        `koanf:"nats"`
	Webhook         WebhookSinkConfig `koanf:"webhook"`
	Discord         DiscordSinkConfig `koanf:"discord"`
	Slack           SlackSinkConfig   `koanf:"slack"`
}

// GeoConfig configures the impossible-travel predicate.
type GeoConfig struct {
	MaxSpeedKMH   float64       `koanf:"max_speed_kmh"`
	MinDistanceKM float64       `koanf:"min_distance_km"`
	CacheSize     int           `koanf:"cache_size"`
	CacheTTL      time.Duration `koanf:"cache_ttl"`
	Ranges        []geo.Range   `koanf:"ranges"`
}
