// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/gatewatch/config.yaml",
	"/etc/gatewatch/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults. File and environment layers
// override them.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8420,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{},
			RateLimitReqs:   600,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Driver:        "duckdb",
			Path:          "/data/gatewatch.duckdb",
			Retention:     90 * 24 * time.Hour,
			PruneInterval: time.Hour,
			Breaker: BreakerConfig{
				Enabled:      true,
				MaxRequests:  3,
				Interval:     time.Minute,
				Timeout:      30 * time.Second,
				MinRequests:  10,
				FailureRatio: 0.6,
			},
		},
		AssessmentLog: AssessmentLogConfig{
			Enabled:    true,
			Path:       "/data/assessments",
			Retention:  90 * 24 * time.Hour,
			GCInterval: 10 * time.Minute,
		},
		Risk: RiskConfig{
			Weights: RiskWeights{
				UnusualIP:          0.3,
				UnusualUserAgent:   0.2,
				RapidAttempts:      0.4,
				IPFailures:         0.3,
				FingerprintChanged: 0.2,
				UnusualTime:        0.1,
			},
			ThresholdMedium:    0.3,
			ThresholdHigh:      0.6,
			ThresholdCritical:  0.8,
			RapidWindow:        5 * time.Minute,
			RapidLimit:         3,
			FailureWindow:      time.Hour,
			FailureLimit:       2,
			UnusualHourStart:   2,
			UnusualHourEnd:     6,
			StepUpAbove:        0.6,
			BlockAbove:         0.8,
			StoreTimeout:       2 * time.Second,
			UnusualIP:          PredicateNever,
			UnseenIPMinHistory: 5,
			FingerprintChanged: PredicateNever,
			DriftLookback:      24 * time.Hour,
		},
		Baseline: BaselineConfig{
			ActivityWindow:    7 * 24 * time.Hour,
			AgentWindow:       30 * 24 * time.Hour,
			FingerprintWindow: 30 * 24 * time.Hour,
		},
		Sweep: SweepConfig{
			Enabled:          true,
			Interval:         time.Hour,
			Window:           time.Hour,
			RunTimeout:       5 * time.Minute,
			RunOnStart:       true,
			Grouping:         "adjacent",
			IPFailures:       5,
			UserAgentEvents:  10,
			BruteForceEvents: 10,
			BruteForceSpan:   10 * time.Minute,
			TakeoverUsers:    5,
			Lock:             "local",
			LockTTL:          6 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		NATS: NATSConfig{
			Enabled:          false,
			URL:              "nats://127.0.0.1:4222",
			Provision:        true,
			StreamName:       "GATEWATCH",
			LoginTopic:       "gatewatch.logins",
			VerdictTopic:     "gatewatch.verdicts",
			AlertTopic:       "gatewatch.alerts",
			DurableName:      "gatewatch-assessor",
			QueueGroup:       "assessors",
			SubscribersCount: 4,
			AckWait:          30 * time.Second,
			MaxDeliver:       5,
			RetentionDays:    7,
			Embedded: EmbeddedNATSConfig{
				Host:      "127.0.0.1",
				Port:      4222,
				StoreDir:  "/data/nats/jetstream",
				MaxMemory: 256 << 20,
				MaxStore:  4 << 30,
			},
		},
		Notify: NotifyConfig{
			DeliveryTimeout: 10 * time.Second,
			Log:             SinkConfig{Enabled: true},
			Archive:         SinkConfig{Enabled: true},
			NATS:            SinkConfig{Enabled: false},
			Webhook: WebhookSinkConfig{
				RateLimit: 500 * time.Millisecond,
				Headers:   map[string]string{},
			},
			Discord: DiscordSinkConfig{
				MinSeverity: "warning",
				RateLimit:   time.Second,
			},
			Slack: SlackSinkConfig{
				MinSeverity: "warning",
				Username:    "Gatewatch",
				RateLimit:   time.Second,
			},
		},
		Geo: GeoConfig{
			MaxSpeedKMH:   900,
			MinDistanceKM: 100,
			CacheSize:     10000,
			CacheTTL:      time.Hour,
		},
	}
}

// Load reads configuration from defaults, the config file named by
// CONFIG_PATH or found in DefaultConfigPaths, and the environment, then
// validates it.
func Load() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is Load with an explicit file path. An empty path skips the
// file layer.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env values.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated strings for slice fields.
// YAML lists are left untouched.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to config keys.
// Unlisted variables are ignored.
var envMappings = map[string]string{
	// Server
	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_read_timeout":   "server.read_timeout",
	"http_write_timeout":  "server.write_timeout",
	"http_idle_timeout":   "server.idle_timeout",
	"shutdown_timeout":    "server.shutdown_timeout",
	"cors_origins":        "server.cors_origins",
	"rate_limit_requests": "server.rate_limit_requests",
	"rate_limit_window":   "server.rate_limit_window",
	"disable_rate_limit":  "server.rate_limit_disabled",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Store
	"store_driver":             "store.driver",
	"duckdb_path":              "store.path",
	"duckdb_threads":           "store.threads",
	"store_retention":          "store.retention",
	"store_prune_interval":     "store.prune_interval",
	"store_breaker_enabled":    "store.breaker.enabled",
	"store_breaker_timeout":    "store.breaker.timeout",
	"store_breaker_ratio":      "store.breaker.failure_ratio",
	"assessment_log_enabled":   "assessment_log.enabled",
	"assessment_log_path":      "assessment_log.path",
	"assessment_log_retention": "assessment_log.retention",

	// Risk
	"risk_weight_unusual_ip":          "risk.weights.unusual_ip",
	"risk_weight_unusual_user_agent":  "risk.weights.unusual_user_agent",
	"risk_weight_rapid_attempts":      "risk.weights.rapid_attempts",
	"risk_weight_ip_failures":         "risk.weights.ip_failures",
	"risk_weight_fingerprint_changed": "risk.weights.fingerprint_changed",
	"risk_weight_unusual_time":        "risk.weights.unusual_time",
	"risk_threshold_medium":           "risk.threshold_medium",
	"risk_threshold_high":             "risk.threshold_high",
	"risk_threshold_critical":         "risk.threshold_critical",
	"risk_store_timeout":              "risk.store_timeout",
	"risk_unusual_ip":                 "risk.unusual_ip",
	"risk_fingerprint_changed":        "risk.fingerprint_changed",
	"risk_drift_lookback":             "risk.drift_lookback",

	// Baseline
	"baseline_activity_window":    "baseline.activity_window",
	"baseline_agent_window":       "baseline.agent_window",
	"baseline_fingerprint_window": "baseline.fingerprint_window",

	// Sweep
	"sweep_enabled":            "sweep.enabled",
	"sweep_interval":           "sweep.interval",
	"sweep_window":             "sweep.window",
	"sweep_run_timeout":        "sweep.run_timeout",
	"sweep_run_on_start":       "sweep.run_on_start",
	"sweep_grouping":           "sweep.grouping",
	"sweep_ip_failures":        "sweep.ip_failures",
	"sweep_user_agent_events":  "sweep.user_agent_events",
	"sweep_brute_force_events": "sweep.brute_force_events",
	"sweep_brute_force_span":   "sweep.brute_force_span",
	"sweep_takeover_users":     "sweep.takeover_users",
	"sweep_lock":               "sweep.lock",
	"sweep_lock_ttl":           "sweep.lock_ttl",

	// Redis
	"redis_addr":     "redis.addr",
	"redis_password": "redis.password",
	"redis_db":       "redis.db",

	// NATS
	"nats_enabled":       "nats.enabled",
	"nats_url":           "nats.url",
	"nats_provision":     "nats.provision",
	"nats_stream":        "nats.stream_name",
	"nats_login_topic":   "nats.login_topic",
	"nats_verdict_topic": "nats.verdict_topic",
	"nats_alert_topic":   "nats.alert_topic",
	"nats_durable_name":  "nats.durable_name",
	"nats_queue_group":   "nats.queue_group",
	"nats_subscribers":   "nats.subscribers_count",
	"nats_embedded":      "nats.embedded.enabled",
	"nats_store_dir":     "nats.embedded.store_dir",

	// Notify
	"notify_delivery_timeout": "notify.delivery_timeout",
	"notify_log_enabled":      "notify.log.enabled",
	"notify_archive_enabled":  "notify.archive.enabled",
	"notify_nats_enabled":     "notify.nats.enabled",
	"webhook_enabled":         "notify.webhook.enabled",
	"webhook_url":             "notify.webhook.url",
	"webhook_min_severity":    "notify.webhook.min_severity",
	"discord_enabled":         "notify.discord.enabled",
	"discord_webhook_url":     "notify.discord.webhook_url",
	"discord_min_severity":    "notify.discord.min_severity",
	"slack_enabled":           "notify.slack.enabled",
	"slack_webhook_url":       "notify.slack.webhook_url",
	"slack_channel":           "notify.slack.channel",
	"slack_min_severity":      "notify.slack.min_severity",

	// Geo
	"geo_max_speed_kmh":   "geo.max_speed_kmh",
	"geo_min_distance_km": "geo.min_distance_km",
}

// envTransformFunc maps an environment variable name to a config key, or
// "" to skip it.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
