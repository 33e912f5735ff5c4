// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/gatewatch/internal/api"
	"github.com/tomtom215/gatewatch/internal/bus"
	"github.com/tomtom215/gatewatch/internal/config"
	"github.com/tomtom215/gatewatch/internal/geo"
	"github.com/tomtom215/gatewatch/internal/ingest"
	"github.com/tomtom215/gatewatch/internal/logging"
	"github.com/tomtom215/gatewatch/internal/notify"
	"github.com/tomtom215/gatewatch/internal/risk"
	"github.com/tomtom215/gatewatch/internal/store"
	"github.com/tomtom215/gatewatch/internal/sweep"
)

// openStore opens the configured history store, wrapped in a circuit
// breaker when enabled.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var st store.Store
	switch cfg.Store.Driver {
	case "memory":
		st = store.NewMemoryStore()
	case "duckdb":
		db, err := store.OpenDuckDB(ctx, store.DuckDBConfig{Path: cfg.Store.Path, Threads: cfg.Store.Threads})
		if err != nil {
			return nil, fmt.Errorf("open duckdb store: %w", err)
		}
		st = db
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Store.Breaker.Enabled {
		st = store.NewBreaker(st, cfg.BreakerConfig())
	}
	return st, nil
}

// buildPredicates resolves the two extension slots of the scorer.
func buildPredicates(cfg *config.Config) (unusualIP, fingerprintChanged risk.Predicate, err error) {
	var travel risk.Predicate
	if cfg.Risk.UnusualIP == config.PredicateImpossibleTravel || cfg.Risk.UnusualIP == config.PredicateAny {
		static, err := geo.NewStaticProvider(cfg.Geo.Ranges)
		if err != nil {
			return nil, nil, fmt.Errorf("geo ranges: %w", err)
		}
		provider := geo.NewCachedProvider(static, cfg.Geo.CacheSize, cfg.Geo.CacheTTL)
		travel = geo.NewImpossibleTravel(provider, cfg.Geo.MaxSpeedKMH, cfg.Geo.MinDistanceKM)
	}
	unseen := risk.UnseenIP{MinHistory: cfg.Risk.UnseenIPMinHistory}

	switch cfg.Risk.UnusualIP {
	case config.PredicateUnseenIP:
		unusualIP = unseen
	case config.PredicateImpossibleTravel:
		unusualIP = travel
	case config.PredicateAny:
		unusualIP = risk.Any(unseen, travel)
	default:
		unusualIP = risk.Never
	}

	switch cfg.Risk.FingerprintChanged {
	case config.PredicateDrift:
		fingerprintChanged = risk.FingerprintDrift{Lookback: cfg.Risk.DriftLookback}
	default:
		fingerprintChanged = risk.Never
	}
	return unusualIP, fingerprintChanged, nil
}

// buildDispatcher registers every enabled alert sink. pub may be nil when
// NATS is disabled.
func buildDispatcher(cfg *config.Config, st store.Store, pub message.Publisher) *notify.Dispatcher {
	n := cfg.Notify
	d := notify.NewDispatcher(n.DeliveryTimeout)

	if n.Log.Enabled {
		d.Add(notify.NewLogSink(), config.MinSeverity(n.Log.MinSeverity))
	}
	if n.Archive.Enabled {
		d.Add(notify.NewArchiveSink(st), config.MinSeverity(n.Archive.MinSeverity))
	}
	if n.NATS.Enabled && pub != nil {
		d.Add(notify.NewNATSSink(pub, cfg.NATS.AlertTopic), config.MinSeverity(n.NATS.MinSeverity))
	}
	if n.Webhook.Enabled {
		d.Add(notify.NewWebhookSink(notify.WebhookConfig{
			URL:       n.Webhook.URL,
			Headers:   n.Webhook.Headers,
			RateLimit: n.Webhook.RateLimit,
		}), config.MinSeverity(n.Webhook.MinSeverity))
	}
	if n.Discord.Enabled {
		d.Add(notify.NewDiscordSink(notify.DiscordConfig{
			WebhookURL: n.Discord.WebhookURL,
			RateLimit:  n.Discord.RateLimit,
		}), config.MinSeverity(n.Discord.MinSeverity))
	}
	if n.Slack.Enabled {
		d.Add(notify.NewSlackSink(notify.SlackConfig{
			WebhookURL: n.Slack.WebhookURL,
			Channel:    n.Slack.Channel,
			Username:   n.Slack.Username,
			RateLimit:  n.Slack.RateLimit,
		}), config.MinSeverity(n.Slack.MinSeverity))
	}

	logging.Info().Strs("sinks", d.Sinks()).Msg("Alert sinks configured")
	return d
}

// buildLocker returns the sweep lock and a close function.
func buildLocker(ctx context.Context, cfg *config.Config) (sweep.Locker, func() error, error) {
	if cfg.Sweep.Lock != "redis" {
		return sweep.NewLocalLocker(), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}
	return sweep.NewRedisLocker(client, ""), client.Close, nil
}

// messaging holds the JetStream side of the process.
type messaging struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	consumer   *ingest.Consumer
}

// startEmbeddedNATS runs JetStream in-process and points cfg.NATS.URL at
// it. The returned function stops the server.
func startEmbeddedNATS(cfg *config.Config) (func(), error) {
	srv, err := bus.StartEmbeddedServer(cfg.EmbeddedServerConfig())
	if err != nil {
		return nil, fmt.Errorf("embedded nats: %w", err)
	}
	cfg.NATS.URL = srv.ClientURL()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logging.Error().Err(err).Msg("Error stopping embedded NATS server")
		}
	}, nil
}

// newPublisher provisions the stream when configured and opens the
// publisher shared by the consumer and the NATS alert sink.
func newPublisher(ctx context.Context, cfg *config.Config) (message.Publisher, error) {
	bc := cfg.BusConfig()
	if cfg.NATS.Provision {
		if err := bus.Provision(ctx, bc); err != nil {
			return nil, fmt.Errorf("provision stream: %w", err)
		}
	}
	return bus.NewPublisher(bc, bus.Logger())
}

// initIngest builds the login consumer on top of pub.
func initIngest(cfg *config.Config, pub message.Publisher, events ingest.EventRecorder, assessor ingest.Assessor) (*messaging, error) {
	bc := cfg.BusConfig()
	logger := bus.Logger()

	sub, err := bus.NewSubscriber(bc, logger)
	if err != nil {
		return nil, fmt.Errorf("nats subscriber: %w", err)
	}

	ccfg := ingest.DefaultConsumerConfig()
	ccfg.LoginTopic = bc.LoginTopic
	ccfg.VerdictTopic = bc.VerdictTopic
	ccfg.CloseTimeout = bc.CloseTimeout

	handler := ingest.NewHandler(events, assessor, ccfg.DedupCapacity, ccfg.DedupTTL)
	consumer, err := ingest.NewConsumer(ccfg, sub, pub, handler, logger)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	return &messaging{publisher: pub, subscriber: sub, consumer: consumer}, nil
}

func (m *messaging) Close() error {
	if m == nil {
		return nil
	}
	return errors.Join(m.subscriber.Close(), m.publisher.Close())
}

// chiMiddlewareConfig maps the server section onto the router middleware.
func chiMiddlewareConfig(cfg *config.Config) *api.ChiMiddlewareConfig {
	mw := api.DefaultChiMiddlewareConfig()
	mw.CORSAllowedOrigins = cfg.Server.CORSOrigins
	mw.RateLimitRequests = cfg.Server.RateLimitReqs
	mw.RateLimitWindow = cfg.Server.RateLimitWindow
	mw.RateLimitDisabled = cfg.Server.RateLimitDisabled
	return mw
}

func newHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}
