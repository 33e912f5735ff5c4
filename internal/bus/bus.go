// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

// Package bus connects Gatewatch to NATS JetStream through Watermill.
//
// One stream (GATEWATCH by default) carries every gatewatch.* subject:
// login events in, verdicts and sweep alerts out. Provision creates or
// updates the stream before publishers and subscribers start.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/gatewatch/internal/logging"
)

// Default subjects.
const (
	LoginTopic   = "gatewatch.logins"
	VerdictTopic = "gatewatch.verdicts"
	AlertTopic   = "gatewatch.alerts"
)

// Config holds NATS connection, stream and consumer settings.
type Config struct {
	URL string

	StreamName      string
	Subjects        []string
	MaxAge          time.Duration
	DuplicateWindow time.Duration

	LoginTopic   string
	VerdictTopic string
	AlertTopic   string

	DurableName      string
	QueueGroup       string
	SubscribersCount int
	AckWaitTimeout   time.Duration
	MaxDeliver       int
	MaxAckPending    int
	CloseTimeout     time.Duration

	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns production defaults for the given server URL.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		StreamName:       "GATEWATCH",
		Subjects:         []string{"gatewatch.>"},
		MaxAge:           7 * 24 * time.Hour,
		DuplicateWindow:  2 * time.Minute,
		LoginTopic:       LoginTopic,
		VerdictTopic:     VerdictTopic,
		AlertTopic:       AlertTopic,
		DurableName:      "gatewatch-assessor",
		QueueGroup:       "assessors",
		SubscribersCount: 4,
		AckWaitTimeout:   30 * time.Second,
		MaxDeliver:       5,
		MaxAckPending:    1000,
		CloseTimeout:     30 * time.Second,
		MaxReconnects:    -1, // Unlimited
		ReconnectWait:    2 * time.Second,
	}
}

// Logger adapts the global zerolog logger for Watermill.
func Logger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLogger())
}

func connOptions(cfg Config, logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name("gatewatch"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
}

// NewPublisher creates a JetStream publisher. Message UUIDs are sent as
// Nats-Msg-Id so the stream deduplicates retries.
func NewPublisher(cfg Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	if logger == nil {
		logger = Logger()
	}
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: connOptions(cfg, logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false, // Stream is created by Provision
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	return pub, nil
}

// NewSubscriber creates a durable, queue-balanced JetStream subscriber
// bound to the configured stream.
func NewSubscriber(cfg Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if logger == nil {
		logger = Logger()
	}
	subOpts := []natsgo.SubOpt{
		natsgo.MaxDeliver(cfg.MaxDeliver),
		natsgo.MaxAckPending(cfg.MaxAckPending),
		natsgo.AckWait(cfg.AckWaitTimeout),
		natsgo.DeliverNew(),
	}
	autoProvision := true
	if cfg.StreamName != "" {
		subOpts = append(subOpts, natsgo.BindStream(cfg.StreamName))
		autoProvision = false
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      connOptions(cfg, logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision:    autoProvision,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}
	return sub, nil
}

// StreamManager is the subset of jetstream.JetStream EnsureStream uses.
type StreamManager interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// StreamConfig builds the JetStream stream definition for cfg.
func StreamConfig(cfg Config) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       cfg.StreamName,
		Subjects:   cfg.Subjects,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     cfg.MaxAge,
		Duplicates: cfg.DuplicateWindow,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}
}

// EnsureStream creates the stream, or updates it when it already exists.
// It is idempotent.
func EnsureStream(ctx context.Context, js StreamManager, cfg Config) error {
	sc := StreamConfig(cfg)
	_, err := js.Stream(ctx, cfg.StreamName)
	switch {
	case err == nil:
		if _, err := js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream %s: %w", cfg.StreamName, err)
		}
		return nil
	case errors.Is(err, jetstream.ErrStreamNotFound):
		if _, err := js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.StreamName, err)
		}
		return nil
	default:
		return fmt.Errorf("check stream %s: %w", cfg.StreamName, err)
	}
}

// Provision connects to NATS, ensures the stream and disconnects.
func Provision(ctx context.Context, cfg Config) error {
	nc, err := natsgo.Connect(cfg.URL, natsgo.Name("gatewatch-provision"))
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	if err := EnsureStream(ctx, js, cfg); err != nil {
		return err
	}
	logging.Info().Str("component", "bus").Str("stream", cfg.StreamName).Strs("subjects", cfg.Subjects).Msg("JetStream stream ready")
	return nil
}
