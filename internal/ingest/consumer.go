// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/tomtom215/gatewatch/internal/logging"
)

// ConsumerConfig configures the ingest router.
type ConsumerConfig struct {
	LoginTopic   string
	VerdictTopic string

	CloseTimeout time.Duration

	// In-process retries before the message is nacked back to the broker.
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	DedupCapacity int
	DedupTTL      time.Duration
}

// DefaultConsumerConfig returns production defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		LoginTopic:           "gatewatch.logins",
		VerdictTopic:         "gatewatch.verdicts",
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: 200 * time.Millisecond,
		RetryMaxInterval:     5 * time.Second,
		DedupCapacity:        10000,
		DedupTTL:             10 * time.Minute,
	}
}

// Consumer runs the login handler on a Watermill router. It implements
// suture.Service. A router cannot run twice, so every Serve builds a fresh
// one over the same subscriber and publisher.
type Consumer struct {
	cfg        ConsumerConfig
	subscriber message.Subscriber
	publisher  message.Publisher
	handler    *Handler
	logger     watermill.LoggerAdapter

	started     chan struct{}
	startedOnce sync.Once
}

// NewConsumer wires handler between subscriber and publisher.
func NewConsumer(cfg ConsumerConfig, subscriber message.Subscriber, publisher message.Publisher, handler *Handler, logger watermill.LoggerAdapter) (*Consumer, error) {
	if subscriber == nil || publisher == nil || handler == nil {
		return nil, errors.New("ingest consumer requires subscriber, publisher and handler")
	}
	if logger == nil {
		logger = watermill.NewSlogLogger(logging.NewSlogLogger())
	}
	return &Consumer{
		cfg:        cfg,
		subscriber: subscriber,
		publisher:  publisher,
		handler:    handler,
		logger:     logger,
		started:    make(chan struct{}),
	}, nil
}

func (c *Consumer) newRouter() (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: c.cfg.CloseTimeout}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)
	if c.cfg.RetryMaxRetries > 0 {
		retry := middleware.Retry{
			MaxRetries:      c.cfg.RetryMaxRetries,
			InitialInterval: c.cfg.RetryInitialInterval,
			MaxInterval:     c.cfg.RetryMaxInterval,
			Multiplier:      2.0,
			Logger:          c.logger,
		}
		router.AddMiddleware(retry.Middleware)
	}

	router.AddHandler(
		"gatewatch-login-assessor",
		c.cfg.LoginTopic,
		c.subscriber,
		c.cfg.VerdictTopic,
		c.publisher,
		c.handler.Handle,
	)
	return router, nil
}

// Serve runs a router until ctx is canceled.
func (c *Consumer) Serve(ctx context.Context) error {
	logger := logging.WithComponent("ingest")
	logger.Info().Str("topic", c.cfg.LoginTopic).Str("verdict_topic", c.cfg.VerdictTopic).Msg("ingest consumer starting")

	router, err := c.newRouter()
	if err != nil {
		return err
	}
	go func() {
		select {
		case <-router.Running():
			c.startedOnce.Do(func() { close(c.started) })
		case <-ctx.Done():
		}
	}()

	err = router.Run(ctx)
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// Running closes once the first router has started its handlers.
func (c *Consumer) Running() <-chan struct{} {
	return c.started
}

func (c *Consumer) String() string { return "ingest-consumer" }
