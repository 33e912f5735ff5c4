// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/tomtom215/gatewatch/internal/logging"
)

// ServerConfig configures the embedded NATS server.
type ServerConfig struct {
	Host string
	// Port is the client port; -1 picks a free one.
	Port      int
	StoreDir  string
	MaxMemory int64
	MaxStore  int64
	// NoLog silences the server's own logger.
	NoLog        bool
	ReadyTimeout time.Duration
}

// DefaultServerConfig returns single-node defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         4222,
		StoreDir:     "/data/nats/jetstream",
		MaxMemory:    256 << 20, // 256MB
		MaxStore:     4 << 30,   // 4GB
		ReadyTimeout: 30 * time.Second,
	}
}

// EmbeddedServer runs JetStream in-process so a single Gatewatch node needs
// no external broker.
type EmbeddedServer struct {
	ns *server.Server
}

// StartEmbeddedServer starts a JetStream-enabled server and waits until it
// accepts connections.
func StartEmbeddedServer(cfg ServerConfig) (*EmbeddedServer, error) {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	opts := &server.Options{
		ServerName:         "gatewatch",
		Host:               cfg.Host,
		Port:               cfg.Port,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxStore,
		NoLog:              cfg.NoLog,
		NoSigs:             true,
		MaxPayload:         1 << 20, // login events are small
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	ns.ConfigureLogger()
	go ns.Start()

	if !ns.ReadyForConnections(cfg.ReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within %s", cfg.ReadyTimeout)
	}

	log := logging.WithComponent("bus")
	log.Info().Str("url", ns.ClientURL()).Str("store_dir", cfg.StoreDir).Msg("Embedded NATS server started")
	return &EmbeddedServer{ns: ns}, nil
}

// ClientURL returns the URL clients connect to.
func (s *EmbeddedServer) ClientURL() string {
	return s.ns.ClientURL()
}

// Running reports whether the server is up with JetStream enabled.
func (s *EmbeddedServer) Running() bool {
	return s.ns.Running() && s.ns.JetStreamEnabled()
}

// Shutdown stops the server and waits for it to exit or for ctx to end.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.ns.Shutdown()
		s.ns.WaitForShutdown()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
