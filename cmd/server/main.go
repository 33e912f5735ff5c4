// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/gatewatch/internal/api"
	"github.com/tomtom215/gatewatch/internal/config"
	"github.com/tomtom215/gatewatch/internal/logging"
	"github.com/tomtom215/gatewatch/internal/risk"
	"github.com/tomtom215/gatewatch/internal/store"
	"github.com/tomtom215/gatewatch/internal/supervisor"
	"github.com/tomtom215/gatewatch/internal/supervisor/services"
	"github.com/tomtom215/gatewatch/internal/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.LoggingConfig())

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("Gatewatch stopped with error")
		os.Exit(1)
	}
	logging.Info().Msg("Application stopped gracefully")
}

//nolint:gocyclo // sequential startup wiring
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logging.Info().
		Str("addr", cfg.Addr()).
		Str("store", cfg.Store.Driver).
		Bool("nats", cfg.NATS.Enabled).
		Bool("sweep", cfg.Sweep.Enabled).
		Msg("Starting Gatewatch")

	// === DATA ===

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing history store")
		}
	}()

	var assessments *store.AssessmentLog
	if cfg.AssessmentLog.Enabled {
		assessments, err = store.OpenAssessmentLog(cfg.AssessmentLogStoreConfig())
		if err != nil {
			return err
		}
		defer func() {
			if err := assessments.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing assessment log")
			}
		}()
	}

	// === SCORING ===

	unusualIP, fingerprintChanged, err := buildPredicates(cfg)
	if err != nil {
		return err
	}
	acfg := risk.AssessorConfig{
		Policy:             cfg.RiskPolicy(),
		Windows:            cfg.BaselineWindows(),
		StoreTimeout:       cfg.Risk.StoreTimeout,
		UnusualIP:          unusualIP,
		FingerprintChanged: fingerprintChanged,
	}
	if assessments != nil {
		acfg.Recorder = assessments
	}
	assessor := risk.NewAssessor(st, st, acfg)

	// === MESSAGING ===

	var msg *messaging
	if cfg.NATS.Enabled {
		if cfg.NATS.Embedded.Enabled {
			stopNATS, err := startEmbeddedNATS(cfg)
			if err != nil {
				return err
			}
			defer stopNATS()
		}
		pub, err := newPublisher(ctx, cfg)
		if err != nil {
			return err
		}
		msg, err = initIngest(cfg, pub, st, assessor)
		if err != nil {
			_ = pub.Close()
			return err
		}
		defer func() {
			if err := msg.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing NATS clients")
			}
		}()
	}

	// === SWEEPS ===

	var alertPublisher message.Publisher
	if msg != nil {
		alertPublisher = msg.publisher
	}
	dispatcher := buildDispatcher(cfg, st, alertPublisher)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error draining alert sinks")
		}
	}()

	locker, closeLocker, err := buildLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeLocker() }()

	sweeper := sweep.NewSweeper(st, dispatcher, sweep.DefaultDetectors(cfg.SweepThresholds(), cfg.SweepGrouping())...)
	scheduler := sweep.NewScheduler(sweeper, locker, cfg.SchedulerConfig())

	// === API ===

	hcfg := api.HandlerConfig{
		Store:    st,
		Assessor: assessor,
		Sweeps:   scheduler,
		Windows:  cfg.BaselineWindows(),
	}
	if assessments != nil {
		hcfg.Assessments = assessments
	}
	router := api.NewRouter(api.NewHandler(hcfg), api.NewChiMiddleware(chiMiddlewareConfig(cfg)))
	server := newHTTPServer(cfg, router)

	// === SUPERVISOR TREE ===

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if assessments != nil {
		tree.AddDataService(services.NewGCService(assessments, cfg.AssessmentLog.GCInterval))
	}
	if cfg.Store.Retention > 0 {
		tree.AddDataService(services.NewRetentionService(st, cfg.Store.Retention, cfg.Store.PruneInterval))
	}
	if cfg.Sweep.Enabled {
		tree.AddProcessingService(scheduler)
	}
	if msg != nil {
		tree.AddProcessingService(msg.consumer)
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	var runErr error
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
		runErr = err
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}
	return runErr
}
