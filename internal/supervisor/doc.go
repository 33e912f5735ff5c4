// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

/*
Package supervisor runs Gatewatch's long-lived services under a suture v4
supervisor tree.

# Layout

	Root ("gatewatch")
	├── data-layer
	│   ├── assessment-log-gc        (when the assessment log is enabled)
	│   └── history-retention        (when store.retention is set)
	├── processing-layer
	│   ├── sweep-scheduler          (when sweeps are enabled)
	│   └── ingest-consumer          (when NATS is enabled)
	└── api-layer
	    └── http-server

Each layer counts failures on its own. A consumer that keeps losing its
NATS connection backs off inside the processing layer while the HTTP API
keeps answering.

# Usage

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(services.NewGCService(assessments, 10*time.Minute))
	tree.AddProcessingService(scheduler)
	tree.AddAPIService(services.NewHTTPServerService(server, 30*time.Second))

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    logging.Error().Err(err).Msg("Supervisor stopped")
	}

# Service contract

Services implement suture.Service:
  - return nil to stop for good
  - return an error to be restarted
  - return promptly once ctx is canceled

The history store and the assessment log are not services. They are opened
before the tree starts and closed after it stops.

# Restart policy

TreeConfig maps onto suture.Spec. The failure counter decays over
FailureDecay seconds; once it passes FailureThreshold the supervisor waits
FailureBackoff before the next restart. Services that ignore cancellation
past ShutdownTimeout show up in UnstoppedServiceReport.
*/
package supervisor
