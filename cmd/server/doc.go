// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

/*
Command server runs the Gatewatch login risk engine.

It scores login events over HTTP (POST /api/v1/assess, /api/v1/events) and,
with NATS enabled, from the gatewatch.logins JetStream subject, publishing
verdicts to gatewatch.verdicts. A scheduler sweeps recent history for
aggregate attack patterns and fans alerts out to the configured sinks.

# Startup order

 1. Configuration: koanf (defaults, config.yaml, environment)
 2. Logging: zerolog
 3. History store: DuckDB or in-memory, behind a gobreaker circuit
 4. Assessment log: Badger
 5. Assessor with the configured extension predicates
 6. NATS publisher, subscriber and ingest consumer (optional), against
    an embedded JetStream server when nats.embedded.enabled is set
 7. Alert dispatcher and sweep scheduler, with a local or Redis lock
 8. Chi router and HTTP server
 9. Suture supervisor tree

# Configuration

	HTTP_PORT=8420
	LOG_LEVEL=info              # trace, debug, info, warn, error
	LOG_FORMAT=json             # json or console
	STORE_DRIVER=duckdb         # duckdb or memory
	DUCKDB_PATH=/data/gatewatch.duckdb
	ASSESSMENT_LOG_PATH=/data/assessments
	RISK_UNUSUAL_IP=never       # never, unseen_ip, impossible_travel, any
	SWEEP_INTERVAL=1h
	SWEEP_LOCK=local            # local or redis
	REDIS_ADDR=127.0.0.1:6379
	NATS_ENABLED=false
	NATS_URL=nats://127.0.0.1:4222
	NATS_EMBEDDED=false         # run JetStream in-process
	STORE_RETENTION=2160h       # prune history older than this; 0 keeps all
	WEBHOOK_URL=
	DISCORD_WEBHOOK_URL=
	SLACK_WEBHOOK_URL=

Geo ranges for impossible travel are only settable from config.yaml.

# Signals

SIGINT and SIGTERM cancel the supervisor tree. In-flight HTTP requests get
server.shutdown_timeout to finish, the alert dispatcher drains, and the
stores close last.
*/
package main
