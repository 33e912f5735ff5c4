// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/gatewatch/internal/logging"
	"github.com/tomtom215/gatewatch/internal/metrics"
	"github.com/tomtom215/gatewatch/internal/models"
)

// DuckDBStore implements Store on a DuckDB database.
//
// Timestamps are stored as UTC TIMESTAMP so the ICU extension is never
// required. Ties on timestamp are broken by an insertion sequence.
type DuckDBStore struct {
	db *sql.DB
}

// DuckDBConfig configures OpenDuckDB.
type DuckDBConfig struct {
	// Path is the database file. Empty or ":memory:" opens an in-memory database.
	Path    string
	Threads int
}

const schema = `
	CREATE SEQUENCE IF NOT EXISTS login_events_seq;
	CREATE TABLE IF NOT EXISTS login_events (
		id TEXT PRIMARY KEY,
		seq BIGINT NOT NULL DEFAULT nextval('login_events_seq'),
		user_id TEXT NOT NULL DEFAULT '',
		ip TEXT NOT NULL,
		user_agent TEXT NOT NULL DEFAULT '',
		ts TIMESTAMP NOT NULL,
		success BOOLEAN NOT NULL,
		metadata VARCHAR
	);
	CREATE INDEX IF NOT EXISTS idx_login_events_ts ON login_events(ts);
	CREATE INDEX IF NOT EXISTS idx_login_events_user ON login_events(user_id, ts);
	CREATE INDEX IF NOT EXISTS idx_login_events_ip ON login_events(ip, ts);

	CREATE SEQUENCE IF NOT EXISTS device_fingerprints_seq;
	CREATE TABLE IF NOT EXISTS device_fingerprints (
		seq BIGINT NOT NULL DEFAULT nextval('device_fingerprints_seq'),
		hash TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		ip TEXT NOT NULL,
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_device_fingerprints_user ON device_fingerprints(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_device_fingerprints_created ON device_fingerprints(created_at);

	CREATE TABLE IF NOT EXISTS sweep_alerts (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		subject TEXT NOT NULL,
		window_start TIMESTAMP NOT NULL,
		window_end TIMESTAMP NOT NULL,
		first_seen TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL,
		count INTEGER NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		targets VARCHAR,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sweep_alerts_created ON sweep_alerts(created_at);
`

// OpenDuckDB opens (or creates) a DuckDB database and applies the schema.
func OpenDuckDB(ctx context.Context, cfg DuckDBConfig) (*DuckDBStore, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	params := []string{
		"autoinstall_known_extensions=false",
		"autoload_known_extensions=false",
	}
	if cfg.Threads > 0 {
		params = append(params, fmt.Sprintf("threads=%d", cfg.Threads))
	}
	conn, err := sql.Open("duckdb", path+"?"+strings.Join(params, "&"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := NewDuckDBStore(conn)
	if err := s.CreateTables(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	log := logging.WithComponent("store")
	log.Info().Str("path", path).Msg("DuckDB store ready")
	return s, nil
}

// NewDuckDBStore wraps an open connection. The caller runs CreateTables.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTables applies the schema. It is safe to call repeatedly.
func (s *DuckDBStore) CreateTables(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying connection.
func (s *DuckDBStore) DB() *sql.DB { return s.db }

// Record implements EventStore.
func (s *DuckDBStore) Record(ctx context.Context, event *models.LoginEvent) (id string, err error) {
	defer observe("record", time.Now(), &err)

	if err := prepareEvent(event); err != nil {
		return "", err
	}

	var metadata sql.NullString
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return "", fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO login_events (id, user_id, ip, user_agent, ts, success, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.UserID, event.IP, event.UserAgent, event.Timestamp, event.Success, metadata)
	if err != nil {
		return "", unavailable("insert login event", err)
	}
	return event.ID, nil
}

// Query implements EventStore.
func (s *DuckDBStore) Query(ctx context.Context, filter models.EventFilter) (events []models.LoginEvent, err error) {
	defer observe("query", time.Now(), &err)

	filter = normalizeFilter(filter)
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		where = append(where, clause)
		args = append(args, arg)
	}
	if filter.UserID != "" {
		add("user_id = ?", filter.UserID)
	}
	if filter.IP != "" {
		add("ip = ?", filter.IP)
	}
	if filter.UserAgent != "" {
		add("user_agent = ?", filter.UserAgent)
	}
	if filter.Success != nil {
		add("success = ?", *filter.Success)
	}
	if !filter.Range.Start.IsZero() {
		add("ts >= ?", filter.Range.Start.UTC())
	}
	if !filter.Range.End.IsZero() {
		add("ts <= ?", filter.Range.End.UTC())
	}

	query := "SELECT id, user_id, ip, user_agent, ts, success, metadata FROM login_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts ASC, seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query login events", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e        models.LoginEvent
			metadata sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.IP, &e.UserAgent, &e.Timestamp, &e.Success, &metadata); err != nil {
			return nil, unavailable("scan login event", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				logging.Warn().Err(err).Str("component", "store").Str("event_id", e.ID).Msg("Dropping unreadable event metadata")
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate login events", err)
	}
	return events, nil
}

// RecordFingerprint implements FingerprintStore.
func (s *DuckDBStore) RecordFingerprint(ctx context.Context, fp *models.DeviceFingerprint) (id string, err error) {
	defer observe("record_fingerprint", time.Now(), &err)

	if err := prepareFingerprint(fp); err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO device_fingerprints (hash, user_id, session_id, ip, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (hash) DO NOTHING`,
		fp.Hash, fp.UserID, fp.SessionID, fp.IP, fp.UserAgent, fp.CreatedAt)
	if err != nil {
		return "", unavailable("insert fingerprint", err)
	}
	return fp.Hash, nil
}

// QueryFingerprints implements FingerprintStore.
func (s *DuckDBStore) QueryFingerprints(ctx context.Context, userID string, r models.TimeRange) (fps []models.DeviceFingerprint, err error) {
	defer observe("query_fingerprints", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, user_id, session_id, ip, user_agent, created_at
		FROM device_fingerprints
		WHERE user_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, seq ASC`,
		userID, r.Start.UTC(), r.End.UTC())
	if err != nil {
		return nil, unavailable("query fingerprints", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fp models.DeviceFingerprint
		if err := rows.Scan(&fp.Hash, &fp.UserID, &fp.SessionID, &fp.IP, &fp.UserAgent, &fp.CreatedAt); err != nil {
			return nil, unavailable("scan fingerprint", err)
		}
		fp.CreatedAt = fp.CreatedAt.UTC()
		fps = append(fps, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate fingerprints", err)
	}
	return fps, nil
}

// SaveAlert implements AlertStore.
func (s *DuckDBStore) SaveAlert(ctx context.Context, alert *models.Alert) (err error) {
	defer observe("save_alert", time.Now(), &err)

	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	var targets sql.NullString
	if len(alert.Targets) > 0 {
		b, err := json.Marshal(alert.Targets)
		if err != nil {
			return fmt.Errorf("failed to encode targets: %w", err)
		}
		targets = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sweep_alerts (id, kind, severity, subject, window_start, window_end,
			first_seen, last_seen, count, detail, targets, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		alert.ID, string(alert.Kind), string(alert.Severity), alert.Subject,
		alert.WindowStart.UTC(), alert.WindowEnd.UTC(), alert.FirstSeen.UTC(), alert.LastSeen.UTC(),
		alert.Count, alert.Detail, targets, alert.CreatedAt.UTC())
	if err != nil {
		return unavailable("insert alert", err)
	}
	return nil
}

// ListAlerts implements AlertStore.
func (s *DuckDBStore) ListAlerts(ctx context.Context, limit int) (alerts []models.Alert, err error) {
	defer observe("list_alerts", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, severity, subject, window_start, window_end,
			first_seen, last_seen, count, detail, targets, created_at
		FROM sweep_alerts
		ORDER BY created_at DESC
		LIMIT ?`, alertLimit(limit))
	if err != nil {
		return nil, unavailable("query alerts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a              models.Alert
			kind, severity string
			targets        sql.NullString
		)
		if err := rows.Scan(&a.ID, &kind, &severity, &a.Subject, &a.WindowStart, &a.WindowEnd,
			&a.FirstSeen, &a.LastSeen, &a.Count, &a.Detail, &targets, &a.CreatedAt); err != nil {
			return nil, unavailable("scan alert", err)
		}
		a.Kind = models.AlertKind(kind)
		a.Severity = models.Severity(severity)
		if targets.Valid && targets.String != "" {
			if err := json.Unmarshal([]byte(targets.String), &a.Targets); err != nil {
				return nil, fmt.Errorf("failed to decode alert targets: %w", err)
			}
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate alerts", err)
	}
	return alerts, nil
}

// Prune implements Store. Both deletes commit together.
func (s *DuckDBStore) Prune(ctx context.Context, before time.Time) (res PruneResult, err error) {
	defer observe("prune", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PruneResult{}, unavailable("begin prune", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cutoff := before.UTC()
	if res.Events, err = deleteBefore(ctx, tx, "DELETE FROM login_events WHERE ts < ?", cutoff); err != nil {
		return PruneResult{}, unavailable("prune login events", err)
	}
	if res.Fingerprints, err = deleteBefore(ctx, tx, "DELETE FROM device_fingerprints WHERE created_at < ?", cutoff); err != nil {
		return PruneResult{}, unavailable("prune fingerprints", err)
	}
	if err = tx.Commit(); err != nil {
		return PruneResult{}, unavailable("commit prune", err)
	}
	return res, nil
}

func deleteBefore(ctx context.Context, tx *sql.Tx, stmt string, cutoff time.Time) (int64, error) {
	result, err := tx.ExecContext(ctx, stmt, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ping checks the connection.
func (s *DuckDBStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the connection.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

// unavailable marks a driver error as a store outage. Context errors keep
// their identity so deadline handling upstream still works.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, models.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w: %v", op, models.ErrStoreUnavailable, err)
}

func observe(op string, start time.Time, err *error) {
	metrics.RecordStoreQuery("duckdb", op, time.Since(start), *err)
}

var _ Store = (*DuckDBStore)(nil)
