// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/gatewatch/internal/baseline"
	"github.com/tomtom215/gatewatch/internal/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(min int) time.Time {
	return base.Add(time.Duration(min) * time.Minute)
}

func hash(c byte) string {
	return strings.Repeat(string(c), 64)
}

// backends returns each Store implementation under test.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	duck, err := OpenDuckDB(context.Background(), DuckDBConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("OpenDuckDB() error = %v", err)
	}
	t.Cleanup(func() { duck.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"duckdb": duck,
	}
}

func TestStore_RecordAndQuery(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed := []models.LoginEvent{
				{ID: "e3", UserID: "alice", IP: "10.0.0.1", UserAgent: "ua-1", Timestamp: at(3), Success: true},
				{ID: "e1", UserID: "alice", IP: "10.0.0.1", UserAgent: "ua-1", Timestamp: at(1), Success: false},
				{ID: "e2", UserID: "bob", IP: "10.0.0.2", UserAgent: "ua-2", Timestamp: at(2), Success: false,
					Metadata: map[string]string{"client": "web"}},
				{ID: "e4", UserID: "alice", IP: "10.0.0.3", UserAgent: "ua-1", Timestamp: at(90), Success: true},
			}
			for i := range seed {
				if _, err := s.Record(ctx, &seed[i]); err != nil {
					t.Fatalf("Record(%s) error = %v", seed[i].ID, err)
				}
			}

			tests := []struct {
				name   string
				filter models.EventFilter
				want   []string
			}{
				{"all in range", models.EventFilter{Range: models.TimeRange{Start: at(0), End: at(60)}}, []string{"e1", "e2", "e3"}},
				{"by user", models.EventFilter{UserID: "alice", Range: models.TimeRange{Start: at(0), End: at(100)}}, []string{"e1", "e3", "e4"}},
				{"by ip", models.EventFilter{IP: "10.0.0.2", Range: models.TimeRange{Start: at(0), End: at(100)}}, []string{"e2"}},
				{"by user agent", models.EventFilter{UserAgent: "ua-1", Range: models.TimeRange{Start: at(0), End: at(60)}}, []string{"e1", "e3"}},
				{"failures only", models.EventFilter{Success: models.Bool(false), Range: models.TimeRange{Start: at(0), End: at(100)}}, []string{"e1", "e2"}},
				{"inclusive bounds", models.EventFilter{Range: models.TimeRange{Start: at(1), End: at(2)}}, []string{"e1", "e2"}},
				{"empty range", models.EventFilter{Range: models.TimeRange{Start: at(10), End: at(20)}}, nil},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := s.Query(ctx, tt.filter)
					if err != nil {
						t.Fatalf("Query() error = %v", err)
					}
					if len(got) != len(tt.want) {
						t.Fatalf("Query() returned %d events, want %d", len(got), len(tt.want))
					}
					for i, e := range got {
						if e.ID != tt.want[i] {
							t.Errorf("event[%d] = %s, want %s", i, e.ID, tt.want[i])
						}
					}
				})
			}

			got, err := s.Query(ctx, models.EventFilter{IP: "10.0.0.2", Range: models.TimeRange{Start: at(0), End: at(10)}})
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if got[0].Metadata["client"] != "web" {
				t.Errorf("Metadata = %v, want client=web", got[0].Metadata)
			}
			if !got[0].Timestamp.Equal(at(2)) {
				t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, at(2))
			}
		})
	}
}

func TestStore_RecordGeneratesIDAndIgnoresDuplicates(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := models.LoginEvent{UserID: "alice", IP: "10.0.0.1", Timestamp: at(0)}
			id, err := s.Record(ctx, &e)
			if err != nil {
				t.Fatalf("Record() error = %v", err)
			}
			if id == "" || e.ID != id {
				t.Fatalf("Record() id = %q, event id = %q", id, e.ID)
			}

			dup := e
			dup.UserAgent = "changed"
			if _, err := s.Record(ctx, &dup); err != nil {
				t.Fatalf("Record(duplicate) error = %v", err)
			}

			got, _ := s.Query(ctx, models.EventFilter{Range: models.TimeRange{Start: at(-1), End: at(1)}})
			if len(got) != 1 {
				t.Fatalf("Query() returned %d events, want 1", len(got))
			}
			if got[0].UserAgent != "" {
				t.Errorf("UserAgent = %q, want first write kept", got[0].UserAgent)
			}
		})
	}
}

func TestStore_TiesKeepInsertionOrder(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c"} {
				e := models.LoginEvent{ID: id, IP: "10.0.0.1", Timestamp: at(5)}
				if _, err := s.Record(ctx, &e); err != nil {
					t.Fatalf("Record() error = %v", err)
				}
			}
			got, _ := s.Query(ctx, models.EventFilter{Range: models.TimeRange{Start: at(0), End: at(10)}})
			var ids []string
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			if strings.Join(ids, ",") != "a,b,c" {
				t.Errorf("order = %v, want [a b c]", ids)
			}
		})
	}
}

func TestStore_RecordInvalid(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Record(context.Background(), &models.LoginEvent{UserID: "alice", Timestamp: at(0)})
			if !errors.Is(err, models.ErrInvalidEvent) {
				t.Errorf("Record() error = %v, want ErrInvalidEvent", err)
			}
			_, err = s.RecordFingerprint(context.Background(), &models.DeviceFingerprint{Hash: "short", IP: "10.0.0.1", CreatedAt: at(0)})
			if !errors.Is(err, models.ErrInvalidEvent) {
				t.Errorf("RecordFingerprint() error = %v, want ErrInvalidEvent", err)
			}
		})
	}
}

func TestStore_Fingerprints(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fps := []models.DeviceFingerprint{
				{Hash: hash('b'), UserID: "alice", IP: "10.0.0.1", UserAgent: "ua-2", CreatedAt: at(20)},
				{Hash: hash('a'), UserID: "alice", IP: "10.0.0.1", UserAgent: "ua-1", CreatedAt: at(10)},
				{Hash: hash('c'), UserID: "bob", IP: "10.0.0.2", UserAgent: "ua-3", CreatedAt: at(15)},
				{Hash: hash('a'), UserID: "alice", IP: "10.0.0.1", UserAgent: "ua-1", CreatedAt: at(200)},
			}
			for i := range fps {
				id, err := s.RecordFingerprint(ctx, &fps[i])
				if err != nil {
					t.Fatalf("RecordFingerprint() error = %v", err)
				}
				if id != fps[i].Hash {
					t.Errorf("RecordFingerprint() id = %q, want hash", id)
				}
			}

			got, err := s.QueryFingerprints(ctx, "alice", models.TimeRange{Start: at(0), End: at(100)})
			if err != nil {
				t.Fatalf("QueryFingerprints() error = %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("QueryFingerprints() returned %d, want 2", len(got))
			}
			if got[0].Hash != hash('a') || got[1].Hash != hash('b') {
				t.Errorf("order = [%s.. %s..], want a then b", got[0].Hash[:4], got[1].Hash[:4])
			}
		})
	}
}

func TestStore_FingerprintHashIsUnique(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fps := []models.DeviceFingerprint{
				{Hash: hash('a'), UserID: "u1", IP: "10.0.0.1", UserAgent: "ua-1", CreatedAt: at(10)},
				{Hash: hash('a'), UserID: "u1", IP: "10.0.0.9", UserAgent: "ua-1", CreatedAt: at(15)},
				{Hash: hash('b'), UserID: "u1", IP: "10.0.0.1", UserAgent: "ua-2", CreatedAt: at(20)},
				{Hash: hash('a'), UserID: "u1", IP: "10.0.0.1", UserAgent: "ua-1", CreatedAt: at(30)},
			}
			for i := range fps {
				id, err := s.RecordFingerprint(ctx, &fps[i])
				if err != nil {
					t.Fatalf("RecordFingerprint(%d) error = %v", i, err)
				}
				if id != fps[i].Hash {
					t.Errorf("RecordFingerprint(%d) id = %q, want hash", i, id)
				}
			}

			got, err := s.QueryFingerprints(ctx, "u1", models.TimeRange{Start: at(0), End: at(60)})
			if err != nil {
				t.Fatalf("QueryFingerprints() error = %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("QueryFingerprints() returned %d, want 2 distinct hashes", len(got))
			}
			if !got[0].CreatedAt.Equal(at(10)) || got[0].IP != "10.0.0.1" {
				t.Errorf("first copy = %+v, want the at(10) record kept", got[0])
			}

			b, err := baseline.NewBuilder(s, s).Build(ctx, "u1", at(60), baseline.DefaultWindows())
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if b.FingerprintCount != 2 || b.FingerprintStability != 0.5 {
				t.Errorf("FingerprintCount/Stability = %d/%v, want 2/0.5", b.FingerprintCount, b.FingerprintStability)
			}
			if len(b.DeviceChanges) != 1 {
				t.Errorf("DeviceChanges = %+v, want exactly one ua-1 to ua-2 change", b.DeviceChanges)
			}
		})
	}
}

func TestStore_NormalizesIPs(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, ip := range []string{"::ffff:10.0.0.1", "10.0.0.1", "::FFFF:10.0.0.1"} {
				e := models.LoginEvent{UserID: "alice", IP: ip, Timestamp: at(i)}
				if _, err := s.Record(ctx, &e); err != nil {
					t.Fatalf("Record(%q) error = %v", ip, err)
				}
				if e.IP != "10.0.0.1" {
					t.Errorf("Record(%q) stored IP %q, want 10.0.0.1", ip, e.IP)
				}
			}

			r := models.TimeRange{Start: at(0), End: at(10)}
			for _, ip := range []string{"10.0.0.1", "::ffff:10.0.0.1"} {
				got, err := s.Query(ctx, models.EventFilter{IP: ip, Range: r})
				if err != nil {
					t.Fatalf("Query(%q) error = %v", ip, err)
				}
				if len(got) != 3 {
					t.Errorf("Query(IP=%q) returned %d events, want 3", ip, len(got))
				}
			}

			fp := models.DeviceFingerprint{Hash: hash('f'), UserID: "alice", IP: "::ffff:10.0.0.1", CreatedAt: at(1)}
			if _, err := s.RecordFingerprint(ctx, &fp); err != nil {
				t.Fatalf("RecordFingerprint() error = %v", err)
			}
			fps, _ := s.QueryFingerprints(ctx, "alice", r)
			if len(fps) != 1 || fps[0].IP != "10.0.0.1" {
				t.Errorf("fingerprints = %+v, want IP 10.0.0.1", fps)
			}
		})
	}
}

func TestStore_Prune(t *testing.T) {
	stores := backends(t)
	stores["breaker"] = NewBreaker(NewMemoryStore(), DefaultBreakerConfig())

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, e := range []models.LoginEvent{
				{ID: "e1", UserID: "alice", IP: "10.0.0.1", Timestamp: at(1)},
				{ID: "e2", UserID: "bob", IP: "10.0.0.2", Timestamp: at(50)},
				{ID: "e3", UserID: "alice", IP: "10.0.0.1", Timestamp: at(100)},
			} {
				e := e
				if _, err := s.Record(ctx, &e); err != nil {
					t.Fatalf("Record(%s) error = %v", e.ID, err)
				}
			}
			for _, fp := range []models.DeviceFingerprint{
				{Hash: hash('a'), UserID: "alice", IP: "10.0.0.1", CreatedAt: at(10)},
				{Hash: hash('b'), UserID: "alice", IP: "10.0.0.1", CreatedAt: at(90)},
			} {
				fp := fp
				if _, err := s.RecordFingerprint(ctx, &fp); err != nil {
					t.Fatalf("RecordFingerprint() error = %v", err)
				}
			}

			res, err := s.Prune(ctx, at(60))
			if err != nil {
				t.Fatalf("Prune() error = %v", err)
			}
			if res.Events != 2 || res.Fingerprints != 1 {
				t.Errorf("Prune() = %+v, want 2 events and 1 fingerprint", res)
			}

			all := models.TimeRange{Start: at(0), End: at(200)}
			events, _ := s.Query(ctx, models.EventFilter{Range: all})
			if len(events) != 1 || events[0].ID != "e3" {
				t.Errorf("remaining events = %+v, want only e3", events)
			}

			// A pruned hash can be recorded again.
			again := models.DeviceFingerprint{Hash: hash('a'), UserID: "alice", IP: "10.0.0.1", CreatedAt: at(120)}
			if _, err := s.RecordFingerprint(ctx, &again); err != nil {
				t.Fatalf("RecordFingerprint(pruned hash) error = %v", err)
			}
			fps, _ := s.QueryFingerprints(ctx, "alice", all)
			if len(fps) != 2 || fps[0].Hash != hash('b') || fps[1].Hash != hash('a') {
				t.Errorf("fingerprints after prune = %+v, want b then a", fps)
			}

			res, err = s.Prune(ctx, at(60))
			if err != nil || res.Events != 0 || res.Fingerprints != 0 {
				t.Errorf("second Prune() = %+v, %v, want nothing removed", res, err)
			}
		})
	}
}

func TestStore_Alerts(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, kind := range []models.AlertKind{models.AlertIPFlood, models.AlertBruteForce, models.AlertTakeoverProbe} {
				a := models.Alert{
					Kind:        kind,
					Severity:    models.SeverityFor(kind),
					Subject:     "10.0.0.1",
					WindowStart: at(0),
					WindowEnd:   at(60),
					FirstSeen:   at(1),
					LastSeen:    at(9),
					Count:       6 + i,
					CreatedAt:   at(60 + i),
				}
				if kind == models.AlertTakeoverProbe {
					a.Targets = []string{"u1", "u2"}
				}
				if err := s.SaveAlert(ctx, &a); err != nil {
					t.Fatalf("SaveAlert() error = %v", err)
				}
				if a.ID == "" {
					t.Error("SaveAlert() did not assign an ID")
				}
			}

			got, err := s.ListAlerts(ctx, 2)
			if err != nil {
				t.Fatalf("ListAlerts() error = %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("ListAlerts() returned %d, want 2", len(got))
			}
			if got[0].Kind != models.AlertTakeoverProbe || got[1].Kind != models.AlertBruteForce {
				t.Errorf("kinds = [%s %s], want newest first", got[0].Kind, got[1].Kind)
			}
			if len(got[0].Targets) != 2 {
				t.Errorf("Targets = %v, want 2 entries", got[0].Targets)
			}
			if got[0].Severity != models.SeverityCritical {
				t.Errorf("Severity = %s, want critical", got[0].Severity)
			}
		})
	}
}

func TestStore_CanceledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Query(ctx, models.EventFilter{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Query() error = %v, want context.Canceled", err)
	}
}

func TestDuckDBStore_CreateTablesIdempotent(t *testing.T) {
	s, err := OpenDuckDB(context.Background(), DuckDBConfig{})
	if err != nil {
		t.Fatalf("OpenDuckDB() error = %v", err)
	}
	defer s.Close()

	if err := s.CreateTables(context.Background()); err != nil {
		t.Errorf("CreateTables() second call error = %v", err)
	}
	for _, table := range []string{"login_events", "device_fingerprints", "sweep_alerts"} {
		var name string
		err := s.DB().QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestDuckDBStore_ClosedIsUnavailable(t *testing.T) {
	s, err := OpenDuckDB(context.Background(), DuckDBConfig{})
	if err != nil {
		t.Fatalf("OpenDuckDB() error = %v", err)
	}
	s.Close()

	_, err = s.Query(context.Background(), models.EventFilter{})
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("Query() error = %v, want ErrStoreUnavailable", err)
	}
	if !models.IsRetryable(err) {
		t.Error("IsRetryable() = false, want true")
	}
}
