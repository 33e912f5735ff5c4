// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/alicebob/miniredis/v2"

	"github.com/tomtom215/gatewatch/internal/config"
	"github.com/tomtom215/gatewatch/internal/geo"
	"github.com/tomtom215/gatewatch/internal/models"
	"github.com/tomtom215/gatewatch/internal/risk"
	"github.com/tomtom215/gatewatch/internal/store"
	"github.com/tomtom215/gatewatch/internal/sweep"
)

// testConfig loads defaults with a memory store and no config file.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	cfg, err := config.LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	return cfg
}

func TestOpenStore(t *testing.T) {
	t.Run("memory behind breaker", func(t *testing.T) {
		cfg := testConfig(t)
		st, err := openStore(context.Background(), cfg)
		if err != nil {
			t.Fatalf("openStore() error = %v", err)
		}
		defer st.Close()
		if _, ok := st.(*store.Breaker); !ok {
			t.Errorf("openStore() = %T, want *store.Breaker", st)
		}
	})

	t.Run("memory without breaker", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Breaker.Enabled = false
		st, err := openStore(context.Background(), cfg)
		if err != nil {
			t.Fatalf("openStore() error = %v", err)
		}
		defer st.Close()
		if _, ok := st.(*store.MemoryStore); !ok {
			t.Errorf("openStore() = %T, want *store.MemoryStore", st)
		}
	})

	t.Run("duckdb file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Driver = "duckdb"
		cfg.Store.Path = filepath.Join(t.TempDir(), "gatewatch.duckdb")
		st, err := openStore(context.Background(), cfg)
		if err != nil {
			t.Fatalf("openStore() error = %v", err)
		}
		defer st.Close()
		if err := st.Ping(context.Background()); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
		if _, err := os.Stat(cfg.Store.Path); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Driver = "sqlite"
		if _, err := openStore(context.Background(), cfg); err == nil {
			t.Error("openStore() error = nil, want unknown driver")
		}
	})
}

func TestBuildPredicates(t *testing.T) {
	tests := []struct {
		name      string
		unusualIP string
		check     func(risk.Predicate) bool
	}{
		{"never", config.PredicateNever, func(p risk.Predicate) bool { _, ok := p.(risk.PredicateFunc); return ok }},
		{"unseen ip", config.PredicateUnseenIP, func(p risk.Predicate) bool { _, ok := p.(risk.UnseenIP); return ok }},
		{"impossible travel", config.PredicateImpossibleTravel, func(p risk.Predicate) bool { _, ok := p.(*geo.ImpossibleTravel); return ok }},
		{"any", config.PredicateAny, func(p risk.Predicate) bool { _, ok := p.(risk.PredicateFunc); return ok }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Risk.UnusualIP = tt.unusualIP
			cfg.Geo.Ranges = []geo.Range{{CIDR: "203.0.113.0/24", Location: geo.Location{Latitude: 40.7, Longitude: -74}}}

			unusualIP, fpChanged, err := buildPredicates(cfg)
			if err != nil {
				t.Fatalf("buildPredicates() error = %v", err)
			}
			if fpChanged == nil || unusualIP == nil {
				t.Fatal("buildPredicates() returned a nil predicate")
			}
			if !tt.check(unusualIP) {
				t.Errorf("unusualIP = %T", unusualIP)
			}
		})
	}

	t.Run("drift", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Risk.FingerprintChanged = config.PredicateDrift
		_, fpChanged, err := buildPredicates(cfg)
		if err != nil {
			t.Fatalf("buildPredicates() error = %v", err)
		}
		if d, ok := fpChanged.(risk.FingerprintDrift); !ok || d.Lookback != cfg.Risk.DriftLookback {
			t.Errorf("fingerprintChanged = %#v", fpChanged)
		}
	})

	t.Run("bad cidr", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Risk.UnusualIP = config.PredicateImpossibleTravel
		cfg.Geo.Ranges = []geo.Range{{CIDR: "not-a-cidr"}}
		if _, _, err := buildPredicates(cfg); err == nil {
			t.Error("buildPredicates() error = nil, want CIDR error")
		}
	})
}

func TestBuildDispatcher(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify.Webhook.Enabled = true
	cfg.Notify.Webhook.URL = "https://hooks.example/gatewatch"
	cfg.Notify.NATS.Enabled = true

	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	defer pubSub.Close()

	d := buildDispatcher(cfg, store.NewMemoryStore(), pubSub)
	defer d.Close()

	got := strings.Join(d.Sinks(), ",")
	for _, want := range []string{"log", "archive", "nats", "webhook"} {
		if !strings.Contains(got, want) {
			t.Errorf("Sinks() = %q, missing %q", got, want)
		}
	}
	for _, off := range []string{"discord", "slack"} {
		if strings.Contains(got, off) {
			t.Errorf("Sinks() = %q, %s should be disabled", got, off)
		}
	}

	// Without a publisher the NATS sink is skipped.
	d2 := buildDispatcher(cfg, store.NewMemoryStore(), nil)
	defer d2.Close()
	if strings.Contains(strings.Join(d2.Sinks(), ","), "nats") {
		t.Error("NATS sink registered without a publisher")
	}
}

func TestBuildLocker(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		cfg := testConfig(t)
		locker, closeFn, err := buildLocker(context.Background(), cfg)
		if err != nil {
			t.Fatalf("buildLocker() error = %v", err)
		}
		defer closeFn()
		if _, ok := locker.(*sweep.LocalLocker); !ok {
			t.Errorf("locker = %T, want *sweep.LocalLocker", locker)
		}
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig(t)
		cfg.Sweep.Lock = "redis"
		cfg.Redis.Addr = mr.Addr()

		locker, closeFn, err := buildLocker(context.Background(), cfg)
		if err != nil {
			t.Fatalf("buildLocker() error = %v", err)
		}
		defer closeFn()

		unlock, err := locker.TryLock(context.Background(), sweep.LockName, time.Minute)
		if err != nil {
			t.Fatalf("TryLock() error = %v", err)
		}
		if !mr.Exists(sweep.LockName) {
			t.Errorf("lock key %q not written", sweep.LockName)
		}
		if err := unlock(context.Background()); err != nil {
			t.Errorf("unlock() error = %v", err)
		}
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := testConfig(t)
		cfg.Sweep.Lock = "redis"
		cfg.Redis.Addr = addr
		if _, _, err := buildLocker(context.Background(), cfg); err == nil {
			t.Error("buildLocker() error = nil, want ping failure")
		}
	})
}

func TestBuildDispatcher_PublishesAlerts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify.NATS.Enabled = true

	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	defer pubSub.Close()
	alerts, err := pubSub.Subscribe(context.Background(), cfg.NATS.AlertTopic)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	mem := store.NewMemoryStore()
	d := buildDispatcher(cfg, mem, pubSub)
	d.Emit(context.Background(), models.Alert{
		ID:       "alert-1",
		Kind:     models.AlertIPFlood,
		Severity: models.SeverityWarning,
		Subject:  "203.0.113.5",
	})

	select {
	case msg := <-alerts:
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("alert not published to the alert topic")
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	archived, err := mem.ListAlerts(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListAlerts() error = %v", err)
	}
	if len(archived) != 1 || archived[0].ID != "alert-1" {
		t.Errorf("archived = %+v, want alert-1", archived)
	}
}

func TestChiMiddlewareConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.CORSOrigins = []string{"https://console.example"}
	cfg.Server.RateLimitReqs = 42
	cfg.Server.RateLimitDisabled = true

	mw := chiMiddlewareConfig(cfg)
	if len(mw.CORSAllowedOrigins) != 1 || mw.CORSAllowedOrigins[0] != "https://console.example" {
		t.Errorf("CORSAllowedOrigins = %v", mw.CORSAllowedOrigins)
	}
	if mw.RateLimitRequests != 42 || !mw.RateLimitDisabled {
		t.Errorf("rate limit = %d disabled=%v", mw.RateLimitRequests, mw.RateLimitDisabled)
	}

	srv := newHTTPServer(cfg, nil)
	if srv.Addr != cfg.Addr() || srv.ReadTimeout != cfg.Server.ReadTimeout {
		t.Errorf("newHTTPServer() = %+v", srv)
	}
}

func TestStartEmbeddedNATS(t *testing.T) {
	cfg := testConfig(t)
	cfg.NATS.Enabled = true
	cfg.NATS.Embedded.Enabled = true
	cfg.NATS.Embedded.Port = -1
	cfg.NATS.Embedded.StoreDir = t.TempDir()
	before := cfg.NATS.URL

	stop, err := startEmbeddedNATS(cfg)
	if err != nil {
		t.Fatalf("startEmbeddedNATS() error = %v", err)
	}
	defer stop()
	if cfg.NATS.URL == before || !strings.HasPrefix(cfg.NATS.URL, "nats://") {
		t.Fatalf("NATS.URL = %q, want the embedded server's client URL", cfg.NATS.URL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pub, err := newPublisher(ctx, cfg)
	if err != nil {
		t.Fatalf("newPublisher() error = %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Errorf("publisher Close() error = %v", err)
	}
}
