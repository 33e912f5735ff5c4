// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/gatewatch/internal/logging"
	"github.com/tomtom215/gatewatch/internal/metrics"
	"github.com/tomtom215/gatewatch/internal/models"
	"github.com/tomtom215/gatewatch/internal/risk"
)

const assessmentPrefix = "assessment:"

// AssessmentLogConfig configures OpenAssessmentLog.
type AssessmentLogConfig struct {
	// Path is the Badger directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	// Retention expires entries after the given age. Zero keeps them forever.
	Retention time.Duration
}

// AssessmentLog persists one assessment per source event in Badger.
// The first assessment written for an event wins. Later appends for the
// same event ID are ignored.
type AssessmentLog struct {
	db        *badger.DB
	retention time.Duration
}

// OpenAssessmentLog opens (or creates) the log.
func OpenAssessmentLog(cfg AssessmentLogConfig) (*AssessmentLog, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	log := logging.WithComponent("store")
	log.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Dur("retention", cfg.Retention).
		Msg("Assessment log opened")
	return &AssessmentLog{db: db, retention: cfg.Retention}, nil
}

// Append implements risk.Recorder.
func (l *AssessmentLog) Append(ctx context.Context, a *risk.Assessment) (err error) {
	defer func(start time.Time) {
		metrics.RecordStoreQuery("badger", "append", time.Since(start), err)
	}(time.Now())

	if a == nil || a.EventID == "" {
		return fmt.Errorf("%w: assessment has no event id", models.ErrInvalidEvent)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	key := []byte(assessmentPrefix + a.EventID)

	err = l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		e := badger.NewEntry(key, data)
		if l.retention > 0 {
			e = e.WithTTL(l.retention)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("append assessment: %w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// Get returns the assessment recorded for eventID, or models.ErrNotFound.
func (l *AssessmentLog) Get(ctx context.Context, eventID string) (*risk.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var a risk.Assessment
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(assessmentPrefix + eventID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &a)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("assessment %q: %w", eventID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read assessment: %w: %v", models.ErrStoreUnavailable, err)
	}
	return &a, nil
}

// Count returns the number of stored assessments.
func (l *AssessmentLog) Count() (int, error) {
	n := 0
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(assessmentPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// RunGC reclaims value log space until Badger reports nothing to rewrite.
func (l *AssessmentLog) RunGC() error {
	for {
		err := l.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Close closes the database.
func (l *AssessmentLog) Close() error {
	return l.db.Close()
}

var _ risk.Recorder = (*AssessmentLog)(nil)
