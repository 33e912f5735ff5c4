// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package risk

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/gatewatch/internal/models"
)

type memHistory struct {
	mu     sync.Mutex
	events []models.LoginEvent
	fps    []models.DeviceFingerprint
	err    error
	delay  time.Duration
}

func (m *memHistory) add(e models.LoginEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *memHistory) Query(ctx context.Context, f models.EventFilter) ([]models.LoginEvent, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []models.LoginEvent
	for i := range m.events {
		if f.Matches(&m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memHistory) QueryFingerprints(_ context.Context, userID string, r models.TimeRange) ([]models.DeviceFingerprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeviceFingerprint
	for _, fp := range m.fps {
		if fp.UserID == userID && r.Contains(fp.CreatedAt) {
			out = append(out, fp)
		}
	}
	return out, nil
}

type memRecorder struct {
	mu    sync.Mutex
	saved []*Assessment
	err   error
}

func (r *memRecorder) Append(_ context.Context, a *Assessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, a)
	return r.err
}

func newAssessor(h *memHistory, cfg AssessorConfig) *Assessor {
	if cfg.Policy.Weights == nil {
		cfg.Policy = DefaultPolicy()
	}
	return NewAssessor(h, h, cfg)
}

func TestAssess_IPFailuresProgression(t *testing.T) {
	h := &memHistory{}
	a := newAssessor(h, AssessorConfig{})

	// five failures from X, ten minutes apart, each against a different user
	var fired []bool
	for i := 0; i < 5; i++ {
		e := models.LoginEvent{
			ID:        fmt.Sprintf("evt-%d", i),
			UserID:    fmt.Sprintf("user-%d", i),
			IP:        "198.51.100.9",
			UserAgent: "Mozilla/5.0",
			Timestamp: noon.Add(time.Duration(i) * 10 * time.Minute),
		}
		got, err := a.Assess(context.Background(), &e)
		if err != nil {
			t.Fatalf("Assess(%d) error = %v", i, err)
		}
		fired = append(fired, got.HasFactor(RuleIPFailures))
		h.add(e)
	}

	// prior failure counts are 0,1,2,3,4; the rule needs more than 2
	want := []bool{false, false, false, true, true}
	if !reflect.DeepEqual(fired, want) {
		t.Errorf("ip failures fired = %v, want %v", fired, want)
	}
}

func TestAssess_IPFailuresWindow(t *testing.T) {
	h := &memHistory{}
	for i := 0; i < 3; i++ {
		h.add(models.LoginEvent{ID: fmt.Sprintf("old-%d", i), IP: "198.51.100.9", Timestamp: noon.Add(-2 * time.Hour)})
	}
	got, err := newAssessor(h, AssessorConfig{}).Assess(context.Background(), &models.LoginEvent{IP: "198.51.100.9", Timestamp: noon})
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	if got.HasFactor(RuleIPFailures) {
		t.Error("failures older than an hour should not count")
	}
}

func TestAssess_RapidAttempts(t *testing.T) {
	h := &memHistory{}
	for i := 0; i < 4; i++ {
		h.add(models.LoginEvent{ID: fmt.Sprintf("r-%d", i), UserID: "alice", IP: "10.0.0.1", UserAgent: "Mozilla/5.0", Timestamp: noon.Add(-time.Duration(i+1) * time.Minute), Success: true})
	}
	a := newAssessor(h, AssessorConfig{})

	got, err := a.Assess(context.Background(), &models.LoginEvent{UserID: "alice", IP: "10.0.0.1", UserAgent: "Mozilla/5.0", Timestamp: noon})
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	if !got.HasFactor(RuleRapidAttempts) {
		t.Errorf("Factors = %v, want rapid attempts", got.Factors)
	}
	if got.Evidence.RecentUserAttempts != 4 {
		t.Errorf("RecentUserAttempts = %d, want 4", got.Evidence.RecentUserAttempts)
	}

	// four minutes later only the newest prior attempt is inside the window
	got, err = a.Assess(context.Background(), &models.LoginEvent{UserID: "alice", IP: "10.0.0.1", UserAgent: "Mozilla/5.0", Timestamp: noon.Add(4 * time.Minute)})
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	if got.HasFactor(RuleRapidAttempts) {
		t.Errorf("Factors = %v, want no rapid attempts", got.Factors)
	}
}

func TestAssess_Idempotent(t *testing.T) {
	h := &memHistory{}
	h.add(models.LoginEvent{ID: "p1", UserID: "alice", IP: "10.0.0.1", UserAgent: "Mozilla/5.0", Timestamp: noon.Add(-time.Minute)})
	a := newAssessor(h, AssessorConfig{})
	event := &models.LoginEvent{ID: "e1", UserID: "alice", IP: "10.0.0.2", UserAgent: "curl/8.0", Timestamp: noon}

	first, err := a.Assess(context.Background(), event)
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	second, err := a.Assess(context.Background(), event)
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeat assessment differs:\n%+v\n%+v", first, second)
	}

	// recording the event itself must not change its own verdict
	h.add(*event)
	third, err := a.Assess(context.Background(), event)
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	if third.Score != first.Score || !reflect.DeepEqual(third.Factors, first.Factors) {
		t.Errorf("verdict after recording = %v %v, want %v %v", third.Score, third.Factors, first.Score, first.Factors)
	}
}

func TestAssess_StoreFailure(t *testing.T) {
	h := &memHistory{err: errors.New("disk gone")}
	_, err := newAssessor(h, AssessorConfig{}).Assess(context.Background(), loginAt(noon))
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("Assess() error = %v, want ErrStoreUnavailable", err)
	}
	if !models.IsRetryable(err) {
		t.Error("store failure should be retryable")
	}
}

func TestAssess_StoreTimeout(t *testing.T) {
	h := &memHistory{delay: time.Second}
	_, err := newAssessor(h, AssessorConfig{StoreTimeout: 20 * time.Millisecond}).Assess(context.Background(), loginAt(noon))
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("Assess() error = %v, want ErrStoreUnavailable", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Assess() error = %v, want to wrap DeadlineExceeded", err)
	}
}

func TestAssess_InvalidEvent(t *testing.T) {
	_, err := newAssessor(&memHistory{}, AssessorConfig{}).Assess(context.Background(), &models.LoginEvent{UserID: "alice"})
	if !errors.Is(err, models.ErrInvalidEvent) {
		t.Errorf("Assess() error = %v, want ErrInvalidEvent", err)
	}
}

func TestAssess_Extensions(t *testing.T) {
	always := PredicateFunc(func(context.Context, *models.LoginEvent, *Evidence) (bool, error) { return true, nil })
	broken := PredicateFunc(func(context.Context, *models.LoginEvent, *Evidence) (bool, error) {
		return true, errors.New("geo provider down")
	})

	a := newAssessor(&memHistory{}, AssessorConfig{UnusualIP: always, FingerprintChanged: broken})
	got, err := a.Assess(context.Background(), loginAt(noon))
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	if !got.HasFactor(RuleUnusualIP) {
		t.Error("unusual IP predicate result ignored")
	}
	if got.HasFactor(RuleFingerprintChanged) {
		t.Error("failed predicate must contribute nothing")
	}
	if len(got.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one entry", got.Warnings)
	}
	if len(got.Recommendations) != 1 || got.Recommendations[0] != RecommendVerifyLocation {
		t.Errorf("Recommendations = %v", got.Recommendations)
	}
}

func TestAssess_DefaultExtensionsAreFalse(t *testing.T) {
	got, err := newAssessor(&memHistory{}, AssessorConfig{}).Assess(context.Background(), loginAt(noon))
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	if got.HasFactor(RuleUnusualIP) || got.HasFactor(RuleFingerprintChanged) {
		t.Errorf("Factors = %v, want no extension rules", got.Factors)
	}
}

func TestAssess_Recorder(t *testing.T) {
	rec := &memRecorder{err: errors.New("badger closed")}
	a := newAssessor(&memHistory{}, AssessorConfig{Recorder: rec})

	if _, err := a.Assess(context.Background(), loginAt(noon)); err != nil {
		t.Fatalf("recorder failure leaked into Assess: %v", err)
	}
	if len(rec.saved) != 1 || rec.saved[0].EventID != "evt-1" {
		t.Errorf("saved = %v, want one assessment for evt-1", rec.saved)
	}

	// events without an ID have nothing to key the log on
	if _, err := a.Assess(context.Background(), &models.LoginEvent{IP: "10.0.0.1", Timestamp: noon}); err != nil {
		t.Fatal(err)
	}
	if len(rec.saved) != 1 {
		t.Errorf("len(saved) = %d, want 1", len(rec.saved))
	}
}

func TestAssess_Concurrent(t *testing.T) {
	h := &memHistory{}
	for i := 0; i < 50; i++ {
		h.add(models.LoginEvent{ID: fmt.Sprintf("h-%d", i), UserID: "alice", IP: "10.0.0.1", UserAgent: "Mozilla/5.0", Timestamp: noon.Add(-time.Duration(i) * time.Hour)})
	}
	a := newAssessor(h, AssessorConfig{})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Assess(context.Background(), loginAt(noon)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Assess() error = %v", err)
	}
}
