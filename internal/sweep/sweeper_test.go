// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package sweep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/gatewatch/internal/models"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func ev(ip, user string, offset time.Duration, success bool) models.LoginEvent {
	return models.LoginEvent{
		ID:        fmt.Sprintf("%s-%s-%d", ip, user, offset),
		UserID:    user,
		IP:        ip,
		UserAgent: "Mozilla/5.0 test",
		Timestamp: t0.Add(offset),
		Success:   success,
	}
}

func hourWindow() models.TimeRange {
	return models.TimeRange{Start: t0, End: t0.Add(time.Hour)}
}

// fakeSource serves a fixed event list.
type fakeSource struct {
	mu     sync.Mutex
	events []models.LoginEvent
	err    error
	calls  int
}

func (f *fakeSource) Query(_ context.Context, filter models.EventFilter) ([]models.LoginEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []models.LoginEvent
	for i := range f.events {
		if filter.Matches(&f.events[i]) {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

// recordingSink collects emitted alerts.
type recordingSink struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (r *recordingSink) Emit(_ context.Context, a models.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

// panicDetector always panics.
type panicDetector struct{}

func (panicDetector) Kind() models.AlertKind { return models.AlertUAFlood }

func (panicDetector) Detect([]models.LoginEvent, models.TimeRange) ([]models.Alert, error) {
	panic("boom")
}

func TestIPFlood(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		successes int
		want      int
	}{
		{"six failures alert", 6, 0, 1},
		{"five failures do not", 5, 0, 0},
		{"successes are ignored", 5, 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []models.LoginEvent
			for i := 0; i < tt.failures; i++ {
				events = append(events, ev("10.0.0.1", "alice", time.Duration(i)*45*time.Second, false))
			}
			for i := 0; i < tt.successes; i++ {
				events = append(events, ev("10.0.0.1", "alice", 10*time.Minute+time.Duration(i)*time.Second, true))
			}
			alerts, err := IPFlood{Limit: 5}.Detect(events, hourWindow())
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if len(alerts) != tt.want {
				t.Fatalf("Detect() returned %d alerts, want %d", len(alerts), tt.want)
			}
		})
	}
}

func TestSweep_SixFailuresOneIPFlood(t *testing.T) {
	var events []models.LoginEvent
	for i := 0; i < 6; i++ {
		events = append(events, ev("10.0.0.1", fmt.Sprintf("u%d", i%2), time.Duration(i)*50*time.Second, false))
	}
	s := NewSweeper(&fakeSource{events: events}, nil)

	alerts, err := s.Sweep(context.Background(), hourWindow())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("Sweep() returned %d alerts, want 1: %+v", len(alerts), alerts)
	}
	a := alerts[0]
	if a.Kind != models.AlertIPFlood || a.Subject != "10.0.0.1" || a.Count != 6 {
		t.Errorf("alert = %s %s count %d, want ip-flood 10.0.0.1 count 6", a.Kind, a.Subject, a.Count)
	}
	if a.Span() != 250*time.Second {
		t.Errorf("Span() = %v, want 4m10s", a.Span())
	}
	if a.Severity != models.SeverityWarning {
		t.Errorf("Severity = %s, want warning", a.Severity)
	}
	if !a.WindowStart.Equal(t0) || !a.WindowEnd.Equal(t0.Add(time.Hour)) {
		t.Errorf("window = %v..%v, want the sweep window", a.WindowStart, a.WindowEnd)
	}
}

func TestUserAgentFlood(t *testing.T) {
	mk := func(n int, ua string) []models.LoginEvent {
		var out []models.LoginEvent
		for i := 0; i < n; i++ {
			e := ev(fmt.Sprintf("10.0.1.%d", i), "u", time.Duration(i)*time.Minute, i%2 == 0)
			e.UserAgent = ua
			out = append(out, e)
		}
		return out
	}

	alerts, _ := UserAgentFlood{Limit: 10}.Detect(mk(11, "python-requests/2.31"), hourWindow())
	if len(alerts) != 1 || alerts[0].Subject != "python-requests/2.31" || alerts[0].Count != 11 {
		t.Errorf("Detect(11) = %+v, want one ua-flood with count 11", alerts)
	}
	if alerts[0].Severity != models.SeverityInfo {
		t.Errorf("Severity = %s, want info", alerts[0].Severity)
	}

	alerts, _ = UserAgentFlood{Limit: 10}.Detect(mk(10, "python-requests/2.31"), hourWindow())
	if len(alerts) != 0 {
		t.Errorf("Detect(10) returned %d alerts, want 0", len(alerts))
	}

	alerts, _ = UserAgentFlood{Limit: 10}.Detect(mk(11, ""), hourWindow())
	if len(alerts) != 1 || !strings.Contains(alerts[0].Detail, "empty user-agent") {
		t.Errorf("Detect(empty ua) = %+v, want one alert naming the empty agent", alerts)
	}
}

// bruteTrace returns n events from ip spread evenly over span, then any tail.
func bruteTrace(ip string, n int, span time.Duration) []models.LoginEvent {
	var out []models.LoginEvent
	step := span / time.Duration(n-1)
	for i := 0; i < n; i++ {
		out = append(out, ev(ip, "victim", time.Duration(i)*step, false))
	}
	return out
}

func TestBruteForce_Adjacent(t *testing.T) {
	d := BruteForce{Limit: 10, Span: 10 * time.Minute, Grouping: GroupAdjacent}

	t.Run("run closed by another ip", func(t *testing.T) {
		events := bruteTrace("10.9.9.1", 11, 8*time.Minute)
		events = append(events, ev("10.9.9.2", "victim", 9*time.Minute, false))
		alerts, err := d.Detect(events, hourWindow())
		if err != nil {
			t.Fatalf("Detect() error = %v", err)
		}
		if len(alerts) != 1 {
			t.Fatalf("Detect() returned %d alerts, want 1", len(alerts))
		}
		if alerts[0].Subject != "10.9.9.1" || alerts[0].Count != 11 {
			t.Errorf("alert = %s count %d, want 10.9.9.1 count 11", alerts[0].Subject, alerts[0].Count)
		}
		if alerts[0].Span() != 8*time.Minute {
			t.Errorf("Span() = %v, want 8m", alerts[0].Span())
		}
		if alerts[0].Severity != models.SeverityCritical {
			t.Errorf("Severity = %s, want critical", alerts[0].Severity)
		}
	})

	t.Run("interleaved event splits the run", func(t *testing.T) {
		events := bruteTrace("10.9.9.1", 11, 8*time.Minute)
		mid := ev("10.9.9.2", "victim", events[5].Timestamp.Sub(t0)+time.Second, false)
		split := append([]models.LoginEvent{}, events[:6]...)
		split = append(split, mid)
		split = append(split, events[6:]...)
		split = append(split, ev("10.9.9.2", "victim", 9*time.Minute, false))

		alerts, _ := d.Detect(split, hourWindow())
		if len(alerts) != 0 {
			t.Errorf("Detect() returned %d alerts, want 0", len(alerts))
		}
	})

	t.Run("run too slow", func(t *testing.T) {
		events := bruteTrace("10.9.9.1", 11, 12*time.Minute)
		events = append(events, ev("10.9.9.2", "victim", 13*time.Minute, false))
		if alerts, _ := d.Detect(events, hourWindow()); len(alerts) != 0 {
			t.Errorf("Detect() returned %d alerts, want 0", len(alerts))
		}
	})

	t.Run("trailing run measured to window end", func(t *testing.T) {
		events := bruteTrace("10.9.9.1", 11, 8*time.Minute)
		near := models.TimeRange{Start: t0, End: t0.Add(9 * time.Minute)}
		if alerts, _ := d.Detect(events, near); len(alerts) != 1 {
			t.Errorf("Detect(window ends 1m later) returned %d alerts, want 1", len(alerts))
		}
		if alerts, _ := d.Detect(events, hourWindow()); len(alerts) != 0 {
			t.Errorf("Detect(window ends 52m later) returned %d alerts, want 0", len(alerts))
		}
	})

	t.Run("empty window", func(t *testing.T) {
		if alerts, err := d.Detect(nil, hourWindow()); err != nil || len(alerts) != 0 {
			t.Errorf("Detect(nil) = %v, %v", alerts, err)
		}
	})
}

func TestBruteForce_PerIP(t *testing.T) {
	d := BruteForce{Limit: 10, Span: 10 * time.Minute, Grouping: GroupPerIP}

	events := bruteTrace("10.9.9.1", 11, 8*time.Minute)
	mid := ev("10.9.9.2", "victim", events[5].Timestamp.Sub(t0)+time.Second, false)
	split := append([]models.LoginEvent{}, events[:6]...)
	split = append(split, mid)
	split = append(split, events[6:]...)

	alerts, err := d.Detect(split, hourWindow())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(alerts) != 1 || alerts[0].Subject != "10.9.9.1" || alerts[0].Count != 11 {
		t.Errorf("Detect() = %+v, want one alert for 10.9.9.1 with count 11", alerts)
	}

	if _, err := (BruteForce{Limit: 10, Span: time.Minute, Grouping: "bogus"}).Detect(split, hourWindow()); err == nil {
		t.Error("Detect(unknown grouping) error = nil")
	}
}

func TestTakeoverProbe(t *testing.T) {
	var events []models.LoginEvent
	for _, u := range []string{"frank", "alice", "erin", "bob", "dave", "carol", "alice", ""} {
		events = append(events, ev("203.0.113.7", u, time.Duration(len(events))*time.Minute, false))
	}

	alerts, err := TakeoverProbe{Limit: 5}.Detect(events, hourWindow())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("Detect() returned %d alerts, want 1", len(alerts))
	}
	want := "alice,bob,carol,dave,erin,frank"
	if got := strings.Join(alerts[0].Targets, ","); got != want {
		t.Errorf("Targets = %s, want %s", got, want)
	}
	if alerts[0].Count != 6 {
		t.Errorf("Count = %d, want 6", alerts[0].Count)
	}

	alerts, _ = TakeoverProbe{Limit: 5}.Detect(events[:5], hourWindow())
	if len(alerts) != 0 {
		t.Errorf("Detect(5 users) returned %d alerts, want 0", len(alerts))
	}
}

func TestSweeper_AllDetectorsAndSink(t *testing.T) {
	var events []models.LoginEvent
	// 11 rapid failures from one IP against 11 users: ip-flood, ua-flood,
	// brute-force (closed by the next IP), takeover probe.
	for i := 0; i < 11; i++ {
		events = append(events, ev("198.51.100.4", fmt.Sprintf("user%02d", i), time.Duration(i)*30*time.Second, false))
	}
	events = append(events, ev("198.51.100.9", "alice", 20*time.Minute, true))

	sink := &recordingSink{}
	s := NewSweeper(&fakeSource{events: events}, sink)
	alerts, err := s.Sweep(context.Background(), hourWindow())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	var kinds []string
	for _, a := range alerts {
		kinds = append(kinds, string(a.Kind))
	}
	want := "ip-flood,ua-flood,brute-force,account-takeover-probe"
	if strings.Join(kinds, ",") != want {
		t.Errorf("kinds = %v, want %s", kinds, want)
	}
	if sink.count() != len(alerts) {
		t.Errorf("sink received %d alerts, want %d", sink.count(), len(alerts))
	}
}

func TestSweeper_OrdersEventsBeforeDetecting(t *testing.T) {
	events := bruteTrace("10.9.9.1", 11, 8*time.Minute)
	events = append(events, ev("10.9.9.2", "victim", 9*time.Minute, false))
	// Newest first, as a source with no ORDER BY might return them.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	src := &fakeSource{events: events}

	s := NewSweeper(src, nil, BruteForce{Limit: 10, Span: 10 * time.Minute, Grouping: GroupAdjacent})
	alerts, err := s.Sweep(context.Background(), hourWindow())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("Sweep() returned %d alerts, want 1", len(alerts))
	}
	if alerts[0].Subject != "10.9.9.1" || alerts[0].Count != 11 || alerts[0].Span() != 8*time.Minute {
		t.Errorf("alert = %s count %d span %v, want 10.9.9.1 count 11 span 8m",
			alerts[0].Subject, alerts[0].Count, alerts[0].Span())
	}
}

func TestSweeper_DeterministicIDs(t *testing.T) {
	var events []models.LoginEvent
	for i := 0; i < 6; i++ {
		events = append(events, ev("10.0.0.1", "alice", time.Duration(i)*time.Minute, false))
	}
	s := NewSweeper(&fakeSource{events: events}, nil)

	first, _ := s.Sweep(context.Background(), hourWindow())
	second, _ := s.Sweep(context.Background(), hourWindow())
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("Sweep() returned %d and %d alerts, want 1 each", len(first), len(second))
	}
	if first[0].ID != second[0].ID {
		t.Errorf("IDs differ across identical sweeps: %s vs %s", first[0].ID, second[0].ID)
	}
}

func TestSweeper_PartialFailure(t *testing.T) {
	var events []models.LoginEvent
	for i := 0; i < 6; i++ {
		events = append(events, ev("10.0.0.1", "alice", time.Duration(i)*time.Minute, false))
	}
	s := NewSweeper(&fakeSource{events: events}, nil, IPFlood{Limit: 5}, panicDetector{}, TakeoverProbe{Limit: 5})

	alerts, err := s.Sweep(context.Background(), hourWindow())
	var pf *PartialFailure
	if !errors.As(err, &pf) {
		t.Fatalf("Sweep() error = %v, want *PartialFailure", err)
	}
	if len(pf.Failed()) != 1 || pf.Failed()[0] != models.AlertUAFlood {
		t.Errorf("Failed() = %v, want [ua-flood]", pf.Failed())
	}
	if len(alerts) != 1 || alerts[0].Kind != models.AlertIPFlood {
		t.Errorf("alerts = %+v, want the ip-flood alert", alerts)
	}
	if !strings.Contains(err.Error(), "panic: boom") {
		t.Errorf("Error() = %q, want the panic value", err.Error())
	}
}

func TestSweeper_StoreUnavailable(t *testing.T) {
	s := NewSweeper(&fakeSource{err: errors.New("connection refused")}, nil)
	alerts, err := s.Sweep(context.Background(), hourWindow())
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("Sweep() error = %v, want ErrStoreUnavailable", err)
	}
	if alerts != nil {
		t.Errorf("alerts = %v, want nil", alerts)
	}
}

func TestSweeper_InvalidWindow(t *testing.T) {
	src := &fakeSource{}
	s := NewSweeper(src, nil)
	_, err := s.Sweep(context.Background(), models.TimeRange{Start: t0, End: t0.Add(-time.Minute)})
	if !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("Sweep() error = %v, want ErrInvalidWindow", err)
	}
	if src.calls != 0 {
		t.Error("invalid window still queried the store")
	}
}

func TestSweeper_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSweeper(&fakeSource{}, nil)
	if _, err := s.Sweep(ctx, hourWindow()); !errors.Is(err, context.Canceled) {
		t.Errorf("Sweep() error = %v, want context.Canceled", err)
	}
}
