package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"nestwatch/internal/alert"
	"nestwatch/internal/courier"
	"nestwatch/internal/delivery"
	"nestwatch/internal/detect"
	"nestwatch/internal/store"
	"nestwatch/internal/telemetry"
	"nestwatch/internal/throttle"
	logx "nestwatch/pkg/logx"
)

type countingCourier struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCourier) Name() string { return "counting" }

func (c *countingCourier) Deliver(context.Context, courier.Recipient, *alert.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingCourier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fixture struct {
	svc   *Service
	mem   *store.Memory
	del   *delivery.Service
	email *countingCourier
	push  *countingCourier
}

func newFixture(t *testing.T, rules map[alert.Type]throttle.Rule, set Settings) *fixture {
	t.Helper()
	mem := store.NewMemory()
	email := &countingCourier{}
	push := &countingCourier{}
	dir := courier.StaticDirectory{
		"kid-1": {UserID: "kid-1", Email: "guardian@example.com", PushToken: "tok"},
	}
	del := delivery.New(delivery.Config{RetryBackoff: time.Millisecond}, email, push, dir, mem, nil, logx.Nop())
	gate := throttle.NewGate(rules, mem, nil, logx.Nop())
	if set.TZ == nil {
		set.TZ = time.UTC
	}
	return &fixture{
		svc:   New(set, detect.All(), gate, del, nil, logx.Nop()),
		mem:   mem,
		del:   del,
		email: email,
		push:  push,
	}
}

func riskyMessage(at time.Time) *telemetry.Event {
	return &telemetry.Event{
		Kind:       telemetry.KindMessage,
		UserID:     "kid-1",
		DeviceID:   "dev-1",
		OccurredAt: at,
		Message: &telemetry.Message{
			Sender: "+5511999990000",
			Body:   "let's meet and smoke maconha tonight",
		},
	}
}

func TestSubmitEventRaisesHighPriorityAlert(t *testing.T) {
	f := newFixture(t, nil, Settings{})
	ev := riskyMessage(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))

	if err := f.svc.SubmitEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	alerts := f.mem.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("persisted alerts = %d, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Type != alert.TypeKeywordMatch {
		t.Fatalf("Type = %s, want keyword_match", a.Type)
	}
	if a.Priority != alert.PriorityHigh {
		t.Fatalf("Priority = %s, want high", a.Priority)
	}
	if ev.RiskScore < detect.ScoreHigh {
		t.Fatalf("event RiskScore = %d, want >= %d", ev.RiskScore, detect.ScoreHigh)
	}
	// High priority is queued, not delivered inline.
	if !f.del.Queued(a.ID) {
		t.Fatalf("alert not queued for delivery")
	}
	if f.email.callCount() != 0 {
		t.Fatalf("email invoked inline for a non-critical alert")
	}
}

func TestSubmitEventDeliversCriticalInline(t *testing.T) {
	f := newFixture(t, nil, Settings{Zones: []detect.DangerZone{
		{Name: "quarry", Lat: 10, Lon: 10, RadiusKM: 1},
	}})

	ev := &telemetry.Event{
		Kind:       telemetry.KindLocation,
		UserID:     "kid-1",
		OccurredAt: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		Location:   &telemetry.Location{Lat: 10.001, Lon: 10},
	}
	if err := f.svc.SubmitEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	alerts := f.mem.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("persisted alerts = %d, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Type != alert.TypeDangerZone || a.Priority != alert.PriorityCritical {
		t.Fatalf("got %s/%s, want danger_zone/critical", a.Type, a.Priority)
	}
	// Couriers ran before SubmitEvent returned.
	if f.email.callCount() != 1 || f.push.callCount() != 1 {
		t.Fatalf("calls = (email %d, push %d), want (1, 1)", f.email.callCount(), f.push.callCount())
	}
	got, _ := f.mem.Get(a.ID)
	if !got.EmailSent || !got.PushSent {
		t.Fatalf("flags = (email %v, push %v), want both true", got.EmailSent, got.PushSent)
	}
	if f.del.QueueLen() != 0 {
		t.Fatalf("critical alert must bypass the queue")
	}
}

func TestSubmitEventSuppressionIsSilent(t *testing.T) {
	f := newFixture(t, map[alert.Type]throttle.Rule{
		alert.TypeKeywordMatch: {MaxPerHour: 1},
	}, Settings{})

	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	if err := f.svc.SubmitEvent(context.Background(), riskyMessage(at)); err != nil {
		t.Fatal(err)
	}
	// The second identical event hits the cap; suppression is not an error.
	if err := f.svc.SubmitEvent(context.Background(), riskyMessage(at.Add(time.Minute))); err != nil {
		t.Fatalf("suppressed submission returned error: %v", err)
	}
	if n := len(f.mem.Alerts()); n != 1 {
		t.Fatalf("persisted alerts = %d, want 1", n)
	}
}

func TestSubmitEventPersistFailurePropagates(t *testing.T) {
	f := newFixture(t, nil, Settings{})
	f.mem.CreateErr = context.DeadlineExceeded

	err := f.svc.SubmitEvent(context.Background(), riskyMessage(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)))
	if err == nil {
		t.Fatalf("persistence failure must propagate to the caller")
	}
}

func TestSubmitEventValidates(t *testing.T) {
	f := newFixture(t, nil, Settings{})
	err := f.svc.SubmitEvent(context.Background(), &telemetry.Event{Kind: telemetry.KindMessage})
	if err == nil {
		t.Fatalf("invalid event must be rejected")
	}
}

func TestCallHistoryAccumulates(t *testing.T) {
	f := newFixture(t, nil, Settings{})
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// Eleven calls from one number within the lookback; the last one tips
	// the frequency counter past the threshold.
	for i := 0; i < 11; i++ {
		ev := &telemetry.Event{
			Kind:       telemetry.KindCall,
			UserID:     "kid-1",
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
			Call:       &telemetry.Call{Number: "+5511988880000", KnownContact: true},
		}
		if err := f.svc.SubmitEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	var freq int
	for _, a := range f.mem.Alerts() {
		if a.Type == alert.TypeCallFrequency {
			freq++
		}
	}
	if freq != 1 {
		t.Fatalf("call_frequency alerts = %d, want 1", freq)
	}
}

func TestHistoryPruning(t *testing.T) {
	h := newHistory()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lookback := time.Hour

	old := &telemetry.Event{
		Kind: telemetry.KindCall, UserID: "kid-1",
		OccurredAt: base.Add(-2 * time.Hour),
		Call:       &telemetry.Call{Number: "1"},
	}
	recent := &telemetry.Event{
		Kind: telemetry.KindCall, UserID: "kid-1",
		OccurredAt: base.Add(-10 * time.Minute),
		Call:       &telemetry.Call{Number: "2"},
	}
	h.Record(old, lookback)
	h.Record(recent, lookback)

	calls, _ := h.Snapshot("kid-1", base, lookback)
	if len(calls) != 1 || calls[0].Number != "2" {
		t.Fatalf("snapshot = %+v, want only the recent call", calls)
	}
}
