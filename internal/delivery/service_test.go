package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nestwatch/internal/alert"
	"nestwatch/internal/courier"
	"nestwatch/internal/eventbus"
	"nestwatch/internal/store"
	logx "nestwatch/pkg/logx"
)

// fakeCourier succeeds after failing the first `failures` attempts.
// failures < 0 means it always fails.
type fakeCourier struct {
	mu       sync.Mutex
	name     string
	failures int
	calls    int
	err      error
}

func (f *fakeCourier) Name() string { return f.name }

func (f *fakeCourier) Deliver(context.Context, courier.Recipient, *alert.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.failures < 0 || f.calls <= f.failures {
		return errors.New(f.name + " unavailable")
	}
	return nil
}

func (f *fakeCourier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var testDir = courier.StaticDirectory{
	"kid-1": {UserID: "kid-1", Email: "guardian@example.com", PushToken: "tok-1"},
}

func testConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}
}

func persistAlert(t *testing.T, mem *store.Memory, prio alert.Priority) *alert.Alert {
	t.Helper()
	a, err := mem.CreateAlert(context.Background(), &alert.Alert{
		UserID:     "kid-1",
		Type:       alert.TypeKeywordMatch,
		Priority:   prio,
		Title:      "test alert",
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

// drain runs delivery attempts until the queue empties, ignoring backoff.
func drain(t *testing.T, s *Service, max int) {
	t.Helper()
	far := time.Now().Add(24 * time.Hour)
	for i := 0; i < max; i++ {
		it := s.dequeueEligible(far)
		if it == nil {
			return
		}
		s.process(context.Background(), it)
	}
	if s.QueueLen() > 0 {
		t.Fatalf("queue not drained after %d attempts", max)
	}
}

func TestProcessDeliversBothChannels(t *testing.T) {
	mem := store.NewMemory()
	email := &fakeCourier{name: "email"}
	push := &fakeCourier{name: "push"}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(testConfig(), email, push, testDir, mem, bus, logx.Nop())
	a := persistAlert(t, mem, alert.PriorityHigh)

	s.Enqueue(a)
	drain(t, s, 1)

	if email.callCount() != 1 || push.callCount() != 1 {
		t.Fatalf("calls = (email %d, push %d), want (1, 1)", email.callCount(), push.callCount())
	}
	got, _ := mem.Get(a.ID)
	if !got.EmailSent || !got.PushSent {
		t.Fatalf("flags = (email %v, push %v), want both true", got.EmailSent, got.PushSent)
	}

	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeAlertDelivered {
			t.Fatalf("bus event = %s, want %s", ev.Type, eventbus.TypeAlertDelivered)
		}
	default:
		t.Fatalf("no delivered event published")
	}
}

func TestChannelSelectionByPriority(t *testing.T) {
	tests := []struct {
		prio      alert.Priority
		wantEmail bool
		wantPush  bool
	}{
		{alert.PriorityLow, false, false},
		{alert.PriorityMedium, false, true},
		{alert.PriorityHigh, true, true},
		{alert.PriorityCritical, true, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.prio), func(t *testing.T) {
			mem := store.NewMemory()
			email := &fakeCourier{name: "email"}
			push := &fakeCourier{name: "push"}
			s := New(testConfig(), email, push, testDir, mem, nil, logx.Nop())

			s.Enqueue(persistAlert(t, mem, tt.prio))
			drain(t, s, 1)

			if got := email.callCount() > 0; got != tt.wantEmail {
				t.Fatalf("email invoked = %v, want %v", got, tt.wantEmail)
			}
			if got := push.callCount() > 0; got != tt.wantPush {
				t.Fatalf("push invoked = %v, want %v", got, tt.wantPush)
			}
		})
	}
}

func TestRetryThenSuccess(t *testing.T) {
	mem := store.NewMemory()
	email := &fakeCourier{name: "email", failures: 2}
	push := &fakeCourier{name: "push"}
	s := New(testConfig(), email, push, testDir, mem, nil, logx.Nop())

	a := persistAlert(t, mem, alert.PriorityHigh)
	s.Enqueue(a)
	drain(t, s, 4)

	if email.callCount() != 3 {
		t.Fatalf("email calls = %d, want 3 (two failures then success)", email.callCount())
	}
	// The push channel succeeded first try and must not be re-invoked.
	if push.callCount() != 1 {
		t.Fatalf("push calls = %d, want 1", push.callCount())
	}
	got, _ := mem.Get(a.ID)
	if !got.EmailSent || !got.PushSent {
		t.Fatalf("flags = (email %v, push %v), want both true", got.EmailSent, got.PushSent)
	}
}

func TestRetriesExhaustedKeepPartialFlags(t *testing.T) {
	mem := store.NewMemory()
	email := &fakeCourier{name: "email", failures: -1}
	push := &fakeCourier{name: "push"}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	cfg := testConfig()
	cfg.MaxRetries = 2
	s := New(cfg, email, push, testDir, mem, bus, logx.Nop())

	a := persistAlert(t, mem, alert.PriorityCritical)
	s.Enqueue(a)
	drain(t, s, 5)

	// Initial attempt plus two retries, then the item is dropped.
	if email.callCount() != 3 {
		t.Fatalf("email calls = %d, want 3", email.callCount())
	}
	if s.QueueLen() != 0 {
		t.Fatalf("queue len = %d, want 0 after exhaustion", s.QueueLen())
	}
	got, _ := mem.Get(a.ID)
	if got.EmailSent {
		t.Fatalf("EmailSent = true, want false after exhausted retries")
	}
	if !got.PushSent {
		t.Fatalf("PushSent = false, want true (partial success is kept)")
	}

	var exhausted bool
	for len(events) > 0 {
		if ev := <-events; ev.Type == eventbus.TypeAlertExhausted {
			exhausted = true
		}
	}
	if !exhausted {
		t.Fatalf("no exhausted event published")
	}
}

func TestNoRecipientIsTerminalSkip(t *testing.T) {
	mem := store.NewMemory()
	email := &fakeCourier{name: "email", err: courier.ErrNoRecipient}
	push := &fakeCourier{name: "push"}
	s := New(testConfig(), email, push, testDir, mem, nil, logx.Nop())

	a := persistAlert(t, mem, alert.PriorityHigh)
	s.Enqueue(a)
	drain(t, s, 1)

	// A missing address is not a failure: no retry, flag stays false.
	if email.callCount() != 1 {
		t.Fatalf("email calls = %d, want 1", email.callCount())
	}
	if s.QueueLen() != 0 {
		t.Fatalf("queue len = %d, want 0", s.QueueLen())
	}
	got, _ := mem.Get(a.ID)
	if got.EmailSent {
		t.Fatalf("EmailSent = true, want false for skipped channel")
	}
	if !got.PushSent {
		t.Fatalf("PushSent = false, want true")
	}
}

func TestEnqueueDedup(t *testing.T) {
	mem := store.NewMemory()
	s := New(testConfig(), &fakeCourier{name: "email"}, &fakeCourier{name: "push"}, testDir, mem, nil, logx.Nop())

	a := persistAlert(t, mem, alert.PriorityMedium)
	s.Enqueue(a)
	s.Enqueue(a)
	if s.QueueLen() != 1 {
		t.Fatalf("queue len = %d, want 1 after duplicate enqueue", s.QueueLen())
	}
	if !s.Queued(a.ID) {
		t.Fatalf("Queued(%s) = false", a.ID)
	}
}

func TestDeliverNowIsInline(t *testing.T) {
	mem := store.NewMemory()
	email := &fakeCourier{name: "email"}
	push := &fakeCourier{name: "push"}
	s := New(testConfig(), email, push, testDir, mem, nil, logx.Nop())

	a := persistAlert(t, mem, alert.PriorityCritical)
	// No worker running: the couriers must still be invoked before return.
	s.DeliverNow(context.Background(), a)

	if email.callCount() != 1 || push.callCount() != 1 {
		t.Fatalf("calls = (email %d, push %d), want (1, 1)", email.callCount(), push.callCount())
	}
	got, _ := mem.Get(a.ID)
	if !got.EmailSent || !got.PushSent {
		t.Fatalf("flags = (email %v, push %v), want both true", got.EmailSent, got.PushSent)
	}
}

func TestWorkerDrainsQueue(t *testing.T) {
	mem := store.NewMemory()
	email := &fakeCourier{name: "email"}
	push := &fakeCourier{name: "push"}
	s := New(testConfig(), email, push, testDir, mem, nil, logx.Nop())

	a := persistAlert(t, mem, alert.PriorityHigh)
	s.Enqueue(a)
	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := mem.Get(a.ID); got.EmailSent && got.PushSent {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("worker did not deliver within the deadline")
}

func TestQueueStaysFIFOForEligibleItems(t *testing.T) {
	mem := store.NewMemory()
	s := New(testConfig(), &fakeCourier{name: "email"}, &fakeCourier{name: "push"}, testDir, mem, nil, logx.Nop())

	first := persistAlert(t, mem, alert.PriorityMedium)
	second := persistAlert(t, mem, alert.PriorityMedium)
	s.Enqueue(first)
	s.Enqueue(second)

	// Put the head inside backoff; the second item must be dequeued around it.
	s.mu.Lock()
	s.queue[0].notBefore = time.Now().Add(time.Hour)
	s.mu.Unlock()

	it := s.dequeueEligible(time.Now())
	if it == nil || it.alert.ID != second.ID {
		t.Fatalf("dequeued wrong item")
	}
	if it2 := s.dequeueEligible(time.Now()); it2 != nil {
		t.Fatalf("head inside backoff must not be dequeued")
	}
}
