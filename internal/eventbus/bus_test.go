package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: TypeAlertAdmitted, Data: "x"})

	select {
	case ev := <-ch:
		if ev.Type != TypeAlertAdmitted {
			t.Fatalf("Type = %s", ev.Type)
		}
		if ev.Time.IsZero() {
			t.Fatalf("Time not stamped")
		}
	case <-time.After(time.Second):
		t.Fatalf("no event received")
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	// Fill the buffer, then publish more; Publish must not block.
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: TypeAlertDelivered})
	}
	if len(ch) != 1 {
		t.Fatalf("buffered events = %d, want 1", len(ch))
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub()

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: TypeAlertSuppressed})
}
