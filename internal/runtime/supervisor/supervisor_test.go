package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go("boom", func(ctx context.Context) error {
		panic("kaboom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Stop(ctx)
	if err == nil || err.Error() == "" {
		t.Fatalf("panic must surface as the supervisor error, got %v", err)
	}
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(ctx context.Context) error {
		return errors.New("broken")
	})

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatalf("context not cancelled after goroutine error")
	}
	if s.Err() == nil {
		t.Fatalf("Err() = nil, want the goroutine error")
	}
}

func TestCleanExitKeepsContextAlive(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("ok", func(ctx context.Context) error { return nil })
	s.Go("cancelled", func(ctx context.Context) error { return context.Canceled })

	select {
	case <-s.Context().Done():
		t.Fatalf("clean exits must not cancel the supervisor")
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestGoRestartRestartsOnError(t *testing.T) {
	var runs int32
	s := New(context.Background())
	s.GoRestart("flaky", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			return errors.New("transient")
		}
		<-ctx.Done()
		return context.Canceled
	})

	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&runs) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&runs) < 2 {
		t.Fatalf("runs = %d, want restart after error", runs)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
