// Package delivery drains admitted alerts to the notification couriers:
// an ordered in-memory FIFO queue, one worker loop, per-item retry with
// explicit backoff, and inline (queue-bypassing) delivery for critical
// alerts.
//
// Failure policy follows the pipeline's taxonomy: courier failures are
// recoverable and drive the retry path; exhausted retries leave the alert
// persisted with partial flags and never surface as a process error. One
// bad courier outage must not stop admission or other queued items.
package delivery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"nestwatch/internal/alert"
	"nestwatch/internal/courier"
	"nestwatch/internal/eventbus"
	"nestwatch/internal/store"
	logx "nestwatch/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config

	queue     []*item
	queuedIDs map[string]struct{}

	email courier.Courier // nil when the channel is not configured
	push  courier.Courier

	dir   courier.Directory
	store store.Store
	bus   eventbus.Bus
	log   logx.Logger

	limiter *rate.Limiter

	stopCh chan struct{}
	done   chan struct{}
}

func New(cfg Config, email, push courier.Courier, dir courier.Directory, st store.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		queuedIDs: map[string]struct{}{},
		email:     email,
		push:      push,
		dir:       dir,
		store:     st,
		bus:       bus,
		log:       log,
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps runtime knobs (config reload). The queue is untouched.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg.withDefaults()
	s.limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.RatePerSec)
}

// Start launches the worker loop. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()

	go s.worker(ctx, stopCh, done)
}

// Stop signals the worker and waits for it to exit or the context to expire.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	stopCh, done := s.stopCh, s.done
	s.stopCh = nil
	s.done = nil
	s.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue appends a persisted alert to the queue tail. Duplicate alert ids
// already queued are ignored (the redelivery sweep may race the worker).
func (s *Service) Enqueue(a *alert.Alert) {
	if a == nil || a.ID == "" {
		return
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.queuedIDs[a.ID]; dup {
		return
	}
	it := &item{alert: a, enqueuedAt: now}
	// Re-discovered alerts keep earlier successes out of the retry set.
	it.emailDone = a.EmailSent
	it.pushDone = a.PushSent
	s.queue = append(s.queue, it)
	s.queuedIDs[a.ID] = struct{}{}
}

// DeliverNow delivers a critical alert inline on the admitting call path,
// bypassing the queue. The couriers are invoked before this returns; a
// failed channel falls back to the background retry path.
func (s *Service) DeliverNow(ctx context.Context, a *alert.Alert) {
	if a == nil || a.ID == "" {
		return
	}
	s.process(ctx, &item{alert: a, enqueuedAt: time.Now(), emailDone: a.EmailSent, pushDone: a.PushSent})
}

// QueueLen reports the number of queued items (diagnostics/tests).
func (s *Service) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Queued reports whether the given alert id is currently queued.
func (s *Service) Queued(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queuedIDs[id]
	return ok
}
