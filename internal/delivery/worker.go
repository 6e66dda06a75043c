package delivery

import (
	"context"
	"errors"
	"math/rand"
	"runtime/debug"
	"time"

	"nestwatch/internal/alert"
	"nestwatch/internal/courier"
	"nestwatch/internal/eventbus"
	"nestwatch/internal/store"
	logx "nestwatch/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		it := s.dequeueEligible(time.Now())
		if it == nil {
			s.mu.Lock()
			poll := s.cfg.PollInterval
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-time.After(poll):
			}
			continue
		}
		s.processSafe(ctx, it)
	}
}

// dequeueEligible pops the oldest item whose backoff has elapsed. Items
// still inside their backoff keep their position, so the queue stays FIFO
// for everything that is ready.
func (s *Service) dequeueEligible(now time.Time) *item {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.queue {
		if it.notBefore.After(now) {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		delete(s.queuedIDs, it.alert.ID)
		return it
	}
	return nil
}

// processSafe isolates one item: a panic in courier code is logged and the
// loop continues.
func (s *Service) processSafe(ctx context.Context, it *item) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("delivery panicked; item dropped",
				logx.String("alert", it.alert.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	s.process(ctx, it)
}

type attemptResult struct {
	invoked bool
	skipped bool // no recipient address for the channel; terminal, not a failure
	err     error
}

// process runs one delivery attempt: resolve the recipient, invoke the
// applicable couriers concurrently, persist the resulting flags, then
// retry, finish, or give up.
func (s *Service) process(ctx context.Context, it *item) {
	a := it.alert

	rcpt, ok := s.dir.Lookup(a.UserID)
	if !ok {
		s.log.Warn("no guardian contact for user; delivery skipped",
			logx.String("alert", a.ID), logx.String("user", a.UserID))
		return
	}

	s.mu.Lock()
	emailC, pushC := s.email, s.push
	limiter := s.limiter
	s.mu.Unlock()

	runEmail := it.needsEmail() && emailC != nil
	runPush := it.needsPush() && pushC != nil

	var emailRes, pushRes attemptResult
	doneCh := make(chan struct{}, 2)
	invoke := func(c courier.Courier, res *attemptResult) {
		defer func() { doneCh <- struct{}{} }()
		res.invoked = true
		if err := limiter.Wait(ctx); err != nil {
			res.err = err
			return
		}
		err := c.Deliver(ctx, rcpt, a)
		if errors.Is(err, courier.ErrNoRecipient) {
			res.skipped = true
			return
		}
		res.err = err
	}

	// Concurrent await of the independent channels; both outcomes are
	// collected before any state is persisted.
	n := 0
	if runEmail {
		n++
		go invoke(emailC, &emailRes)
	}
	if runPush {
		n++
		go invoke(pushC, &pushRes)
	}
	for i := 0; i < n; i++ {
		<-doneCh
	}

	upd := store.StatusUpdate{}
	if emailRes.invoked {
		sent := emailRes.err == nil && !emailRes.skipped
		upd.EmailSent = store.Bool(sent)
		it.emailDone = sent || emailRes.skipped
		a.EmailSent = sent
		if emailRes.skipped {
			s.log.Debug("email skipped: guardian has no address", logx.String("alert", a.ID))
		}
	}
	if pushRes.invoked {
		sent := pushRes.err == nil && !pushRes.skipped
		upd.PushSent = store.Bool(sent)
		it.pushDone = sent || pushRes.skipped
		a.PushSent = sent
		if pushRes.skipped {
			s.log.Debug("push skipped: guardian has no token", logx.String("alert", a.ID))
		}
	}
	if upd.EmailSent != nil || upd.PushSent != nil {
		if err := s.store.UpdateAlertStatus(ctx, a.ID, upd); err != nil {
			s.log.Error("persisting delivery status failed", logx.String("alert", a.ID), logx.Err(err))
		}
	}

	failed := emailRes.err != nil || pushRes.err != nil
	if !failed {
		s.publish(eventbus.TypeAlertDelivered, a)
		return
	}

	s.mu.Lock()
	maxRetries := s.cfg.MaxRetries
	backoff := s.cfg.RetryBackoff
	jitter := s.cfg.RetryJitter
	s.mu.Unlock()

	if it.retries >= maxRetries {
		s.log.Warn("delivery retries exhausted; alert keeps partial flags",
			logx.String("alert", a.ID),
			logx.Int("retries", it.retries),
			logx.Err(firstErr(emailRes.err, pushRes.err)))
		s.publish(eventbus.TypeAlertExhausted, a)
		return
	}

	it.retries++
	delay := time.Duration(it.retries) * backoff
	if jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(jitter)))
	}
	it.notBefore = time.Now().Add(delay)

	s.log.Debug("delivery failed; re-enqueued",
		logx.String("alert", a.ID),
		logx.Int("retry", it.retries),
		logx.Duration("backoff", delay),
		logx.Err(firstErr(emailRes.err, pushRes.err)))

	s.mu.Lock()
	s.queue = append(s.queue, it)
	s.queuedIDs[a.ID] = struct{}{}
	s.mu.Unlock()
}

// AlertEvent is the bus payload for delivery lifecycle events.
type AlertEvent struct {
	AlertID   string         `json:"alert_id"`
	UserID    string         `json:"user_id"`
	Type      alert.Type     `json:"type"`
	Priority  alert.Priority `json:"priority"`
	EmailSent bool           `json:"email_sent"`
	PushSent  bool           `json:"push_sent"`
}

func (s *Service) publish(typ string, a *alert.Alert) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: AlertEvent{
		AlertID:   a.ID,
		UserID:    a.UserID,
		Type:      a.Type,
		Priority:  a.Priority,
		EmailSent: a.EmailSent,
		PushSent:  a.PushSent,
	}})
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
