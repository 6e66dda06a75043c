package delivery

import (
	"time"

	"nestwatch/internal/alert"
)

// Config controls the delivery queue and worker.
//
// All durations come from Go duration strings in the config file.
type Config struct {
	// PollInterval is how long the worker sleeps when the queue is empty.
	PollInterval time.Duration
	// MaxRetries caps re-enqueues per item; after that the item is dropped
	// and the alert keeps whatever flags succeeded.
	MaxRetries int
	// RetryBackoff is the base delay before a retried item becomes
	// eligible again; the n-th retry waits n * RetryBackoff plus jitter.
	RetryBackoff time.Duration
	// RetryJitter is the maximum random addition to the backoff.
	RetryJitter time.Duration
	// RatePerSec bounds courier invocations across all channels.
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 30 * time.Second
	}
	if c.RetryJitter < 0 {
		c.RetryJitter = 0
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	return c
}

// item wraps a persisted alert for the lifetime of delivery processing.
// It exists only in memory; a restart loses the queue (the redelivery
// sweep re-discovers pending alerts from the store).
type item struct {
	alert      *alert.Alert
	retries    int
	enqueuedAt time.Time
	notBefore  time.Time

	// Channels already satisfied (or permanently skipped) in earlier
	// attempts; retries only re-invoke what actually failed.
	emailDone bool
	pushDone  bool
}

// needsEmail reports whether the email channel applies and is unsatisfied.
func (it *item) needsEmail() bool {
	p := it.alert.Priority
	return (p == alert.PriorityHigh || p == alert.PriorityCritical) && !it.emailDone
}

// needsPush reports whether the push channel applies and is unsatisfied.
func (it *item) needsPush() bool {
	return it.alert.Priority != alert.PriorityLow && !it.pushDone
}
