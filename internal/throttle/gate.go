// Package throttle decides whether a candidate alert is admitted or
// suppressed, using a per-(user, alert type) sliding window plus cooldown.
//
// Window state is process-local and not persisted: a restart resets
// throttling, and multiple backend instances throttle independently. Both
// are accepted trade-offs; a shared window store would be needed for
// cross-instance consistency.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nestwatch/internal/alert"
	"nestwatch/internal/store"
	logx "nestwatch/pkg/logx"
)

// ErrSuppressed marks a deliberate throttle decision, not a failure.
// Suppressed candidates are dropped without persistence.
var ErrSuppressed = errors.New("candidate suppressed by throttle")

const windowSpan = time.Hour

// Rule caps one alert type for one user. Types without a rule are never
// throttled.
type Rule struct {
	MaxPerHour int
	Cooldown   time.Duration
}

type windowKey struct {
	userID string
	typ    alert.Type
}

// Gate admits or suppresses candidates. It is an injected value (not a
// package singleton) so pipelines and tests each own their state.
//
// All window mutation happens under one mutex: admissions for the same
// (user, type) are strictly ordered by arrival and never race past each
// other.
type Gate struct {
	mu      sync.Mutex
	rules   map[alert.Type]Rule
	windows map[windowKey][]time.Time

	clock Clock
	store store.Store
	log   logx.Logger
}

func NewGate(rules map[alert.Type]Rule, st store.Store, clock Clock, log logx.Logger) *Gate {
	if clock == nil {
		clock = SystemClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cp := make(map[alert.Type]Rule, len(rules))
	for t, r := range rules {
		cp[t] = r
	}
	return &Gate{
		rules:   cp,
		windows: map[windowKey][]time.Time{},
		clock:   clock,
		store:   st,
		log:     log,
	}
}

// SetRules swaps the rule table (config reload).
func (g *Gate) SetRules(rules map[alert.Type]Rule) {
	cp := make(map[alert.Type]Rule, len(rules))
	for t, r := range rules {
		cp[t] = r
	}
	g.mu.Lock()
	g.rules = cp
	g.mu.Unlock()
}

// Admit promotes a candidate into a persisted Alert, or returns
// ErrSuppressed when the sliding window or cooldown rejects it. Persistence
// failures are returned as-is; the candidate is lost and the caller must
// log it (the gate does not retry).
func (g *Gate) Admit(ctx context.Context, c alert.Candidate) (*alert.Alert, error) {
	if !c.Priority.Valid() {
		return nil, fmt.Errorf("candidate has invalid priority %q", c.Priority)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	rule, throttled := g.rules[c.Type]
	key := windowKey{userID: c.UserID, typ: c.Type}

	if throttled {
		win := pruneWindow(g.windows[key], now)
		g.windows[key] = win

		if rule.MaxPerHour > 0 && len(win) >= rule.MaxPerHour {
			g.log.Debug("candidate suppressed: hourly cap",
				logx.String("user", c.UserID), logx.String("type", string(c.Type)), logx.Int("window", len(win)))
			return nil, ErrSuppressed
		}
		if rule.Cooldown > 0 && len(win) > 0 {
			if last := win[len(win)-1]; now.Sub(last) < rule.Cooldown {
				g.log.Debug("candidate suppressed: cooldown",
					logx.String("user", c.UserID), logx.String("type", string(c.Type)), logx.Duration("since_last", now.Sub(last)))
				return nil, ErrSuppressed
			}
		}
	}

	a := alert.FromCandidate(c)
	created, err := g.store.CreateAlert(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("persist alert: %w", err)
	}

	if throttled {
		g.windows[key] = append(g.windows[key], now)
	}
	return created, nil
}

// Sweep drops window entries older than the trailing hour and removes keys
// left empty. It is administrative: Admit already prunes lazily, so sweep
// only bounds memory. Returns (entries pruned, keys removed).
func (g *Gate) Sweep() (pruned, removed int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	for key, win := range g.windows {
		kept := pruneWindow(win, now)
		pruned += len(win) - len(kept)
		if len(kept) == 0 {
			delete(g.windows, key)
			removed++
			continue
		}
		g.windows[key] = kept
	}
	return pruned, removed
}

// WindowLen reports the pruned window size for one key (diagnostics/tests).
func (g *Gate) WindowLen(userID string, typ alert.Type) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(pruneWindow(g.windows[windowKey{userID: userID, typ: typ}], g.clock.Now()))
}

// Keys reports how many (user, type) windows are currently tracked.
func (g *Gate) Keys() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.windows)
}

func pruneWindow(win []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-windowSpan)
	// Timestamps are appended in order; find the first still inside the hour.
	i := 0
	for i < len(win) && !win[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return win
	}
	kept := make([]time.Time, len(win)-i)
	copy(kept, win[i:])
	return kept
}
