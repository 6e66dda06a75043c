package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"nestwatch/internal/alert"
)

// Memory is an in-process Store used by tests and the "memory" driver.
// It mirrors the sqlite semantics, including FindAlertsForNotification's
// pending-delivery filter.
type Memory struct {
	mu     sync.Mutex
	alerts []*alert.Alert
	byID   map[string]*alert.Alert

	// CreateErr, when set, makes CreateAlert fail (persistence fault
	// injection in tests).
	CreateErr error
}

func NewMemory() *Memory {
	return &Memory{byID: map[string]*alert.Alert{}}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateAlert(_ context.Context, a *alert.Alert) (*alert.Alert, error) {
	if a == nil {
		return nil, errors.New("nil alert")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	cp := *a
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now().UTC()
	if cp.OccurredAt.IsZero() {
		cp.OccurredAt = cp.CreatedAt
	}
	m.alerts = append(m.alerts, &cp)
	m.byID[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (m *Memory) UpdateAlertStatus(_ context.Context, id string, upd StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if upd.EmailSent != nil {
		a.EmailSent = *upd.EmailSent
	}
	if upd.PushSent != nil {
		a.PushSent = *upd.PushSent
	}
	return nil
}

func (m *Memory) FindAlertsForNotification(_ context.Context) ([]*alert.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*alert.Alert
	for _, a := range m.alerts {
		needsEmail := (a.Priority == alert.PriorityHigh || a.Priority == alert.PriorityCritical) && !a.EmailSent
		needsPush := a.Priority != alert.PriorityLow && !a.PushSent
		if needsEmail || needsPush {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) CountUnread(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.alerts {
		if a.UserID == userID && !a.Read {
			n++
		}
	}
	return n, nil
}

// Alerts returns a snapshot of all persisted alerts (test helper).
func (m *Memory) Alerts() []*alert.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*alert.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// Get returns one alert by id (test helper).
func (m *Memory) Get(id string) (*alert.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}
