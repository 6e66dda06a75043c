// Package store persists alerts. The pipeline appends; only the delivery
// worker and the guardian read API mutate, and then only the read/
// email_sent/push_sent flags. Alerts are never deleted here.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"nestwatch/internal/alert"
	logx "nestwatch/pkg/logx"
)

var (
	ErrNotFound = errors.New("alert not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": process-local, for tests and dry runs
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// StatusUpdate carries the delivery flags to change. Nil fields are left
// untouched so partial delivery results don't clobber earlier successes.
type StatusUpdate struct {
	EmailSent *bool
	PushSent  *bool
}

// Store is the persistence contract the pipeline depends on.
type Store interface {
	// CreateAlert persists a new alert, assigning ID and CreatedAt.
	CreateAlert(ctx context.Context, a *alert.Alert) (*alert.Alert, error)
	// UpdateAlertStatus mutates delivery flags on an existing alert.
	UpdateAlertStatus(ctx context.Context, id string, upd StatusUpdate) error
	// FindAlertsForNotification returns alerts whose applicable delivery
	// flags are still false, oldest first (used by the redelivery sweep).
	FindAlertsForNotification(ctx context.Context) ([]*alert.Alert, error)
	// CountUnread reports how many alerts the guardian has not read yet.
	CountUnread(ctx context.Context, userID string) (int, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}

// Bool is a convenience for building StatusUpdate literals.
func Bool(v bool) *bool { return &v }
