package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"nestwatch/internal/alert"
	logx "nestwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreateAlert(ctx context.Context, a *alert.Alert) (*alert.Alert, error) {
	if a == nil {
		return nil, errors.New("nil alert")
	}
	cp := *a
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now().UTC()
	if cp.OccurredAt.IsZero() {
		cp.OccurredAt = cp.CreatedAt
	}

	evd, err := alert.MarshalEvidence(cp.Evidence)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts(id, user_id, device_id, type, priority, title, description, evidence,
		                    read, email_sent, push_sent, occurred_at, created_at)
		 VALUES(?,?,?,?,?,?,?,?,0,0,0,?,?)`,
		cp.ID, cp.UserID, nullStr(cp.DeviceID), string(cp.Type), string(cp.Priority),
		cp.Title, nullStr(cp.Description), nullBytes(evd),
		cp.OccurredAt.Format(time.RFC3339Nano), cp.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *sqliteStore) UpdateAlertStatus(ctx context.Context, id string, upd StatusUpdate) error {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if upd.EmailSent != nil {
		sets = append(sets, "email_sent = ?")
		args = append(args, boolInt(*upd.EmailSent))
	}
	if upd.PushSent != nil {
		sets = append(sets, "push_sent = ?")
		args = append(args, boolInt(*upd.PushSent))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE alerts SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) FindAlertsForNotification(ctx context.Context) ([]*alert.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, device_id, type, priority, title, description, evidence,
		        read, email_sent, push_sent, occurred_at, created_at
		 FROM alerts
		 WHERE (priority IN ('high','critical') AND email_sent = 0)
		    OR (priority != 'low' AND push_sent = 0)
		 ORDER BY created_at ASC
		 LIMIT 500`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE user_id = ? AND read = 0`, userID).Scan(&n)
	return n, err
}

func scanAlert(rows *sql.Rows) (*alert.Alert, error) {
	var (
		a                 alert.Alert
		deviceID, desc    sql.NullString
		evidence          []byte
		read, email, push int
		occurred, created string
	)
	if err := rows.Scan(&a.ID, &a.UserID, &deviceID, (*string)(&a.Type), (*string)(&a.Priority),
		&a.Title, &desc, &evidence, &read, &email, &push, &occurred, &created); err != nil {
		return nil, err
	}
	a.DeviceID = deviceID.String
	a.Description = desc.String
	a.Read = read != 0
	a.EmailSent = email != 0
	a.PushSent = push != 0

	var err error
	if a.OccurredAt, err = time.Parse(time.RFC3339Nano, occurred); err != nil {
		return nil, fmt.Errorf("parse occurred_at: %w", err)
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if a.Evidence, err = alert.UnmarshalEvidence(evidence); err != nil {
		return nil, err
	}
	return &a, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
