package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nestwatch/internal/alert"
	logx "nestwatch/pkg/logx"
)

// PushConfig configures the HTTP push courier (an FCM-style gateway that
// accepts a device/guardian token plus a payload).
type PushConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

type pushPayload struct {
	Token    string `json:"token"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Priority string `json:"priority"`
	AlertID  string `json:"alert_id"`
	Type     string `json:"type"`
}

// PushCourier posts alert notifications to an HTTP push gateway.
type PushCourier struct {
	cfg  PushConfig
	http *http.Client
	log  logx.Logger
}

func NewPush(cfg PushConfig, log logx.Logger) (*PushCourier, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("push endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCourierTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PushCourier{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}, nil
}

func (c *PushCourier) Name() string { return "push" }

func (c *PushCourier) Deliver(ctx context.Context, r Recipient, a *alert.Alert) error {
	if strings.TrimSpace(r.PushToken) == "" {
		return ErrNoRecipient
	}

	body, err := json.Marshal(pushPayload{
		Token:    r.PushToken,
		Title:    a.Title,
		Body:     a.Description,
		Priority: string(a.Priority),
		AlertID:  a.ID,
		Type:     string(a.Type),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push gateway returned %s", resp.Status)
	}
	c.log.Debug("push delivered", logx.String("alert", a.ID))
	return nil
}
