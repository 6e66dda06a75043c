package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks the config for structural problems before it is applied.
// It does not reach the network; courier credentials are only checked for
// presence.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}

	if tz := strings.TrimSpace(c.Pipeline.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("pipeline.timezone: %w", err)
		}
	}
	durations := map[string]string{
		"storage.busy_timeout":     c.Storage.BusyTimeout,
		"pipeline.call_lookback":   c.Pipeline.CallLookback,
		"delivery.poll_interval":   c.Delivery.PollInterval,
		"delivery.retry_backoff":   c.Delivery.RetryBackoff,
		"delivery.retry_jitter":    c.Delivery.RetryJitter,
		"delivery.redeliver_every": c.Delivery.RedeliverEvery,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	for typ, r := range c.Throttle.Rules {
		if strings.TrimSpace(typ) == "" {
			return errors.New("throttle.rules: empty alert type key")
		}
		if r.MaxPerHour < 0 {
			return fmt.Errorf("throttle.rules.%s: max_per_hour must be >= 0", typ)
		}
		if r.CooldownMinutes < 0 {
			return fmt.Errorf("throttle.rules.%s: cooldown_minutes must be >= 0", typ)
		}
	}

	for i, z := range c.Pipeline.DangerZones {
		if strings.TrimSpace(z.Name) == "" {
			return fmt.Errorf("pipeline.danger_zones[%d]: name is required", i)
		}
		if len(z.Polygon) > 0 && len(z.Polygon) < 3 {
			return fmt.Errorf("pipeline.danger_zones[%d]: polygon needs at least 3 vertices", i)
		}
		if len(z.Polygon) == 0 && z.RadiusKM <= 0 {
			return fmt.Errorf("pipeline.danger_zones[%d]: radius_km or polygon is required", i)
		}
	}

	if e := c.Couriers.Email; e != nil && e.Enabled {
		if strings.TrimSpace(e.Host) == "" {
			return errors.New("couriers.email: host is required when enabled")
		}
		if strings.TrimSpace(e.From) == "" {
			return errors.New("couriers.email: from is required when enabled")
		}
		if _, err := ParseDurationField("couriers.email.timeout", e.Timeout); err != nil {
			return err
		}
	}
	if p := c.Couriers.Push; p != nil && p.Enabled {
		if strings.TrimSpace(p.Endpoint) == "" {
			return errors.New("couriers.push: endpoint is required when enabled")
		}
		if _, err := ParseDurationField("couriers.push.timeout", p.Timeout); err != nil {
			return err
		}
	}
	if t := c.Couriers.Telegram; t != nil && t.Enabled {
		if strings.TrimSpace(t.Token) == "" {
			return errors.New("couriers.telegram: token is required when enabled")
		}
		if _, err := ParseDurationField("couriers.telegram.timeout", t.Timeout); err != nil {
			return err
		}
	}

	seen := map[string]bool{}
	for i, g := range c.Guardians {
		id := strings.TrimSpace(g.UserID)
		if id == "" {
			return fmt.Errorf("guardians[%d]: user_id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("guardians[%d]: duplicate user_id %q", i, id)
		}
		seen[id] = true
	}

	if c.Ingest.Enabled && strings.TrimSpace(c.Ingest.SpoolDir) == "" {
		return errors.New("ingest.spool_dir is required when ingest is enabled")
	}

	return nil
}
