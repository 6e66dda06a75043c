package app

import (
	"time"

	"nestwatch/internal/alert"
	"nestwatch/internal/config"
	"nestwatch/internal/courier"
	"nestwatch/internal/delivery"
	"nestwatch/internal/detect"
	"nestwatch/internal/pipeline"
	"nestwatch/internal/store"
	"nestwatch/internal/throttle"
	logx "nestwatch/pkg/logx"
)

func storeConfig(c config.StorageConfig) (store.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy}, nil
}

func deliveryConfig(c config.DeliveryConfig) (delivery.Config, error) {
	poll, err := config.ParseDurationField("delivery.poll_interval", c.PollInterval)
	if err != nil {
		return delivery.Config{}, err
	}
	backoff, err := config.ParseDurationField("delivery.retry_backoff", c.RetryBackoff)
	if err != nil {
		return delivery.Config{}, err
	}
	jitter, err := config.ParseDurationField("delivery.retry_jitter", c.RetryJitter)
	if err != nil {
		return delivery.Config{}, err
	}
	return delivery.Config{
		PollInterval: poll,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: backoff,
		RetryJitter:  jitter,
		RatePerSec:   c.RatePerSec,
	}, nil
}

func throttleRules(c config.ThrottleConfig) map[alert.Type]throttle.Rule {
	rules := make(map[alert.Type]throttle.Rule, len(c.Rules))
	for typ, r := range c.Rules {
		rules[alert.Type(typ)] = throttle.Rule{
			MaxPerHour: r.MaxPerHour,
			Cooldown:   time.Duration(r.CooldownMinutes) * time.Minute,
		}
	}
	return rules
}

func pipelineSettings(c config.PipelineConfig) (pipeline.Settings, error) {
	set := pipeline.Settings{}

	if c.Timezone != "" {
		tz, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return set, err
		}
		set.TZ = tz
	}

	lookback, err := config.ParseDurationField("pipeline.call_lookback", c.CallLookback)
	if err != nil {
		return set, err
	}
	set.CallLookback = lookback

	lex := detect.DefaultLexicon()
	lex.Extend(c.Keywords.High, c.Keywords.Medium, c.Keywords.Low, c.Keywords.Urgency)
	set.Lexicon = lex

	set.Zones = zonesFromConfig(c.DangerZones)
	return set, nil
}

func zonesFromConfig(zones []config.DangerZoneConfig) []detect.DangerZone {
	out := make([]detect.DangerZone, 0, len(zones))
	for _, z := range zones {
		dz := detect.DangerZone{
			Name:     z.Name,
			Lat:      z.Lat,
			Lon:      z.Lon,
			RadiusKM: z.RadiusKM,
		}
		for _, v := range z.Polygon {
			dz.Polygon = append(dz.Polygon, detect.Point{Lat: v[0], Lon: v[1]})
		}
		out = append(out, dz)
	}
	return out
}

// buildCouriers constructs the email and push channels from config. The
// telegram courier takes the push slot when both it and the HTTP push
// gateway are enabled.
func buildCouriers(c config.CouriersConfig, log logx.Logger) (email, push courier.Courier, err error) {
	if e := c.Email; e != nil && e.Enabled {
		timeout, derr := config.ParseDurationField("couriers.email.timeout", e.Timeout)
		if derr != nil {
			return nil, nil, derr
		}
		email, err = courier.NewEmail(courier.SMTPConfig{
			Host:     e.Host,
			Port:     e.Port,
			Username: e.Username,
			Password: e.Password,
			From:     e.From,
			StartTLS: e.StartTLS,
			Timeout:  timeout,
		}, log.With(logx.String("comp", "courier.email")))
		if err != nil {
			return nil, nil, err
		}
	}

	if t := c.Telegram; t != nil && t.Enabled {
		timeout, derr := config.ParseDurationField("couriers.telegram.timeout", t.Timeout)
		if derr != nil {
			return nil, nil, derr
		}
		push, err = courier.NewTelegram(courier.TelegramConfig{
			Token:   t.Token,
			Timeout: timeout,
		}, log.With(logx.String("comp", "courier.telegram")))
		if err != nil {
			return nil, nil, err
		}
	} else if p := c.Push; p != nil && p.Enabled {
		timeout, derr := config.ParseDurationField("couriers.push.timeout", p.Timeout)
		if derr != nil {
			return nil, nil, derr
		}
		push, err = courier.NewPush(courier.PushConfig{
			Endpoint: p.Endpoint,
			APIKey:   p.APIKey,
			Timeout:  timeout,
		}, log.With(logx.String("comp", "courier.push")))
		if err != nil {
			return nil, nil, err
		}
	}

	return email, push, nil
}

func directoryFromConfig(guardians []config.GuardianConfig) courier.StaticDirectory {
	dir := make(courier.StaticDirectory, len(guardians))
	for _, g := range guardians {
		dir[g.UserID] = courier.Recipient{
			UserID:         g.UserID,
			Email:          g.Email,
			PushToken:      g.PushToken,
			TelegramChatID: g.TelegramChatID,
		}
	}
	return dir
}
