package config

// Config is the full daemon configuration. All duration fields are Go
// duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Pipeline PipelineConfig `json:"pipeline"`
	Throttle ThrottleConfig `json:"throttle"`
	Delivery DeliveryConfig `json:"delivery"`
	Couriers CouriersConfig `json:"couriers"`
	Ingest   IngestConfig   `json:"ingest"`

	// Guardians maps monitored users to the guardian contact that
	// receives their alerts.
	Guardians []GuardianConfig `json:"guardians"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the alert store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./nestwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PipelineConfig controls detector evaluation.
type PipelineConfig struct {
	// Timezone is the IANA zone used for local-hour checks (night calls,
	// school hours). Defaults to the system zone.
	Timezone string `json:"timezone,omitempty"`

	// CallLookback bounds the call history window used by the call
	// pattern detector. Default "24h".
	CallLookback string `json:"call_lookback,omitempty"`

	// Keywords extends the built-in lexicon per tier.
	Keywords KeywordsConfig `json:"keywords,omitempty"`

	DangerZones []DangerZoneConfig `json:"danger_zones,omitempty"`
}

type KeywordsConfig struct {
	High    []string `json:"high,omitempty"`
	Medium  []string `json:"medium,omitempty"`
	Low     []string `json:"low,omitempty"`
	Urgency []string `json:"urgency,omitempty"`
}

// DangerZoneConfig is either a circle (lat/lon/radius_km) or a polygon of
// [lat, lon] vertices. The polygon wins when both are given.
type DangerZoneConfig struct {
	Name     string       `json:"name"`
	Lat      float64      `json:"lat,omitempty"`
	Lon      float64      `json:"lon,omitempty"`
	RadiusKM float64      `json:"radius_km,omitempty"`
	Polygon  [][2]float64 `json:"polygon,omitempty"`
}

// ThrottleConfig maps alert types to their admission rules. Types absent
// from the table are never throttled.
type ThrottleConfig struct {
	Rules map[string]ThrottleRule `json:"rules,omitempty"`
}

type ThrottleRule struct {
	MaxPerHour      int `json:"max_per_hour"`
	CooldownMinutes int `json:"cooldown_minutes"`
}

// DeliveryConfig controls the queue worker.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "1s"
//   - max_retries: 3
//   - retry_backoff: "30s"
//   - retry_jitter: "5s"
//   - rate_per_sec: 5
//   - redeliver_every: "10m" (pending-alert sweep)
type DeliveryConfig struct {
	PollInterval   string `json:"poll_interval,omitempty"`
	MaxRetries     int    `json:"max_retries,omitempty"`
	RetryBackoff   string `json:"retry_backoff,omitempty"`
	RetryJitter    string `json:"retry_jitter,omitempty"`
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	RedeliverEvery string `json:"redeliver_every,omitempty"`
}

// CouriersConfig selects and configures the notification channels.
// Email serves high/critical alerts; exactly one of push/telegram serves
// the push channel (telegram wins when both are enabled).
type CouriersConfig struct {
	Email    *EmailCourierConfig    `json:"email,omitempty"`
	Push     *PushCourierConfig     `json:"push,omitempty"`
	Telegram *TelegramCourierConfig `json:"telegram,omitempty"`
}

type EmailCourierConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	From     string `json:"from"`
	StartTLS bool   `json:"starttls,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type PushCourierConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key,omitempty"` // do not log
	Timeout  string `json:"timeout,omitempty"`
}

type TelegramCourierConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"` // do not log
	Timeout string `json:"timeout,omitempty"`
}

// IngestConfig controls the spool-directory event reader. Collectors drop
// one JSON telemetry event per file into spool_dir.
type IngestConfig struct {
	Enabled  bool   `json:"enabled"`
	SpoolDir string `json:"spool_dir,omitempty"`
}

type GuardianConfig struct {
	UserID         string `json:"user_id"`
	Email          string `json:"email,omitempty"`
	PushToken      string `json:"push_token,omitempty"`
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`
}
