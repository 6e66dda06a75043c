// Package telemetry models the raw device events the pipeline consumes:
// calls, messages, location fixes and media items. Events are immutable,
// device-scoped and timestamped; collectors produce them, detectors read
// them.
package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindCall     Kind = "call"
	KindMessage  Kind = "message"
	KindLocation Kind = "location"
	KindMedia    Kind = "media"
)

// Event is one raw telemetry sample. Exactly one of the type-specific
// payloads is set, matching Kind.
type Event struct {
	Kind       Kind      `json:"kind"`
	UserID     string    `json:"user_id"`
	DeviceID   string    `json:"device_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`

	// RiskScore (0-100) and Tags are computed during ingestion; detectors
	// may refine them but collectors can pre-fill both.
	RiskScore int      `json:"risk_score,omitempty"`
	Tags      []string `json:"tags,omitempty"`

	Call     *Call     `json:"call,omitempty"`
	Message  *Message  `json:"message,omitempty"`
	Location *Location `json:"location,omitempty"`
	Media    *Media    `json:"media,omitempty"`
}

type Call struct {
	Number          string `json:"number"`
	Direction       string `json:"direction,omitempty"` // incoming | outgoing
	DurationSeconds int64  `json:"duration_seconds"`
	Blocked         bool   `json:"blocked,omitempty"`
	KnownContact    bool   `json:"known_contact,omitempty"`
}

type Message struct {
	Sender       string `json:"sender"`
	Body         string `json:"body"`
	KnownContact bool   `json:"known_contact,omitempty"`
}

type Location struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	AccuracyM  float64 `json:"accuracy_m,omitempty"`
	SpeedKMH   float64 `json:"speed_kmh,omitempty"`
}

type Media struct {
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type,omitempty"`
	Origin    string `json:"origin,omitempty"` // camera | downloaded | received
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Validate checks structural consistency: kind set, user set, timestamp set,
// and the payload matching the kind present.
func (e *Event) Validate() error {
	if e == nil {
		return errors.New("nil event")
	}
	if strings.TrimSpace(e.UserID) == "" {
		return errors.New("event user_id is empty")
	}
	if e.OccurredAt.IsZero() {
		return errors.New("event occurred_at is zero")
	}
	switch e.Kind {
	case KindCall:
		if e.Call == nil {
			return errors.New("call event missing call payload")
		}
	case KindMessage:
		if e.Message == nil {
			return errors.New("message event missing message payload")
		}
	case KindLocation:
		if e.Location == nil {
			return errors.New("location event missing location payload")
		}
	case KindMedia:
		if e.Media == nil {
			return errors.New("media event missing media payload")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// IsVideo reports whether the media item looks like a video file.
func (m *Media) IsVideo() bool {
	if m == nil {
		return false
	}
	if strings.HasPrefix(strings.ToLower(m.MimeType), "video/") {
		return true
	}
	name := strings.ToLower(m.FileName)
	for _, ext := range []string{".mp4", ".mkv", ".mov", ".avi", ".webm", ".3gp"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
