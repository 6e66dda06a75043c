// Package alert defines the durable Alert entity and the transient
// detector-produced Candidate that may be promoted into one.
package alert

import "time"

// Type identifies what kind of situation an alert describes.
// The string values are part of the persisted schema; do not rename.
type Type string

const (
	TypeKeywordMatch    Type = "keyword_match"
	TypeCallFrequency   Type = "call_frequency"
	TypeLongCall        Type = "long_call"
	TypeOddHourCall     Type = "odd_hour_call"
	TypeBlockedCalls    Type = "blocked_calls"
	TypeNightLocation   Type = "night_location"
	TypeSpeeding        Type = "speeding"
	TypeFarFromHome     Type = "far_from_home"
	TypeDangerZone      Type = "danger_zone"
	TypeSchoolAbsence   Type = "school_absence"
	TypeNightMedia      Type = "night_media"
	TypeDownloadedMedia Type = "downloaded_media"
	TypeLargeVideo      Type = "large_video"
)

// Priority orders alerts by urgency. Critical alerts are delivered inline,
// bypassing the queue.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns a comparable weight (higher = more urgent). Unknown
// priorities rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	default:
		return 0
	}
}

func (p Priority) Valid() bool { return p.Rank() > 0 }

// Candidate is a detector's unpersisted suggestion that an event is
// alert-worthy. It is either promoted into an Alert by the throttle gate
// or discarded; never stored as-is.
type Candidate struct {
	Type        Type
	Priority    Priority
	Title       string
	Description string
	Evidence    Evidence
	UserID      string
	DeviceID    string
	OccurredAt  time.Time
}

// Alert is the durable entity.
//
// Once created, Type/Priority/Evidence are immutable; only the Read,
// EmailSent and PushSent flags mutate (worker after delivery attempts,
// guardian API when marking read). Alerts are never deleted here;
// retention is a separate housekeeping job.
type Alert struct {
	ID          string
	UserID      string
	DeviceID    string
	Type        Type
	Priority    Priority
	Title       string
	Description string
	Evidence    Evidence
	Read        bool
	EmailSent   bool
	PushSent    bool
	OccurredAt  time.Time
	CreatedAt   time.Time
}

// FromCandidate builds an unpersisted Alert from an admitted candidate.
// The store assigns ID and CreatedAt.
func FromCandidate(c Candidate) *Alert {
	return &Alert{
		UserID:      c.UserID,
		DeviceID:    c.DeviceID,
		Type:        c.Type,
		Priority:    c.Priority,
		Title:       c.Title,
		Description: c.Description,
		Evidence:    c.Evidence,
		OccurredAt:  c.OccurredAt,
	}
}
