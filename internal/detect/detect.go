// Package detect holds the pure alert detectors. Each detector inspects one
// telemetry event plus read-only contextual history and yields zero or more
// alert candidates. Detectors are deterministic for identical input and do
// no I/O; side effects (persistence, throttling) belong to the caller.
package detect

import (
	"time"

	"nestwatch/internal/alert"
	"nestwatch/internal/telemetry"
)

type Detector interface {
	Name() string
	Detect(ev *telemetry.Event, dc *Context) []alert.Candidate
}

// CallRecord is a compact view of a historical call used for pattern checks.
type CallRecord struct {
	At           time.Time
	Number       string
	Blocked      bool
	KnownContact bool
}

// Fix is a compact view of a historical location sample.
type Fix struct {
	At       time.Time
	Lat      float64
	Lon      float64
	SpeedKMH float64
}

// Context is the read-only history handed to detectors alongside the event.
//
// Slices are ordered oldest-first and never include the event under
// evaluation. The caller bounds RecentCalls to CallLookback and RecentFixes
// to the cluster learning window.
type Context struct {
	TZ           *time.Location
	CallLookback time.Duration
	RecentCalls  []CallRecord
	RecentFixes  []Fix
	Lexicon      *Lexicon
	Zones        []DangerZone
}

func (dc *Context) tz() *time.Location {
	if dc == nil || dc.TZ == nil {
		return time.Local
	}
	return dc.TZ
}

// All returns the full detector set in evaluation order.
func All() []Detector {
	return []Detector{
		&KeywordDetector{},
		&CallPatternDetector{},
		&LocationDetector{},
		&MediaDetector{},
	}
}
