package detect

import (
	"fmt"
	"time"

	"nestwatch/internal/alert"
	"nestwatch/internal/telemetry"
)

const (
	callFrequencyThreshold = 10
	callFrequencyHigh      = 20
	longCallSeconds        = 3600
	blockedCallsThreshold  = 5

	// Calls before 06:00 or after 22:00 local time are flagged.
	callNightEndHour   = 6
	callNightStartHour = 22
)

// CallPatternDetector flags suspicious calling behavior: bursts from one
// number, unusually long calls, late-night calls, and repeated calls from
// blocked or unknown numbers. Each matched pattern yields its own candidate
// with its own evidence.
type CallPatternDetector struct{}

func (d *CallPatternDetector) Name() string { return "call_pattern" }

func (d *CallPatternDetector) Detect(ev *telemetry.Event, dc *Context) []alert.Candidate {
	if ev == nil || ev.Kind != telemetry.KindCall || ev.Call == nil {
		return nil
	}
	call := ev.Call
	windowHours := int(dc.lookback().Hours())

	// Counts include the call under evaluation.
	fromSame := 1
	unknown := 0
	if call.Blocked || !call.KnownContact {
		unknown = 1
	}
	for _, r := range dc.RecentCalls {
		if r.Number == call.Number {
			fromSame++
		}
		if r.Blocked || !r.KnownContact {
			unknown++
		}
	}

	var out []alert.Candidate

	if fromSame > callFrequencyThreshold {
		prio := alert.PriorityMedium
		if fromSame > callFrequencyHigh {
			prio = alert.PriorityHigh
		}
		out = append(out, alert.Candidate{
			Type:        alert.TypeCallFrequency,
			Priority:    prio,
			Title:       "Repeated calls from one number",
			Description: fmt.Sprintf("%d calls from %s in the last %dh", fromSame, call.Number, windowHours),
			Evidence: alert.CallPatternEvidence{
				Pattern:     "frequency",
				Number:      call.Number,
				Count:       fromSame,
				WindowHours: windowHours,
			},
			UserID:     ev.UserID,
			DeviceID:   ev.DeviceID,
			OccurredAt: ev.OccurredAt,
		})
	}

	if call.DurationSeconds > longCallSeconds {
		out = append(out, alert.Candidate{
			Type:        alert.TypeLongCall,
			Priority:    alert.PriorityMedium,
			Title:       "Unusually long call",
			Description: fmt.Sprintf("Call with %s lasted %s", call.Number, (time.Duration(call.DurationSeconds) * time.Second).String()),
			Evidence: alert.CallPatternEvidence{
				Pattern:         "long_duration",
				Number:          call.Number,
				DurationSeconds: call.DurationSeconds,
			},
			UserID:     ev.UserID,
			DeviceID:   ev.DeviceID,
			OccurredAt: ev.OccurredAt,
		})
	}

	if hour := ev.OccurredAt.In(dc.tz()).Hour(); hour < callNightEndHour || hour > callNightStartHour {
		out = append(out, alert.Candidate{
			Type:        alert.TypeOddHourCall,
			Priority:    alert.PriorityLow,
			Title:       "Call at an odd hour",
			Description: fmt.Sprintf("Call with %s at %02d:00 local time", call.Number, hour),
			Evidence: alert.CallPatternEvidence{
				Pattern:   "odd_hour",
				Number:    call.Number,
				LocalHour: hour,
			},
			UserID:     ev.UserID,
			DeviceID:   ev.DeviceID,
			OccurredAt: ev.OccurredAt,
		})
	}

	if unknown > blockedCallsThreshold {
		out = append(out, alert.Candidate{
			Type:        alert.TypeBlockedCalls,
			Priority:    alert.PriorityMedium,
			Title:       "Many calls from blocked or unknown numbers",
			Description: fmt.Sprintf("%d calls from blocked/unknown numbers in the last %dh", unknown, windowHours),
			Evidence: alert.CallPatternEvidence{
				Pattern:     "blocked_unknown",
				Count:       unknown,
				WindowHours: windowHours,
			},
			UserID:     ev.UserID,
			DeviceID:   ev.DeviceID,
			OccurredAt: ev.OccurredAt,
		})
	}

	return out
}

func (dc *Context) lookback() time.Duration {
	if dc == nil || dc.CallLookback <= 0 {
		return 24 * time.Hour
	}
	return dc.CallLookback
}
