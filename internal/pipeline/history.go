package pipeline

import (
	"sync"
	"time"

	"nestwatch/internal/detect"
	"nestwatch/internal/telemetry"
)

// Hard caps so one noisy device cannot grow history without bound; the
// time-window pruning is the primary limit.
const (
	maxCallsPerUser = 1024
	maxFixesPerUser = 20000
)

// history keeps the per-user rolling context detectors read: recent calls
// within the call lookback and location fixes within the cluster learning
// window. It is process-local, like the throttle windows.
type history struct {
	mu    sync.Mutex
	calls map[string][]detect.CallRecord
	fixes map[string][]detect.Fix
}

func newHistory() *history {
	return &history{
		calls: map[string][]detect.CallRecord{},
		fixes: map[string][]detect.Fix{},
	}
}

// Record appends the event to the user's history. Call it after detection
// so the event under evaluation is not part of its own context.
func (h *history) Record(ev *telemetry.Event, lookback time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch ev.Kind {
	case telemetry.KindCall:
		recs := append(h.calls[ev.UserID], detect.CallRecord{
			At:           ev.OccurredAt,
			Number:       ev.Call.Number,
			Blocked:      ev.Call.Blocked,
			KnownContact: ev.Call.KnownContact,
		})
		h.calls[ev.UserID] = pruneCalls(recs, ev.OccurredAt.Add(-lookback))
	case telemetry.KindLocation:
		fx := append(h.fixes[ev.UserID], detect.Fix{
			At:       ev.OccurredAt,
			Lat:      ev.Location.Lat,
			Lon:      ev.Location.Lon,
			SpeedKMH: ev.Location.SpeedKMH,
		})
		h.fixes[ev.UserID] = pruneFixes(fx, ev.OccurredAt.Add(-detect.ClusterWindow))
	}
}

// Snapshot returns copies of the user's pruned history, oldest first.
func (h *history) Snapshot(userID string, now time.Time, lookback time.Duration) ([]detect.CallRecord, []detect.Fix) {
	h.mu.Lock()
	defer h.mu.Unlock()

	calls := pruneCalls(h.calls[userID], now.Add(-lookback))
	h.calls[userID] = calls
	fixes := pruneFixes(h.fixes[userID], now.Add(-detect.ClusterWindow))
	h.fixes[userID] = fixes

	cc := make([]detect.CallRecord, len(calls))
	copy(cc, calls)
	fc := make([]detect.Fix, len(fixes))
	copy(fc, fixes)
	return cc, fc
}

func pruneCalls(recs []detect.CallRecord, cutoff time.Time) []detect.CallRecord {
	i := 0
	for i < len(recs) && recs[i].At.Before(cutoff) {
		i++
	}
	recs = recs[i:]
	if len(recs) > maxCallsPerUser {
		recs = recs[len(recs)-maxCallsPerUser:]
	}
	return recs
}

func pruneFixes(fx []detect.Fix, cutoff time.Time) []detect.Fix {
	i := 0
	for i < len(fx) && fx[i].At.Before(cutoff) {
		i++
	}
	fx = fx[i:]
	if len(fx) > maxFixesPerUser {
		fx = fx[len(fx)-maxFixesPerUser:]
	}
	return fx
}
