// Package pipeline wires telemetry ingestion to the alert pipeline:
// detectors evaluate each event, the throttle gate admits or suppresses
// the resulting candidates, admitted alerts are persisted and handed to
// delivery (inline for critical priority, queued otherwise).
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"nestwatch/internal/alert"
	"nestwatch/internal/delivery"
	"nestwatch/internal/detect"
	"nestwatch/internal/eventbus"
	"nestwatch/internal/telemetry"
	"nestwatch/internal/throttle"
	logx "nestwatch/pkg/logx"
)

// Settings are the detector-facing knobs, swappable on config reload.
type Settings struct {
	TZ           *time.Location
	CallLookback time.Duration
	Lexicon      *detect.Lexicon
	Zones        []detect.DangerZone
}

type Service struct {
	log logx.Logger
	bus eventbus.Bus

	detectors []detect.Detector
	gate      *throttle.Gate
	delivery  *delivery.Service
	hist      *history

	mu  sync.Mutex
	set Settings
}

func New(set Settings, detectors []detect.Detector, gate *throttle.Gate, del *delivery.Service, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if set.Lexicon == nil {
		set.Lexicon = detect.DefaultLexicon()
	}
	if set.CallLookback <= 0 {
		set.CallLookback = 24 * time.Hour
	}
	if set.TZ == nil {
		set.TZ = time.Local
	}
	return &Service{
		log:       log,
		bus:       bus,
		detectors: detectors,
		gate:      gate,
		delivery:  del,
		hist:      newHistory(),
		set:       set,
	}
}

// Apply swaps detector settings (config reload). History is kept.
func (s *Service) Apply(set Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set.Lexicon != nil {
		s.set.Lexicon = set.Lexicon
	}
	if set.TZ != nil {
		s.set.TZ = set.TZ
	}
	if set.CallLookback > 0 {
		s.set.CallLookback = set.CallLookback
	}
	s.set.Zones = set.Zones
}

// SubmitEvent is the collector boundary: evaluate one telemetry event and
// run any resulting candidates through admission and delivery.
//
// Suppression is silent (a bus event plus debug log). A persistence
// failure is returned to the caller; the affected candidate is lost and
// not retried here. Remaining candidates still get processed.
func (s *Service) SubmitEvent(ctx context.Context, ev *telemetry.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	set := s.set
	s.mu.Unlock()

	calls, fixes := s.hist.Snapshot(ev.UserID, ev.OccurredAt, set.CallLookback)
	dc := &detect.Context{
		TZ:           set.TZ,
		CallLookback: set.CallLookback,
		RecentCalls:  calls,
		RecentFixes:  fixes,
		Lexicon:      set.Lexicon,
		Zones:        set.Zones,
	}

	// Stamp the message risk score so downstream consumers see the same
	// number the keyword detector works from.
	if ev.Kind == telemetry.KindMessage && ev.RiskScore == 0 {
		sc := detect.ScoreMessage(ev.Message, set.Lexicon)
		ev.RiskScore = sc.Total
		for _, m := range sc.Matches {
			ev.Tags = append(ev.Tags, m.Term)
		}
	}

	var firstErr error
	for _, d := range s.detectors {
		for _, cand := range d.Detect(ev, dc) {
			if err := s.admit(ctx, cand); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	s.hist.Record(ev, set.CallLookback)
	return firstErr
}

func (s *Service) admit(ctx context.Context, cand alert.Candidate) error {
	a, err := s.gate.Admit(ctx, cand)
	if errors.Is(err, throttle.ErrSuppressed) {
		s.publish(eventbus.TypeAlertSuppressed, cand.UserID, string(cand.Type), "")
		return nil
	}
	if err != nil {
		s.log.Error("alert admission failed; candidate lost",
			logx.String("user", cand.UserID), logx.String("type", string(cand.Type)), logx.Err(err))
		return err
	}

	s.publish(eventbus.TypeAlertAdmitted, a.UserID, string(a.Type), a.ID)
	s.log.Info("alert admitted",
		logx.String("alert", a.ID),
		logx.String("user", a.UserID),
		logx.String("type", string(a.Type)),
		logx.String("priority", string(a.Priority)))

	if a.Priority == alert.PriorityCritical {
		// Critical alerts bypass the queue; couriers are invoked before
		// the admitting call returns.
		s.delivery.DeliverNow(ctx, a)
		return nil
	}
	s.delivery.Enqueue(a)
	return nil
}

// AdmissionEvent is the bus payload for admission lifecycle events.
type AdmissionEvent struct {
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	AlertID string `json:"alert_id,omitempty"`
}

func (s *Service) publish(typ, userID, alertType, alertID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: AdmissionEvent{
		UserID:  userID,
		Type:    alertType,
		AlertID: alertID,
	}})
}
