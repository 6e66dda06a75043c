package alert

import (
	"encoding/json"
	"fmt"
)

// Evidence is the structured payload backing an alert. Each alert type has
// a fixed evidence schema; the store treats the marshaled form as opaque.
type Evidence interface {
	EvidenceKind() string
}

// KeywordMatch records one lexicon hit inside scanned text.
type KeywordMatch struct {
	Term string `json:"term"`
	Tier string `json:"tier"` // high | medium | low
}

// KeywordEvidence backs keyword_match alerts raised from message or call text.
type KeywordEvidence struct {
	Channel string         `json:"channel"` // message | call
	Sender  string         `json:"sender,omitempty"`
	Excerpt string         `json:"excerpt,omitempty"`
	Matches []KeywordMatch `json:"matches,omitempty"`
	Score   int            `json:"score"`
}

func (KeywordEvidence) EvidenceKind() string { return "keyword" }

// CallPatternEvidence backs call_frequency, long_call, odd_hour_call and
// blocked_calls alerts. Only the fields relevant to the pattern are set.
type CallPatternEvidence struct {
	Pattern         string `json:"pattern"`
	Number          string `json:"number,omitempty"`
	Count           int    `json:"count,omitempty"`
	WindowHours     int    `json:"window_hours,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	LocalHour       int    `json:"local_hour,omitempty"`
}

func (CallPatternEvidence) EvidenceKind() string { return "call_pattern" }

// LocationEvidence backs location-derived alerts.
type LocationEvidence struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	DistanceKM float64 `json:"distance_km,omitempty"`
	SpeedKMH   float64 `json:"speed_kmh,omitempty"`
	Zone       string  `json:"zone,omitempty"`
	ClusterLat float64 `json:"cluster_lat,omitempty"`
	ClusterLon float64 `json:"cluster_lon,omitempty"`
	LocalHour  int     `json:"local_hour,omitempty"`
}

func (LocationEvidence) EvidenceKind() string { return "location" }

// MediaEvidence backs media-derived alerts.
type MediaEvidence struct {
	FileName  string `json:"file_name,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	Origin    string `json:"origin,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	LocalHour int    `json:"local_hour,omitempty"`
}

func (MediaEvidence) EvidenceKind() string { return "media" }

// evidenceEnvelope is the persisted wrapper: a kind tag plus the payload.
type evidenceEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalEvidence serializes evidence for storage. Nil evidence is legal
// and round-trips to nil.
func MarshalEvidence(ev Evidence) ([]byte, error) {
	if ev == nil {
		return nil, nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence payload: %w", err)
	}
	return json.Marshal(evidenceEnvelope{Kind: ev.EvidenceKind(), Data: data})
}

// UnmarshalEvidence restores evidence persisted by MarshalEvidence.
func UnmarshalEvidence(b []byte) (Evidence, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var env evidenceEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("unmarshal evidence envelope: %w", err)
	}
	var ev Evidence
	switch env.Kind {
	case "keyword":
		ev = &KeywordEvidence{}
	case "call_pattern":
		ev = &CallPatternEvidence{}
	case "location":
		ev = &LocationEvidence{}
	case "media":
		ev = &MediaEvidence{}
	default:
		return nil, fmt.Errorf("unknown evidence kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, fmt.Errorf("unmarshal %s evidence: %w", env.Kind, err)
	}
	switch v := ev.(type) {
	case *KeywordEvidence:
		return *v, nil
	case *CallPatternEvidence:
		return *v, nil
	case *LocationEvidence:
		return *v, nil
	case *MediaEvidence:
		return *v, nil
	}
	return nil, fmt.Errorf("unknown evidence kind %q", env.Kind)
}
