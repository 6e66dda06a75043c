package alert

import (
	"strings"
	"testing"
)

func TestEvidenceRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Evidence
	}{
		{"keyword", KeywordEvidence{
			Channel: "message",
			Sender:  "+5511999990000",
			Matches: []KeywordMatch{{Term: "maconha", Tier: "high"}},
			Score:   83,
		}},
		{"call pattern", CallPatternEvidence{Pattern: "frequency", Number: "123", Count: 11, WindowHours: 24}},
		{"location", LocationEvidence{Lat: -23.55, Lon: -46.63, Zone: "riverside"}},
		{"media", MediaEvidence{FileName: "clip.mp4", SizeBytes: 1 << 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := MarshalEvidence(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			out, err := UnmarshalEvidence(b)
			if err != nil {
				t.Fatal(err)
			}
			if out.EvidenceKind() != tt.in.EvidenceKind() {
				t.Fatalf("kind = %s, want %s", out.EvidenceKind(), tt.in.EvidenceKind())
			}
		})
	}
}

func TestEvidenceNilRoundTrip(t *testing.T) {
	b, err := MarshalEvidence(nil)
	if err != nil || b != nil {
		t.Fatalf("MarshalEvidence(nil) = (%v, %v)", b, err)
	}
	out, err := UnmarshalEvidence(nil)
	if err != nil || out != nil {
		t.Fatalf("UnmarshalEvidence(nil) = (%v, %v)", out, err)
	}
}

func TestEvidenceUnknownKind(t *testing.T) {
	_, err := UnmarshalEvidence([]byte(`{"kind":"mystery","data":{}}`))
	if err == nil || !strings.Contains(err.Error(), "mystery") {
		t.Fatalf("err = %v, want unknown kind error", err)
	}
}

func TestEvidenceConcreteType(t *testing.T) {
	b, err := MarshalEvidence(KeywordEvidence{Score: 42})
	if err != nil {
		t.Fatal(err)
	}
	out, err := UnmarshalEvidence(b)
	if err != nil {
		t.Fatal(err)
	}
	ev, ok := out.(KeywordEvidence)
	if !ok {
		t.Fatalf("type = %T, want KeywordEvidence value", out)
	}
	if ev.Score != 42 {
		t.Fatalf("Score = %d", ev.Score)
	}
}
