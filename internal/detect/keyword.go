package detect

import (
	"fmt"
	"regexp"
	"strings"

	"nestwatch/internal/alert"
	"nestwatch/internal/telemetry"
)

// Scoring weights. The total is capped at ScoreCap.
const (
	pointsHighTier       = 25
	pointsMediumTier     = 15
	pointsLowTier        = 5
	pointsSpamSender     = 20
	pointsUnknownContact = 10
	pointsURL            = 10
	pointsUrgencyTerm    = 8

	// ScoreMedium is the minimum risk score that raises a candidate;
	// ScoreHigh promotes the candidate to high priority.
	ScoreMedium = 40
	ScoreHigh   = 70
	ScoreCap    = 100
)

var (
	urlRe = regexp.MustCompile(`(?i)(https?://|www\.)\S+`)
	// Short codes and premium-rate prefixes typical of spam senders.
	spamNumberRe = regexp.MustCompile(`^(\d{3,5}|0(300|900)\d{4,})$`)
	nonDigitRe   = regexp.MustCompile(`\D`)
)

// Score is the breakdown of a scored piece of text.
type Score struct {
	Total          int
	Matches        []alert.KeywordMatch
	UrgencyTerms   []string
	HasURL         bool
	SpamSender     bool
	UnknownContact bool
}

// ScoreMessage evaluates message text against the lexicon and sender
// heuristics. It is the single scoring path for free-text telemetry, so
// collectors stamping Event.RiskScore and the keyword detector agree.
func ScoreMessage(m *telemetry.Message, lex *Lexicon) Score {
	var sc Score
	if m == nil || lex == nil {
		return sc
	}
	text := strings.ToLower(m.Body)

	for _, term := range lex.High {
		if strings.Contains(text, term) {
			sc.Total += pointsHighTier
			sc.Matches = append(sc.Matches, alert.KeywordMatch{Term: term, Tier: "high"})
		}
	}
	for _, term := range lex.Medium {
		if strings.Contains(text, term) {
			sc.Total += pointsMediumTier
			sc.Matches = append(sc.Matches, alert.KeywordMatch{Term: term, Tier: "medium"})
		}
	}
	for _, term := range lex.Low {
		if strings.Contains(text, term) {
			sc.Total += pointsLowTier
			sc.Matches = append(sc.Matches, alert.KeywordMatch{Term: term, Tier: "low"})
		}
	}

	if IsSpamNumber(m.Sender) {
		sc.SpamSender = true
		sc.Total += pointsSpamSender
	}
	if !m.KnownContact {
		sc.UnknownContact = true
		sc.Total += pointsUnknownContact
	}
	if urlRe.MatchString(m.Body) {
		sc.HasURL = true
		sc.Total += pointsURL
	}
	for _, term := range lex.Urgency {
		if strings.Contains(text, term) {
			sc.UrgencyTerms = append(sc.UrgencyTerms, term)
			sc.Total += pointsUrgencyTerm
		}
	}

	if sc.Total > ScoreCap {
		sc.Total = ScoreCap
	}
	return sc
}

// IsSpamNumber reports whether a sender id looks like a short code or
// premium-rate number.
func IsSpamNumber(sender string) bool {
	digits := nonDigitRe.ReplaceAllString(sender, "")
	if digits == "" {
		return false
	}
	return spamNumberRe.MatchString(digits)
}

// KeywordDetector scans free message text against the tiered lexicon.
// Calls carry no text in our event model, so only message events apply.
type KeywordDetector struct{}

func (d *KeywordDetector) Name() string { return "keyword" }

func (d *KeywordDetector) Detect(ev *telemetry.Event, dc *Context) []alert.Candidate {
	if ev == nil || ev.Kind != telemetry.KindMessage || ev.Message == nil {
		return nil
	}
	if strings.TrimSpace(ev.Message.Body) == "" {
		return nil
	}
	lex := dc.Lexicon
	if lex == nil {
		lex = DefaultLexicon()
	}
	sc := ScoreMessage(ev.Message, lex)
	if sc.Total < ScoreMedium {
		return nil
	}

	prio := alert.PriorityMedium
	if sc.Total >= ScoreHigh {
		prio = alert.PriorityHigh
	}

	terms := make([]string, 0, len(sc.Matches))
	for _, m := range sc.Matches {
		terms = append(terms, m.Term)
	}
	desc := fmt.Sprintf("Message from %s scored %d/100", ev.Message.Sender, sc.Total)
	if len(terms) > 0 {
		desc += " (matched: " + strings.Join(terms, ", ") + ")"
	}

	return []alert.Candidate{{
		Type:        alert.TypeKeywordMatch,
		Priority:    prio,
		Title:       "Suspicious message content",
		Description: desc,
		Evidence: alert.KeywordEvidence{
			Channel: "message",
			Sender:  ev.Message.Sender,
			Excerpt: excerpt(ev.Message.Body, 140),
			Matches: sc.Matches,
			Score:   sc.Total,
		},
		UserID:     ev.UserID,
		DeviceID:   ev.DeviceID,
		OccurredAt: ev.OccurredAt,
	}}
}

func excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	// Cut on a rune boundary.
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
