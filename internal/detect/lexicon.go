package detect

import "strings"

// Lexicon partitions watched keywords into risk tiers plus urgency terms.
// Terms are matched case-insensitively as substrings, so multi-word phrases
// are allowed.
type Lexicon struct {
	High    []string
	Medium  []string
	Low     []string
	Urgency []string
}

// DefaultLexicon is the built-in keyword set. Config may extend it with
// additional terms per tier.
//
// The mix of English and Portuguese reflects the deployments this grew out
// of; terms are lowercase by convention.
func DefaultLexicon() *Lexicon {
	return &Lexicon{
		High: []string{
			"maconha", "cocaine", "cocaína", "heroin", "weed", "smoke",
			"drugs", "droga", "overdose", "suicide", "suicídio",
			"kill myself", "se matar", "gun", "arma", "pills", "ecstasy",
		},
		Medium: []string{
			"meet", "meet up", "encontro", "party", "festa", "alone",
			"sozinho", "secret", "segredo", "vape", "beer", "cerveja",
			"drunk", "bêbado", "sneak out", "fugir",
		},
		Low: []string{
			"damn", "hell", "stupid", "idiot", "shut up", "droga!",
		},
		Urgency: []string{
			"now", "tonight", "hurry", "urgent", "quick", "don't tell",
			"agora", "hoje à noite", "rápido", "não conta",
		},
	}
}

// Extend appends extra terms (normalized to lowercase) to each tier.
func (l *Lexicon) Extend(high, medium, low, urgency []string) {
	l.High = append(l.High, lowerAll(high)...)
	l.Medium = append(l.Medium, lowerAll(medium)...)
	l.Low = append(l.Low, lowerAll(low)...)
	l.Urgency = append(l.Urgency, lowerAll(urgency)...)
}

func lowerAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
