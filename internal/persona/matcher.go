// Package persona scores accumulated profiles against the catalog personas.
package persona

import (
	"strings"

	"github.com/ashureev/videa/internal/domain"
)

// Config holds the coverage threshold a winning persona must reach.
type Config struct {
	MinPredicates int
	MinWeight     int
}

// DefaultConfig requires three satisfied predicates worth at least 50 points.
func DefaultConfig() Config {
	return Config{MinPredicates: 3, MinWeight: 50}
}

// Score is the evaluation of one persona.
type Score struct {
	ProfileID string `json:"profile_id"`
	Score     int    `json:"score"`
	Satisfied int    `json:"satisfied"`
}

// Result describes the outcome of a match attempt.
type Result struct {
	Profile domain.ProfileDefinition
	Best    Score
	// BestEffort is set when the winner was chosen without reaching the threshold.
	BestEffort bool
	Scores     []Score
}

// Matcher is a pure function of the profile and the catalog personas.
type Matcher struct {
	profiles []domain.ProfileDefinition
	cfg      Config
}

// NewMatcher creates a matcher over personas in catalog declaration order.
func NewMatcher(profiles []domain.ProfileDefinition, cfg Config) *Matcher {
	return &Matcher{profiles: profiles, cfg: cfg}
}

// ScoreAll evaluates every persona, preserving declaration order.
func (m *Matcher) ScoreAll(p domain.Profile) []Score {
	scores := make([]Score, 0, len(m.profiles))
	for _, def := range m.profiles {
		s := Score{ProfileID: def.ID}
		for _, pred := range def.Predicates {
			if Satisfies(pred, p) {
				s.Score += pred.Weight
				s.Satisfied++
			}
		}
		scores = append(scores, s)
	}
	return scores
}

// Match picks the persona with the strictly highest score; on an exact tie the
// first declared wins. The match is accepted when the winner clears the
// threshold. With force set, the winner is returned as a best-effort match
// even below the threshold. ok is false when nothing was selected.
func (m *Matcher) Match(p domain.Profile, force bool) (Result, bool) {
	if len(m.profiles) == 0 {
		return Result{}, false
	}
	scores := m.ScoreAll(p)
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i].Score > scores[best].Score {
			best = i
		}
	}

	res := Result{
		Profile: m.profiles[best],
		Best:    scores[best],
		Scores:  scores,
	}
	if m.meetsThreshold(scores[best]) {
		return res, true
	}
	if force {
		res.BestEffort = true
		return res, true
	}
	return res, false
}

func (m *Matcher) meetsThreshold(s Score) bool {
	return s.Satisfied >= m.cfg.MinPredicates && s.Score >= m.cfg.MinWeight
}

// Satisfies evaluates one predicate against a profile. Unset fields never satisfy.
func Satisfies(pred domain.Predicate, p domain.Profile) bool {
	switch pred.Kind {
	case domain.KindRange:
		v, ok := p.Number(pred.Field)
		if !ok {
			return false
		}
		if pred.Min != nil && v < *pred.Min {
			return false
		}
		if pred.Max != nil && v > *pred.Max {
			return false
		}
		return true
	case domain.KindOneOf:
		for _, text := range p.Texts(pred.Field) {
			t := normalize(text)
			for _, want := range pred.Values {
				if t == normalize(want) {
					return true
				}
			}
		}
	case domain.KindContainsAny:
		for _, text := range p.Texts(pred.Field) {
			t := " " + normalize(text)
			for _, want := range pred.Values {
				// Values must start on a word boundary so "hr" does not match "chrome".
				if strings.Contains(t, " "+normalize(want)) {
					return true
				}
			}
		}
	}
	return false
}

// normalize lowercases and treats underscores and hyphens as spaces.
func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
