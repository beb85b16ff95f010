// Package profile turns free-text turns into structured profile facts and
// chooses the next question to ask.
package profile

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/ashureev/videa/internal/domain"
)

var errNoObject = errors.New("no JSON object found")

const (
	maxTextLen  = 100
	maxItemLen  = 200
	maxListSize = 20
)

// ParseDelta extracts a profile delta from raw model output. The body of a
// fenced code block is tried first, then the first JSON object anywhere in
// the output. Each field is validated on its own; invalid fields are dropped
// and reported.
func ParseDelta(raw string) (domain.Profile, []domain.Field, error) {
	var (
		obj map[string]json.RawMessage
		err error
	)
	if body, ok := fencedBody(raw); ok {
		obj, err = decodeObject(body)
	}
	if obj == nil {
		obj, err = decodeObject(raw)
	}
	if err != nil {
		return domain.Profile{}, nil, &domain.ExtractionParseError{Raw: raw, Err: err}
	}

	var (
		delta   domain.Profile
		dropped []domain.Field
	)
	for key, value := range obj {
		f := domain.Field(key)
		if isNull(value) {
			continue
		}
		if !applyField(&delta, f, value) {
			dropped = append(dropped, f)
		}
	}
	return delta, dropped, nil
}

// fencedBody returns the contents of the first ``` block, preferring one
// tagged json.
func fencedBody(raw string) (string, bool) {
	const fence = "```"
	start := strings.Index(strings.ToLower(raw), fence+"json")
	if start >= 0 {
		start += len(fence + "json")
	} else if start = strings.Index(raw, fence); start >= 0 {
		start += len(fence)
	} else {
		return "", false
	}
	body := raw[start:]
	if end := strings.Index(body, fence); end >= 0 {
		body = body[:end]
	}
	return body, true
}

func decodeObject(s string) (map[string]json.RawMessage, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, errNoObject
	}
	var obj map[string]json.RawMessage
	if err := json.NewDecoder(strings.NewReader(s[start:])).Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNoObject
	}
	return obj, nil
}

// applyField validates one field into delta. Unknown keys are ignored.
func applyField(delta *domain.Profile, f domain.Field, value json.RawMessage) bool {
	switch f {
	case domain.FieldRole:
		return text(value, maxTextLen, &delta.Role)
	case domain.FieldIndustry:
		return text(value, maxTextLen, &delta.Industry)
	case domain.FieldEmotionalState:
		return text(value, maxTextLen, &delta.EmotionalState)
	case domain.FieldUrgency:
		var u string
		if !text(value, maxTextLen, &u) {
			return false
		}
		switch u {
		case "high", "medium", "low":
			delta.Urgency = u
			return true
		}
		return false
	case domain.FieldExperienceMonths:
		return number(value, 0, 1200, &delta.ExperienceMonths)
	case domain.FieldTeamSize:
		return number(value, 0, 100000, &delta.TeamSize)
	case domain.FieldHoursPerWeek:
		return number(value, 0, 168, &delta.HoursPerWeek)
	case domain.FieldPrimaryChallenges:
		return list(value, &delta.PrimaryChallenges)
	case domain.FieldLearningGoals:
		return list(value, &delta.LearningGoals)
	}
	return true
}

func isNull(v json.RawMessage) bool {
	return strings.TrimSpace(string(v)) == "null"
}

func text(v json.RawMessage, limit int, dst *string) bool {
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return false
	}
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	if s == "" || len(s) > limit {
		return false
	}
	*dst = s
	return true
}

func number(v json.RawMessage, lo, hi int, dst **int) bool {
	var n float64
	if err := json.Unmarshal(v, &n); err != nil {
		return false
	}
	if math.IsNaN(n) || n < float64(lo) || n > float64(hi) {
		return false
	}
	i := int(math.Round(n))
	*dst = &i
	return true
}

func list(v json.RawMessage, dst *[]string) bool {
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return false
	}
	var out []string
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		s = strings.ToLower(strings.Join(strings.Fields(s), " "))
		if s == "" || len(s) > maxItemLen {
			continue
		}
		out = append(out, s)
		if len(out) == maxListSize {
			break
		}
	}
	if len(out) == 0 {
		return len(items) == 0
	}
	*dst = out
	return true
}
