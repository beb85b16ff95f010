// Package domain contains core domain types for the Videa training advisor.
package domain

import (
	"slices"
	"strings"
)

// Field names a profile attribute. Names match the JSON keys the extractor emits.
type Field string

const (
	FieldRole              Field = "role"
	FieldExperienceMonths  Field = "experience_months"
	FieldTeamSize          Field = "team_size"
	FieldIndustry          Field = "industry"
	FieldPrimaryChallenges Field = "primary_challenges"
	FieldLearningGoals     Field = "learning_goals"
	FieldHoursPerWeek      Field = "time_available_hours_per_week"
	FieldEmotionalState    Field = "emotional_state"
	FieldUrgency           Field = "urgency"
)

// RequiredFields lists the fields that drive completion, in the order questions are asked.
var RequiredFields = []Field{
	FieldRole,
	FieldExperienceMonths,
	FieldPrimaryChallenges,
	FieldLearningGoals,
}

// AllFields lists every known profile field.
var AllFields = []Field{
	FieldRole,
	FieldExperienceMonths,
	FieldTeamSize,
	FieldIndustry,
	FieldPrimaryChallenges,
	FieldLearningGoals,
	FieldHoursPerWeek,
	FieldEmotionalState,
	FieldUrgency,
}

// Profile holds the facts accumulated about a person during a conversation.
// Numeric fields are pointers because zero is a meaningful answer.
type Profile struct {
	Role              string   `json:"role,omitempty"`
	ExperienceMonths  *int     `json:"experience_months,omitempty"`
	TeamSize          *int     `json:"team_size,omitempty"`
	Industry          string   `json:"industry,omitempty"`
	PrimaryChallenges []string `json:"primary_challenges,omitempty"`
	LearningGoals     []string `json:"learning_goals,omitempty"`
	HoursPerWeek      *int     `json:"time_available_hours_per_week,omitempty"`
	EmotionalState    string   `json:"emotional_state,omitempty"`
	Urgency           string   `json:"urgency,omitempty"`
}

// Has reports whether the field carries a non-empty value.
func (p Profile) Has(f Field) bool {
	switch f {
	case FieldRole:
		return p.Role != ""
	case FieldExperienceMonths:
		return p.ExperienceMonths != nil
	case FieldTeamSize:
		return p.TeamSize != nil
	case FieldIndustry:
		return p.Industry != ""
	case FieldPrimaryChallenges:
		return len(p.PrimaryChallenges) > 0
	case FieldLearningGoals:
		return len(p.LearningGoals) > 0
	case FieldHoursPerWeek:
		return p.HoursPerWeek != nil
	case FieldEmotionalState:
		return p.EmotionalState != ""
	case FieldUrgency:
		return p.Urgency != ""
	}
	return false
}

// Missing returns the required fields that are still empty, in priority order.
func (p Profile) Missing() []Field {
	var out []Field
	for _, f := range RequiredFields {
		if !p.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// RequiredKnown reports whether every required field is filled.
func (p Profile) RequiredKnown() bool {
	return len(p.Missing()) == 0
}

// Completion returns the share of required fields that are filled, 0..100.
func (p Profile) Completion() int {
	known := len(RequiredFields) - len(p.Missing())
	pct := known * 100 / len(RequiredFields)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// IsEmpty reports whether no field is set.
func (p Profile) IsEmpty() bool {
	for _, f := range AllFields {
		if p.Has(f) {
			return false
		}
	}
	return true
}

// Number returns the integer value of a numeric field.
func (p Profile) Number(f Field) (int, bool) {
	var v *int
	switch f {
	case FieldExperienceMonths:
		v = p.ExperienceMonths
	case FieldTeamSize:
		v = p.TeamSize
	case FieldHoursPerWeek:
		v = p.HoursPerWeek
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Texts returns the textual values of a field: one element for scalar
// fields, every element for list fields, nil when unset or numeric.
func (p Profile) Texts(f Field) []string {
	var s string
	switch f {
	case FieldRole:
		s = p.Role
	case FieldIndustry:
		s = p.Industry
	case FieldEmotionalState:
		s = p.EmotionalState
	case FieldUrgency:
		s = p.Urgency
	case FieldPrimaryChallenges:
		return p.PrimaryChallenges
	case FieldLearningGoals:
		return p.LearningGoals
	}
	if s == "" {
		return nil
	}
	return []string{s}
}

// Merge applies a validated delta. Scalars are replaced only by a non-empty
// value; lists become an ordered, de-duplicated union. It returns the fields
// that changed.
func (p *Profile) Merge(delta Profile) []Field {
	var changed []Field
	mergeText := func(f Field, dst *string, v string) {
		if v != "" && v != *dst {
			*dst = v
			changed = append(changed, f)
		}
	}
	mergeNumber := func(f Field, dst **int, v *int) {
		if v == nil {
			return
		}
		if *dst != nil && **dst == *v {
			return
		}
		n := *v
		*dst = &n
		changed = append(changed, f)
	}
	mergeList := func(f Field, dst *[]string, v []string) {
		before := len(*dst)
		*dst = unionFold(*dst, v)
		if len(*dst) != before {
			changed = append(changed, f)
		}
	}

	mergeText(FieldRole, &p.Role, delta.Role)
	mergeNumber(FieldExperienceMonths, &p.ExperienceMonths, delta.ExperienceMonths)
	mergeNumber(FieldTeamSize, &p.TeamSize, delta.TeamSize)
	mergeText(FieldIndustry, &p.Industry, delta.Industry)
	mergeList(FieldPrimaryChallenges, &p.PrimaryChallenges, delta.PrimaryChallenges)
	mergeList(FieldLearningGoals, &p.LearningGoals, delta.LearningGoals)
	mergeNumber(FieldHoursPerWeek, &p.HoursPerWeek, delta.HoursPerWeek)
	mergeText(FieldEmotionalState, &p.EmotionalState, delta.EmotionalState)
	mergeText(FieldUrgency, &p.Urgency, delta.Urgency)
	return changed
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	c := p
	c.ExperienceMonths = cloneInt(p.ExperienceMonths)
	c.TeamSize = cloneInt(p.TeamSize)
	c.HoursPerWeek = cloneInt(p.HoursPerWeek)
	c.PrimaryChallenges = slices.Clone(p.PrimaryChallenges)
	c.LearningGoals = slices.Clone(p.LearningGoals)
	return c
}

// IntPtr is a convenience for building profiles with numeric fields.
func IntPtr(v int) *int {
	return &v
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// unionFold appends entries of add not already present in base, comparing case-insensitively.
func unionFold(base, add []string) []string {
	out := base
	for _, v := range add {
		if v == "" {
			continue
		}
		if slices.ContainsFunc(out, func(e string) bool { return strings.EqualFold(e, v) }) {
			continue
		}
		out = append(out, v)
	}
	return out
}
