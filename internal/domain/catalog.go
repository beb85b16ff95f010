package domain

// PredicateKind selects how a predicate tests a profile field.
type PredicateKind string

const (
	// KindOneOf is satisfied when a scalar field equals one of Values.
	KindOneOf PredicateKind = "one_of"
	// KindContainsAny is satisfied when any field value contains any of Values as a substring.
	KindContainsAny PredicateKind = "contains_any"
	// KindRange is satisfied when a numeric field lies within [Min, Max].
	KindRange PredicateKind = "range"
)

// Predicate is one weighted test a profile definition applies to a field.
type Predicate struct {
	Field  Field         `yaml:"field" json:"field"`
	Kind   PredicateKind `yaml:"kind" json:"kind"`
	Values []string      `yaml:"values,omitempty" json:"values,omitempty"`
	Min    *int          `yaml:"min,omitempty" json:"min,omitempty"`
	Max    *int          `yaml:"max,omitempty" json:"max,omitempty"`
	Weight int           `yaml:"weight" json:"weight"`
}

// ProfileDefinition is a persona from the catalog.
type ProfileDefinition struct {
	ID          string      `yaml:"id" json:"id"`
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description"`
	BundleID    string      `yaml:"bundle_id" json:"bundle_id"`
	Predicates  []Predicate `yaml:"predicates" json:"predicates"`
}

// MaxScore is the sum of every predicate weight.
func (d ProfileDefinition) MaxScore() int {
	total := 0
	for _, p := range d.Predicates {
		total += p.Weight
	}
	return total
}

// ContentItem is one video of a bundle.
type ContentItem struct {
	ID              string `yaml:"id" json:"id"`
	Title           string `yaml:"title" json:"title"`
	Description     string `yaml:"description,omitempty" json:"description,omitempty"`
	DurationMinutes int    `yaml:"duration_minutes" json:"duration_minutes"`
}

// ContentBundle is an ordered learning path.
type ContentBundle struct {
	ID          string        `yaml:"id" json:"id"`
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description" json:"description"`
	PathType    string        `yaml:"path_type" json:"path_type"`
	Items       []ContentItem `yaml:"items" json:"items"`
}

// TotalMinutes sums the item durations.
func (b ContentBundle) TotalMinutes() int {
	total := 0
	for _, it := range b.Items {
		total += it.DurationMinutes
	}
	return total
}
