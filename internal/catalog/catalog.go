// Package catalog loads the read-only persona and content bundle catalog.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/ashureev/videa/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type file struct {
	Profiles []domain.ProfileDefinition `yaml:"profiles"`
	Bundles  []domain.ContentBundle     `yaml:"bundles"`
}

// Catalog is immutable after load and safe for concurrent use without locking.
type Catalog struct {
	profiles []domain.ProfileDefinition
	byID     map[string]int
	bundles  map[string]domain.ContentBundle
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file. An empty path selects the embedded default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog. Unknown keys are rejected.
func Parse(data []byte) (*Catalog, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(f.Profiles, f.Bundles)
}

// New builds a validated catalog. Profiles keep their declaration order.
func New(profiles []domain.ProfileDefinition, bundles []domain.ContentBundle) (*Catalog, error) {
	c := &Catalog{
		profiles: profiles,
		byID:     make(map[string]int, len(profiles)),
		bundles:  make(map[string]domain.ContentBundle, len(bundles)),
	}
	for _, b := range bundles {
		if b.ID == "" {
			return nil, &domain.CatalogIntegrityError{Reason: "bundle without id"}
		}
		if _, dup := c.bundles[b.ID]; dup {
			return nil, &domain.CatalogIntegrityError{Reason: "duplicate bundle " + b.ID}
		}
		if len(b.Items) == 0 {
			return nil, &domain.CatalogIntegrityError{Reason: "bundle " + b.ID + " has no items"}
		}
		c.bundles[b.ID] = b
	}
	if len(profiles) == 0 {
		return nil, &domain.CatalogIntegrityError{Reason: "no profiles defined"}
	}
	for i, p := range profiles {
		if p.ID == "" {
			return nil, &domain.CatalogIntegrityError{Reason: fmt.Sprintf("profile #%d without id", i+1)}
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, &domain.CatalogIntegrityError{Reason: "duplicate profile " + p.ID}
		}
		if _, ok := c.bundles[p.BundleID]; !ok {
			return nil, &domain.CatalogIntegrityError{
				Reason: fmt.Sprintf("profile %s references missing bundle %q", p.ID, p.BundleID),
			}
		}
		for j, pred := range p.Predicates {
			if err := validatePredicate(pred); err != nil {
				return nil, &domain.CatalogIntegrityError{
					Reason: fmt.Sprintf("profile %s predicate #%d: %v", p.ID, j+1, err),
				}
			}
		}
		c.byID[p.ID] = i
	}
	return c, nil
}

func validatePredicate(p domain.Predicate) error {
	known := false
	for _, f := range domain.AllFields {
		if f == p.Field {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown field %q", p.Field)
	}
	if p.Weight <= 0 {
		return fmt.Errorf("weight must be positive, got %d", p.Weight)
	}
	switch p.Kind {
	case domain.KindOneOf, domain.KindContainsAny:
		if len(p.Values) == 0 {
			return fmt.Errorf("%s needs values", p.Kind)
		}
	case domain.KindRange:
		if p.Min == nil && p.Max == nil {
			return fmt.Errorf("range needs min or max")
		}
		if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
			return fmt.Errorf("range min %d > max %d", *p.Min, *p.Max)
		}
	default:
		return fmt.Errorf("unknown kind %q", p.Kind)
	}
	return nil
}

// Profiles returns the persona definitions in declaration order.
func (c *Catalog) Profiles() []domain.ProfileDefinition {
	return c.profiles
}

// Profile looks up a persona by id.
func (c *Catalog) Profile(id string) (domain.ProfileDefinition, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.ProfileDefinition{}, false
	}
	return c.profiles[i], true
}

// Bundle looks up a content bundle by id.
func (c *Catalog) Bundle(id string) (domain.ContentBundle, bool) {
	b, ok := c.bundles[id]
	return b, ok
}

// BundleFor resolves the recommended bundle of a matched persona.
func (c *Catalog) BundleFor(profileID string) (domain.ContentBundle, error) {
	p, ok := c.Profile(profileID)
	if !ok {
		return domain.ContentBundle{}, &domain.CatalogIntegrityError{Reason: "unknown profile " + profileID}
	}
	b, ok := c.bundles[p.BundleID]
	if !ok {
		return domain.ContentBundle{}, &domain.CatalogIntegrityError{
			Reason: fmt.Sprintf("profile %s references missing bundle %q", p.ID, p.BundleID),
		}
	}
	return b, nil
}

// Counts reports how many personas and bundles are loaded.
func (c *Catalog) Counts() (profiles, bundles int) {
	return len(c.profiles), len(c.bundles)
}
