// Package catalog holds the static table of cooking units, the per-category
// unit rules and the density table used for mass/volume conversion.
//
// The table is embedded as YAML and loaded once; a Catalog is immutable after
// Load and safe for concurrent use.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/macrolens/larder/internal/domain"
	"github.com/macrolens/larder/internal/textnorm"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Dimension is a measurement category.
type Dimension string

const (
	Count  Dimension = "count"
	Mass   Dimension = "mass"
	Volume Dimension = "volume"
)

// DefaultCategory is used for records whose category is empty or unknown.
const DefaultCategory = "other"

// Unit is one named unit with its factor to the dimension's base unit.
type Unit struct {
	ID        string    `yaml:"id"`
	Factor    float64   `yaml:"factor"`
	Aliases   []string  `yaml:"aliases"`
	Dimension Dimension `yaml:"-"`
}

// CategoryRule lists which dimensions (and optionally which units) a food
// category may be recorded in. Dimensions[0] is the default dimension.
type CategoryRule struct {
	Name       string      `yaml:"name"`
	Dimensions []Dimension `yaml:"dimensions"`
	Units      []string    `yaml:"units"`
}

// DefaultDimension returns the dimension used when a record has no unit.
func (r CategoryRule) DefaultDimension() Dimension {
	if len(r.Dimensions) == 0 {
		return Count
	}
	return r.Dimensions[0]
}

type dimensionTable struct {
	Base  string `yaml:"base"`
	Units []Unit `yaml:"units"`
}

type catalogFile struct {
	Dimensions map[Dimension]dimensionTable `yaml:"dimensions"`
	Categories []CategoryRule               `yaml:"categories"`
	Densities  struct {
		Names      map[string]float64 `yaml:"names"`
		Categories map[string]float64 `yaml:"categories"`
	} `yaml:"densities"`
}

type densityEntry struct {
	name   string
	tokens []string
	value  float64
}

// Catalog is the loaded unit table.
type Catalog struct {
	units             map[string]Unit
	aliases           map[string]string
	bases             map[Dimension]string
	maxAliasWords     int
	categories        map[string]CategoryRule
	nameDensities     []densityEntry
	categoryDensities map[string]float64
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog. It panics if the embedded table is
// malformed, which can only happen through a bad edit of catalog.yaml.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Load(defaultCatalogYAML)
		if err != nil {
			panic(fmt.Sprintf("catalog: embedded table: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Load parses and validates a catalog table.
func Load(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{
		units:             make(map[string]Unit),
		aliases:           make(map[string]string),
		bases:             make(map[Dimension]string),
		categories:        make(map[string]CategoryRule),
		categoryDensities: make(map[string]float64),
	}

	for dim, table := range file.Dimensions {
		if dim != Count && dim != Mass && dim != Volume {
			return nil, fmt.Errorf("unknown dimension %q", dim)
		}
		for _, u := range table.Units {
			if u.Factor <= 0 {
				return nil, fmt.Errorf("unit %q: factor must be positive", u.ID)
			}
			u.Dimension = dim
			if err := c.addUnit(u); err != nil {
				return nil, err
			}
		}
		base, ok := c.units[table.Base]
		if !ok || base.Dimension != dim || base.Factor != 1 {
			return nil, fmt.Errorf("dimension %q: base unit %q must exist with factor 1", dim, table.Base)
		}
		c.bases[dim] = table.Base
	}
	for _, dim := range []Dimension{Count, Mass, Volume} {
		if _, ok := c.bases[dim]; !ok {
			return nil, fmt.Errorf("dimension %q missing", dim)
		}
	}

	for _, rule := range file.Categories {
		if err := c.addCategory(rule); err != nil {
			return nil, err
		}
	}
	if _, ok := c.categories[DefaultCategory]; !ok {
		return nil, fmt.Errorf("category %q missing", DefaultCategory)
	}

	for name, value := range file.Densities.Names {
		if value <= 0 {
			return nil, fmt.Errorf("density %q must be positive", name)
		}
		c.nameDensities = append(c.nameDensities, densityEntry{
			name:   textnorm.Normalize(name),
			tokens: textnorm.Tokens(name),
			value:  value,
		})
	}
	sort.Slice(c.nameDensities, func(i, j int) bool {
		a, b := c.nameDensities[i], c.nameDensities[j]
		if len(a.tokens) != len(b.tokens) {
			return len(a.tokens) > len(b.tokens)
		}
		return a.name < b.name
	})
	for name, value := range file.Densities.Categories {
		if value <= 0 {
			return nil, fmt.Errorf("density for category %q must be positive", name)
		}
		c.categoryDensities[strings.ToLower(name)] = value
	}

	return c, nil
}

func (c *Catalog) addUnit(u Unit) error {
	if _, dup := c.units[u.ID]; dup {
		return fmt.Errorf("duplicate unit %q", u.ID)
	}
	c.units[u.ID] = u
	for _, name := range append([]string{u.ID}, u.Aliases...) {
		key := aliasKey(name)
		if owner, dup := c.aliases[key]; dup && owner != u.ID {
			return fmt.Errorf("alias %q used by both %q and %q", name, owner, u.ID)
		}
		c.aliases[key] = u.ID
		if words := len(strings.Fields(key)); words > c.maxAliasWords {
			c.maxAliasWords = words
		}
	}
	return nil
}

func (c *Catalog) addCategory(rule CategoryRule) error {
	rule.Name = strings.ToLower(rule.Name)
	if len(rule.Dimensions) == 0 {
		return fmt.Errorf("category %q: at least one dimension required", rule.Name)
	}
	allowed := make(map[Dimension]bool, len(rule.Dimensions))
	for _, d := range rule.Dimensions {
		if _, ok := c.bases[d]; !ok {
			return fmt.Errorf("category %q: unknown dimension %q", rule.Name, d)
		}
		allowed[d] = true
	}
	for _, id := range rule.Units {
		u, ok := c.units[id]
		if !ok {
			return fmt.Errorf("category %q: unknown unit %q", rule.Name, id)
		}
		if !allowed[u.Dimension] {
			return fmt.Errorf("category %q: unit %q outside allowed dimensions", rule.Name, id)
		}
	}
	c.categories[rule.Name] = rule
	return nil
}

// aliasKey lower-cases a unit token, drops dots and collapses whitespace,
// so "Tbsp." and "fl. oz" resolve.
func aliasKey(s string) string {
	s = strings.ReplaceAll(strings.ToLower(s), ".", "")
	return strings.Join(strings.Fields(s), " ")
}

// MaxAliasWords is the longest alias measured in whitespace-separated words.
func (c *Catalog) MaxAliasWords() int {
	return c.maxAliasWords
}

// Lookup resolves a unit id or alias.
func (c *Catalog) Lookup(token string) (Unit, bool) {
	id, ok := c.aliases[aliasKey(token)]
	if !ok {
		return Unit{}, false
	}
	return c.units[id], true
}

func (c *Catalog) unit(name string) (Unit, error) {
	u, ok := c.Lookup(name)
	if !ok {
		return Unit{}, fmt.Errorf("%w: %q", domain.ErrUnknownUnit, name)
	}
	return u, nil
}

// BaseUnit returns the canonical unit of a dimension.
func (c *Catalog) BaseUnit(d Dimension) string {
	return c.bases[d]
}

// DimensionOf returns the dimension of a unit.
func (c *Catalog) DimensionOf(unit string) (Dimension, error) {
	u, err := c.unit(unit)
	if err != nil {
		return "", err
	}
	return u.Dimension, nil
}

// ToBase expresses quantity of unit in the dimension's base unit.
func (c *Catalog) ToBase(unit string, quantity float64) (float64, error) {
	u, err := c.unit(unit)
	if err != nil {
		return 0, err
	}
	return quantity * u.Factor, nil
}

// FromBase expresses a base-unit quantity in unit.
func (c *Catalog) FromBase(unit string, base float64) (float64, error) {
	u, err := c.unit(unit)
	if err != nil {
		return 0, err
	}
	return base / u.Factor, nil
}

// Convert converts quantity between two units. Mass and volume convert into
// each other only when density (grams per milliliter) is positive; every other
// cross-dimension pair is inconvertible.
func (c *Catalog) Convert(quantity float64, from, to string, density float64) (float64, error) {
	fu, err := c.unit(from)
	if err != nil {
		return 0, err
	}
	tu, err := c.unit(to)
	if err != nil {
		return 0, err
	}

	base := quantity * fu.Factor
	if fu.Dimension != tu.Dimension {
		switch {
		case density <= 0:
			return 0, fmt.Errorf("%w: %s to %s without a known density", domain.ErrInconvertible, fu.ID, tu.ID)
		case fu.Dimension == Mass && tu.Dimension == Volume:
			base = base / density
		case fu.Dimension == Volume && tu.Dimension == Mass:
			base = base * density
		default:
			return 0, fmt.Errorf("%w: %s to %s", domain.ErrInconvertible, fu.ID, tu.ID)
		}
	}
	return base / tu.Factor, nil
}

// Rule returns the unit rule for a category, falling back to DefaultCategory.
func (c *Catalog) Rule(category string) CategoryRule {
	if rule, ok := c.categories[strings.ToLower(strings.TrimSpace(category))]; ok {
		return rule
	}
	return c.categories[DefaultCategory]
}

// DefaultUnit is the base unit of the category's default dimension.
func (c *Catalog) DefaultUnit(category string) string {
	return c.bases[c.Rule(category).DefaultDimension()]
}

// AllowedUnits lists the unit ids a record of category may be stored in.
func (c *Catalog) AllowedUnits(category string) []string {
	rule := c.Rule(category)
	if len(rule.Units) > 0 {
		return append([]string(nil), rule.Units...)
	}
	allowed := make(map[Dimension]bool, len(rule.Dimensions))
	for _, d := range rule.Dimensions {
		allowed[d] = true
	}
	var out []string
	for id, u := range c.units {
		if allowed[u.Dimension] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ValidateRecordUnit checks that unit is known and permitted for category.
func (c *Catalog) ValidateRecordUnit(category, unit string) error {
	u, err := c.unit(unit)
	if err != nil {
		return err
	}
	for _, id := range c.AllowedUnits(category) {
		if id == u.ID {
			return nil
		}
	}
	return fmt.Errorf("%w: %q for category %q", domain.ErrUnitNotAllowed, u.ID, c.Rule(category).Name)
}

// ResolveUnit maps a record's unit to its canonical id, defaulting empty
// units from the category rule.
func (c *Catalog) ResolveUnit(category, unit string) (Unit, error) {
	if strings.TrimSpace(unit) == "" {
		unit = c.DefaultUnit(category)
	}
	return c.unit(unit)
}

// DensityFor returns grams per milliliter for an ingredient. Name entries are
// matched token-wise; the category entry is the fallback.
func (c *Catalog) DensityFor(category, name string) (float64, bool) {
	tokens := make(map[string]bool)
	for _, t := range textnorm.Tokens(name) {
		tokens[t] = true
		if len(t) > 3 && strings.HasSuffix(t, "s") {
			tokens[strings.TrimSuffix(t, "s")] = true
		}
	}
	if len(tokens) > 0 {
		for _, entry := range c.nameDensities {
			if containsAll(tokens, entry.tokens) {
				return entry.value, true
			}
		}
	}
	if v, ok := c.categoryDensities[strings.ToLower(strings.TrimSpace(category))]; ok {
		return v, true
	}
	return 0, false
}

func containsAll(set map[string]bool, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if !set[t] {
			return false
		}
	}
	return true
}
