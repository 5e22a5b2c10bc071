package usecase

import (
	"errors"
	"fmt"

	"github.com/macrolens/larder/internal/catalog"
	"github.com/macrolens/larder/internal/domain"
)

// SizedCandidate is a match candidate expressed in its record's unit.
// Ratio is how many record units one requested unit equals; it is only
// meaningful when Consumable is true.
type SizedCandidate struct {
	Candidate  domain.MatchCandidate
	RecordUnit string
	Ratio      float64
	Density    float64
	Consumable bool
	Reason     string
}

// RecordID is a shorthand for the candidate's record id.
func (c SizedCandidate) RecordID() string {
	return c.Candidate.Record.RecordID
}

// DensityFunc returns grams per milliliter for an ingredient/record pair, or
// 0 when unknown.
type DensityFunc func(ingredient domain.RequiredIngredient, record domain.InventoryRecord) float64

// UnitConverter sizes match candidates against a requested unit.
type UnitConverter struct {
	catalog *catalog.Catalog
}

// NewUnitConverter creates a converter over the given catalog.
func NewUnitConverter(cat *catalog.Catalog) *UnitConverter {
	return &UnitConverter{catalog: cat}
}

// ToRecordUnit expresses quantity of the requested unit in the record's unit.
func (c *UnitConverter) ToRecordUnit(quantity float64, requestedUnit string, record domain.InventoryRecord, density float64) (float64, string, error) {
	unit, err := c.catalog.ResolveUnit(record.Category, record.Unit)
	if err != nil {
		return 0, "", err
	}
	converted, err := c.catalog.Convert(quantity, requestedUnit, unit.ID, density)
	if err != nil {
		return 0, "", err
	}
	return converted, unit.ID, nil
}

// NeedsDensity reports whether sizing record against unit crosses mass and
// volume, so a density must be resolved first.
func (c *UnitConverter) NeedsDensity(requestedUnit string, record domain.InventoryRecord) bool {
	from, err := c.catalog.DimensionOf(requestedUnit)
	if err != nil {
		return false
	}
	unit, err := c.catalog.ResolveUnit(record.Category, record.Unit)
	if err != nil {
		return false
	}
	return from != unit.Dimension && from != catalog.Count && unit.Dimension != catalog.Count
}

// Size converts every candidate. Candidates that cannot be converted stay in
// the result, marked non-consumable with a reason, so callers can report them.
func (c *UnitConverter) Size(ingredient domain.RequiredIngredient, candidates []domain.MatchCandidate, density DensityFunc) []SizedCandidate {
	sized := make([]SizedCandidate, 0, len(candidates))
	for _, cand := range candidates {
		entry := SizedCandidate{Candidate: cand, RecordUnit: cand.Record.Unit}

		unit, err := c.catalog.ResolveUnit(cand.Record.Category, cand.Record.Unit)
		if err != nil {
			entry.Reason = fmt.Sprintf("unknown unit %q", cand.Record.Unit)
			sized = append(sized, entry)
			continue
		}
		entry.RecordUnit = unit.ID

		if density != nil && c.NeedsDensity(ingredient.RequestedUnit, cand.Record) {
			entry.Density = density(ingredient, cand.Record)
		}

		ratio, _, err := c.ToRecordUnit(1, ingredient.RequestedUnit, cand.Record, entry.Density)
		switch {
		case errors.Is(err, domain.ErrInconvertible) && c.NeedsDensity(ingredient.RequestedUnit, cand.Record):
			entry.Reason = fmt.Sprintf("no known density to convert %s to %s", ingredient.RequestedUnit, unit.ID)
		case err != nil:
			entry.Reason = fmt.Sprintf("cannot convert %s to %s", ingredient.RequestedUnit, unit.ID)
		default:
			entry.Ratio = ratio
			entry.Consumable = true
		}
		sized = append(sized, entry)
	}
	return sized
}
