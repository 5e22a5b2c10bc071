package usda

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/macrolens/larder/internal/catalog"
	"github.com/macrolens/larder/internal/domain"
)

// Plausible grams per milliliter for kitchen ingredients. Values outside the
// range come from mislabelled measures.
const (
	minDensity = 0.05
	maxDensity = 3.0
)

// leadingAmountRegex reads "1", "0.5", "1/4" or "1 1/2" at the start of a
// measure description such as "1 cup, chopped".
var leadingAmountRegex = regexp.MustCompile(`^\s*(\d+\s+\d+/\d+|\d+/\d+|\d*\.?\d+)\s*`)

type volumeMeasure struct {
	rank   int
	grams  float64
	ml     float64
	source string
}

// DensityFromFood derives grams per milliliter from the first usable volume
// measure of a food: search-result measures by rank, then detail portions.
func DensityFromFood(food *domain.USDAFood, cat *catalog.Catalog) (float64, bool) {
	if food == nil {
		return 0, false
	}

	var candidates []volumeMeasure
	for _, m := range food.FoodMeasures {
		amount, rest := leadingAmount(m.DisseminationText)
		unit := firstNonEmpty(m.MeasureUnitName, m.MeasureUnitAbbreviation, rest)
		if ml, ok := volumeML(cat, unit, amount); ok && m.GramWeight > 0 {
			candidates = append(candidates, volumeMeasure{rank: m.Rank, grams: m.GramWeight, ml: ml, source: m.DisseminationText})
		}
	}
	for i, p := range food.FoodPortions {
		amount := p.Amount
		if amount <= 0 {
			amount = 1
		}
		unit := firstNonEmpty(p.MeasureUnit.Name, p.MeasureUnit.Abbreviation, p.Modifier)
		if ml, ok := volumeML(cat, unit, amount); ok && p.GramWeight > 0 {
			// Portions come after every ranked measure.
			candidates = append(candidates, volumeMeasure{rank: 1_000_000 + i, grams: p.GramWeight, ml: ml, source: p.PortionDescription})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].rank < candidates[j].rank })
	for _, c := range candidates {
		d := c.grams / c.ml
		if d >= minDensity && d <= maxDensity {
			return d, true
		}
	}
	return 0, false
}

// volumeML converts amount of a named unit to milliliters when the unit is a
// catalog volume unit. Only the first word(s) of descriptive text are tried.
func volumeML(cat *catalog.Catalog, unitText string, amount float64) (float64, bool) {
	if amount <= 0 {
		return 0, false
	}
	words := strings.Fields(strings.ToLower(strings.Split(unitText, ",")[0]))
	for n := min(len(words), cat.MaxAliasWords()); n >= 1; n-- {
		u, ok := cat.Lookup(strings.Join(words[:n], " "))
		if !ok {
			continue
		}
		if u.Dimension != catalog.Volume {
			return 0, false
		}
		ml, err := cat.ToBase(u.ID, amount)
		return ml, err == nil
	}
	return 0, false
}

// leadingAmount splits "1 1/2 cup, sliced" into 1.5 and "cup, sliced".
// Text without an amount counts as 1.
func leadingAmount(text string) (float64, string) {
	m := leadingAmountRegex.FindStringSubmatch(text)
	if m == nil {
		return 1, strings.TrimSpace(text)
	}
	total := 0.0
	for _, part := range strings.Fields(m[1]) {
		if num, den, ok := strings.Cut(part, "/"); ok {
			n, err1 := strconv.ParseFloat(num, 64)
			d, err2 := strconv.ParseFloat(den, 64)
			if err1 != nil || err2 != nil || d == 0 {
				return 0, ""
			}
			total += n / d
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0, ""
		}
		total += v
	}
	return total, strings.TrimSpace(text[len(m[0]):])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" && !strings.EqualFold(v, "undetermined") {
			return v
		}
	}
	return ""
}
