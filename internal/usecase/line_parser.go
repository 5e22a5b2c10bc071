package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/macrolens/larder/internal/catalog"
	"github.com/macrolens/larder/internal/domain"
	"github.com/macrolens/larder/internal/textnorm"
)

// LineParser turns a free-text recipe line into a RequiredIngredient.
type LineParser struct {
	catalog            *catalog.Catalog
	log                *zap.Logger
	enableDebugLogging bool
}

// Compiled regex patterns for line parsing
var (
	// A single amount: mixed number "1 1/2", fraction "1/2", decimal "1.5" / ".5", integer "2"
	numberExpr = `\d+\s+\d+/\d+|\d+/\d+|\d*\.\d+|\d+`

	// Leading quantity with an optional range tail ("2-3", "2 to 3"); the range keeps its first value
	quantityPattern = regexp.MustCompile(`^(` + numberExpr + `)(?:\s*(?:-|–|to)\s*(?:` + numberExpr + `))?(?:\s+|$)`)

	// Number glued to a unit, e.g. "500g", "1.5kg"
	attachedUnitPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?|\d+/\d+)([a-z]+)\b`)

	// Notes in parentheses, e.g. "(about 2 lb)", "(optional)"
	parentheticalPattern = regexp.MustCompile(`\([^)]*\)`)

	// List bullets and dashes at the start of a line
	bulletPattern = regexp.MustCompile(`^[\s\-*•·]+`)

	// Serving hints that never belong to the name
	trailingHintPattern = regexp.MustCompile(`\b(?:to taste|for garnish|for serving|as needed|if desired|optional)\b.*$`)

	vulgarFractions = strings.NewReplacer(
		"½", " 1/2", "¼", " 1/4", "¾", " 3/4",
		"⅓", " 1/3", "⅔", " 2/3",
		"⅛", " 1/8", "⅜", " 3/8", "⅝", " 5/8", "⅞", " 7/8",
		"⁄", "/",
	)
)

// leadingQualifiers are preparation and size words dropped from the front of a
// name as long as at least one other word remains.
var leadingQualifiers = map[string]bool{
	"fresh": true, "freshly": true, "chopped": true, "diced": true,
	"minced": true, "sliced": true, "grated": true, "shredded": true,
	"finely": true, "roughly": true, "thinly": true, "coarsely": true,
	"large": true, "small": true, "medium": true, "heaping": true,
	"level": true, "packed": true, "softened": true, "melted": true,
	"cold": true, "warm": true, "room-temperature": true,
}

// NewLineParser creates a parser over the given unit catalog.
func NewLineParser(cat *catalog.Catalog, log *zap.Logger, enableDebugLogging bool) *LineParser {
	if log == nil {
		log = zap.NewNop()
	}
	return &LineParser{
		catalog:            cat,
		log:                log,
		enableDebugLogging: enableDebugLogging,
	}
}

// ParseLine extracts quantity, unit and canonical name. A line without a
// recognized unit is a count in "each"; a line without a number counts as 1.
// Lines that leave no name behind fail with *domain.ParseError.
func (p *LineParser) ParseLine(line string) (domain.RequiredIngredient, error) {
	text := p.cleanLine(line)
	if text == "" {
		return domain.RequiredIngredient{}, &domain.ParseError{Line: line, Reason: "empty line"}
	}

	quantity := 1.0
	unit := p.catalog.BaseUnit(catalog.Count)
	rest := text
	sawAmount := false

	if m := quantityPattern.FindStringSubmatch(text); m != nil {
		q, err := parseAmount(m[1])
		if err != nil {
			return domain.RequiredIngredient{}, &domain.ParseError{Line: line, Reason: err.Error()}
		}
		if q <= 0 {
			return domain.RequiredIngredient{}, &domain.ParseError{Line: line, Reason: "quantity must be positive"}
		}
		quantity = q
		rest = text[len(m[0]):]
		sawAmount = true
	} else if article, after, ok := strings.Cut(text, " "); ok && (article == "a" || article == "an") {
		rest = after
		sawAmount = true
	}

	if sawAmount {
		if u, remainder, ok := p.matchUnit(rest); ok {
			unit = u.ID
			rest = remainder
		}
		rest = strings.TrimPrefix(rest, "of ")
	}

	name := cleanName(rest)
	if !hasLetter(name) {
		return domain.RequiredIngredient{}, &domain.ParseError{Line: line, Reason: "no ingredient name"}
	}

	ingredient := domain.RequiredIngredient{
		RawText:           line,
		RequestedQuantity: quantity,
		RequestedUnit:     unit,
		CanonicalName:     name,
	}

	if p.enableDebugLogging {
		p.log.Debug("parsed ingredient line",
			zap.String("line", line),
			zap.Float64("quantity", quantity),
			zap.String("unit", unit),
			zap.String("name", name),
		)
	}

	return ingredient, nil
}

// cleanLine normalizes text and strips decorations that never carry meaning.
func (p *LineParser) cleanLine(line string) string {
	text := vulgarFractions.Replace(line)
	text = textnorm.Normalize(text)
	text = bulletPattern.ReplaceAllString(text, "")
	text = parentheticalPattern.ReplaceAllString(text, " ")

	// Trailing preparation clauses: "2 cups flour, sifted"
	if idx := strings.Index(text, ","); idx > 0 {
		text = text[:idx]
	}

	text = attachedUnitPattern.ReplaceAllString(text, "$1 $2")
	return strings.Join(strings.Fields(text), " ")
}

// matchUnit tries the longest catalog alias first so "fl oz" wins over "fl".
func (p *LineParser) matchUnit(rest string) (catalog.Unit, string, bool) {
	words := strings.Fields(rest)
	maxWords := p.catalog.MaxAliasWords()
	if maxWords > len(words) {
		maxWords = len(words)
	}

	for n := maxWords; n >= 1; n-- {
		if u, ok := p.catalog.Lookup(strings.Join(words[:n], " ")); ok {
			return u, strings.Join(words[n:], " "), true
		}
	}
	return catalog.Unit{}, rest, false
}

// cleanName drops serving hints and leading qualifiers.
func cleanName(s string) string {
	s = trailingHintPattern.ReplaceAllString(s, "")
	words := strings.Fields(s)
	for len(words) > 1 && leadingQualifiers[words[0]] {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

// parseAmount reads an integer, decimal, fraction or mixed number.
func parseAmount(s string) (float64, error) {
	parts := strings.Fields(s)
	total := 0.0
	for _, part := range parts {
		if num, den, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("bad fraction %q", part)
			}
			d, err := strconv.ParseFloat(den, 64)
			if err != nil || d == 0 {
				return 0, fmt.Errorf("bad fraction %q", part)
			}
			total += n / d
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q", part)
		}
		total += v
	}
	return total, nil
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
