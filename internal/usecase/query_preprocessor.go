package usecase

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/macrolens/larder/internal/textnorm"
)

// QueryPreprocessor turns ingredient and inventory names into USDA search queries.
type QueryPreprocessor struct {
	log                *zap.Logger
	enableDebugLogging bool
}

// Compiled regex patterns for query preprocessing
var (
	// Size/quantity patterns left on inventory names: "128 fl oz", "1.5 liter", "2 lb"
	sizeQuantityPattern = regexp.MustCompile(`\b\d+\.?\d*\s*(?:fl\s*)?(?:oz|ounces?|lbs?|pounds?|ml|liters?|litres?|gallons?|quarts?|pints?|kg|grams?|g)\b`)

	// Pack/count patterns: "12 pack", "pack of 6", "24 count", "6 ct"
	packCountPattern = regexp.MustCompile(`\b\d+[-\s]*(?:pack|pk|count|ct)\b|\bpack\s*of\s*\d+\b`)

	// Punctuation left alone between, before or after words
	orphanedPunctuationPattern = regexp.MustCompile(`\s+[,\-;:]+\s+`)
	trailingPunctuationPattern = regexp.MustCompile(`[,\-;:]+\s*$`)
	leadingPunctuationPattern  = regexp.MustCompile(`^\s*[,\-;:]+`)
)

// queryNoiseWords never help narrow a USDA search
var queryNoiseWords = map[string]bool{
	// Marketing terms
	"value": true, "family": true, "bonus": true, "new": true, "improved": true,
	"premium": true, "select": true, "choice": true, "quality": true,
	"great": true, "favorite": true, "special": true, "organic": true,

	// Size descriptors
	"size": true, "large": true, "medium": true, "small": true, "jumbo": true,

	// Packaging terms
	"package": true, "box": true, "bag": true, "bottle": true, "can": true,
	"jar": true, "tub": true, "carton": true, "pouch": true,

	// Kitchen preparation words
	"chopped": true, "diced": true, "minced": true, "sliced": true,
	"grated": true, "shredded": true, "softened": true, "melted": true,

	// Generic terms
	"food": true, "item": true, "product": true, "brand": true,
}

// maxQueryLength keeps queries within what the search API handles well.
const maxQueryLength = 100

// NewQueryPreprocessor creates a new query preprocessor
func NewQueryPreprocessor(log *zap.Logger, enableDebugLogging bool) *QueryPreprocessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &QueryPreprocessor{
		log:                log,
		enableDebugLogging: enableDebugLogging,
	}
}

// PreprocessQuery removes sizes, pack counts and noise words from name.
func (p *QueryPreprocessor) PreprocessQuery(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}

	cleaned := textnorm.Normalize(name)
	cleaned = sizeQuantityPattern.ReplaceAllString(cleaned, " ")
	cleaned = packCountPattern.ReplaceAllString(cleaned, " ")
	cleaned = removeNoiseWords(cleaned)
	cleaned = cleanOrphanedPunctuation(cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if len(cleaned) > maxQueryLength {
		cleaned = cleaned[:maxQueryLength]
		// Try to cut at word boundary
		if lastSpace := strings.LastIndex(cleaned, " "); lastSpace > maxQueryLength/2 {
			cleaned = cleaned[:lastSpace]
		}
	}

	if p.enableDebugLogging {
		p.log.Debug("preprocessed usda query", zap.String("input", name), zap.String("query", cleaned))
	}

	return cleaned
}

// ExtractFoodKeywords returns the tokens of text ordered by importance:
// food terms, then descriptors, then the rest.
func (p *QueryPreprocessor) ExtractFoodKeywords(text string) []string {
	var high, medium, low []string
	for _, token := range nameTokens(text) {
		switch tokenWeight(token) {
		case weightFood:
			high = append(high, token)
		case weightDescriptive:
			medium = append(medium, token)
		default:
			low = append(low, token)
		}
	}

	result := make([]string, 0, len(high)+len(medium)+len(low))
	result = append(result, high...)
	result = append(result, medium...)
	return append(result, low...)
}

func removeNoiseWords(s string) string {
	var kept []string
	for _, word := range strings.Fields(s) {
		if !queryNoiseWords[strings.Trim(word, ",.!?;:-'\"")] {
			kept = append(kept, word)
		}
	}
	return strings.Join(kept, " ")
}

func cleanOrphanedPunctuation(s string) string {
	s = orphanedPunctuationPattern.ReplaceAllString(s, " ")
	s = trailingPunctuationPattern.ReplaceAllString(s, "")
	return leadingPunctuationPattern.ReplaceAllString(s, "")
}
