package usecase

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/macrolens/larder/internal/domain"
	"github.com/macrolens/larder/internal/textnorm"
)

// Match score tiers. Exact beats containment beats any overlap, so candidates
// inside one tier are ordered purely by consumption preference.
const (
	scoreExact        = 100.0
	scoreContainment  = 75.0
	scoreQualified    = 65.0 // Record adds a non-descriptive word: "peanut butter" for "butter"
	scoreOverlapMax   = 50.0
	fuzzyWeightFactor = 0.8 // Fuzzy token matches count 80% of an exact token
)

// Description scoring used to pick a USDA food for density lookup.
const (
	weightFood              = 3.0 // Core food terms (milk, chicken, flour)
	weightDescriptive       = 2.0 // Descriptive terms (whole, raw, unsalted)
	weightDefault           = 1.0 // Everything else
	substringMatchBonus     = 10.0
	dataTypeFoundationBonus = 8.0 // Foundation foods carry the most reliable measures
	dataTypeSRLegacyBonus   = 6.0
	dataTypeSurveyBonus     = 4.0
)

// foodTerms contains high-importance food keywords
var foodTerms = map[string]bool{
	"chicken": true, "beef": true, "pork": true, "fish": true, "salmon": true,
	"turkey": true, "lamb": true, "shrimp": true, "tuna": true, "bacon": true,
	"milk": true, "cheese": true, "yogurt": true, "butter": true, "cream": true,
	"egg": true, "cheddar": true, "mozzarella": true, "parmesan": true,
	"bread": true, "rice": true, "pasta": true, "oat": true, "wheat": true,
	"flour": true, "sugar": true, "salt": true, "honey": true, "syrup": true,
	"oil": true, "vinegar": true, "apple": true, "banana": true, "lemon": true,
	"tomato": true, "potato": true, "onion": true, "garlic": true, "carrot": true,
	"spinach": true, "pepper": true, "corn": true, "bean": true, "water": true,
	"juice": true, "broth": true, "stock": true, "sauce": true, "chocolate": true,
}

// descriptiveTerms contains medium-importance descriptive keywords
var descriptiveTerms = map[string]bool{
	"whole": true, "skim": true, "reduced": true, "fat": true, "low": true,
	"nonfat": true, "fresh": true, "frozen": true, "canned": true, "dried": true,
	"raw": true, "cooked": true, "roasted": true, "smoked": true, "ground": true,
	"white": true, "brown": true, "granulated": true, "powdered": true,
	"unsweetened": true, "sweetened": true, "salted": true, "unsalted": true,
	"boneless": true, "skinless": true, "lean": true, "extra": true, "virgin": true,
	"purpose": true, "all": true, "heavy": true, "light": true,
}

// nameStopWords are dropped before comparing names: grammar words, units and
// packaging that inventory entries often carry ("Milk, 1 gallon carton").
var nameStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"of": true, "in": true, "on": true, "to": true, "for": true, "with": true,
	"oz": true, "fl": true, "lb": true, "lbs": true, "ml": true, "kg": true,
	"gallon": true, "quart": true, "pint": true, "liter": true, "litre": true,
	"gram": true, "ounce": true, "cup": true, "tbsp": true, "tsp": true,
	"pack": true, "count": true, "ct": true, "pk": true, "box": true,
	"bag": true, "bottle": true, "can": true, "carton": true, "jar": true,
	"tub": true, "container": true, "pouch": true, "each": true,
	"brand": true, "value": true, "family": true, "size": true,
}

// MatchConfig holds configuration for the matching service
type MatchConfig struct {
	// MinOverlapRatio is the fraction of ingredient tokens a record name must
	// share to be a candidate at all.
	MinOverlapRatio float64
	// MinConfidenceThreshold is the lowest description score accepted when
	// choosing a USDA food.
	MinConfidenceThreshold float64
	EnableFuzzyMatching    bool
	FuzzyEditDistance      int
	EnableDebugLogging     bool
}

// MatchingService maps ingredient names to inventory records and USDA foods.
type MatchingService struct {
	minOverlapRatio        float64
	minConfidenceThreshold float64
	enableFuzzyMatching    bool
	fuzzyEditDistance      int
	enableDebugLogging     bool
	log                    *zap.Logger
}

// NewMatchingService creates a new matching service with the given configuration
func NewMatchingService(config MatchConfig, log *zap.Logger) *MatchingService {
	ratio := config.MinOverlapRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}

	threshold := config.MinConfidenceThreshold
	if threshold <= 0 {
		threshold = 40.0
	}

	fuzzyDist := config.FuzzyEditDistance
	if fuzzyDist <= 0 {
		fuzzyDist = 1
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &MatchingService{
		minOverlapRatio:        ratio,
		minConfidenceThreshold: threshold,
		enableFuzzyMatching:    config.EnableFuzzyMatching,
		fuzzyEditDistance:      fuzzyDist,
		enableDebugLogging:     config.EnableDebugLogging,
		log:                    log,
	}
}

// FindCandidates scores every record against name and returns those above the
// overlap threshold, best first. Equal scores are ordered by earlier
// expiration, then earlier creation, then record id.
func (s *MatchingService) FindCandidates(
	ctx context.Context,
	name string,
	records []domain.InventoryRecord,
) ([]domain.MatchCandidate, error) {
	if strings.TrimSpace(name) == "" {
		return nil, domain.ErrInvalidRequest
	}

	var candidates []domain.MatchCandidate
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		score, kind, matched := s.scoreNames(name, record.Name)
		if s.enableDebugLogging {
			s.log.Debug("scored record",
				zap.String("ingredient", name),
				zap.String("record_id", record.RecordID),
				zap.String("record_name", record.Name),
				zap.Float64("score", score),
				zap.Strings("matched", matched),
			)
		}
		if score <= 0 {
			continue
		}

		candidates = append(candidates, domain.MatchCandidate{
			Record:        record,
			MatchScore:    score,
			Kind:          kind,
			MatchedTokens: matched,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].MatchScore != candidates[j].MatchScore {
			return candidates[i].MatchScore > candidates[j].MatchScore
		}
		return candidates[i].Record.ConsumeBefore(candidates[j].Record)
	})

	return candidates, nil
}

// scoreNames returns 0 when the record is not a candidate.
func (s *MatchingService) scoreNames(ingredient, recordName string) (float64, domain.MatchKind, []string) {
	a := textnorm.Normalize(ingredient)
	b := textnorm.Normalize(recordName)
	if a == "" || b == "" {
		return 0, "", nil
	}
	if a == b {
		return scoreExact, domain.MatchExact, nameTokens(a)
	}

	ingTokens := nameTokens(a)
	recTokens := nameTokens(b)
	if len(ingTokens) == 0 || len(recTokens) == 0 {
		return 0, "", nil
	}

	// Token-wise containment in either direction. A record name that only
	// narrows the ingredient with descriptors ("salted butter") keeps the full
	// score; one that names a different product ("peanut butter") ranks lower.
	if containsTokens(ingTokens, recTokens) {
		_, matched := findIntersection(ingTokens, recTokens)
		return scoreContainment, domain.MatchContainment, matched
	}
	if containsTokens(recTokens, ingTokens) {
		_, matched := findIntersection(ingTokens, recTokens)
		if onlyDescriptors(recTokens, ingTokens) {
			return scoreContainment, domain.MatchContainment, matched
		}
		return scoreQualified, domain.MatchContainment, matched
	}

	weight, matched := s.overlap(ingTokens, recTokens)
	ratio := weight / float64(len(ingTokens))
	if ratio < s.minOverlapRatio || len(matched) == 0 {
		return 0, "", nil
	}
	return scoreOverlapMax * ratio, domain.MatchOverlap, matched
}

// overlap sums per-token credit: 1 for an exact token, fuzzyWeightFactor for
// one within the configured edit distance.
func (s *MatchingService) overlap(ingTokens, recTokens []string) (float64, []string) {
	recSet := make(map[string]bool, len(recTokens))
	for _, t := range recTokens {
		recSet[t] = true
	}

	var weight float64
	var matched []string
	for _, t := range ingTokens {
		if recSet[t] {
			weight++
			matched = append(matched, t)
			continue
		}
		if !s.enableFuzzyMatching {
			continue
		}
		for _, r := range recTokens {
			if fuzzyTokenMatch(t, r, s.fuzzyEditDistance) {
				weight += fuzzyWeightFactor
				matched = append(matched, t)
				break
			}
		}
	}
	return weight, matched
}

// BestFood picks the USDA food whose description best describes name.
// It returns domain.ErrFoodNotFound when nothing clears the confidence threshold.
func (s *MatchingService) BestFood(ctx context.Context, name string, foods []domain.USDAFood) (*domain.USDAFood, float64, error) {
	if len(foods) == 0 {
		return nil, 0, domain.ErrFoodNotFound
	}

	var best *domain.USDAFood
	highest := -1.0
	for i := range foods {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		score, matched := s.scoreDescription(name, foods[i].Description, foods[i].DataType)
		if s.enableDebugLogging {
			s.log.Debug("scored usda food",
				zap.String("ingredient", name),
				zap.String("description", foods[i].Description),
				zap.String("data_type", foods[i].DataType),
				zap.Float64("score", score),
				zap.Strings("matched", matched),
			)
		}
		if score > highest {
			highest = score
			best = &foods[i]
		}
	}

	if best == nil || highest < s.minConfidenceThreshold {
		return best, highest, domain.ErrFoodNotFound
	}
	return best, highest, nil
}

// scoreDescription computes a 0-100 similarity between an ingredient name and a
// USDA description. Ingredient-token coverage dominates; description coverage
// and Jaccard similarity refine it. Food terms weigh more than descriptors.
func (s *MatchingService) scoreDescription(name, description, dataType string) (float64, []string) {
	ingTokens := nameTokens(name)
	descTokens := nameTokens(description)
	if len(ingTokens) == 0 || len(descTokens) == 0 {
		return 0, nil
	}

	descSet := make(map[string]bool, len(descTokens))
	for _, t := range descTokens {
		descSet[t] = true
	}

	var totalWeight, matchedWeight float64
	var matched []string
	for _, t := range ingTokens {
		w := tokenWeight(t)
		totalWeight += w
		if descSet[t] {
			matchedWeight += w
			matched = append(matched, t)
		}
	}
	coverage := matchedWeight / totalWeight

	descMatched, _ := findIntersection(descTokens, ingTokens)
	descCoverage := float64(descMatched) / float64(len(descTokens))
	jaccard := float64(len(matched)) / float64(findUnion(ingTokens, descTokens))

	score := (coverage*0.60 + descCoverage*0.20 + jaccard*0.20) * 100

	normName := textnorm.Normalize(name)
	normDesc := textnorm.Normalize(description)
	if len(normName) > 3 && strings.Contains(normDesc, normName) {
		score += substringMatchBonus
	}

	switch strings.ToLower(dataType) {
	case "foundation":
		score += dataTypeFoundationBonus
	case "sr legacy":
		score += dataTypeSRLegacyBonus
	case "survey (fndds)":
		score += dataTypeSurveyBonus
	}

	if score > 100 {
		score = 100
	}
	return score, matched
}

func tokenWeight(token string) float64 {
	switch {
	case foodTerms[token]:
		return weightFood
	case descriptiveTerms[token]:
		return weightDescriptive
	default:
		return weightDefault
	}
}

// nameTokens folds, splits and stems a name, dropping stop words and numbers.
func nameTokens(s string) []string {
	var tokens []string
	seen := make(map[string]bool)
	for _, word := range textnorm.Tokens(s) {
		if len(word) <= 1 || isNumeric(word) || nameStopWords[word] {
			continue
		}
		word = stem(word)
		if nameStopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		tokens = append(tokens, word)
	}
	return tokens
}

// stem strips the common English plural endings: berries, tomatoes, eggs.
func stem(word string) string {
	switch {
	case len(word) > 4 && strings.HasSuffix(word, "ies"):
		return strings.TrimSuffix(word, "ies") + "y"
	case len(word) > 4 && strings.HasSuffix(word, "oes"):
		return strings.TrimSuffix(word, "es")
	case len(word) > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		return strings.TrimSuffix(word, "s")
	}
	return word
}

// containsTokens reports whether every token of sub appears in set.
func containsTokens(set, sub []string) bool {
	have := make(map[string]bool, len(set))
	for _, t := range set {
		have[t] = true
	}
	for _, t := range sub {
		if !have[t] {
			return false
		}
	}
	return true
}

// onlyDescriptors reports whether every token of set missing from sub is a
// descriptive term.
func onlyDescriptors(set, sub []string) bool {
	have := make(map[string]bool, len(sub))
	for _, t := range sub {
		have[t] = true
	}
	for _, t := range set {
		if !have[t] && !descriptiveTerms[t] {
			return false
		}
	}
	return true
}

// isNumeric checks if a string contains only digits
func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// fuzzyTokenMatch checks if two tokens are similar within the edit distance threshold
func fuzzyTokenMatch(token1, token2 string, threshold int) bool {
	if token1 == token2 {
		return true
	}

	// Short tokens produce too many false positives
	if len(token1) < 4 || len(token2) < 4 {
		return false
	}

	lenDiff := len(token1) - len(token2)
	if lenDiff < 0 {
		lenDiff = -lenDiff
	}
	if lenDiff > threshold {
		return false
	}

	return levenshteinDistance(token1, token2) <= threshold
}

// levenshteinDistance calculates the edit distance between two strings
func levenshteinDistance(s1, s2 string) int {
	r1 := []rune(s1)
	r2 := []rune(s2)
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	// Two rows instead of the full matrix
	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(r2)]
}

// findIntersection returns the count of common tokens and the list of matched tokens
func findIntersection(tokens1, tokens2 []string) (int, []string) {
	set := make(map[string]bool)
	for _, t := range tokens1 {
		set[t] = true
	}

	var matched []string
	seen := make(map[string]bool)
	for _, t := range tokens2 {
		if set[t] && !seen[t] {
			matched = append(matched, t)
			seen[t] = true
		}
	}

	return len(matched), matched
}

// findUnion returns the count of unique tokens across both sets
func findUnion(tokens1, tokens2 []string) int {
	set := make(map[string]bool)
	for _, t := range tokens1 {
		set[t] = true
	}
	for _, t := range tokens2 {
		set[t] = true
	}
	return len(set)
}
