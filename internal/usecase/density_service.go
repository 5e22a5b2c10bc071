package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/macrolens/larder/internal/catalog"
	"github.com/macrolens/larder/internal/domain"
	"github.com/macrolens/larder/internal/infrastructure/usda"
	"github.com/macrolens/larder/internal/textnorm"
)

// DensityServiceConfig holds configuration for the density service
type DensityServiceConfig struct {
	CacheTTL           time.Duration
	EnableDebugLogging bool
}

// DensityService resolves grams per milliliter for an ingredient, used only
// when a recipe and a record measure the same food in mass and volume.
type DensityService struct {
	catalog      *catalog.Catalog
	cache        domain.CacheRepository
	foods        domain.FoodDatabase
	matcher      *MatchingService
	preprocessor *QueryPreprocessor
	cacheTTL     time.Duration
	debug        bool
	log          *zap.Logger
}

// NewDensityService creates a density service. cache and foods may be nil,
// in which case only the catalog is consulted.
func NewDensityService(
	cat *catalog.Catalog,
	cache domain.CacheRepository,
	foods domain.FoodDatabase,
	matcher *MatchingService,
	config DensityServiceConfig,
	log *zap.Logger,
) *DensityService {
	cacheTTL := config.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 720 * time.Hour // Default 30 days
	}
	if log == nil {
		log = zap.NewNop()
	}
	if matcher == nil {
		matcher = NewMatchingService(MatchConfig{}, log)
	}

	return &DensityService{
		catalog:      cat,
		cache:        cache,
		foods:        foods,
		matcher:      matcher,
		preprocessor: NewQueryPreprocessor(log, config.EnableDebugLogging),
		cacheTTL:     cacheTTL,
		debug:        config.EnableDebugLogging,
		log:          log,
	}
}

// Resolve looks up a density in order: catalog name table, cache, USDA
// FoodData Central, catalog category table. Lookup failures are never fatal;
// they surface as domain.ErrDensityUnknown.
func (s *DensityService) Resolve(ctx context.Context, category, name string) (float64, error) {
	if d, ok := s.catalog.DensityFor("", name); ok {
		return d, nil
	}

	if d, ok := s.lookupRemote(ctx, name); ok {
		return d, nil
	}

	if d, ok := s.catalog.DensityFor(category, ""); ok {
		return d, nil
	}
	return 0, fmt.Errorf("%w: %q", domain.ErrDensityUnknown, name)
}

// lookupRemote consults the cache, then USDA. A cached zero records that USDA
// had no usable measure, so the search is not repeated until it expires.
func (s *DensityService) lookupRemote(ctx context.Context, name string) (float64, bool) {
	query := s.preprocessor.PreprocessQuery(name)
	if query == "" {
		return 0, false
	}
	cacheKey := "density:" + textnorm.Normalize(query)

	if s.cache != nil {
		if value, err := s.cache.Get(ctx, cacheKey); err == nil {
			if d, ok := value.(float64); ok {
				return d, d > 0
			}
		}
	}

	if s.foods == nil {
		return 0, false
	}

	d, err := s.fromUSDA(ctx, name, query)
	switch {
	case err == nil:
		s.store(ctx, cacheKey, d)
		return d, true
	case errors.Is(err, domain.ErrFoodNotFound), errors.Is(err, domain.ErrDensityUnknown):
		s.store(ctx, cacheKey, 0)
	default:
		s.log.Warn("density lookup failed", zap.String("ingredient", name), zap.Error(err))
	}
	return 0, false
}

func (s *DensityService) fromUSDA(ctx context.Context, name, query string) (float64, error) {
	result, err := s.foods.SearchFoods(ctx, query)
	if errors.Is(err, domain.ErrFoodNotFound) {
		// Retry with the single most important word: "garlic cloves" -> "garlic"
		if keywords := s.preprocessor.ExtractFoodKeywords(query); len(keywords) > 1 {
			result, err = s.foods.SearchFoods(ctx, keywords[0])
		}
	}
	if err != nil {
		return 0, err
	}

	best, score, err := s.matcher.BestFood(ctx, name, result.Foods)
	if err != nil {
		return 0, err
	}
	if s.debug {
		s.log.Debug("usda match",
			zap.String("ingredient", name),
			zap.Int("fdc_id", best.FdcID),
			zap.String("description", best.Description),
			zap.Float64("score", score),
		)
	}

	if d, ok := usda.DensityFromFood(best, s.catalog); ok {
		return d, nil
	}

	// Search results omit portions for some data types; the details endpoint has them.
	details, err := s.foods.GetFoodDetails(ctx, best.FdcID)
	if err != nil {
		return 0, err
	}
	if d, ok := usda.DensityFromFood(details, s.catalog); ok {
		return d, nil
	}
	return 0, domain.ErrDensityUnknown
}

func (s *DensityService) store(ctx context.Context, key string, density float64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, density, s.cacheTTL); err != nil {
		s.log.Warn("density cache write failed", zap.String("key", key), zap.Error(err))
	}
}
