package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/macrolens/larder/internal/catalog"
	"github.com/macrolens/larder/internal/domain"
)

// MockCacheRepository is a mock implementation of domain.CacheRepository
type MockCacheRepository struct {
	data      map[string]interface{}
	getError  error
	setError  error
	getCalled bool
	setCalled bool
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{
		data: make(map[string]interface{}),
	}
}

func (m *MockCacheRepository) Get(ctx context.Context, key string) (interface{}, error) {
	m.getCalled = true
	if m.getError != nil {
		return nil, m.getError
	}
	if value, ok := m.data[key]; ok {
		return value, nil
	}
	return nil, domain.ErrCacheMiss
}

func (m *MockCacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.setCalled = true
	if m.setError != nil {
		return m.setError
	}
	m.data[key] = value
	return nil
}

func (m *MockCacheRepository) Delete(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *MockCacheRepository) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.data[key]
	return ok, nil
}

// MockFoodDatabase is a mock implementation of domain.FoodDatabase
type MockFoodDatabase struct {
	searchResults map[string]*domain.USDASearchResponse
	searchError   error
	details       map[int]*domain.USDAFood
	searches      []string
	detailCalls   int
}

func NewMockFoodDatabase() *MockFoodDatabase {
	return &MockFoodDatabase{
		searchResults: make(map[string]*domain.USDASearchResponse),
		details:       make(map[int]*domain.USDAFood),
	}
}

func (m *MockFoodDatabase) SearchFoods(ctx context.Context, query string) (*domain.USDASearchResponse, error) {
	m.searches = append(m.searches, query)
	if m.searchError != nil {
		return nil, m.searchError
	}
	if r, ok := m.searchResults[query]; ok {
		return r, nil
	}
	return nil, domain.ErrFoodNotFound
}

func (m *MockFoodDatabase) GetFoodDetails(ctx context.Context, fdcID int) (*domain.USDAFood, error) {
	m.detailCalls++
	if f, ok := m.details[fdcID]; ok {
		return f, nil
	}
	return nil, domain.ErrFoodNotFound
}

func tahiniResult() *domain.USDASearchResponse {
	return &domain.USDASearchResponse{Foods: []domain.USDAFood{
		{
			FdcID:       1,
			Description: "Tahini, sesame butter",
			DataType:    "SR Legacy",
			FoodMeasures: []domain.USDAFoodMeasure{
				{DisseminationText: "1 tbsp", GramWeight: 15, MeasureUnitName: "tablespoon", Rank: 1},
			},
		},
	}}
}

func newDensityService(cache domain.CacheRepository, foods domain.FoodDatabase) *DensityService {
	if foods == nil {
		return NewDensityService(catalog.Default(), cache, nil, nil, DensityServiceConfig{}, nil)
	}
	return NewDensityService(catalog.Default(), cache, foods, nil, DensityServiceConfig{}, nil)
}

func TestDensityService_CatalogNameFirst(t *testing.T) {
	foods := NewMockFoodDatabase()
	svc := newDensityService(NewMockCacheRepository(), foods)

	d, err := svc.Resolve(context.Background(), "baking", "all purpose flour")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 0.53 {
		t.Errorf("density = %v, want 0.53", d)
	}
	if len(foods.searches) != 0 {
		t.Errorf("searched USDA %d times, want 0", len(foods.searches))
	}
}

func TestDensityService_USDALookupIsCached(t *testing.T) {
	cache := NewMockCacheRepository()
	foods := NewMockFoodDatabase()
	foods.searchResults["tahini"] = tahiniResult()
	svc := newDensityService(cache, foods)
	ctx := context.Background()

	d, err := svc.Resolve(ctx, "condiments", "tahini")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 15 / 14.78676478125
	if math.Abs(d-want) > 1e-9 {
		t.Errorf("density = %v, want %v", d, want)
	}
	if cached, ok := cache.data["density:tahini"].(float64); !ok || math.Abs(cached-want) > 1e-9 {
		t.Errorf("cache entry = %v, want %v", cache.data["density:tahini"], want)
	}

	// Second call is served from the cache
	if _, err := svc.Resolve(ctx, "condiments", "tahini"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(foods.searches) != 1 {
		t.Errorf("searched USDA %d times, want 1", len(foods.searches))
	}
}

func TestDensityService_DetailsFallback(t *testing.T) {
	foods := NewMockFoodDatabase()
	foods.searchResults["tahini"] = &domain.USDASearchResponse{Foods: []domain.USDAFood{
		{FdcID: 7, Description: "Tahini", DataType: "Foundation"},
	}}
	foods.details[7] = &domain.USDAFood{
		FdcID: 7,
		FoodPortions: []domain.USDAFoodPortion{
			{Amount: 1, GramWeight: 240, MeasureUnit: domain.USDAMeasureUnit{Name: "cup"}},
		},
	}
	svc := newDensityService(nil, foods)

	d, err := svc.Resolve(context.Background(), "", "tahini")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(d-240/236.5882365) > 1e-9 {
		t.Errorf("density = %v, want %v", d, 240/236.5882365)
	}
	if foods.detailCalls != 1 {
		t.Errorf("detail calls = %d, want 1", foods.detailCalls)
	}
}

func TestDensityService_KeywordRetry(t *testing.T) {
	foods := NewMockFoodDatabase()
	foods.searchResults["tahini"] = tahiniResult()
	svc := newDensityService(nil, foods)

	// "tahini paste" finds nothing; the retry searches its first keyword.
	_, err := svc.Resolve(context.Background(), "", "tahini paste")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(foods.searches) != 2 || foods.searches[1] != "tahini" {
		t.Errorf("searches = %v, want retry with %q", foods.searches, "tahini")
	}
}

func TestDensityService_UnknownIsCachedAsZero(t *testing.T) {
	cache := NewMockCacheRepository()
	foods := NewMockFoodDatabase()
	svc := newDensityService(cache, foods)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "", "dragon scale")
	if !errors.Is(err, domain.ErrDensityUnknown) {
		t.Fatalf("error = %v, want ErrDensityUnknown", err)
	}
	if v, ok := cache.data["density:dragon scale"]; !ok || v != 0.0 {
		t.Errorf("cache entry = %v, want 0", v)
	}

	searches := len(foods.searches)
	_, _ = svc.Resolve(ctx, "", "dragon scale")
	if len(foods.searches) != searches {
		t.Error("expected cached unknown to skip USDA")
	}
}

func TestDensityService_TransientFailureNotCached(t *testing.T) {
	cache := NewMockCacheRepository()
	foods := NewMockFoodDatabase()
	foods.searchError = domain.ErrUSDAAPIFailure
	svc := newDensityService(cache, foods)

	_, err := svc.Resolve(context.Background(), "", "tahini")
	if !errors.Is(err, domain.ErrDensityUnknown) {
		t.Fatalf("error = %v, want ErrDensityUnknown", err)
	}
	if cache.setCalled {
		t.Error("transient USDA failure should not be cached")
	}
}

func TestDensityService_CategoryFallback(t *testing.T) {
	svc := newDensityService(nil, nil)

	d, err := svc.Resolve(context.Background(), "dairy", "kefir")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 1.03 {
		t.Errorf("density = %v, want 1.03 (dairy)", d)
	}

	_, err = svc.Resolve(context.Background(), "produce", "kohlrabi")
	if !errors.Is(err, domain.ErrDensityUnknown) {
		t.Errorf("error = %v, want ErrDensityUnknown", err)
	}
}

func TestDensityService_CacheErrorsIgnored(t *testing.T) {
	cache := NewMockCacheRepository()
	cache.getError = errors.New("cache down")
	cache.setError = errors.New("cache down")
	foods := NewMockFoodDatabase()
	foods.searchResults["tahini"] = tahiniResult()
	svc := newDensityService(cache, foods)

	if _, err := svc.Resolve(context.Background(), "", "tahini"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
