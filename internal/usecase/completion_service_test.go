package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/macrolens/larder/internal/catalog"
	"github.com/macrolens/larder/internal/domain"
	"github.com/macrolens/larder/internal/infrastructure/store"
)

type countingObserver struct {
	mu        sync.Mutex
	outcomes  map[string]int
	depleted  int
	shortages int
	plans     int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{outcomes: make(map[string]int)}
}

func (o *countingObserver) ObservePlanDuration(time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.plans++
}

func (o *countingObserver) ObserveCompletion(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func (o *countingObserver) ObserveDepleted(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.depleted += n
}

func (o *countingObserver) ObserveShortfalls(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shortages += n
}

func inventoryRecord(id, name string, qty float64, unit, category string, expires int) domain.InventoryRecord {
	r := domain.InventoryRecord{
		RecordID:    id,
		HouseholdID: "h1",
		Name:        name,
		Quantity:    qty,
		Unit:        unit,
		Category:    category,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if expires > 0 {
		r.ExpirationDate = day(expires)
	}
	return r
}

func newTestService(t *testing.T, records ...domain.InventoryRecord) (*CompletionService, *store.MemoryStore, *countingObserver) {
	t.Helper()
	mem := store.NewMemoryStore(0)
	for _, r := range records {
		require.NoError(t, mem.PutRecord(context.Background(), r))
	}
	obs := newCountingObserver()
	svc := NewCompletionService(catalog.Default(), mem, nil, CompletionServiceConfig{}, zaptest.NewLogger(t),
		WithObserver(obs),
		WithTransactionOptions(WithClock(func() time.Time { return fixedNow }), WithIDGenerator(sequentialIDs())),
	)
	return svc, mem, obs
}

func quantityOf(t *testing.T, s domain.InventoryStore, id string) float64 {
	t.Helper()
	r, err := s.GetRecord(context.Background(), id)
	require.NoError(t, err)
	return r.Quantity
}

func TestCompletionService_SingleRecord(t *testing.T) {
	flour := inventoryRecord("r1", "flour", 3, "cup", "baking", 10)
	svc, mem, obs := newTestService(t, flour)

	resp, err := svc.Complete(context.Background(), domain.CompletionRequest{
		RecipeReference:   "pancakes",
		IngredientLines:   []string{"2 cups flour"},
		InventorySnapshot: []domain.InventoryRecord{flour},
	})
	require.NoError(t, err)

	require.Len(t, resp.Plans, 1)
	assert.True(t, resp.Plans[0].Satisfied())
	assert.Equal(t, []domain.AppliedAllocation{
		{RecordID: "r1", QuantityBefore: 3, QuantityAfter: 1, Unit: "cup"},
	}, resp.AllocationsApplied)
	assert.Empty(t, resp.Shortfalls)
	assert.Empty(t, resp.Conflicts)
	assert.InDelta(t, 1.0, quantityOf(t, mem, "r1"), 1e-9)

	trail, err := mem.ListAudit(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "pancakes", trail[0].RecipeReference)
	assert.Equal(t, resp.AuditEntries, trail)

	assert.Equal(t, 1, obs.outcomes[OutcomeApplied])
}

func TestCompletionService_FIFOAcrossRecords(t *testing.T) {
	early := inventoryRecord("r1", "chicken breast", 300, "g", "meat", 5)
	late := inventoryRecord("r2", "chicken breast", 400, "g", "meat", 20)
	svc, mem, obs := newTestService(t, early, late)

	resp, err := svc.Complete(context.Background(), domain.CompletionRequest{
		RecipeReference:   "chicken-dinner",
		IngredientLines:   []string{"500 g chicken breast"},
		InventorySnapshot: []domain.InventoryRecord{late, early},
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.AppliedAllocation{
		{RecordID: "r1", QuantityBefore: 300, QuantityAfter: 0, Unit: "g", Deleted: true},
		{RecordID: "r2", QuantityBefore: 400, QuantityAfter: 200, Unit: "g"},
	}, resp.AllocationsApplied)
	assert.Empty(t, resp.Shortfalls)

	_, err = mem.GetRecord(context.Background(), "r1")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	assert.InDelta(t, 200.0, quantityOf(t, mem, "r2"), 1e-9)
	assert.Equal(t, 1, obs.depleted)
}

func TestCompletionService_Unmatched(t *testing.T) {
	flour := inventoryRecord("r1", "flour", 3, "cup", "baking", 0)
	svc, _, _ := newTestService(t, flour)

	resp, err := svc.Complete(context.Background(), domain.CompletionRequest{
		RecipeReference:   "potion",
		IngredientLines:   []string{"1 dragon scale"},
		InventorySnapshot: []domain.InventoryRecord{flour},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"dragon scale"}, resp.UnmatchedIngredients)
	require.Len(t, resp.Plans, 1)
	assert.Empty(t, resp.Plans[0].Entries)
	assert.Empty(t, resp.AllocationsApplied)
	assert.Equal(t, []domain.ShortfallCandidate{
		{CanonicalName: "dragon scale", Quantity: 1, Unit: "each"},
	}, resp.Shortfalls)
}

func TestCompletionService_ConvertibleUnitsFollowExpiration(t *testing.T) {
	tests := []struct {
		name         string
		literExpires int
		cupsExpires  int
		want         string
	}{
		{"cups expire first", 12, 5, "cups"},
		{"liter expires first", 5, 12, "liter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			liter := inventoryRecord("liter", "milk", 1, "L", "dairy", tt.literExpires)
			cups := inventoryRecord("cups", "milk", 2, "cups", "dairy", tt.cupsExpires)
			svc, _, _ := newTestService(t)

			resp, err := svc.Plan(context.Background(), domain.CompletionRequest{
				IngredientLines:   []string{"200 ml milk"},
				InventorySnapshot: []domain.InventoryRecord{liter, cups},
			})
			require.NoError(t, err)
			require.Len(t, resp.Plans, 1)
			require.Len(t, resp.Plans[0].Entries, 1)
			assert.Equal(t, tt.want, resp.Plans[0].Entries[0].RecordID)
			assert.Empty(t, resp.UnusableCandidates)
		})
	}
}

func TestCompletionService_OverrideBeyondAvailable(t *testing.T) {
	flour := inventoryRecord("r1", "flour", 3, "cup", "baking", 0)
	svc, mem, obs := newTestService(t, flour)

	resp, err := svc.Complete(context.Background(), domain.CompletionRequest{
		RecipeReference:   "bread",
		IngredientLines:   []string{"2 cups flour"},
		InventorySnapshot: []domain.InventoryRecord{flour},
		ClientOverrides: []domain.ClientOverride{{
			Ingredient: "flour",
			Entries:    []domain.OverrideEntry{{RecordID: "r1", Quantity: 4}},
		}},
	})
	assert.Nil(t, resp)
	var oerr *domain.OverrideError
	require.True(t, errors.As(err, &oerr), "error = %v", err)
	assert.Equal(t, "r1", oerr.RecordID)

	assert.Equal(t, 3.0, quantityOf(t, mem, "r1"))
	trail, err := mem.ListAudit(context.Background(), "r1")
	require.NoError(t, err)
	assert.Empty(t, trail)
	assert.Equal(t, 1, obs.outcomes[OutcomeInvalid])
}

func TestCompletionService_ConcurrentCompletions(t *testing.T) {
	flour := inventoryRecord("r1", "flour", 3, "cup", "baking", 0)
	svc, mem, obs := newTestService(t, flour)
	req := domain.CompletionRequest{
		RecipeReference:   "cookies",
		IngredientLines:   []string{"2 cups flour"},
		InventorySnapshot: []domain.InventoryRecord{flour},
	}

	type result struct {
		resp *domain.CompletionResponse
		err  error
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := svc.Complete(context.Background(), req)
			results <- result{resp, err}
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, conflicted int
	for r := range results {
		if r.err == nil {
			succeeded++
			continue
		}
		var conflict *domain.ConflictError
		require.True(t, errors.As(r.err, &conflict), "error = %v", r.err)
		assert.Equal(t, []string{"r1"}, conflict.RecordIDs)
		require.NotNil(t, r.resp)
		assert.Equal(t, []string{"r1"}, r.resp.Conflicts)
		assert.Empty(t, r.resp.AllocationsApplied)
		conflicted++
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)
	assert.InDelta(t, 1.0, quantityOf(t, mem, "r1"), 1e-9)

	trail, err := mem.ListAudit(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, trail, 1)
	assert.Equal(t, 1, obs.outcomes[OutcomeConflict])
}

func TestCompletionService_ReportsEveryLine(t *testing.T) {
	records := []domain.InventoryRecord{
		inventoryRecord("flour", "all purpose flour", 500, "g", "baking", 3),
		inventoryRecord("rice", "rice", 1, "each", "other", 0),
		inventoryRecord("sugar", "sugar", 1, "cup", "baking", 0),
	}
	svc, _, _ := newTestService(t)

	resp, err := svc.Plan(context.Background(), domain.CompletionRequest{
		IngredientLines: []string{
			"1 cup flour",
			"2 cups",
			"1 cup rice",
			"2 cups sugar",
			"1 dragon scale",
		},
		InventorySnapshot: records,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"2 cups"}, resp.UnparsedLines)
	assert.Equal(t, []string{"dragon scale"}, resp.UnmatchedIngredients)
	require.Len(t, resp.Plans, 4)

	// flour is stored in grams; the catalog density bridges the units
	flourPlan := resp.Plans[0]
	require.Len(t, flourPlan.Entries, 1)
	assert.InDelta(t, 236.5882365*0.53, flourPlan.Entries[0].QuantityToConsume, 1e-9)
	assert.Equal(t, "g", flourPlan.Entries[0].UnitAtRecord)

	require.Len(t, resp.UnusableCandidates, 1)
	assert.Equal(t, "rice", resp.UnusableCandidates[0].RecordID)
	assert.Equal(t, "cannot convert cup to each", resp.UnusableCandidates[0].Reason)

	assert.Equal(t, []domain.ShortfallCandidate{
		{CanonicalName: "rice", Quantity: 1, Unit: "cup"},
		{CanonicalName: "sugar", Quantity: 1, Unit: "cup"},
		{CanonicalName: "dragon scale", Quantity: 1, Unit: "each"},
	}, resp.Shortfalls)
}

func TestCompletionService_OverrideByRawLine(t *testing.T) {
	early := inventoryRecord("r1", "chicken breast", 300, "g", "meat", 5)
	late := inventoryRecord("r2", "chicken breast", 400, "g", "meat", 20)
	svc, _, _ := newTestService(t)

	resp, err := svc.Plan(context.Background(), domain.CompletionRequest{
		IngredientLines:   []string{"500 g chicken breast"},
		InventorySnapshot: []domain.InventoryRecord{early, late},
		ClientOverrides: []domain.ClientOverride{{
			Ingredient: "500 g Chicken Breast",
			Entries:    []domain.OverrideEntry{{RecordID: "r2", Quantity: 400}, {RecordID: "r1", Quantity: 100}},
		}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Plans, 1)
	assert.True(t, resp.Plans[0].Overridden)
	assert.Equal(t, "r2", resp.Plans[0].Entries[0].RecordID)
}

func TestCompletionService_InvalidRequests(t *testing.T) {
	flour := inventoryRecord("r1", "flour", 3, "cup", "baking", 0)
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	t.Run("missing recipe reference", func(t *testing.T) {
		_, err := svc.Complete(ctx, domain.CompletionRequest{IngredientLines: []string{"2 cups flour"}})
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("duplicate snapshot records", func(t *testing.T) {
		_, err := svc.Plan(ctx, domain.CompletionRequest{
			IngredientLines:   []string{"2 cups flour"},
			InventorySnapshot: []domain.InventoryRecord{flour, flour},
		})
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("negative snapshot quantity", func(t *testing.T) {
		bad := flour
		bad.Quantity = -1
		_, err := svc.Plan(ctx, domain.CompletionRequest{
			IngredientLines:   []string{"2 cups flour"},
			InventorySnapshot: []domain.InventoryRecord{bad},
		})
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("zero snapshot quantity", func(t *testing.T) {
		empty := flour
		empty.Quantity = 0
		_, err := svc.Plan(ctx, domain.CompletionRequest{
			IngredientLines:   []string{"2 cups flour"},
			InventorySnapshot: []domain.InventoryRecord{empty},
		})
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("override for an ingredient not in the recipe", func(t *testing.T) {
		_, err := svc.Plan(ctx, domain.CompletionRequest{
			IngredientLines:   []string{"2 cups flour"},
			InventorySnapshot: []domain.InventoryRecord{flour},
			ClientOverrides:   []domain.ClientOverride{{Ingredient: "butter"}},
		})
		var oerr *domain.OverrideError
		require.True(t, errors.As(err, &oerr), "error = %v", err)
		assert.Equal(t, "butter", oerr.Ingredient)
	})
}

func TestCompletionService_SnapshotFromStore(t *testing.T) {
	flour := inventoryRecord("r1", "flour", 3, "cup", "baking", 0)
	svc, mem, _ := newTestService(t, flour)

	resp, err := svc.Complete(context.Background(), domain.CompletionRequest{
		RecipeReference: "scones",
		HouseholdID:     "h1",
		IngredientLines: []string{"1 cup flour"},
	})
	require.NoError(t, err)
	require.Len(t, resp.AllocationsApplied, 1)
	assert.InDelta(t, 2.0, quantityOf(t, mem, "r1"), 1e-9)
}

func TestCompletionService_PlanGolden(t *testing.T) {
	svc, mem, _ := newTestService(t)

	resp, err := svc.Plan(context.Background(), domain.CompletionRequest{
		RecipeReference: "chicken-dinner",
		IngredientLines: []string{"500 g chicken breast"},
		InventorySnapshot: []domain.InventoryRecord{
			inventoryRecord("r2", "chicken breast", 400, "g", "meat", 20),
			inventoryRecord("r1", "chicken breast", 300, "g", "meat", 5),
		},
	})
	require.NoError(t, err)

	got, err := json.MarshalIndent(resp, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "chicken_breast_plan", append(got, '\n'))

	// A dry run never touches the store
	records, err := mem.ListRecords(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, records)
}
