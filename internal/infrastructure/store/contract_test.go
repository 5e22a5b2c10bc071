package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macrolens/larder/internal/domain"
)

var created = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func record(id, household, name string, qty float64, unit string) domain.InventoryRecord {
	return domain.InventoryRecord{
		RecordID:    id,
		HouseholdID: household,
		Name:        name,
		Quantity:    qty,
		Unit:        unit,
		Category:    "baking",
		CreatedAt:   created,
	}
}

func auditFor(id string, before, after float64) domain.CompletionAuditEntry {
	return domain.CompletionAuditEntry{
		AuditID:         "audit-" + id,
		RecordID:        id,
		HouseholdID:     "h1",
		QuantityBefore:  before,
		QuantityAfter:   after,
		Unit:            "cup",
		Cause:           domain.AuditCauseRecipeCompletion,
		RecipeReference: "pancakes",
		Timestamp:       created.Add(time.Hour),
	}
}

func assertSameRecord(t *testing.T, want domain.InventoryRecord, got domain.InventoryRecord) {
	t.Helper()
	assert.Equal(t, want.RecordID, got.RecordID)
	assert.Equal(t, want.HouseholdID, got.HouseholdID)
	assert.Equal(t, want.Name, got.Name)
	assert.InDelta(t, want.Quantity, got.Quantity, 1e-9)
	assert.Equal(t, want.Unit, got.Unit)
	assert.Equal(t, want.Category, got.Category)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "createdAt %v != %v", want.CreatedAt, got.CreatedAt)
	if want.ExpirationDate == nil {
		assert.Nil(t, got.ExpirationDate)
	} else if assert.NotNil(t, got.ExpirationDate) {
		assert.True(t, want.ExpirationDate.Equal(*got.ExpirationDate))
	}
}

// runStoreContract exercises the behavior every InventoryStore must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("records", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		exp := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
		flour := record("r1", "h1", "flour", 3, "cup")
		flour.ExpirationDate = &exp
		require.NoError(t, s.PutRecord(ctx, flour))
		require.NoError(t, s.PutRecord(ctx, record("r2", "h1", "sugar", 500, "g")))
		require.NoError(t, s.PutRecord(ctx, record("r3", "h2", "milk", 1, "l")))

		got, err := s.GetRecord(ctx, "r1")
		require.NoError(t, err)
		assertSameRecord(t, flour, *got)

		list, err := s.ListRecords(ctx, "h1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "r1", list[0].RecordID)
		assert.Equal(t, "r2", list[1].RecordID)

		all, err := s.ListRecords(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		require.NoError(t, s.DeleteRecord(ctx, "r2"))
		_, err = s.GetRecord(ctx, "r2")
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
		assert.ErrorIs(t, s.DeleteRecord(ctx, "r2"), domain.ErrRecordNotFound)

		assert.ErrorIs(t, s.PutRecord(ctx, domain.InventoryRecord{Name: "x"}), domain.ErrInvalidRequest)
		assert.ErrorIs(t, s.PutRecord(ctx, record("r9", "h1", "flour", 0, "cup")), domain.ErrInvalidRequest)
		_, err = s.GetRecord(ctx, "r9")
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	})

	t.Run("apply completion", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.PutRecord(ctx, record("r1", "h1", "flour", 3, "cup")))
		require.NoError(t, s.PutRecord(ctx, record("r2", "h1", "flour", 1, "cup")))

		err := s.ApplyCompletion(ctx,
			[]domain.RecordMutation{
				{RecordID: "r2", ExpectedQuantity: 1, NewQuantity: 0, Delete: true},
				{RecordID: "r1", ExpectedQuantity: 3, NewQuantity: 2},
			},
			[]domain.CompletionAuditEntry{auditFor("r2", 1, 0), auditFor("r1", 3, 2)},
		)
		require.NoError(t, err)

		_, err = s.GetRecord(ctx, "r2")
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
		list, err := s.ListRecords(ctx, "h1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.InDelta(t, 2.0, list[0].Quantity, 1e-9)

		trail, err := s.ListAudit(ctx, "r1")
		require.NoError(t, err)
		require.Len(t, trail, 1)
		assert.Equal(t, "audit-r1", trail[0].AuditID)
		assert.Equal(t, 3.0, trail[0].QuantityBefore)
		assert.Equal(t, 2.0, trail[0].QuantityAfter)
		assert.Equal(t, "pancakes", trail[0].RecipeReference)
		assert.True(t, trail[0].Timestamp.Equal(created.Add(time.Hour)))

		trail, err = s.ListAudit(ctx, "r2")
		require.NoError(t, err)
		assert.Len(t, trail, 1)

		trail, err = s.ListAudit(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, trail)
	})

	t.Run("conflict changes nothing", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.PutRecord(ctx, record("r1", "h1", "flour", 3, "cup")))
		require.NoError(t, s.PutRecord(ctx, record("r2", "h1", "flour", 1, "cup")))

		err := s.ApplyCompletion(ctx,
			[]domain.RecordMutation{
				{RecordID: "r1", ExpectedQuantity: 3, NewQuantity: 2},
				{RecordID: "r2", ExpectedQuantity: 1.5, NewQuantity: 0, Delete: true},
				{RecordID: "gone", ExpectedQuantity: 4, NewQuantity: 1},
			},
			[]domain.CompletionAuditEntry{auditFor("r1", 3, 2), auditFor("r2", 1.5, 0), auditFor("gone", 4, 1)},
		)
		var conflict *domain.ConflictError
		require.True(t, errors.As(err, &conflict), "expected ConflictError, got %v", err)
		assert.ElementsMatch(t, []string{"r2", "gone"}, conflict.RecordIDs)
		assert.ErrorIs(t, err, domain.ErrConflict)

		r1, err := s.GetRecord(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, 3.0, r1.Quantity)
		r2, err := s.GetRecord(ctx, "r2")
		require.NoError(t, err)
		assert.Equal(t, 1.0, r2.Quantity)

		trail, err := s.ListAudit(ctx, "r1")
		require.NoError(t, err)
		assert.Empty(t, trail)
	})

	t.Run("expected quantity within epsilon", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.PutRecord(ctx, record("r1", "h1", "flour", 0.3, "cup")))

		err := s.ApplyCompletion(ctx,
			[]domain.RecordMutation{{RecordID: "r1", ExpectedQuantity: 0.1 + 0.2, NewQuantity: 0.1}},
			[]domain.CompletionAuditEntry{auditFor("r1", 0.3, 0.1)},
		)
		require.NoError(t, err)
	})

	t.Run("concurrent completions", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.PutRecord(ctx, record("r1", "h1", "flour", 5, "cup")))

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.ApplyCompletion(ctx,
					[]domain.RecordMutation{{RecordID: "r1", ExpectedQuantity: 5, NewQuantity: 3}},
					[]domain.CompletionAuditEntry{auditFor("r1", 5, 3)},
				)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, domain.ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, workers-1, conflicts)
		r1, err := s.GetRecord(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, 3.0, r1.Quantity)
	})
}
