package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/macrolens/larder/internal/domain"
)

// CompletionTransaction is the only writer of inventory quantities. It folds
// approved plans into one conditional batch per request: either every record
// changes and every audit entry is written, or nothing is.
type CompletionTransaction struct {
	store   domain.InventoryStore
	epsilon decimal.Decimal
	now     func() time.Time
	newID   func() string
	log     *zap.Logger
}

// TransactionOption customizes a CompletionTransaction.
type TransactionOption func(*CompletionTransaction)

// WithClock overrides the audit timestamp source.
func WithClock(now func() time.Time) TransactionOption {
	return func(t *CompletionTransaction) { t.now = now }
}

// WithIDGenerator overrides audit id generation.
func WithIDGenerator(newID func() string) TransactionOption {
	return func(t *CompletionTransaction) { t.newID = newID }
}

// NewCompletionTransaction creates a transaction runner over store.
func NewCompletionTransaction(store domain.InventoryStore, epsilon float64, log *zap.Logger, opts ...TransactionOption) *CompletionTransaction {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if log == nil {
		log = zap.NewNop()
	}
	t := &CompletionTransaction{
		store:   store,
		epsilon: decimal.NewFromFloat(epsilon),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		log:     log,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Batch is the prepared, not yet applied, result of folding plans.
type Batch struct {
	Mutations []domain.RecordMutation
	Applied   []domain.AppliedAllocation
	Audit     []domain.CompletionAuditEntry
}

type recordTotal struct {
	recordID string
	unit     string
	expected decimal.Decimal
	consumed decimal.Decimal
}

// Prepare aggregates entries per record, in first-seen order, and computes
// the resulting quantities. Records ending within epsilon of zero are
// deleted; records that would go negative fail with ErrOverAllocation.
func (t *CompletionTransaction) Prepare(
	recipeReference string,
	plans []domain.AllocationPlan,
	records map[string]domain.InventoryRecord,
) (*Batch, error) {
	var order []string
	totals := make(map[string]*recordTotal)

	for _, plan := range plans {
		for _, e := range plan.Entries {
			if e.QuantityToConsume < 0 {
				return nil, fmt.Errorf("%w: negative consumption for record %s", domain.ErrInvalidRequest, e.RecordID)
			}
			expected := decimal.NewFromFloat(e.AvailableQuantity)
			tot, ok := totals[e.RecordID]
			if !ok {
				tot = &recordTotal{recordID: e.RecordID, unit: e.UnitAtRecord, expected: expected}
				totals[e.RecordID] = tot
				order = append(order, e.RecordID)
			} else if !tot.expected.Equal(expected) {
				return nil, fmt.Errorf("%w: plans disagree on the quantity of record %s", domain.ErrInvalidRequest, e.RecordID)
			}
			tot.consumed = tot.consumed.Add(decimal.NewFromFloat(e.QuantityToConsume))
		}
	}

	batch := &Batch{}
	now := t.now()
	for _, id := range order {
		tot := totals[id]
		if tot.consumed.IsZero() {
			continue
		}

		after := tot.expected.Sub(tot.consumed)
		if after.LessThan(t.epsilon.Neg()) {
			return nil, fmt.Errorf("%w: record %s has %s, plans consume %s",
				domain.ErrOverAllocation, id, tot.expected.String(), tot.consumed.String())
		}
		deleted := after.Abs().LessThanOrEqual(t.epsilon)
		if deleted {
			after = decimal.Zero
		}

		before := tot.expected.InexactFloat64()
		afterQty := after.InexactFloat64()

		// Plans carry the canonical unit id; the raw record unit is a fallback.
		unit := tot.unit
		var householdID string
		if rec, ok := records[id]; ok {
			householdID = rec.HouseholdID
			if unit == "" {
				unit = rec.Unit
			}
		}

		batch.Mutations = append(batch.Mutations, domain.RecordMutation{
			RecordID:         id,
			ExpectedQuantity: before,
			NewQuantity:      afterQty,
			Delete:           deleted,
		})
		batch.Applied = append(batch.Applied, domain.AppliedAllocation{
			RecordID:       id,
			QuantityBefore: before,
			QuantityAfter:  afterQty,
			Unit:           unit,
			Deleted:        deleted,
		})
		batch.Audit = append(batch.Audit, domain.CompletionAuditEntry{
			AuditID:         t.newID(),
			RecordID:        id,
			HouseholdID:     householdID,
			QuantityBefore:  before,
			QuantityAfter:   afterQty,
			Unit:            unit,
			Cause:           domain.AuditCauseRecipeCompletion,
			RecipeReference: recipeReference,
			Timestamp:       now,
		})
	}

	return batch, nil
}

// Apply prepares and commits the plans. A *domain.ConflictError from the store
// is returned as is; other store failures are wrapped with ErrStoreUnavailable.
func (t *CompletionTransaction) Apply(
	ctx context.Context,
	recipeReference string,
	plans []domain.AllocationPlan,
	records map[string]domain.InventoryRecord,
) (*Batch, error) {
	batch, err := t.Prepare(recipeReference, plans, records)
	if err != nil {
		return nil, err
	}
	if len(batch.Mutations) == 0 {
		return batch, nil
	}

	if err := t.store.ApplyCompletion(ctx, batch.Mutations, batch.Audit); err != nil {
		var conflict *domain.ConflictError
		switch {
		case errors.As(err, &conflict):
			t.log.Info("completion conflict",
				zap.String("recipe_reference", recipeReference),
				zap.Strings("record_ids", conflict.RecordIDs),
			)
			return nil, err
		case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
	}

	t.log.Info("completion applied",
		zap.String("recipe_reference", recipeReference),
		zap.Int("records", len(batch.Mutations)),
	)
	return batch, nil
}
