// Package domain defines the core types and ports of the recipe completion engine.
// All other packages depend on domain; domain depends on nothing.
package domain

import "time"

// InventoryRecord is one physical lot of an item owned by a household.
type InventoryRecord struct {
	RecordID       string     `json:"recordId"`
	HouseholdID    string     `json:"householdId,omitempty"`
	Name           string     `json:"name"`
	Quantity       float64    `json:"quantity"`
	Unit           string     `json:"unit"`
	Category       string     `json:"category,omitempty"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"` // nil sorts as furthest future
	CreatedAt      time.Time  `json:"createdAt"`
}

// ConsumeBefore reports whether r should be used before other: earlier
// expiration first, then earlier creation, then record id.
func (r InventoryRecord) ConsumeBefore(other InventoryRecord) bool {
	switch {
	case r.ExpirationDate != nil && other.ExpirationDate == nil:
		return true
	case r.ExpirationDate == nil && other.ExpirationDate != nil:
		return false
	case r.ExpirationDate != nil && !r.ExpirationDate.Equal(*other.ExpirationDate):
		return r.ExpirationDate.Before(*other.ExpirationDate)
	}
	if !r.CreatedAt.Equal(other.CreatedAt) {
		return r.CreatedAt.Before(other.CreatedAt)
	}
	return r.RecordID < other.RecordID
}

// RecordMutation is one conditional change handed to the inventory store:
// it applies only if the record's current quantity still equals
// ExpectedQuantity.
type RecordMutation struct {
	RecordID         string  `json:"recordId"`
	ExpectedQuantity float64 `json:"expectedQuantity"`
	NewQuantity      float64 `json:"newQuantity"`
	Delete           bool    `json:"delete"`
}

// AuditCauseRecipeCompletion is the cause recorded for depletion by a cooked recipe.
const AuditCauseRecipeCompletion = "recipe_completion"

// CompletionAuditEntry is the append-only record of one mutated inventory record.
type CompletionAuditEntry struct {
	AuditID         string    `json:"auditId"`
	RecordID        string    `json:"recordId"`
	HouseholdID     string    `json:"householdId,omitempty"`
	QuantityBefore  float64   `json:"quantityBefore"`
	QuantityAfter   float64   `json:"quantityAfter"`
	Unit            string    `json:"unit"`
	Cause           string    `json:"cause"`
	RecipeReference string    `json:"recipeReference"`
	Timestamp       time.Time `json:"timestamp"`
}
