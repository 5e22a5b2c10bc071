package domain

// RequiredIngredient is one parsed recipe line.
type RequiredIngredient struct {
	RawText           string  `json:"rawText"`
	RequestedQuantity float64 `json:"requestedQuantity"`
	RequestedUnit     string  `json:"requestedUnit"`
	CanonicalName     string  `json:"canonicalName"`
}

// MatchKind describes how an inventory record name matched an ingredient.
type MatchKind string

const (
	MatchExact       MatchKind = "exact"
	MatchContainment MatchKind = "containment"
	MatchOverlap     MatchKind = "overlap"
)

// MatchCandidate pairs an inventory record with its name-match score (0-100).
type MatchCandidate struct {
	Record        InventoryRecord `json:"record"`
	MatchScore    float64         `json:"matchScore"`
	Kind          MatchKind       `json:"kind"`
	MatchedTokens []string        `json:"matchedTokens,omitempty"`
}

// AllocationEntry consumes QuantityToConsume (in the record's unit) from one record.
// AvailableQuantity is the record quantity the plan was computed against.
type AllocationEntry struct {
	RecordID          string  `json:"recordId"`
	QuantityToConsume float64 `json:"quantityToConsume"`
	UnitAtRecord      string  `json:"unitAtRecord"`
	AvailableQuantity float64 `json:"availableQuantity"`
}

// AllocationPlan is the ordered consumption plan for one ingredient.
type AllocationPlan struct {
	Ingredient        string            `json:"ingredient"`
	RawText           string            `json:"rawText"`
	RequestedQuantity float64           `json:"requestedQuantity"`
	RequestedUnit     string            `json:"requestedUnit"`
	Entries           []AllocationEntry `json:"entries"`
	ShortfallQuantity float64           `json:"shortfallQuantity"`
	ShortfallUnit     string            `json:"shortfallUnit"`
	Overridden        bool              `json:"overridden,omitempty"`
}

// Satisfied reports whether the plan covers the full requirement.
func (p AllocationPlan) Satisfied() bool {
	return p.ShortfallQuantity == 0
}

// ShortfallCandidate is a shopping-list suggestion for unmet requirements.
type ShortfallCandidate struct {
	CanonicalName string  `json:"canonicalName"`
	Quantity      float64 `json:"quantity"`
	Unit          string  `json:"unit"`
}

// UnusableCandidate is an owned item that matched by name but could not be
// sized against the requested unit.
type UnusableCandidate struct {
	Ingredient string `json:"ingredient"`
	RecordID   string `json:"recordId"`
	Name       string `json:"name"`
	Unit       string `json:"unit"`
	Reason     string `json:"reason"`
}

// OverrideEntry is a client-chosen quantity (in the record's unit) for one record.
type OverrideEntry struct {
	RecordID string  `json:"recordId"`
	Quantity float64 `json:"quantity"`
}

// ClientOverride replaces the default plan of one ingredient, identified by
// canonical name or by its raw line.
type ClientOverride struct {
	Ingredient string          `json:"ingredient"`
	Entries    []OverrideEntry `json:"entries"`
}

// CompletionRequest is one "I cooked this recipe" event.
type CompletionRequest struct {
	RecipeReference   string            `json:"recipeReference"`
	HouseholdID       string            `json:"householdId,omitempty"`
	IngredientLines   []string          `json:"ingredientLines"`
	InventorySnapshot []InventoryRecord `json:"inventorySnapshot"`
	ClientOverrides   []ClientOverride  `json:"clientOverrides,omitempty"`
}

// AppliedAllocation reports the outcome for one mutated record.
type AppliedAllocation struct {
	RecordID       string  `json:"recordId"`
	QuantityBefore float64 `json:"quantityBefore"`
	QuantityAfter  float64 `json:"quantityAfter"`
	Unit           string  `json:"unit"`
	Deleted        bool    `json:"deleted"`
}

// CompletionResponse is returned for both dry-run plans and applied completions.
// Shortfalls, unmatched and unparsed lines are filled even when the request
// is aborted by a conflict.
type CompletionResponse struct {
	RecipeReference      string                 `json:"recipeReference"`
	Plans                []AllocationPlan       `json:"plans"`
	AllocationsApplied   []AppliedAllocation    `json:"allocationsApplied"`
	Shortfalls           []ShortfallCandidate   `json:"shortfalls"`
	Conflicts            []string               `json:"conflicts,omitempty"`
	UnmatchedIngredients []string               `json:"unmatchedIngredients"`
	UnparsedLines        []string               `json:"unparsedLines"`
	UnusableCandidates   []UnusableCandidate    `json:"unusableCandidates,omitempty"`
	AuditEntries         []CompletionAuditEntry `json:"auditEntries,omitempty"`
}
