package domain

import (
	"context"
	"time"
)

// InventoryStore is the storage collaborator. ApplyCompletion is the only
// write path used by the engine: it must apply every mutation and append every
// audit entry atomically, and fail with *ConflictError (listing all offending
// records) when any record's quantity no longer equals ExpectedQuantity.
type InventoryStore interface {
	ListRecords(ctx context.Context, householdID string) ([]InventoryRecord, error)
	GetRecord(ctx context.Context, recordID string) (*InventoryRecord, error)
	PutRecord(ctx context.Context, record InventoryRecord) error
	DeleteRecord(ctx context.Context, recordID string) error
	ApplyCompletion(ctx context.Context, mutations []RecordMutation, audit []CompletionAuditEntry) error
	ListAudit(ctx context.Context, recordID string) ([]CompletionAuditEntry, error)
}

// CacheRepository defines the interface for caching operations
type CacheRepository interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// FoodDatabase searches an external food database (USDA FoodData Central).
type FoodDatabase interface {
	SearchFoods(ctx context.Context, query string) (*USDASearchResponse, error)
	GetFoodDetails(ctx context.Context, fdcID int) (*USDAFood, error)
}
