package store

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/macrolens/larder/internal/domain"
)

// Store types accepted by Open.
const (
	TypeMemory   = "memory"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeRedis    = "redis"
)

// Config selects and configures an inventory store.
type Config struct {
	Type        string
	SQLitePath  string
	PostgresDSN string
	RedisURL    string
	KeyPrefix   string
	Epsilon     float64
}

// Store is an inventory store that holds resources.
type Store interface {
	domain.InventoryStore
	Close() error
}

// Open builds the store named by cfg.Type.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.Type {
	case TypeMemory, "":
		return NewMemoryStore(cfg.Epsilon), nil
	case TypeSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, cfg.Epsilon, log)
	case TypePostgres:
		return OpenPostgres(ctx, cfg.PostgresDSN, cfg.Epsilon, log)
	case TypeRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return NewRedisStore(client, cfg.KeyPrefix, cfg.Epsilon, log), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// validateRecord rejects records no store may hold. Quantities are strictly
// positive: a record that reaches zero is deleted, never kept as a zero row.
func validateRecord(r domain.InventoryRecord) error {
	switch {
	case r.RecordID == "":
		return fmt.Errorf("%w: record id is required", domain.ErrInvalidRequest)
	case r.Quantity <= 0:
		return fmt.Errorf("%w: record %s quantity must be positive", domain.ErrInvalidRequest, r.RecordID)
	}
	return nil
}
