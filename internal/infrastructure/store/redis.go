package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/macrolens/larder/internal/domain"
)

const maxTxRetries = 3

// RedisStore keeps each record as a JSON string, a set of record ids per
// household and a list of audit entries per record. Completions use
// WATCH/MULTI so a concurrent writer aborts the batch.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	epsilon float64
	log     *zap.Logger
}

var _ domain.InventoryStore = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. Keys are stored under prefix.
func NewRedisStore(client *redis.Client, prefix string, epsilon float64, log *zap.Logger) *RedisStore {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, epsilon: epsilon, log: log}
}

func (s *RedisStore) recordKey(id string) string    { return s.prefix + "record:" + id }
func (s *RedisStore) householdKey(id string) string { return s.prefix + "household:" + id }
func (s *RedisStore) auditKey(id string) string     { return s.prefix + "audit:" + id }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

// ListRecords returns the household's records ordered by record id. An empty
// household id scans every record.
func (s *RedisStore) ListRecords(ctx context.Context, householdID string) ([]domain.InventoryRecord, error) {
	var keys []string
	if householdID != "" {
		ids, err := s.client.SMembers(ctx, s.householdKey(householdID)).Result()
		if err != nil {
			return nil, unavailable("list household", err)
		}
		for _, id := range ids {
			keys = append(keys, s.recordKey(id))
		}
	} else {
		iter := s.client.Scan(ctx, 0, s.recordKey("*"), 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, unavailable("scan records", err)
		}
	}

	out := []domain.InventoryRecord{}
	if len(keys) == 0 {
		return out, nil
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("load records", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // removed between SMEMBERS and MGET
		}
		var r domain.InventoryRecord
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, unavailable("decode record", err)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out, nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c getter, recordID string) (*domain.InventoryRecord, error) {
	raw, err := c.Get(ctx, s.recordKey(recordID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, recordID)
	}
	if err != nil {
		return nil, unavailable("get record", err)
	}
	var r domain.InventoryRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, unavailable("decode record", err)
	}
	return &r, nil
}

// GetRecord returns one record or domain.ErrRecordNotFound.
func (s *RedisStore) GetRecord(ctx context.Context, recordID string) (*domain.InventoryRecord, error) {
	return s.load(ctx, s.client, recordID)
}

// PutRecord inserts or replaces a record.
func (s *RedisStore) PutRecord(ctx context.Context, r domain.InventoryRecord) error {
	if err := validateRecord(r); err != nil {
		return err
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(r.RecordID), raw, 0)
		pipe.SAdd(ctx, s.householdKey(r.HouseholdID), r.RecordID)
		return nil
	})
	if err != nil {
		return unavailable("put record", err)
	}
	return nil
}

// DeleteRecord removes a record.
func (s *RedisStore) DeleteRecord(ctx context.Context, recordID string) error {
	r, err := s.load(ctx, s.client, recordID)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(recordID))
		pipe.SRem(ctx, s.householdKey(r.HouseholdID), recordID)
		return nil
	})
	if err != nil {
		return unavailable("delete record", err)
	}
	return nil
}

// ApplyCompletion watches every affected record key, verifies the expected
// quantities and commits all writes in one MULTI. When another client writes a
// watched key first, the batch is retried from the read; after maxTxRetries
// lost races every record in the batch is reported as conflicting.
func (s *RedisStore) ApplyCompletion(ctx context.Context, mutations []domain.RecordMutation, audit []domain.CompletionAuditEntry) error {
	keys := make([]string, len(mutations))
	for i, m := range mutations {
		keys[i] = s.recordKey(m.RecordID)
	}

	txf := func(tx *redis.Tx) error {
		current := make(map[string]*domain.InventoryRecord, len(mutations))
		var conflicts []string
		for _, m := range mutations {
			r, err := s.load(ctx, tx, m.RecordID)
			switch {
			case errors.Is(err, domain.ErrRecordNotFound):
				conflicts = append(conflicts, m.RecordID)
				continue
			case err != nil:
				return err
			}
			if math.Abs(r.Quantity-m.ExpectedQuantity) > s.epsilon {
				conflicts = append(conflicts, m.RecordID)
				continue
			}
			current[m.RecordID] = r
		}
		if len(conflicts) > 0 {
			return &domain.ConflictError{RecordIDs: conflicts}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range mutations {
				r := current[m.RecordID]
				if m.Delete {
					pipe.Del(ctx, s.recordKey(m.RecordID))
					pipe.SRem(ctx, s.householdKey(r.HouseholdID), m.RecordID)
					continue
				}
				r.Quantity = m.NewQuantity
				raw, err := json.Marshal(r)
				if err != nil {
					return err
				}
				pipe.Set(ctx, s.recordKey(m.RecordID), raw, 0)
			}
			for _, e := range audit {
				raw, err := json.Marshal(e)
				if err != nil {
					return err
				}
				pipe.RPush(ctx, s.auditKey(e.RecordID), raw)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			var conflict *domain.ConflictError
			switch {
			case err == nil, errors.As(err, &conflict), errors.Is(err, domain.ErrStoreUnavailable):
				return err
			default:
				return unavailable("apply completion", err)
			}
		}
		s.log.Debug("completion transaction lost a race, retrying", zap.Int("attempt", attempt+1))
	}

	ids := make([]string, len(mutations))
	for i, m := range mutations {
		ids[i] = m.RecordID
	}
	return &domain.ConflictError{RecordIDs: ids}
}

// ListAudit returns the audit trail of one record, oldest first.
func (s *RedisStore) ListAudit(ctx context.Context, recordID string) ([]domain.CompletionAuditEntry, error) {
	values, err := s.client.LRange(ctx, s.auditKey(recordID), 0, -1).Result()
	if err != nil {
		return nil, unavailable("list audit", err)
	}
	out := make([]domain.CompletionAuditEntry, 0, len(values))
	for _, v := range values {
		var e domain.CompletionAuditEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, unavailable("decode audit", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
