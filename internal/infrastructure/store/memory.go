// Package store provides domain.InventoryStore implementations. Every
// implementation applies a completion batch atomically: each mutation is
// conditional on the record still holding its expected quantity, and a batch
// with any stale record changes nothing.
package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/macrolens/larder/internal/domain"
)

// DefaultEpsilon is the tolerance used when comparing stored and expected quantities.
const DefaultEpsilon = 1e-9

// MemoryStore keeps inventory and audit entries in process memory.
type MemoryStore struct {
	mutex   sync.Mutex
	records map[string]domain.InventoryRecord
	audit   map[string][]domain.CompletionAuditEntry
	epsilon float64
}

var _ domain.InventoryStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore(epsilon float64) *MemoryStore {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &MemoryStore{
		records: make(map[string]domain.InventoryRecord),
		audit:   make(map[string][]domain.CompletionAuditEntry),
		epsilon: epsilon,
	}
}

// ListRecords returns the household's records ordered by record id. An empty
// household id lists every record.
func (s *MemoryStore) ListRecords(ctx context.Context, householdID string) ([]domain.InventoryRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := []domain.InventoryRecord{}
	for _, r := range s.records {
		if householdID == "" || r.HouseholdID == householdID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out, nil
}

// GetRecord returns one record or domain.ErrRecordNotFound.
func (s *MemoryStore) GetRecord(ctx context.Context, recordID string) (*domain.InventoryRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, ok := s.records[recordID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, recordID)
	}
	return &r, nil
}

// PutRecord inserts or replaces a record.
func (s *MemoryStore) PutRecord(ctx context.Context, record domain.InventoryRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.records[record.RecordID] = record
	return nil
}

// DeleteRecord removes a record.
func (s *MemoryStore) DeleteRecord(ctx context.Context, recordID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.records[recordID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, recordID)
	}
	delete(s.records, recordID)
	return nil
}

// ApplyCompletion checks every mutation before changing anything. All stale
// or missing records are reported together.
func (s *MemoryStore) ApplyCompletion(ctx context.Context, mutations []domain.RecordMutation, audit []domain.CompletionAuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var conflicts []string
	for _, m := range mutations {
		r, ok := s.records[m.RecordID]
		if !ok || math.Abs(r.Quantity-m.ExpectedQuantity) > s.epsilon {
			conflicts = append(conflicts, m.RecordID)
		}
	}
	if len(conflicts) > 0 {
		return &domain.ConflictError{RecordIDs: conflicts}
	}

	for _, m := range mutations {
		if m.Delete {
			delete(s.records, m.RecordID)
			continue
		}
		r := s.records[m.RecordID]
		r.Quantity = m.NewQuantity
		s.records[m.RecordID] = r
	}
	for _, e := range audit {
		s.audit[e.RecordID] = append(s.audit[e.RecordID], e)
	}
	return nil
}

// ListAudit returns the audit trail of one record, oldest first.
func (s *MemoryStore) ListAudit(ctx context.Context, recordID string) ([]domain.CompletionAuditEntry, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]domain.CompletionAuditEntry{}, s.audit[recordID]...), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
