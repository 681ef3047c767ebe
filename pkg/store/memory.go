package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/docugen-labs/docugen/pkg/contracts"
)

// MemoryOrderStore is an in-memory OrderStore for tests and the wiring
// binary's dry-run mode.
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]*contracts.Order
}

// NewMemoryOrderStore creates an empty in-memory order store.
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: map[string]*contracts.Order{}}
}

// Seed inserts an order. Test/bootstrap helper; not part of OrderStore.
func (s *MemoryOrderStore) Seed(order *contracts.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.OrderID] = cloneOrder(order)
}

// Find implements OrderStore.
func (s *MemoryOrderStore) Find(_ context.Context, orderID string) (*contracts.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

// Update implements OrderStore.
func (s *MemoryOrderStore) Update(_ context.Context, order *contracts.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.OrderID]; !ok {
		return ErrOrderNotFound
	}
	s.orders[order.OrderID] = cloneOrder(order)
	return nil
}

// MemoryExecutionStore is an in-memory ExecutionStore with the same
// uniqueness guarantees the SQL stores enforce via indexes.
type MemoryExecutionStore struct {
	mu      sync.RWMutex
	records []*contracts.ExecutionRecord
}

// NewMemoryExecutionStore creates an empty in-memory execution store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{}
}

// Insert implements ExecutionStore.
func (s *MemoryExecutionStore) Insert(_ context.Context, rec *contracts.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.IdempotencyKey == rec.IdempotencyKey && terminalSuccess(existing.Status) && terminalSuccess(rec.Status) {
			return ErrDuplicateExecution
		}
	}
	s.records = append(s.records, cloneRecord(rec))
	return nil
}

// FindLatestByIdempotencyKey implements ExecutionStore.
func (s *MemoryExecutionStore) FindLatestByIdempotencyKey(_ context.Context, key string) (*contracts.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].IdempotencyKey == key {
			return cloneRecord(s.records[i]), nil
		}
	}
	return nil, ErrExecutionNotFound
}

// UpsertFailed implements ExecutionStore.
func (s *MemoryExecutionStore) UpsertFailed(_ context.Context, rec *contracts.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.records {
		if existing.ExecutionID == rec.ExecutionID && existing.Status == contracts.StatusFailed {
			s.records[i] = cloneRecord(rec)
			return nil
		}
	}
	s.records = append(s.records, cloneRecord(rec))
	return nil
}

// FindFailedByExecutionID implements ExecutionStore.
func (s *MemoryExecutionStore) FindFailedByExecutionID(_ context.Context, executionID string) (*contracts.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ExecutionID == executionID && r.Status == contracts.StatusFailed {
			return cloneRecord(r), nil
		}
	}
	return nil, ErrExecutionNotFound
}

// All returns a copy of every record, oldest first. Test helper.
func (s *MemoryExecutionStore) All() []*contracts.ExecutionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*contracts.ExecutionRecord, len(s.records))
	for i, r := range s.records {
		out[i] = cloneRecord(r)
	}
	return out
}

func terminalSuccess(status contracts.RunStatus) bool {
	return status == contracts.StatusReviewPending || status == contracts.StatusComplete
}

func cloneOrder(o *contracts.Order) *contracts.Order {
	var cp contracts.Order
	roundTrip(o, &cp)
	return &cp
}

func cloneRecord(r *contracts.ExecutionRecord) *contracts.ExecutionRecord {
	var cp contracts.ExecutionRecord
	roundTrip(r, &cp)
	return &cp
}

// roundTrip deep-copies via JSON; these are plain data documents.
func roundTrip(src, dst any) {
	raw, _ := json.Marshal(src)
	_ = json.Unmarshal(raw, dst)
}
