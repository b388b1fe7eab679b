package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/ledger-mirror/internal/domain"
	"github.com/dvloznov/ledger-mirror/internal/store"
)

// Store is an in-memory RecordStore.
// Data is lost on restart, so it suits tests and single-run CLI use.
type Store struct {
	mu      sync.RWMutex
	records map[string]*domain.ReconciliationRecord
}

// NewStore creates an empty in-memory record store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*domain.ReconciliationRecord),
	}
}

// Exists implements store.RecordStore.
func (s *Store) Exists(ctx context.Context, transactionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[transactionID]
	return ok, nil
}

// Get implements store.RecordStore.
func (s *Store) Get(ctx context.Context, transactionID string) (*domain.ReconciliationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[transactionID]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}

	// Return a copy to avoid external modifications
	recCopy := *rec
	return &recCopy, nil
}

// Put implements store.RecordStore.
func (s *Store) Put(ctx context.Context, rec *domain.ReconciliationRecord) error {
	if rec == nil || rec.TransactionID == "" {
		return fmt.Errorf("Put: transaction id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.TransactionID]; ok {
		return domain.ErrRecordExists
	}

	recCopy := *rec
	s.records[rec.TransactionID] = &recCopy
	return nil
}

// Delete implements store.RecordStore.
func (s *Store) Delete(ctx context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, transactionID)
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Ensure Store implements RecordStore interface.
var _ store.RecordStore = (*Store)(nil)
