// Package gcsstore keeps one JSON object per reconciliation record in a
// Cloud Storage bucket.
package gcsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/dvloznov/ledger-mirror/internal/domain"
	"github.com/dvloznov/ledger-mirror/internal/store"
)

// Store is a RecordStore over ObjectStorage.
type Store struct {
	objects ObjectStorage
	prefix  string
}

// New returns a store writing objects under prefix.
func New(objects ObjectStorage, prefix string) *Store {
	return &Store{objects: objects, prefix: prefix}
}

// ObjectName returns the object name holding the record for transactionID.
func (s *Store) ObjectName(transactionID string) string {
	return s.prefix + url.PathEscape(transactionID) + ".json"
}

// Exists implements store.RecordStore.
func (s *Store) Exists(ctx context.Context, transactionID string) (bool, error) {
	ok, err := s.objects.Exists(ctx, s.ObjectName(transactionID))
	if err != nil {
		return false, fmt.Errorf("Exists: %w", err)
	}
	return ok, nil
}

// Get implements store.RecordStore.
func (s *Store) Get(ctx context.Context, transactionID string) (*domain.ReconciliationRecord, error) {
	data, err := s.objects.Read(ctx, s.ObjectName(transactionID))
	if errors.Is(err, errObjectMissing) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	var rec domain.ReconciliationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("Get: decoding %s: %w", s.ObjectName(transactionID), err)
	}
	return &rec, nil
}

// Put implements store.RecordStore.
func (s *Store) Put(ctx context.Context, rec *domain.ReconciliationRecord) error {
	if rec == nil || rec.TransactionID == "" {
		return errors.New("Put: transaction id is required")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("Put: encoding record: %w", err)
	}

	err = s.objects.Create(ctx, s.ObjectName(rec.TransactionID), data)
	if errors.Is(err, errObjectExists) {
		return domain.ErrRecordExists
	}
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	return nil
}

// Delete implements store.RecordStore.
func (s *Store) Delete(ctx context.Context, transactionID string) error {
	if err := s.objects.Delete(ctx, s.ObjectName(transactionID)); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

var _ store.RecordStore = (*Store)(nil)
