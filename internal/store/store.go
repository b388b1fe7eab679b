// Package store defines persistence for reconciliation records.
package store

import (
	"context"

	"github.com/dvloznov/ledger-mirror/internal/domain"
)

// RecordStore is key-value access to reconciliation records keyed by
// transaction id. Implementations must be safe for concurrent use.
type RecordStore interface {
	// Exists reports whether a record is stored for transactionID.
	Exists(ctx context.Context, transactionID string) (bool, error)

	// Get returns the record for transactionID, or domain.ErrRecordNotFound.
	Get(ctx context.Context, transactionID string) (*domain.ReconciliationRecord, error)

	// Put stores rec only if no record exists for its transaction id;
	// otherwise it returns domain.ErrRecordExists. The check and the write
	// are atomic.
	Put(ctx context.Context, rec *domain.ReconciliationRecord) error

	// Delete removes the record for transactionID. Deleting a missing
	// record is not an error.
	Delete(ctx context.Context, transactionID string) error
}
