package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordNotFound is returned by stores when no record exists for an id.
	ErrRecordNotFound = errors.New("reconciliation record not found")

	// ErrRecordExists is returned by Put when a record already exists for the id.
	ErrRecordExists = errors.New("reconciliation record already exists")
)

// FeedFetchError is a failure reported by, or while talking to, the feed
// provider. It aborts the whole batch.
type FeedFetchError struct {
	StatusCode int
	Type       string // provider error_type, e.g. RATE_LIMIT_EXCEEDED
	Code       string // provider error_code
	Message    string
	Err        error
}

func (e *FeedFetchError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("feed fetch: %s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("feed fetch: %v", e.Err)
	default:
		return fmt.Sprintf("feed fetch: status %d: %s", e.StatusCode, e.Message)
	}
}

func (e *FeedFetchError) Unwrap() error { return e.Err }

// RemoteLedgerError is a non-2xx or protocol failure from the ledger provider.
type RemoteLedgerError struct {
	Op         string // "create" or "update"
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteLedgerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ledger %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *RemoteLedgerError) Unwrap() error { return e.Err }

// NotFoundError means the expense targeted by an update no longer exists in
// the ledger provider.
type NotFoundError struct {
	ExpenseID ExpenseID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ledger expense %s not found", e.ExpenseID)
}

// StoreError wraps a persistence failure for one transaction id.
type StoreError struct {
	Op            string // "exists", "get", "put", "delete"
	TransactionID string
	Err           error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.TransactionID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
