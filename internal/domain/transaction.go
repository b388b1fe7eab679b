package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExpenseID identifies an expense created in the ledger provider.
type ExpenseID string

// Transaction is one transaction as reported by the feed provider.
// Amounts are positive for money leaving the account.
type Transaction struct {
	ID           string          `json:"transaction_id"`
	AccountID    string          `json:"account_id"`
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"iso_currency_code,omitempty"`
	Date         string          `json:"date,omitempty"` // YYYY-MM-DD as reported
	Name         string          `json:"name,omitempty"`
	MerchantName string          `json:"merchant_name,omitempty"`
	CategoryCode string          `json:"category_id,omitempty"`
	Pending      bool            `json:"pending"`
	PendingTxnID string          `json:"pending_transaction_id,omitempty"`
}

// PayeeName returns the merchant name, or the raw payee name when the
// provider did not resolve a merchant.
func (t Transaction) PayeeName() string {
	if t.MerchantName != "" {
		return t.MerchantName
	}
	return t.Name
}

// SettlesPending reports whether t is a posted transaction that replaces an
// earlier pending one.
func (t Transaction) SettlesPending() bool {
	return !t.Pending && t.PendingTxnID != ""
}

// ReconciliationRecord is the persisted trace of a processed transaction.
// One record exists per transaction id; MirrorExpenseID is empty only for
// records written by something other than the engine.
type ReconciliationRecord struct {
	TransactionID   string      `json:"transaction_id"`
	Transaction     Transaction `json:"transaction"`
	MirrorExpenseID ExpenseID   `json:"mirror_expense_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// HasMirror reports whether the record is linked to a live ledger expense.
func (r *ReconciliationRecord) HasMirror() bool {
	return r != nil && r.MirrorExpenseID != ""
}

// NewRecord builds the record for a transaction mirrored to expenseID.
func NewRecord(tx Transaction, expenseID ExpenseID, now time.Time) *ReconciliationRecord {
	return &ReconciliationRecord{
		TransactionID:   tx.ID,
		Transaction:     tx,
		MirrorExpenseID: expenseID,
		CreatedAt:       now.UTC(),
	}
}
