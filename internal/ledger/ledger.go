// Package ledger mirrors expense drafts into the expense-splitting service.
package ledger

import (
	"context"

	"github.com/dvloznov/ledger-mirror/internal/domain"
)

// MirrorClient creates and updates expenses in the ledger provider.
// Failures are returned as *domain.RemoteLedgerError; Update returns
// *domain.NotFoundError when the target expense no longer exists.
type MirrorClient interface {
	Create(ctx context.Context, draft domain.ExpenseDraft) (domain.ExpenseID, error)
	Update(ctx context.Context, id domain.ExpenseID, draft domain.ExpenseDraft) error
}
