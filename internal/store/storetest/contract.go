// Package storetest holds the behaviour every store.RecordStore must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledger-mirror/internal/domain"
	"github.com/dvloznov/ledger-mirror/internal/store"
)

// Record returns a populated record for id.
func Record(id string, expenseID domain.ExpenseID) *domain.ReconciliationRecord {
	tx := domain.Transaction{
		ID:           id,
		AccountID:    "acc-1",
		Amount:       decimal.RequireFromString("12.34"),
		MerchantName: "TST* Joe's Diner",
		CategoryCode: "13005000",
		Pending:      true,
	}
	return domain.NewRecord(tx, expenseID, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
}

// RunContract exercises s against the RecordStore contract.
func RunContract(t *testing.T, newStore func(t *testing.T) store.RecordStore) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(ctx, "missing")
		assert.True(t, errors.Is(err, domain.ErrRecordNotFound), "got %v", err)

		ok, err := s.Exists(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		rec := Record("tx-1", "E1")

		require.NoError(t, s.Put(ctx, rec))

		ok, err := s.Exists(ctx, "tx-1")
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.Get(ctx, "tx-1")
		require.NoError(t, err)
		assert.Equal(t, "tx-1", got.TransactionID)
		assert.Equal(t, domain.ExpenseID("E1"), got.MirrorExpenseID)
		assert.Equal(t, "TST* Joe's Diner", got.Transaction.MerchantName)
		assert.True(t, got.Transaction.Pending)
		assert.True(t, got.Transaction.Amount.Equal(rec.Transaction.Amount))
		assert.True(t, got.CreatedAt.Equal(rec.CreatedAt))
	})

	t.Run("PutIsCreateIfAbsent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, Record("tx-1", "E1")))

		err := s.Put(ctx, Record("tx-1", "E2"))
		assert.True(t, errors.Is(err, domain.ErrRecordExists), "got %v", err)

		got, err := s.Get(ctx, "tx-1")
		require.NoError(t, err)
		assert.Equal(t, domain.ExpenseID("E1"), got.MirrorExpenseID)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, Record("tx-1", "E1")))

		require.NoError(t, s.Delete(ctx, "tx-1"))
		require.NoError(t, s.Delete(ctx, "tx-1"))

		ok, err := s.Exists(ctx, "tx-1")
		require.NoError(t, err)
		assert.False(t, ok)

		// The id can be recorded again once deleted.
		assert.NoError(t, s.Put(ctx, Record("tx-1", "E3")))
	})

	t.Run("ConcurrentPutSingleWinner", func(t *testing.T) {
		s := newStore(t)
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Put(ctx, Record("tx-race", "E")); err == nil {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&wins))
	})
}
