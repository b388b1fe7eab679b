// Package reconcile decides the fate of each fetched transaction and keeps
// the record store and the mirrored ledger consistent with that decision.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/ledger-mirror/internal/domain"
	"github.com/dvloznov/ledger-mirror/internal/feed"
	"github.com/dvloznov/ledger-mirror/internal/ledger"
	"github.com/dvloznov/ledger-mirror/internal/locker"
	"github.com/dvloznov/ledger-mirror/internal/logger"
	"github.com/dvloznov/ledger-mirror/internal/store"
)

// DefaultConcurrency is used when Config.Concurrency is not positive.
const DefaultConcurrency = 4

// Config is the immutable engine configuration.
type Config struct {
	Policy      domain.SplitPolicy
	MinAmount   decimal.Decimal
	AccountIDs  []string
	Concurrency int
	// DryRun classifies transactions without calling the ledger or
	// writing records.
	DryRun bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine processes transaction batches. It is safe for concurrent use.
type Engine struct {
	cfg     Config
	fetcher feed.Fetcher
	mirror  ledger.MirrorClient
	records store.RecordStore
	locks   locker.Locker
}

// NewEngine validates cfg and wires the collaborators. locks may be nil,
// in which case an in-process locker is used.
func NewEngine(cfg Config, fetcher feed.Fetcher, mirror ledger.MirrorClient, records store.RecordStore, locks locker.Locker) (*Engine, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("NewEngine: %w", err)
	}
	if mirror == nil || records == nil {
		return nil, errors.New("NewEngine: mirror client and record store are required")
	}
	if cfg.MinAmount.IsNegative() {
		return nil, errors.New("NewEngine: minimum amount must not be negative")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if locks == nil {
		locks = locker.NewLocal()
	}

	return &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		mirror:  mirror,
		records: records,
		locks:   locks,
	}, nil
}

// Reconcile fetches the window and processes every transaction in it.
// A feed failure aborts the batch and is returned; per-transaction failures
// are only reported.
func (e *Engine) Reconcile(ctx context.Context, window feed.Window) (*Report, error) {
	if e.fetcher == nil {
		return nil, errors.New("Reconcile: no feed fetcher configured")
	}
	log := logger.FromContext(ctx)

	log.Info().
		Str("window", window.String()).
		Int("accounts", len(e.cfg.AccountIDs)).
		Bool("dry_run", e.cfg.DryRun).
		Msg("Starting reconciliation")

	txs, err := e.fetcher.Fetch(ctx, window, e.cfg.AccountIDs)
	if err != nil {
		log.Error().Err(err).Str("window", window.String()).Msg("Feed fetch failed, batch aborted")
		return nil, fmt.Errorf("Reconcile: %w", err)
	}

	log.Info().Int("transaction_count", len(txs)).Msg("Retrieved transactions from feed")

	report := e.Run(ctx, txs)
	report.Window = window.String()
	return report, nil
}

// Run processes txs with bounded concurrency and never fails as a whole.
// Transactions that do not settle a pending one run first, so a pending
// transaction and its settlement arriving in the same batch resolve to an
// update rather than two expenses.
func (e *Engine) Run(ctx context.Context, txs []domain.Transaction) *Report {
	log := logger.FromContext(ctx)
	report := &Report{
		DryRun:    e.cfg.DryRun,
		Fetched:   len(txs),
		StartedAt: e.cfg.Now().UTC(),
	}

	var first, settling []int
	for i, tx := range txs {
		if tx.SettlesPending() {
			settling = append(settling, i)
		} else {
			first = append(first, i)
		}
	}

	results := make([]Result, len(txs))
	for _, phase := range [][]int{first, settling} {
		var g errgroup.Group
		g.SetLimit(e.cfg.Concurrency)
		for _, i := range phase {
			i := i
			g.Go(func() error {
				results[i] = e.Process(ctx, txs[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, res := range results {
		report.add(res)
	}
	report.FinishedAt = e.cfg.Now().UTC()

	log.Info().
		Int("fetched", report.Fetched).
		Int("created", report.Created).
		Int("settled", report.Settled).
		Int("duplicate", report.Duplicate).
		Int("below_threshold", report.BelowThreshold).
		Int("failed", report.Failed).
		Bool("dry_run", report.DryRun).
		Msg("Reconciliation complete")

	return report
}

// Process classifies and applies a single transaction. Failures are logged
// and returned in the Result, never panicked or propagated.
func (e *Engine) Process(ctx context.Context, tx domain.Transaction) Result {
	log := logger.FromContext(ctx).With().
		Str("transaction_id", tx.ID).
		Logger()

	res := e.process(ctx, log, tx)
	res.TransactionID = tx.ID

	ev := log.Debug()
	if res.Outcome == OutcomeFailed {
		ev = log.Warn().Err(res.Err)
	} else if res.Outcome == OutcomeCreated || res.Outcome == OutcomeSettled {
		ev = log.Info()
	}
	if res.ExpenseID != "" {
		ev = ev.Str("expense_id", string(res.ExpenseID))
	}
	if e.cfg.DryRun {
		ev = ev.Bool("dry_run", true)
	}
	ev.Str("outcome", res.Outcome.String()).Msg("Processed transaction")

	return res
}

func (e *Engine) process(ctx context.Context, log zerolog.Logger, tx domain.Transaction) Result {
	if err := ctx.Err(); err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}
	if tx.ID == "" {
		return Result{Outcome: OutcomeFailed, Err: errors.New("transaction has no id")}
	}
	if tx.Amount.LessThan(e.cfg.MinAmount) {
		return Result{Outcome: OutcomeBelowThreshold}
	}

	keys := []string{tx.ID}
	if tx.SettlesPending() {
		keys = append(keys, tx.PendingTxnID)
	}
	unlock, err := locker.LockAll(ctx, e.locks, keys...)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}
	defer unlock()

	exists, err := e.records.Exists(ctx, tx.ID)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: &domain.StoreError{Op: "exists", TransactionID: tx.ID, Err: err}}
	}
	if exists {
		return Result{Outcome: OutcomeDuplicate}
	}

	if tx.SettlesPending() {
		prev, err := e.records.Get(ctx, tx.PendingTxnID)
		switch {
		case errors.Is(err, domain.ErrRecordNotFound):
			log.Debug().Str("pending_transaction_id", tx.PendingTxnID).Msg("No record for pending predecessor, creating new expense")
		case err != nil:
			return Result{Outcome: OutcomeFailed, Err: &domain.StoreError{Op: "get", TransactionID: tx.PendingTxnID, Err: err}}
		case prev.HasMirror():
			return e.settle(ctx, log, tx, prev)
		default:
			log.Info().Str("pending_transaction_id", tx.PendingTxnID).Msg("Pending predecessor was never mirrored, creating new expense")
		}
	}

	return e.create(ctx, log, tx)
}

// settle moves the predecessor's mirror expense onto the posted transaction.
func (e *Engine) settle(ctx context.Context, log zerolog.Logger, tx domain.Transaction, prev *domain.ReconciliationRecord) Result {
	expenseID := prev.MirrorExpenseID
	if e.cfg.DryRun {
		return Result{Outcome: OutcomeSettled, ExpenseID: expenseID}
	}

	draft := domain.BuildDraft(tx, e.cfg.Policy)
	if err := e.mirror.Update(ctx, expenseID, draft); err != nil {
		return Result{Outcome: OutcomeFailed, ExpenseID: expenseID, Err: err}
	}

	err := e.records.Put(ctx, domain.NewRecord(tx, expenseID, e.cfg.Now()))
	if errors.Is(err, domain.ErrRecordExists) {
		return Result{Outcome: OutcomeDuplicate, ExpenseID: expenseID}
	}
	if err != nil {
		return Result{Outcome: OutcomeFailed, ExpenseID: expenseID, Err: &domain.StoreError{Op: "put", TransactionID: tx.ID, Err: err}}
	}

	if err := e.records.Delete(ctx, prev.TransactionID); err != nil {
		return Result{Outcome: OutcomeFailed, ExpenseID: expenseID, Err: &domain.StoreError{Op: "delete", TransactionID: prev.TransactionID, Err: err}}
	}

	log.Debug().
		Str("pending_transaction_id", prev.TransactionID).
		Str("expense_id", string(expenseID)).
		Msg("Superseded pending record")
	return Result{Outcome: OutcomeSettled, ExpenseID: expenseID}
}

// create mirrors tx as a new expense and records it once the ledger has
// accepted it.
func (e *Engine) create(ctx context.Context, log zerolog.Logger, tx domain.Transaction) Result {
	if e.cfg.DryRun {
		return Result{Outcome: OutcomeCreated}
	}

	draft := domain.BuildDraft(tx, e.cfg.Policy)
	expenseID, err := e.mirror.Create(ctx, draft)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	if err := e.records.Put(ctx, domain.NewRecord(tx, expenseID, e.cfg.Now())); err != nil {
		// The expense exists remotely without a record; log it for cleanup.
		log.Error().
			Err(err).
			Str("expense_id", string(expenseID)).
			Msg("Mirror expense created but record could not be stored")
		return Result{Outcome: OutcomeFailed, ExpenseID: expenseID, Err: &domain.StoreError{Op: "put", TransactionID: tx.ID, Err: err}}
	}

	return Result{Outcome: OutcomeCreated, ExpenseID: expenseID}
}
