// Package bqstore keeps reconciliation records in a BigQuery table.
package bqstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/ledger-mirror/internal/domain"
	"github.com/dvloznov/ledger-mirror/internal/store"
)

const recordsTable = "reconciliation_records"

// recordRow mirrors the reconciliation_records schema.
type recordRow struct {
	TransactionID   string              `bigquery:"transaction_id"`
	MirrorExpenseID bigquery.NullString `bigquery:"mirror_expense_id"`
	Snapshot        string              `bigquery:"snapshot"`
	CreatedAt       time.Time           `bigquery:"created_at"`
}

// Store is a RecordStore backed by BigQuery. It holds a shared client.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// New creates a store with its own BigQuery client.
func New(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("New: creating client: %w", err)
	}
	return NewWithClient(client, projectID, datasetID), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *bigquery.Client, projectID, datasetID string) *Store {
	return &Store{client: client, projectID: projectID, datasetID: datasetID}
}

// Client exposes the underlying client, e.g. for Migrate.
func (s *Store) Client() *bigquery.Client {
	return s.client
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) table() string {
	return fmt.Sprintf("`%s.%s.%s`", s.projectID, s.datasetID, recordsTable)
}

// Exists implements store.RecordStore.
func (s *Store) Exists(ctx context.Context, transactionID string) (bool, error) {
	q := s.client.Query(`SELECT COUNT(1) AS n FROM ` + s.table() + ` WHERE transaction_id = @transaction_id`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: transactionID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("Exists: query read: %w", err)
	}

	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return false, fmt.Errorf("Exists: reading count: %w", err)
	}
	return row.N > 0, nil
}

// Get implements store.RecordStore.
func (s *Store) Get(ctx context.Context, transactionID string) (*domain.ReconciliationRecord, error) {
	q := s.client.Query(`
		SELECT transaction_id, mirror_expense_id, snapshot, created_at
		FROM ` + s.table() + `
		WHERE transaction_id = @transaction_id
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: transactionID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("Get: query read: %w", err)
	}

	var row recordRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: reading row: %w", err)
	}

	rec, err := rowToRecord(&row)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return rec, nil
}

// Put implements store.RecordStore. The MERGE only inserts when no row for
// the id exists; zero affected rows means another writer got there first.
func (s *Store) Put(ctx context.Context, rec *domain.ReconciliationRecord) error {
	if rec == nil || rec.TransactionID == "" {
		return errors.New("Put: transaction id is required")
	}

	row, err := recordToRow(rec)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}

	q := s.client.Query(`
		MERGE ` + s.table() + ` T
		USING (SELECT @transaction_id AS transaction_id) S
		ON T.transaction_id = S.transaction_id
		WHEN NOT MATCHED THEN
		  INSERT (transaction_id, account_id, amount, pending, pending_transaction_id,
		          mirror_expense_id, snapshot, created_at)
		  VALUES (@transaction_id, @account_id, @amount, @pending, @pending_transaction_id,
		          @mirror_expense_id, @snapshot, @created_at)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: row.TransactionID},
		{Name: "account_id", Value: rec.Transaction.AccountID},
		{Name: "amount", Value: rec.Transaction.Amount.Rat()},
		{Name: "pending", Value: rec.Transaction.Pending},
		{Name: "pending_transaction_id", Value: rec.Transaction.PendingTxnID},
		{Name: "mirror_expense_id", Value: row.MirrorExpenseID},
		{Name: "snapshot", Value: row.Snapshot},
		{Name: "created_at", Value: row.CreatedAt},
	}

	status, err := runQuery(ctx, q)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	if affectedRows(status) == 0 {
		return domain.ErrRecordExists
	}
	return nil
}

// Delete implements store.RecordStore.
func (s *Store) Delete(ctx context.Context, transactionID string) error {
	q := s.client.Query(`DELETE FROM ` + s.table() + ` WHERE transaction_id = @transaction_id`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: transactionID},
	}

	if _, err := runQuery(ctx, q); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

func affectedRows(status *bigquery.JobStatus) int64 {
	if status == nil || status.Statistics == nil {
		return 0
	}
	qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics)
	if !ok {
		return 0
	}
	return qs.NumDMLAffectedRows
}

func recordToRow(rec *domain.ReconciliationRecord) (*recordRow, error) {
	snapshot, err := json.Marshal(rec.Transaction)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return &recordRow{
		TransactionID: rec.TransactionID,
		MirrorExpenseID: bigquery.NullString{
			StringVal: string(rec.MirrorExpenseID),
			Valid:     rec.MirrorExpenseID != "",
		},
		Snapshot:  string(snapshot),
		CreatedAt: rec.CreatedAt.UTC(),
	}, nil
}

func rowToRecord(row *recordRow) (*domain.ReconciliationRecord, error) {
	var tx domain.Transaction
	if err := json.Unmarshal([]byte(row.Snapshot), &tx); err != nil {
		return nil, fmt.Errorf("decoding snapshot for %s: %w", row.TransactionID, err)
	}

	rec := &domain.ReconciliationRecord{
		TransactionID: row.TransactionID,
		Transaction:   tx,
		CreatedAt:     row.CreatedAt,
	}
	if row.MirrorExpenseID.Valid {
		rec.MirrorExpenseID = domain.ExpenseID(row.MirrorExpenseID.StringVal)
	}
	return rec, nil
}

var _ store.RecordStore = (*Store)(nil)
