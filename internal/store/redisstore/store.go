// Package redisstore keeps reconciliation records in Redis, one JSON value
// per transaction id.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dvloznov/ledger-mirror/internal/domain"
	"github.com/dvloznov/ledger-mirror/internal/store"
)

// DefaultKeyPrefix namespaces record keys.
const DefaultKeyPrefix = "ledger-mirror:record:"

// Store is a RecordStore backed by Redis. Put relies on SETNX for atomic
// create-if-absent.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// New wraps an existing client.
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Connect dials addr and verifies the connection.
func Connect(ctx context.Context, addr string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("Connect: ping %s: %w", addr, err)
	}
	return New(rdb, DefaultKeyPrefix), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) key(transactionID string) string {
	return s.prefix + transactionID
}

// Exists implements store.RecordStore.
func (s *Store) Exists(ctx context.Context, transactionID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(transactionID)).Result()
	if err != nil {
		return false, fmt.Errorf("Exists: %w", err)
	}
	return n > 0, nil
}

// Get implements store.RecordStore.
func (s *Store) Get(ctx context.Context, transactionID string) (*domain.ReconciliationRecord, error) {
	data, err := s.rdb.Get(ctx, s.key(transactionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	var rec domain.ReconciliationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("Get: decoding record %s: %w", transactionID, err)
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

	created, err := s.rdb.SetNX(ctx, s.key(rec.TransactionID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	if !created {
		return domain.ErrRecordExists
	}
	return nil
}

// Delete implements store.RecordStore.
func (s *Store) Delete(ctx context.Context, transactionID string) error {
	if err := s.rdb.Del(ctx, s.key(transactionID)).Err(); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

var _ store.RecordStore = (*Store)(nil)
