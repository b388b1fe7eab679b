// Package app assembles the reconciliation engine and its collaborators from
// a Config. Both the server and the CLI build through it.
package app

import (
	"context"
	"fmt"

	goredislib "github.com/redis/go-redis/v9"

	"github.com/dvloznov/ledger-mirror/internal/config"
	"github.com/dvloznov/ledger-mirror/internal/feed"
	"github.com/dvloznov/ledger-mirror/internal/ledger"
	"github.com/dvloznov/ledger-mirror/internal/locker"
	"github.com/dvloznov/ledger-mirror/internal/logger"
	"github.com/dvloznov/ledger-mirror/internal/reconcile"
	"github.com/dvloznov/ledger-mirror/internal/store"
	"github.com/dvloznov/ledger-mirror/internal/store/bqstore"
	"github.com/dvloznov/ledger-mirror/internal/store/gcsstore"
	"github.com/dvloznov/ledger-mirror/internal/store/inmemory"
	"github.com/dvloznov/ledger-mirror/internal/store/redisstore"
)

// App holds the wired engine and everything that needs closing.
type App struct {
	Config  config.Config
	Engine  *reconcile.Engine
	Records store.RecordStore

	closers []func() error
}

// Options adjusts a build.
type Options struct {
	DryRun bool
}

// Build wires the engine described by cfg.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}

	records, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}
	a.Records = records
	a.closers = append(a.closers, closeStore)

	locks, closeLocks, err := OpenLocker(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("Build: %w", err)
	}
	a.closers = append(a.closers, closeLocks)

	fetcher := feed.NewPlaidClient(cfg.Plaid.BaseURL, feed.PlaidCredentials{
		ClientID:    cfg.Plaid.ClientID,
		Secret:      cfg.Plaid.Secret,
		AccessToken: cfg.Plaid.AccessToken,
	})
	mirror := ledger.NewSplitwiseClient(cfg.Splitwise.BaseURL, cfg.Splitwise.APIKey)

	engine, err := reconcile.NewEngine(reconcile.Config{
		Policy:      cfg.SplitPolicy(),
		MinAmount:   cfg.MinAmount(),
		AccountIDs:  cfg.Plaid.AccountIDs,
		Concurrency: cfg.Reconcile.Concurrency,
		DryRun:      opts.DryRun,
	}, fetcher, mirror, records, locks)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("Build: %w", err)
	}
	a.Engine = engine

	return a, nil
}

// Close releases every backend connection, returning the first error.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func noClose() error { return nil }

// OpenStore opens the record store selected by cfg.Store.Backend.
func OpenStore(ctx context.Context, cfg config.Config) (store.RecordStore, func() error, error) {
	log := logger.FromContext(ctx)

	switch cfg.Store.Backend {
	case config.StoreMemory:
		log.Warn().Msg("Using in-memory record store; records are lost on restart")
		return inmemory.NewStore(), noClose, nil

	case config.StoreRedis:
		s, err := redisstore.Connect(ctx, cfg.Store.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("OpenStore: %w", err)
		}
		return s, s.Close, nil

	case config.StoreGCS:
		bucketName, prefix, err := gcsstore.ParseURI(cfg.Store.Bucket)
		if err != nil {
			return nil, nil, fmt.Errorf("OpenStore: %w", err)
		}
		if prefix == "" {
			prefix = cfg.Store.Prefix
		}
		bucket, err := gcsstore.NewBucket(ctx, bucketName)
		if err != nil {
			return nil, nil, fmt.Errorf("OpenStore: %w", err)
		}
		return gcsstore.New(bucket, prefix), bucket.Close, nil

	case config.StoreBigQuery:
		s, err := bqstore.New(ctx, cfg.Store.Project, cfg.Store.Dataset)
		if err != nil {
			return nil, nil, fmt.Errorf("OpenStore: %w", err)
		}
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("OpenStore: unknown store backend %q", cfg.Store.Backend)
	}
}

// OpenLocker opens the per-transaction locker selected by cfg.Lock.Backend.
func OpenLocker(ctx context.Context, cfg config.Config) (locker.Locker, func() error, error) {
	switch cfg.Lock.Backend {
	case config.LockLocal:
		return locker.NewLocal(), noClose, nil

	case config.LockRedis:
		rdb := goredislib.NewClient(&goredislib.Options{Addr: cfg.Lock.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("OpenLocker: ping %s: %w", cfg.Lock.RedisAddr, err)
		}
		return locker.NewRedis(rdb, locker.DefaultRedisOptions()), rdb.Close, nil

	default:
		return nil, nil, fmt.Errorf("OpenLocker: unknown lock backend %q", cfg.Lock.Backend)
	}
}
