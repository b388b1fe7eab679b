package locker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-mirror/internal/logger"
)

// DefaultRedisKeyPrefix namespaces lock keys.
const DefaultRedisKeyPrefix = "ledger-mirror:lock:"

// RedisOptions tunes the distributed lock.
type RedisOptions struct {
	// Expiry bounds how long a crashed holder can block others.
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
	KeyPrefix  string
}

// DefaultRedisOptions waits up to roughly 15s for a busy key.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Expiry:     60 * time.Second,
		Tries:      60,
		RetryDelay: 250 * time.Millisecond,
		KeyPrefix:  DefaultRedisKeyPrefix,
	}
}

// Redis is a Locker backed by redsync, shared by every instance pointed at
// the same Redis.
type Redis struct {
	rs   *redsync.Redsync
	opts RedisOptions
}

// NewRedis builds a distributed locker over rdb.
func NewRedis(rdb goredislib.UniversalClient, opts RedisOptions) *Redis {
	def := DefaultRedisOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}
	if opts.Tries < 1 {
		opts.Tries = def.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = def.KeyPrefix
	}

	return &Redis{
		rs:   redsync.New(goredis.NewPool(rdb)),
		opts: opts,
	}
}

// Lock implements Locker.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	mutex := r.rs.NewMutex(r.opts.KeyPrefix+key,
		redsync.WithExpiry(r.opts.Expiry),
		redsync.WithTries(r.opts.Tries),
		redsync.WithRetryDelay(r.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", key, err)
	}

	log := logger.FromContext(ctx)
	unlockCtx := context.WithoutCancel(ctx)

	var once sync.Once
	return func() {
		once.Do(func() {
			ok, err := mutex.UnlockContext(unlockCtx)
			logUnlock(log, key, ok, err)
		})
	}, nil
}

func logUnlock(log zerolog.Logger, key string, ok bool, err error) {
	switch {
	case err != nil:
		log.Error().Err(err).Str("lock_key", key).Msg("Failed to release lock")
	case !ok:
		log.Warn().Str("lock_key", key).Msg("Lock was not held or already expired")
	}
}

var _ Locker = (*Redis)(nil)
