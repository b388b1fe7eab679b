package locker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "tx-1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.Len())
}

func TestLocal_DistinctKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocal_ContextCancelled(t *testing.T) {
	l := NewLocal()

	unlock, err := l.Lock(context.Background(), "tx-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "tx-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, l.Len())
}

func TestLockAll_SortsAndDedupes(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	unlock, err := LockAll(ctx, l, "b", "", "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())

	unlock()
	assert.Equal(t, 0, l.Len())
}

func TestLockAll_OppositeOrderNoDeadlock(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock, err := LockAll(ctx, l, "posted", "pending")
			if assert.NoError(t, err) {
				unlock()
			}
		}()
		go func() {
			defer wg.Done()
			unlock, err := LockAll(ctx, l, "pending", "posted")
			if assert.NoError(t, err) {
				unlock()
			}
		}()
	}
	wg.Wait()
}

func TestLockAll_ReleasesOnFailure(t *testing.T) {
	l := NewLocal()
	held, err := l.Lock(context.Background(), "b")
	require.NoError(t, err)
	defer held()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = LockAll(ctx, l, "a", "b")
	require.Error(t, err)

	// "a" must have been released.
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlockA()
}

func newRedisLocker(t *testing.T, opts RedisOptions) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, opts)
}

func TestRedis_LockUnlock(t *testing.T) {
	r := newRedisLocker(t, RedisOptions{Tries: 1})
	ctx := context.Background()

	unlock, err := r.Lock(ctx, "tx-1")
	require.NoError(t, err)

	_, err = r.Lock(ctx, "tx-1")
	assert.Error(t, err, "second holder must not acquire a busy key")

	unlock()

	again, err := r.Lock(ctx, "tx-1")
	require.NoError(t, err)
	again()
}

func TestRedis_WaitsForRelease(t *testing.T) {
	r := newRedisLocker(t, RedisOptions{Tries: 100, RetryDelay: 10 * time.Millisecond})
	ctx := context.Background()

	unlock, err := r.Lock(ctx, "tx-1")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		unlock()
	}()

	second, err := r.Lock(ctx, "tx-1")
	require.NoError(t, err)
	second()
}

func TestNewRedis_Defaults(t *testing.T) {
	r := newRedisLocker(t, RedisOptions{})
	assert.Equal(t, DefaultRedisOptions(), r.opts)
}
