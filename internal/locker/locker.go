// Package locker serializes work on the same transaction id, in-process or
// across instances sharing a Redis.
package locker

import (
	"context"
	"fmt"
	"sort"
)

// Locker hands out exclusive locks by key.
type Locker interface {
	// Lock blocks until key is held or ctx is done. The returned func
	// releases the lock and is safe to call more than once.
	Lock(ctx context.Context, key string) (func(), error)
}

// LockAll acquires every distinct non-empty key in sorted order so two
// callers sharing keys cannot deadlock. On failure nothing stays held.
func LockAll(ctx context.Context, l Locker, keys ...string) (func(), error) {
	seen := make(map[string]struct{}, len(keys))
	ordered := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	unlocks := make([]func(), 0, len(ordered))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	for _, k := range ordered {
		unlock, err := l.Lock(ctx, k)
		if err != nil {
			release()
			return nil, fmt.Errorf("LockAll: locking %s: %w", k, err)
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}
