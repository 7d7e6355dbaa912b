// Package cache – keyed locks.
//
// Webhook ingestion requires mutual exclusion per payment transaction: two
// concurrently delivered events for the same order must evaluate the
// transition guard serially, while events for unrelated orders proceed in
// parallel. This file provides that as an arena of per-key locks created on
// demand and released when the last holder leaves, optionally strengthened by
// a Redis-backed lock (bsm/redislock) when the cache is enabled so the
// exclusion also holds across processes.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// lockEntry is one slot in the arena. refs counts waiters plus the holder so
// the slot can be removed from the map once nobody references it.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedLocks is an arena of per-key mutexes. The zero value is ready to use.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// Lock acquires the mutex for key, creating the slot on demand, and returns
// the matching unlock function. Different keys never contend with each other.
func (l *KeyedLocks) Lock(key string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*lockEntry)
	}
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

const (
	// distLockTTL bounds how long a crashed holder can block other processes.
	distLockTTL = 10 * time.Second
	// distLockRetry paces acquisition attempts while another process holds the key.
	distLockRetry = 50 * time.Millisecond
)

// WithLock runs fn while holding the per-key lock. The in-process arena is
// always used; when Redis is configured, a distributed lock on the same key is
// acquired as well, so exclusion survives horizontal scaling. Failure to talk
// to Redis falls back to process-local exclusion rather than failing the
// operation.
func (c *Cache) WithLock(ctx context.Context, locks *KeyedLocks, key string, fn func() error) error {
	unlock := locks.Lock(key)
	defer unlock()

	if c.Enabled() && c.locker != nil {
		lock, err := c.locker.Obtain(ctx, "lock:"+key, distLockTTL, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(distLockRetry), 100),
		})
		if err == nil {
			defer lock.Release(context.WithoutCancel(ctx))
		}
		// redislock.ErrNotObtained or transport errors: proceed under the
		// local mutex only; single-process deployments are still correct.
	}

	return fn()
}
