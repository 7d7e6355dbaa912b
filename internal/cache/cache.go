// Package cache provides the Redis layer in front of the durable store: a
// read-through cache for session metadata and message history, plus keyed
// locks for webhook ingestion (see keylock.go).
//
// The cache is strictly an accelerator. Every method degrades gracefully when
// no Redis client is configured (nil client → miss / no-op, never an error),
// so the service layer can run against the store alone; tests and local
// development do not need a Redis instance.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/averos/go-chatpay-backend/internal/domain"
)

// Key layout. Message lists live under a sub-key of their session so both
// entries can be dropped together on session deletion.
const (
	sessionKeyPrefix = "session:"
	messagesSuffix   = ":messages"
)

func sessionKey(id string) string  { return sessionKeyPrefix + id }
func messagesKey(id string) string { return sessionKeyPrefix + id + messagesSuffix }

// Cache wraps a Redis client with JSON (de)serialization and TTL handling.
// The zero value and New("") are both valid, disabled caches.
type Cache struct {
	rdb    *redis.Client
	locker *redislock.Client
}

// New constructs a Cache. An empty addr disables caching entirely; the
// returned value is still safe to use.
func New(addr string) *Cache {
	if addr == "" {
		return &Cache{}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: 20,
	})
	return &Cache{rdb: rdb, locker: redislock.New(rdb)}
}

// Enabled reports whether a Redis client is configured.
func (c *Cache) Enabled() bool { return c != nil && c.rdb != nil }

// Ping checks Redis reachability; a disabled cache reports healthy.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Close()
}

// getJSON fetches and unmarshals key into dest, reporting (found, err).
// A nil client or missing key is a plain miss.
func (c *Cache) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		// A corrupt entry behaves like a miss; the read-through path rewrites it.
		log.Warn().Str("key", key).Err(err).Msg("cache entry unreadable, treating as miss")
		return false, nil
	}
	return true, nil
}

// setJSON marshals obj and stores it under key with the given TTL.
// Non-positive TTLs are skipped: caching an already-expired session is useless.
func (c *Cache) setJSON(ctx context.Context, key string, obj any, ttl time.Duration) error {
	if !c.Enabled() || ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

// GetSession returns the cached session metadata, if present.
func (c *Cache) GetSession(ctx context.Context, id string) (*domain.Session, bool, error) {
	var s domain.Session
	found, err := c.getJSON(ctx, sessionKey(id), &s)
	if !found || err != nil {
		return nil, false, err
	}
	return &s, true, nil
}

// SetSession stores session metadata with the session's remaining TTL, so the
// cache entry and the session expire together.
func (c *Cache) SetSession(ctx context.Context, s *domain.Session, ttl time.Duration) error {
	return c.setJSON(ctx, sessionKey(s.ID), s, ttl)
}

// GetMessages returns the cached ordered message history for a session.
func (c *Cache) GetMessages(ctx context.Context, sessionID string) ([]domain.Message, bool, error) {
	var msgs []domain.Message
	found, err := c.getJSON(ctx, messagesKey(sessionID), &msgs)
	if !found || err != nil {
		return nil, false, err
	}
	return msgs, true, nil
}

// SetMessages stores the ordered message history with the given TTL.
func (c *Cache) SetMessages(ctx context.Context, sessionID string, msgs []domain.Message, ttl time.Duration) error {
	return c.setJSON(ctx, messagesKey(sessionID), msgs, ttl)
}

// InvalidateMessages drops the cached message list after a write so the next
// read goes through to the store.
func (c *Cache) InvalidateMessages(ctx context.Context, sessionID string) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Del(ctx, messagesKey(sessionID)).Err()
}

// DropSession removes both the session entry and its message list.
func (c *Cache) DropSession(ctx context.Context, sessionID string) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Del(ctx, sessionKey(sessionID), messagesKey(sessionID)).Err()
}
