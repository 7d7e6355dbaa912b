// Package services – SessionService
//
// This file implements the SessionService, which owns the session lifecycle:
// creation with a fixed TTL, lazy expiry on access, history retrieval, and
// deletion. Reads go through the cache with the store as source of truth
// (read-through: a miss falls back to the store and repopulates the cache
// with the session's remaining TTL, so cache entries and sessions expire
// together).
//
// Expiry is a read-time comparison against ExpiresAt; there is no background
// sweep, and expired rows stay in the store for history.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/averos/go-chatpay-backend/internal/domain"
	"github.com/averos/go-chatpay-backend/internal/repo"
)

// SessionCache is the cache contract required by SessionService. The concrete
// implementation is cache.Cache; tests substitute fakes. All methods must be
// miss-tolerant: a cache failure degrades to the store, it never fails the
// operation.
type SessionCache interface {
	GetSession(ctx context.Context, id string) (*domain.Session, bool, error)
	SetSession(ctx context.Context, s *domain.Session, ttl time.Duration) error
	GetMessages(ctx context.Context, sessionID string) ([]domain.Message, bool, error)
	SetMessages(ctx context.Context, sessionID string, msgs []domain.Message, ttl time.Duration) error
	InvalidateMessages(ctx context.Context, sessionID string) error
	DropSession(ctx context.Context, sessionID string) error
}

// SessionService provides session lifecycle operations.
type SessionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Cache fronts the store for session and history reads.
	Cache SessionCache
	// TTL is the fixed session lifetime applied at creation.
	TTL time.Duration

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// NewSessionService constructs a SessionService with a sane default TTL.
func NewSessionService(db *gorm.DB, c SessionCache, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionService{DB: db, Cache: c, TTL: ttl, now: time.Now}
}

func (s *SessionService) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

// Create allocates a new active session with a fresh identifier and a
// TTL-based expiry, writes it to the store, and warms the cache.
func (s *SessionService) Create(ctx context.Context) (*domain.Session, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Create")
	defer span.End()

	sess, err := repo.CreateSession(ctx, s.DB, s.TTL)
	if err != nil {
		return nil, err
	}
	// Cache warm-up is best effort; the store row is authoritative.
	if s.Cache != nil {
		_ = s.Cache.SetSession(ctx, sess, sess.RemainingTTL(s.clock()))
	}
	return sess, nil
}

// Get resolves a session by id, cache first. It returns ErrSessionNotFound
// when absent and ErrSessionExpired when the TTL has elapsed at read time.
func (s *SessionService) Get(ctx context.Context, id string) (*domain.Session, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(attribute.String("session.id", id)),
	)
	defer span.End()

	sess, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.clock()) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// lookup fetches session metadata through the cache, repopulating it on a
// store fallback. Expiry is NOT evaluated here.
func (s *SessionService) lookup(ctx context.Context, id string) (*domain.Session, error) {
	if s.Cache != nil {
		if sess, found, err := s.Cache.GetSession(ctx, id); err == nil && found {
			return sess, nil
		}
	}
	sess, err := repo.GetSession(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if s.Cache != nil {
		_ = s.Cache.SetSession(ctx, sess, sess.RemainingTTL(s.clock()))
	}
	return sess, nil
}

// ListMessages returns the ordered message history for a session, oldest
// first, going through the cache with store fallback. The session must exist
// and be unexpired; the length invariant (two messages per completed turn,
// barring orphan user messages from provider failures) is a consequence of
// how ChatService writes turns.
func (s *SessionService) ListMessages(ctx context.Context, id string) ([]domain.Message, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "ListMessages",
		trace.WithAttributes(attribute.String("session.id", id)),
	)
	defer span.End()

	sess, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.clock()) {
		return nil, ErrSessionExpired
	}

	if s.Cache != nil {
		if msgs, found, err := s.Cache.GetMessages(ctx, id); err == nil && found {
			return msgs, nil
		}
	}

	msgs, err := repo.ListMessages(s.DB.WithContext(ctx), id, 0)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		_ = s.Cache.SetMessages(ctx, id, msgs, sess.RemainingTTL(s.clock()))
	}
	return msgs, nil
}

// Delete removes a session and its messages from both store and cache. This
// is an explicit client operation; nothing in the service deletes sessions on
// its own.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("session.id", id)),
	)
	defer span.End()

	if err := repo.DeleteSession(ctx, s.DB, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if s.Cache != nil {
		_ = s.Cache.DropSession(ctx, id)
	}
	return nil
}
