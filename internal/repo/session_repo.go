// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Session
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a session is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Expiry is deliberately NOT evaluated here: whether a session is usable at
// the current instant is a service-level decision (see services.SessionService),
// and expired rows are retained for history.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averos/go-chatpay-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateSession inserts a new Session row with a UUID primary key, UTC
// creation time, and an expiry of now+ttl.
//
// On success, it returns the persisted Session. On failure, it returns a DB error.
func CreateSession(ctx context.Context, db *gorm.DB, ttl time.Duration) (*domain.Session, error) {
	now := time.Now().UTC()
	s := &domain.Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession fetches a single session by its ID. If the record does not
// exist, it returns ErrNotFound. On other DB errors, the raw error is
// returned. Expired sessions are returned as-is; callers decide whether
// expiry matters for the operation at hand.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.Session, error) {
	var s domain.Session
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession removes a session and all its messages. If no session row was
// deleted, it returns ErrNotFound. Messages are deleted explicitly rather than
// relying on the FK cascade so the operation behaves identically on databases
// where foreign-key enforcement is off.
func DeleteSession(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Session{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
