// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averos/go-chatpay-backend/internal/domain"
)

// CreateMessage inserts a new message row.
func CreateMessage(db *gorm.DB, sessionID, role, content, imageFilename string) (*domain.Message, error) {
	m := &domain.Message{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Role:          role,
		Content:       content,
		ImageFilename: imageFilename,
		CreatedAt:     time.Now().UTC(),
	}
	return m, db.Create(m).Error
}

// ListMessages returns messages ordered deterministically (CreatedAt ASC, ID ASC).
func ListMessages(db *gorm.DB, sessionID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.Where("session_id = ?", sessionID).Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error (as tests expect).
func CountMessages(db *gorm.DB, sessionID string) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).Scan(&total).Error
	return total, err
}

// MessagesStats returns aggregate metadata for messages within a session: the
// total number of rows and the greatest CreatedAt among them. Used for ETag
// generation on the history endpoint. When the session has no messages, the
// returned count is 0 and maxCreatedAt is nil.
func MessagesStats(ctx context.Context, db *gorm.DB, sessionID string) (count int64, maxCreatedAt *time.Time, err error) {
	if count, err = CountMessages(db.WithContext(ctx), sessionID); err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Fetch latest created_at (avoid MAX() -> TEXT in SQLite).
	var row struct {
		CreatedAt time.Time
	}
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("session_id = ?", sessionID)
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}

// GetMessage fetches a message by ID.
func GetMessage(db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
