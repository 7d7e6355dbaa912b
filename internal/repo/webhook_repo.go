// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the WebhookEvent
// ledger used to guarantee at-most-once processing of gateway deliveries.
package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/averos/go-chatpay-backend/internal/domain"
)

// ErrDuplicate indicates that a record already exists for the given key
// (webhook event id, or an idempotency tuple).
var ErrDuplicate = errors.New("duplicate")

// GetWebhookEvent returns the ledger entry for a gateway event id, or
// ErrNotFound when the event has never been recorded.
func GetWebhookEvent(ctx context.Context, db *gorm.DB, eventID string) (*domain.WebhookEvent, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.WebhookEvent
	err := db.WithContext(ctx).Where("event_id = ?", eventID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateWebhookEvent inserts a ledger entry and returns ErrDuplicate when the
// event id was already recorded. The primary key on event_id makes the insert
// the atomicity point: whichever concurrent delivery commits first owns the
// event, the loser observes ErrDuplicate.
func CreateWebhookEvent(ctx context.Context, db *gorm.DB, eventID, eventType, orderID, outcome string) (*domain.WebhookEvent, error) {
	rec := &domain.WebhookEvent{
		EventID:   eventID,
		EventType: eventType,
		OrderID:   orderID,
		Outcome:   outcome,
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}
