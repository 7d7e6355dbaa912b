// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// Idempotency represents a recorded result of a previously processed chat
// turn, keyed by (session_id, key). It enables safe client-side retries of
// POST message requests: a retry carrying the same Idempotency-Key returns
// the originally produced assistant message without re-invoking the model
// provider.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	SessionID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_session_key,priority:1"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_session_key,priority:2"`
	MessageID string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
