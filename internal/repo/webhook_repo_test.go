package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/averos/go-chatpay-backend/internal/domain"
)

func newWebhookRepoDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("webhook_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.WebhookEvent{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestCreateWebhookEvent_FirstInsertWins(t *testing.T) {
	db := newWebhookRepoDB(t)
	ctx := context.Background()

	rec, err := CreateWebhookEvent(ctx, db, "evt_1", "payment.captured", "order_1", domain.WebhookOutcomeProcessed)
	if err != nil {
		t.Fatalf("CreateWebhookEvent: %v", err)
	}
	if rec.EventID != "evt_1" || rec.Outcome != domain.WebhookOutcomeProcessed {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// Same event id again: the ledger refuses.
	if _, err := CreateWebhookEvent(ctx, db, "evt_1", "payment.captured", "order_1", domain.WebhookOutcomeProcessed); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetWebhookEvent(t *testing.T) {
	db := newWebhookRepoDB(t)
	ctx := context.Background()

	if _, err := GetWebhookEvent(ctx, db, "evt_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := GetWebhookEvent(ctx, db, "  "); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank id should be ErrNotFound, got %v", err)
	}

	if _, err := CreateWebhookEvent(ctx, db, "evt_2", "order.paid", "order_2", domain.WebhookOutcomeIgnored); err != nil {
		t.Fatalf("CreateWebhookEvent: %v", err)
	}
	got, err := GetWebhookEvent(ctx, db, "evt_2")
	if err != nil {
		t.Fatalf("GetWebhookEvent: %v", err)
	}
	if got.EventType != "order.paid" || got.Outcome != domain.WebhookOutcomeIgnored {
		t.Fatalf("unexpected record: %+v", got)
	}
}
