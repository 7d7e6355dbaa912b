// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the wallet
// models (WalletBalance, WalletEntry).
//
// The two tables move together: a credit upserts the balance row and appends
// an entry row in the same statement sequence, so the caller is expected to
// pass a transaction handle when atomicity with other writes matters.
package repo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/averos/go-chatpay-backend/internal/domain"
)

// newEntryID mints a wallet entry id ("tx_" + 12 hex chars).
func newEntryID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return "tx_" + hex.EncodeToString(b)
}

// GetWalletBalance fetches the balance row for a wallet, creating a zero
// balance on first access. Every wallet id therefore resolves; there is no
// not-found case.
func GetWalletBalance(ctx context.Context, db *gorm.DB, walletID string) (*domain.WalletBalance, error) {
	now := time.Now().UTC()
	b := domain.WalletBalance{WalletID: walletID}
	err := db.WithContext(ctx).
		Attrs(domain.WalletBalance{Balance: 0, CreatedAt: now, UpdatedAt: now}).
		FirstOrCreate(&b, domain.WalletBalance{WalletID: walletID}).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreditWallet adds amount to a wallet's balance and appends the matching
// history entry. The balance write is an upsert (insert the row with the
// amount, or add onto the existing balance), so the wallet need not exist
// beforehand. Both writes go through the supplied handle; pass a transaction
// to make the credit atomic with other mutations.
func CreditWallet(ctx context.Context, db *gorm.DB, walletID string, amount int64, description, referenceID, referenceType string) (*domain.WalletEntry, error) {
	now := time.Now().UTC()
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "wallet_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": now,
		}),
	}).Create(&domain.WalletBalance{
		WalletID:  walletID,
		Balance:   amount,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error
	if err != nil {
		return nil, err
	}

	e := &domain.WalletEntry{
		ID:            newEntryID(),
		WalletID:      walletID,
		Type:          domain.WalletEntryCredit,
		Amount:        amount,
		Description:   description,
		ReferenceID:   referenceID,
		ReferenceType: referenceType,
		CreatedAt:     now,
	}
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// ListWalletEntries returns a wallet's history, newest first, with the id as
// tiebreaker so pagination is stable across entries sharing a timestamp.
func ListWalletEntries(ctx context.Context, db *gorm.DB, walletID string, limit, offset int) ([]domain.WalletEntry, error) {
	var out []domain.WalletEntry
	q := db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountWalletEntries returns the number of history entries for a wallet.
func CountWalletEntries(ctx context.Context, db *gorm.DB, walletID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.WalletEntry{}).Where("wallet_id = ?", walletID).Count(&total).Error
	return total, err
}
