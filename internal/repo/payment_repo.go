// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// PaymentTransaction model.
//
// Transactions are created once at order time and thereafter mutated only by
// the payment service under its per-transaction critical section; nothing in
// this file enforces the lifecycle, it only persists what the service decided.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averos/go-chatpay-backend/internal/domain"
)

// CreateTransaction inserts a new payment transaction in status "created",
// correlated to the gateway-assigned order id.
func CreateTransaction(ctx context.Context, db *gorm.DB, orderID string, amount int64, currency string) (*domain.PaymentTransaction, error) {
	t := &domain.PaymentTransaction{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Amount:    amount,
		Currency:  currency,
		Status:    domain.PaymentStatusCreated,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTopUpTransaction inserts a payment transaction tagged with the wallet
// it tops up; the payment service credits that wallet when the payment is
// captured.
func CreateTopUpTransaction(ctx context.Context, db *gorm.DB, orderID string, amount int64, currency, walletID string) (*domain.PaymentTransaction, error) {
	t := &domain.PaymentTransaction{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Amount:    amount,
		Currency:  currency,
		Status:    domain.PaymentStatusCreated,
		WalletID:  walletID,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// GetTransactionByOrderID fetches a transaction by its gateway order id,
// returning ErrNotFound when absent.
func GetTransactionByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*domain.PaymentTransaction, error) {
	var t domain.PaymentTransaction
	if err := db.WithContext(ctx).Where("order_id = ?", orderID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTransactionByPaymentID fetches a transaction by the gateway payment id
// recorded from an earlier event. Refund events carry only the payment id,
// not the order id, so this is their correlation path.
func GetTransactionByPaymentID(ctx context.Context, db *gorm.DB, paymentID string) (*domain.PaymentTransaction, error) {
	var t domain.PaymentTransaction
	if err := db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTransaction persists a status transition. The caller supplies the
// already-guarded target status plus any identifiers learned from the event
// (payment id, failure reason); empty strings leave the stored values alone.
func UpdateTransaction(ctx context.Context, db *gorm.DB, id, status, paymentID, failureReason string) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if paymentID != "" {
		updates["payment_id"] = paymentID
	}
	if failureReason != "" {
		updates["failure_reason"] = failureReason
	}
	res := db.WithContext(ctx).Model(&domain.PaymentTransaction{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
