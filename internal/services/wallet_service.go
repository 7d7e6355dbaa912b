// Package services – WalletService
//
// This file implements the WalletService, the read model over wallet balances
// and their transaction history plus the add-money entry point. The service
// never mutates a balance directly: money enters a wallet exclusively through
// the payment pipeline (AddMoney creates a gateway order tagged with the
// wallet id; the verified "payment.captured" webhook credits the balance
// atomically with the status transition).
//
// Balances are created lazily: reading an unknown wallet id yields a zero
// balance rather than an error, so clients need no separate provisioning step.
package services

import (
	"context"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/averos/go-chatpay-backend/internal/domain"
	"github.com/averos/go-chatpay-backend/internal/repo"
)

// MaxTopUpAmount caps a single top-up at Rs 2,00,000 (the UPI
// single-transaction limit), in the smallest currency unit.
const MaxTopUpAmount int64 = 20_000_000

// History paging bounds.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// WalletSnapshot is a balance together with its most recent history entries.
type WalletSnapshot struct {
	Balance *domain.WalletBalance
	Recent  []domain.WalletEntry
}

// WalletService provides wallet balance and history operations.
type WalletService struct {
	DB *gorm.DB
	// Payments creates the gateway orders that fund wallets.
	Payments *PaymentService
}

// Get returns the wallet's current balance plus up to `recent` latest history
// entries (0 skips the history read). Unknown wallets materialize with a zero
// balance.
func (s *WalletService) Get(ctx context.Context, walletID string, recent int) (*WalletSnapshot, error) {
	tr := otel.Tracer("services/WalletService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(attribute.String("wallet.id", walletID)),
	)
	defer span.End()

	bal, err := repo.GetWalletBalance(ctx, s.DB, walletID)
	if err != nil {
		return nil, err
	}
	snap := &WalletSnapshot{Balance: bal, Recent: []domain.WalletEntry{}}
	if recent > 0 {
		entries, err := repo.ListWalletEntries(ctx, s.DB, walletID, recent, 0)
		if err != nil {
			return nil, err
		}
		snap.Recent = entries
	}
	return snap, nil
}

// History returns a page of the wallet's transaction history, newest first,
// along with the total entry count. Limits are clamped to [1, 100] with a
// default of 50.
func (s *WalletService) History(ctx context.Context, walletID string, limit, offset int) ([]domain.WalletEntry, int64, error) {
	tr := otel.Tracer("services/WalletService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(attribute.String("wallet.id", walletID)),
	)
	defer span.End()

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	total, err := repo.CountWalletEntries(ctx, s.DB, walletID)
	if err != nil {
		return nil, 0, err
	}
	entries, err := repo.ListWalletEntries(ctx, s.DB, walletID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// AddMoney starts a wallet top-up: it validates the amount against the
// per-order cap and creates a gateway order tagged with the wallet id. The
// balance itself is only credited once the payment is captured.
func (s *WalletService) AddMoney(ctx context.Context, walletID string, amount int64, currency string) (*domain.PaymentTransaction, error) {
	tr := otel.Tracer("services/WalletService")
	ctx, span := tr.Start(ctx, "AddMoney",
		trace.WithAttributes(
			attribute.String("wallet.id", walletID),
			attribute.Int64("payment.amount", amount),
		),
	)
	defer span.End()

	if amount > MaxTopUpAmount {
		return nil, ErrAmountTooLarge
	}
	return s.Payments.CreateTopUpOrder(ctx, walletID, amount, currency)
}
