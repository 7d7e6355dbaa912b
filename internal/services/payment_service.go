// Package services – PaymentService
//
// This file implements the PaymentService, which owns payment transactions
// and ingests gateway webhook deliveries. Ingestion is the security- and
// correctness-critical path:
//
//  1. the HMAC signature over the exact raw body is verified first; nothing
//     is touched on a mismatch;
//  2. the event id is checked against the webhook ledger and duplicates are
//     short-circuited (gateway retry storms must not repeat side effects);
//  3. the event type is mapped through a closed transition table with an
//     explicit ignore arm for unknown types (forward compatibility);
//  4. a transition guard rejects regressions past a state already reached,
//     evaluated under a per-transaction critical section;
//  5. the transaction mutation and the ledger row commit atomically; a crash
//     or storage failure in between leaves no ledger row, so the gateway's
//     redelivery can retry safely.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/averos/go-chatpay-backend/internal/cache"
	"github.com/averos/go-chatpay-backend/internal/domain"
	"github.com/averos/go-chatpay-backend/internal/gateway"
	"github.com/averos/go-chatpay-backend/internal/repo"
)

// Gateway event types with a defined transition. Anything else is accepted,
// ledgered as ignored, and produces no transaction mutation.
var eventTransitions = map[string]string{
	"payment.authorized": domain.PaymentStatusAuthorized,
	"payment.captured":   domain.PaymentStatusCaptured,
	"payment.failed":     domain.PaymentStatusFailed,
	"order.paid":         domain.PaymentStatusPaid,
	"refund.created":     domain.PaymentStatusRefundInitiated,
	"refund.processed":   domain.PaymentStatusRefundCompleted,
}

// statusRank orders the success/refund path. "failed" sits outside the rank
// order and is handled explicitly by transitionAllowed.
var statusRank = map[string]int{
	domain.PaymentStatusCreated:         0,
	domain.PaymentStatusAuthorized:      1,
	domain.PaymentStatusCaptured:        2,
	domain.PaymentStatusPaid:            3,
	domain.PaymentStatusRefundInitiated: 4,
	domain.PaymentStatusRefundCompleted: 5,
}

// transitionAllowed reports whether moving current→next respects lifecycle
// monotonicity. A replayed or late event whose target is not strictly ahead
// of the current state is rejected; "failed" is terminal and only reachable
// before capture.
func transitionAllowed(current, next string) bool {
	if current == domain.PaymentStatusFailed {
		return false
	}
	if next == domain.PaymentStatusFailed {
		return statusRank[current] < statusRank[domain.PaymentStatusCaptured]
	}
	return statusRank[next] > statusRank[current]
}

// PaymentService owns payment transactions and webhook ingestion.
type PaymentService struct {
	DB *gorm.DB
	// WebhookSecret is the shared secret for HMAC verification of deliveries.
	WebhookSecret string
	// Gateway registers orders; LocalOrders is used when no gateway is configured.
	Gateway gateway.OrderCreator
	// Cache provides the distributed half of the per-transaction lock; may be
	// a disabled cache, in which case exclusion is process-local only.
	Cache *cache.Cache

	// locks is the arena of per-transaction mutexes.
	locks cache.KeyedLocks
}

// IngestResult reports what a verified delivery did.
type IngestResult struct {
	// Outcome is the ledger outcome: processed, ignored, or error.
	Outcome string
	// Duplicate is true when the event id had already been ledgered and the
	// delivery was short-circuited.
	Duplicate bool
}

// webhookEnvelope is the gateway delivery shape (Razorpay-style): an event
// name plus per-entity payload blocks, of which only the relevant one is set.
type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string `json:"id"`
				OrderID          string `json:"order_id"`
				ErrorDescription string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"order"`
		Refund struct {
			Entity struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// CreateOrder registers an order with the gateway and records the matching
// transaction in status "created".
func (s *PaymentService) CreateOrder(ctx context.Context, amount int64, currency string) (*domain.PaymentTransaction, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "CreateOrder",
		trace.WithAttributes(attribute.Int64("payment.amount", amount)),
	)
	defer span.End()

	if currency == "" {
		currency = "INR"
	}
	orderID, err := s.Gateway.CreateOrder(ctx, amount, currency, "")
	if err != nil {
		span.RecordError(err)
		return nil, joinUpstream(err)
	}
	return repo.CreateTransaction(ctx, s.DB, orderID, amount, currency)
}

// CreateTopUpOrder registers a gateway order whose captured amount will be
// credited to the given wallet. The transaction row carries the wallet id;
// everything after creation rides the ordinary webhook path.
func (s *PaymentService) CreateTopUpOrder(ctx context.Context, walletID string, amount int64, currency string) (*domain.PaymentTransaction, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "CreateTopUpOrder",
		trace.WithAttributes(
			attribute.String("wallet.id", walletID),
			attribute.Int64("payment.amount", amount),
		),
	)
	defer span.End()

	if currency == "" {
		currency = "INR"
	}
	orderID, err := s.Gateway.CreateOrder(ctx, amount, currency, "topup_"+walletID)
	if err != nil {
		span.RecordError(err)
		return nil, joinUpstream(err)
	}
	return repo.CreateTopUpTransaction(ctx, s.DB, orderID, amount, currency, walletID)
}

// GetByOrderID returns the transaction for a gateway order id.
func (s *PaymentService) GetByOrderID(ctx context.Context, orderID string) (*domain.PaymentTransaction, error) {
	t, err := repo.GetTransactionByOrderID(ctx, s.DB, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return t, nil
}

// Ingest processes one webhook delivery.
//
// It returns ErrInvalidSignature or ErrMissingEventID for deliveries the
// endpoint must reject outright. Any other returned error is an internal
// processing failure: the handler acknowledges the delivery anyway (to avoid
// externally visible retry storms) and no ledger row exists, so the gateway's
// redelivery with the same event id can be retried safely.
func (s *PaymentService) Ingest(ctx context.Context, body []byte, signature, eventID string) (*IngestResult, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "Ingest",
		trace.WithAttributes(attribute.String("webhook.event_id", eventID)),
	)
	defer span.End()

	// 1) Authenticity, before any state is touched.
	if !gateway.VerifySignature(body, signature, s.WebhookSecret) {
		return nil, ErrInvalidSignature
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, ErrMissingEventID
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Authentic but unparsable: ledger it as an error so redeliveries of
		// the same broken payload do not get reprocessed forever.
		_, lerr := repo.CreateWebhookEvent(ctx, s.DB, eventID, "", "", domain.WebhookOutcomeError)
		if lerr != nil && !errors.Is(lerr, repo.ErrDuplicate) {
			return nil, lerr
		}
		return &IngestResult{Outcome: domain.WebhookOutcomeError}, nil
	}

	// Serialize per transaction, not globally: deliveries for unrelated
	// orders proceed in parallel.
	var res *IngestResult
	err := s.withTransactionLock(ctx, s.lockKey(&env, eventID), func() error {
		var err error
		res, err = s.apply(ctx, &env, eventID)
		return err
	})
	return res, err
}

// lockKey picks the identity to serialize on: the gateway order id when the
// payload carries one, the payment id for refunds, the event id otherwise.
func (s *PaymentService) lockKey(env *webhookEnvelope, eventID string) string {
	if id := env.Payload.Payment.Entity.OrderID; id != "" {
		return "txn:" + id
	}
	if id := env.Payload.Order.Entity.ID; id != "" {
		return "txn:" + id
	}
	if id := env.Payload.Refund.Entity.PaymentID; id != "" {
		return "txn:" + id
	}
	return "evt:" + eventID
}

func (s *PaymentService) withTransactionLock(ctx context.Context, key string, fn func() error) error {
	if s.Cache != nil {
		return s.Cache.WithLock(ctx, &s.locks, key, fn)
	}
	unlock := s.locks.Lock(key)
	defer unlock()
	return fn()
}

// apply runs steps 2–5 of ingestion under the per-transaction lock.
func (s *PaymentService) apply(ctx context.Context, env *webhookEnvelope, eventID string) (*IngestResult, error) {
	// 2) Idempotency: an already-ledgered event id is reported as success
	// without re-mutating anything.
	if prev, err := repo.GetWebhookEvent(ctx, s.DB, eventID); err == nil {
		return &IngestResult{Outcome: prev.Outcome, Duplicate: true}, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	// 3) Closed event-type dispatch with a default ignore arm.
	next, known := eventTransitions[env.Event]
	if !known {
		return s.ledgerOnly(ctx, env, eventID, domain.WebhookOutcomeIgnored)
	}

	txn, err := s.resolveTransaction(ctx, env)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Event for an order this system never created; ledger and move on.
			return s.ledgerOnly(ctx, env, eventID, domain.WebhookOutcomeIgnored)
		}
		return nil, err
	}

	// 4) Transition guard: never regress past a state already reached.
	if !transitionAllowed(txn.Status, next) {
		return s.ledgerOnly(ctx, env, eventID, domain.WebhookOutcomeIgnored)
	}

	paymentID := env.Payload.Payment.Entity.ID
	failureReason := ""
	if next == domain.PaymentStatusFailed {
		failureReason = env.Payload.Payment.Entity.ErrorDescription
	}

	// 5) Mutation and ledger row commit together or not at all. A captured
	// top-up order also credits its wallet inside the same transaction; the
	// ledger dedupe in step 2 guarantees the credit happens at most once.
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdateTransaction(ctx, tx, txn.ID, next, paymentID, failureReason); err != nil {
			return err
		}
		if next == domain.PaymentStatusCaptured && txn.WalletID != "" {
			desc := "Wallet top-up via payment " + paymentID
			if _, err := repo.CreditWallet(ctx, tx, txn.WalletID, txn.Amount, desc, paymentID, "payment"); err != nil {
				return err
			}
		}
		_, err := repo.CreateWebhookEvent(ctx, tx, eventID, env.Event, txn.OrderID, domain.WebhookOutcomeProcessed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &IngestResult{Outcome: domain.WebhookOutcomeProcessed}, nil
}

// ledgerOnly records the delivery without touching any transaction.
func (s *PaymentService) ledgerOnly(ctx context.Context, env *webhookEnvelope, eventID, outcome string) (*IngestResult, error) {
	orderID := env.Payload.Payment.Entity.OrderID
	if orderID == "" {
		orderID = env.Payload.Order.Entity.ID
	}
	if _, err := repo.CreateWebhookEvent(ctx, s.DB, eventID, env.Event, orderID, outcome); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		return nil, err
	}
	return &IngestResult{Outcome: outcome}, nil
}

// resolveTransaction correlates the delivery to a stored transaction: by
// order id for payment/order events, by payment id for refunds.
func (s *PaymentService) resolveTransaction(ctx context.Context, env *webhookEnvelope) (*domain.PaymentTransaction, error) {
	if id := env.Payload.Payment.Entity.OrderID; id != "" {
		return repo.GetTransactionByOrderID(ctx, s.DB, id)
	}
	if id := env.Payload.Order.Entity.ID; id != "" {
		return repo.GetTransactionByOrderID(ctx, s.DB, id)
	}
	if id := env.Payload.Refund.Entity.PaymentID; id != "" {
		return repo.GetTransactionByPaymentID(ctx, s.DB, id)
	}
	return nil, gorm.ErrRecordNotFound
}
