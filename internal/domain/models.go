// Package domain defines the persistence models for chat sessions, messages,
// payment transactions, and the webhook idempotency ledger. These types are
// mapped with GORM and form the core data layer of the application.
package domain

import "time"

// Session represents a bounded-lifetime conversation context. Sessions are
// created on explicit client request and expire purely by time: expiry is
// checked lazily on access, no background job marks or deletes them.
//
// Fields:
//   - ID: stable UUID primary key (char(36)), opaque to clients.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - ExpiresAt: CreatedAt + configured TTL; immutable after creation.
type Session struct {
	ID        string    `json:"session_id" gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// Expired reports whether the session's TTL has elapsed at the given instant.
func (s *Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// RemainingTTL returns the remaining lifetime at the given instant, clamped
// to zero for already-expired sessions.
func (s *Session) RemainingTTL(now time.Time) time.Duration {
	d := s.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Message represents a single utterance within a session, authored either by
// the "user" or the "assistant". Messages are immutable once created and are
// strictly ordered by creation time within their session.
//
// ImageFilename is an optional reference to a previously uploaded file; the
// backend stores the name only and performs no image processing.
type Message struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	SessionID     string    `json:"session_id"     gorm:"type:char(36);not null;index:idx_session_msgs,priority:1"`
	Role          string    `json:"role"           gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content       string    `json:"content"        gorm:"type:text;not null"`
	ImageFilename string    `json:"image_filename,omitempty" gorm:"type:varchar(255)"`
	CreatedAt     time.Time `json:"created_at"     gorm:"index:idx_session_msgs,priority:2"`

	// Session is the owning conversation. Messages are cascade-deleted
	// if their session is removed.
	Session Session `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Payment transaction statuses. Transitions are monotonic along the payment
// lifecycle (see services.PaymentService); a transaction never regresses from
// a terminal state on replay of an older gateway event.
const (
	PaymentStatusCreated         = "created"
	PaymentStatusAuthorized      = "authorized"
	PaymentStatusCaptured        = "captured"
	PaymentStatusPaid            = "paid"
	PaymentStatusFailed          = "failed"
	PaymentStatusRefundInitiated = "refund_initiated"
	PaymentStatusRefundCompleted = "refund_completed"
)

// PaymentTransaction is the financial record for one gateway order. Rows are
// created at order-creation time with status "created" and are afterwards
// mutated exclusively by verified webhook events. Rows are never deleted; the
// table is the audit trail.
//
// OrderID and PaymentID are externally assigned by the gateway and may arrive
// at different times (PaymentID typically with the first payment.* event).
type PaymentTransaction struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	OrderID       string    `json:"order_id"       gorm:"type:varchar(64);not null;uniqueIndex"`
	PaymentID     string    `json:"payment_id,omitempty" gorm:"type:varchar(64);index"`
	Amount        int64     `json:"amount"         gorm:"not null"` // smallest currency unit
	Currency      string    `json:"currency"       gorm:"type:varchar(8);not null;default:'INR'"`
	Status        string    `json:"status"         gorm:"type:varchar(24);not null;default:'created';index"`
	FailureReason string    `json:"failure_reason,omitempty" gorm:"type:text"`
	// WalletID marks wallet top-up orders; the captured amount is credited to
	// this wallet. Empty for plain orders.
	WalletID  string    `json:"wallet_id,omitempty" gorm:"type:varchar(255);index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for PaymentTransaction.
func (PaymentTransaction) TableName() string { return "payment_transactions" }

// Webhook ledger outcomes.
const (
	WebhookOutcomeProcessed = "processed"
	WebhookOutcomeIgnored   = "ignored"
	WebhookOutcomeError     = "error"
)

// WebhookEvent is the idempotency ledger for gateway webhook deliveries. A row
// is inserted on the first completed processing attempt of a given gateway
// event id; re-deliveries with the same id are detected against this table and
// short-circuited without touching PaymentTransaction. Rows are never
// overwritten.
type WebhookEvent struct {
	EventID   string    `gorm:"type:varchar(64);primaryKey"`
	EventType string    `gorm:"type:varchar(64);not null"`
	OrderID   string    `gorm:"type:varchar(64);index"`
	Outcome   string    `gorm:"type:varchar(16);not null"` // processed | ignored | error
	CreatedAt time.Time `gorm:"autoCreateTime"`            // first-seen timestamp
}

// TableName returns the database table name for WebhookEvent.
func (WebhookEvent) TableName() string { return "webhook_events" }

// Wallet entry types.
const (
	WalletEntryCredit = "credit"
	WalletEntryDebit  = "debit"
)

// WalletBalance is the current balance of one wallet, in the smallest
// currency unit. Rows are created lazily on first access with a zero balance
// and mutated only together with a WalletEntry row, so the balance always
// equals the sum of its entries.
type WalletBalance struct {
	WalletID  string    `json:"wallet_id" gorm:"type:varchar(255);primaryKey"`
	Balance   int64     `json:"balance"   gorm:"not null;default:0"` // smallest currency unit
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"last_updated"`
}

// TableName returns the database table name for WalletBalance.
func (WalletBalance) TableName() string { return "wallet_balances" }

// WalletEntry is one line of a wallet's transaction history. Entries are
// append-only; ReferenceID/ReferenceType correlate the entry to its source
// (the gateway payment id for top-up credits).
type WalletEntry struct {
	ID            string    `json:"id"             gorm:"type:varchar(50);primaryKey"`
	WalletID      string    `json:"-"              gorm:"type:varchar(255);not null;index:idx_wallet_entries,priority:1"`
	Type          string    `json:"type"           gorm:"type:varchar(20);not null"` // credit | debit
	Amount        int64     `json:"amount"         gorm:"not null"`
	Description   string    `json:"description,omitempty" gorm:"type:text"`
	ReferenceID   string    `json:"reference_id,omitempty"   gorm:"type:varchar(100)"`
	ReferenceType string    `json:"reference_type,omitempty" gorm:"type:varchar(50)"`
	CreatedAt     time.Time `json:"created_at"     gorm:"index:idx_wallet_entries,priority:2"`
}

// TableName returns the database table name for WalletEntry.
func (WalletEntry) TableName() string { return "wallet_entries" }
