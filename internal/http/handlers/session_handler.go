// Session HTTP handlers.
//
// This file exposes REST endpoints for chat sessions:
//   - POST   /sessions        (create, fixed TTL)
//   - GET    /sessions/{id}   (fetch metadata, lazy expiry check)
//   - DELETE /sessions/{id}   (delete session and its history)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. Expiry is reported as 410 Gone so
// clients can distinguish "never existed" from "existed but timed out".
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/averos/go-chatpay-backend/internal/domain"
	"github.com/averos/go-chatpay-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// SessionService defines session lifecycle operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type SessionService interface {
	// Create starts a new session with the service-configured TTL.
	Create(ctx context.Context) (*domain.Session, error)
	// Get resolves a session, returning ErrSessionNotFound or ErrSessionExpired.
	Get(ctx context.Context, id string) (*domain.Session, error)
	// ListMessages returns the ordered history for an active session.
	ListMessages(ctx context.Context, id string) ([]domain.Message, error)
	// Delete removes a session and its messages.
	Delete(ctx context.Context, id string) error
}

// ChatService defines chat-turn processing consumed by HTTP handlers.
type ChatService interface {
	// SendMessage processes one user turn and returns the assistant reply.
	SendMessage(ctx context.Context, in services.TurnInput) (*domain.Message, error)
}

// PaymentService defines order and webhook operations consumed by HTTP
// handlers.
type PaymentService interface {
	// CreateOrder registers a gateway order and records the transaction.
	CreateOrder(ctx context.Context, amount int64, currency string) (*domain.PaymentTransaction, error)
	// GetByOrderID returns the transaction for a gateway order id.
	GetByOrderID(ctx context.Context, orderID string) (*domain.PaymentTransaction, error)
	// Ingest processes one verified webhook delivery.
	Ingest(ctx context.Context, body []byte, signature, eventID string) (*services.IngestResult, error)
}

// WalletService defines wallet balance, history, and top-up operations
// consumed by HTTP handlers.
type WalletService interface {
	// Get returns the balance plus up to `recent` latest history entries.
	Get(ctx context.Context, walletID string, recent int) (*services.WalletSnapshot, error)
	// History returns one page of the wallet's history plus the total count.
	History(ctx context.Context, walletID string, limit, offset int) ([]domain.WalletEntry, int64, error)
	// AddMoney creates a gateway order whose capture credits the wallet.
	AddMoney(ctx context.Context, walletID string, amount int64, currency string) (*domain.PaymentTransaction, error)
}

// HistoryIndex provides the read-side lookups behind conditional responses
// (ETag) and Idempotency-Key replays on the message endpoints. The concrete
// implementation is services.ChatService; a nil index disables both features.
type HistoryIndex interface {
	// MessagesStats returns the message count and latest creation time for a
	// session.
	MessagesStats(ctx context.Context, sessionID string) (count int64, maxCreatedAt *time.Time, err error)
	// RecordedReply returns the assistant message previously stored under an
	// idempotency key, or nil when none is recorded.
	RecordedReply(ctx context.Context, sessionID, key string, now time.Time) (*domain.Message, error)
	// RecordReply stores a (session, key) → message mapping for ttl.
	RecordReply(ctx context.Context, sessionID, key, messageID string, ttl time.Duration) error
}

//
// Handler wiring
//

// Options tunes per-handler behavior that is not part of any service
// contract. The zero value is usable: sane defaults are applied in New.
type Options struct {
	// MaxMessageRunes caps inbound message length at the edge; <= 0 selects
	// the default of 4000.
	MaxMessageRunes int
	// History backs ETag generation and idempotent replays; nil disables both.
	History HistoryIndex
	// IdempotencyTTL bounds how long a recorded reply stays replayable; <= 0
	// selects 24h.
	IdempotencyTTL time.Duration
}

// Handlers groups HTTP endpoints for sessions, chat turns, payments, and
// wallets. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	sessionSvc SessionService
	chatSvc    ChatService
	paySvc     PaymentService
	walletSvc  WalletService

	maxMessageRunes int
	history         HistoryIndex
	idempotencyTTL  time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(sessionSvc SessionService, chatSvc ChatService, paySvc PaymentService, walletSvc WalletService, opts Options) *Handlers {
	if opts.MaxMessageRunes <= 0 {
		opts.MaxMessageRunes = 4000
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &Handlers{
		sessionSvc:      sessionSvc,
		chatSvc:         chatSvc,
		paySvc:          paySvc,
		walletSvc:       walletSvc,
		maxMessageRunes: opts.MaxMessageRunes,
		history:         opts.History,
		idempotencyTTL:  opts.IdempotencyTTL,
	}
}

//
// DTOs
//

// SessionResponse is the JSON envelope for session metadata.
type SessionResponse struct {
	// SessionID is the opaque session identifier (UUID).
	SessionID string `json:"session_id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// CreatedAt is the session creation time (UTC).
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is the fixed expiry deadline (UTC).
	ExpiresAt time.Time `json:"expires_at"`
	// ExpiresIn is the remaining lifetime in whole seconds at response time.
	ExpiresIn int64 `json:"expires_in" example:"3600"`
}

func sessionResponse(s *domain.Session) SessionResponse {
	return SessionResponse{
		SessionID: s.ID,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
		ExpiresIn: int64(s.RemainingTTL(time.Now().UTC()) / time.Second),
	}
}

//
// Handlers
//

// CreateSession godoc
// @ID          createSession
// @Summary     Create a new chat session
// @Description Creates a session with a server-assigned identifier and a fixed TTL.
// @Tags        Sessions
// @Produce     json
//
// @Success     201  {object}  handlers.SessionResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions [post]
func (h *Handlers) CreateSession(c *gin.Context) {
	s, err := h.sessionSvc.Create(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, sessionResponse(s))
}

// GetSession godoc
// @ID          getSession
// @Summary     Fetch session metadata
// @Description Returns session metadata. Expired sessions yield 410 Gone.
// @Tags        Sessions
// @Produce     json
//
// @Param       id  path  string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     200  {object}  handlers.SessionResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     410  {object}  handlers.ErrorResponse  "Session expired"
// @Router      /sessions/{id} [get]
func (h *Handlers) GetSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	s, err := h.sessionSvc.Get(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case errors.Is(err, services.ErrSessionExpired):
			fail(c, http.StatusGone, ErrCodeSessionExpired, "session has expired")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, sessionResponse(s))
}

// DeleteSession godoc
// @ID          deleteSession
// @Summary     Delete a session
// @Description Removes a session and its message history.
// @Tags        Sessions
// @Produce     json
//
// @Param       id  path  string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Router      /sessions/{id} [delete]
func (h *Handlers) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	if err := h.sessionSvc.Delete(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}
