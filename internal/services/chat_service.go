// Package services – ChatService
//
// This file implements the ChatService, which processes one chat turn: it
// resolves the session, persists the user message, calls the external model
// provider with exactly that single message (no prior-turn context is
// forwarded, every provider call is stateless), persists the assistant
// reply, and invalidates the cached history.
//
// Partial-failure semantics: the user message is made durable BEFORE the
// provider call, so a provider failure leaves a visible, incomplete turn
// rather than silently losing input. No fake assistant reply is synthesized.
package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/averos/go-chatpay-backend/internal/domain"
	"github.com/averos/go-chatpay-backend/internal/provider"
	"github.com/averos/go-chatpay-backend/internal/repo"
)

// ChatService coordinates chat-turn processing.
type ChatService struct {
	DB       *gorm.DB
	Sessions *SessionService
	Provider provider.Completer

	// MaxMessageRunes caps accepted user messages by rune length; <= 0
	// disables the cap.
	MaxMessageRunes int
}

// TurnInput carries one inbound user message.
type TurnInput struct {
	SessionID string
	Content   string
	// ImageFilename optionally references a previously uploaded file; stored
	// verbatim, never interpreted.
	ImageFilename string
	// Model optionally overrides the provider's default model id.
	Model string
}

// SendMessage processes one turn and returns the persisted assistant message.
//
// Errors: ErrSessionNotFound / ErrSessionExpired from session resolution,
// ErrEmptyMessage / ErrTooLong from validation, ErrUpstream (wrapped) when
// the provider call fails after the user message was persisted, and raw
// storage errors otherwise.
func (s *ChatService) SendMessage(ctx context.Context, in TurnInput) (*domain.Message, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "SendMessage",
		trace.WithAttributes(attribute.String("session.id", in.SessionID)),
	)
	defer span.End()

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(content) > s.MaxMessageRunes {
		return nil, ErrTooLong
	}

	// An expired session rejects new turns.
	if _, err := s.Sessions.Get(ctx, in.SessionID); err != nil {
		return nil, err
	}

	// Persist the user message first so history is never lost even if the
	// provider call fails. This write must be durable before the call begins.
	if _, err := repo.CreateMessage(s.DB.WithContext(ctx), in.SessionID, domain.RoleUser, content, in.ImageFilename); err != nil {
		return nil, err
	}
	// The user message changed history; drop the cached list regardless of
	// how the rest of the turn goes.
	if s.Sessions.Cache != nil {
		_ = s.Sessions.Cache.InvalidateMessages(ctx, in.SessionID)
	}

	reply, err := s.Provider.Complete(ctx, in.Model, content)
	if err != nil {
		span.RecordError(err)
		return nil, joinUpstream(err)
	}

	assistant, err := repo.CreateMessage(s.DB.WithContext(ctx), in.SessionID, domain.RoleAssistant, reply, "")
	if err != nil {
		return nil, err
	}
	if s.Sessions.Cache != nil {
		_ = s.Sessions.Cache.InvalidateMessages(ctx, in.SessionID)
	}
	return assistant, nil
}

// MessagesStats returns the message count and latest creation time for a
// session; the handler layer derives conditional-response validators from it.
func (s *ChatService) MessagesStats(ctx context.Context, sessionID string) (int64, *time.Time, error) {
	return repo.MessagesStats(ctx, s.DB, sessionID)
}

// RecordedReply returns the assistant message previously stored under an
// idempotency key for this session, or nil when no unexpired record exists.
func (s *ChatService) RecordedReply(ctx context.Context, sessionID, key string, now time.Time) (*domain.Message, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, sessionID, key, now)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return repo.GetMessage(s.DB.WithContext(ctx), rec.MessageID)
}

// RecordReply stores the (session, key) → assistant message mapping so a
// retried request can be answered from the record for ttl.
func (s *ChatService) RecordReply(ctx context.Context, sessionID, key, messageID string, ttl time.Duration) error {
	_, err := repo.CreateIdempotency(ctx, s.DB, sessionID, key, messageID, http.StatusOK, ttl)
	return err
}

// joinUpstream wraps a provider error so callers can match ErrUpstream with
// errors.Is while the original detail stays available for logging.
func joinUpstream(err error) error {
	return &upstreamError{cause: err}
}

type upstreamError struct{ cause error }

func (e *upstreamError) Error() string { return ErrUpstream.Error() + ": " + e.cause.Error() }
func (e *upstreamError) Is(target error) bool {
	return target == ErrUpstream
}
func (e *upstreamError) Unwrap() error { return e.cause }
