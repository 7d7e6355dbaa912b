// Message HTTP handlers.
//
// This file exposes REST endpoints for chat turns:
//   - POST /sessions/{id}/messages   (append a user message, get assistant reply)
//   - GET  /sessions/{id}/messages   (full ordered history, ETag support)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (line endings and length constraints)
//   - delegate to application services (ChatService / SessionService)
//   - implement conditional responses (ETag) and idempotency semantics
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (session, key), the handler returns that recorded
// assistant message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/averos/go-chatpay-backend/internal/domain"
	"github.com/averos/go-chatpay-backend/internal/services"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a user message.
//
// Content is normalized by the handler (line endings and excessive blank lines)
// before being passed to the service layer. The handler enforces the rune cap
// from Options at the edge; the service applies its own guard as well.
type PostMessageRequest struct {
	// Content is the user message. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"What does the refund policy cover?"`
	// ImageFilename optionally references a previously uploaded image.
	ImageFilename string `json:"image_filename,omitempty" example:"receipt-2024.png"`
	// Model optionally overrides the default provider model for this turn.
	Model string `json:"model,omitempty" example:"gpt-oss-120b"`
}

// PostMessageResponse is the JSON envelope for a newly created assistant message.
type PostMessageResponse struct {
	// Message is the assistant reply created as a result of the request.
	Message *domain.Message `json:"message"`
}

// ListMessagesResponse contains the full ordered history of a session.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	TotalCount int64            `json:"total_count"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message and get assistant reply
// @Description Appends a user message to the session and generates an assistant reply.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Session ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "User message payload"
//
// @Success     200  {object}  handlers.PostMessageResponse  "Assistant reply"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse        "Session not found"
// @Failure     410  {object}  handlers.ErrorResponse        "Session expired"
// @Failure     502  {object}  handlers.ErrorResponse        "Provider failure"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal error"
// @Router      /sessions/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	content := sanitizeContent(req.Content)
	if utf8.RuneCountInString(content) > h.maxMessageRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", h.maxMessageRunes))
		return
	}
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := idempotencyKey(c)
	if idemKey != "" && h.history != nil {
		if prev, err := h.history.RecordedReply(ctx, sessionID, idemKey, time.Now().UTC()); err == nil && prev != nil {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, PostMessageResponse{Message: prev})
			return
		}
	}

	// Normal processing (service has a second guard for length).
	m, err := h.chatSvc.SendMessage(ctx, services.TurnInput{
		SessionID:     sessionID,
		Content:       content,
		ImageFilename: strings.TrimSpace(req.ImageFilename),
		Model:         strings.TrimSpace(req.Model),
	})
	if err != nil {
		switch err {
		case services.ErrSessionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case services.ErrSessionExpired:
			fail(c, http.StatusGone, ErrCodeSessionExpired, "session has expired")
		case services.ErrTooLong:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", h.maxMessageRunes))
		case services.ErrEmptyMessage:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		default:
			if errors.Is(err, services.ErrUpstream) {
				fail(c, http.StatusBadGateway, ErrCodeUpstream, "model provider unavailable")
			} else {
				fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
			}
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && h.history != nil {
		_ = h.history.RecordReply(ctx, sessionID, idemKey, m.ID, h.idempotencyTTL)
	}

	ok(c, http.StatusOK, PostMessageResponse{Message: m})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a session
// @Description Returns the full ordered message history (oldest first) for the session.
// @Tags        Messages
// @Produce     json
//
// @Param       id             path    string  true  "Session ID (UUID)"  format(uuid)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag  "Weak ETag for current history"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Session not found"
// @Failure     410  {object} handlers.ErrorResponse "Session expired"
// @Router      /sessions/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	// ETag pre-check (best effort).
	if h.history != nil {
		count, maxTS, err := h.history.MessagesStats(ctx, sessionID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, sessionID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.sessionSvc.ListMessages(ctx, sessionID)
	if err != nil {
		switch err {
		case services.ErrSessionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case services.ErrSessionExpired:
			fail(c, http.StatusGone, ErrCodeSessionExpired, "session has expired")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		TotalCount: int64(len(items)),
	})
}

// idempotencyKey extracts an idempotency key if an upstream middleware has
// already validated/stashed it. The fallback behavior reads the
// "Idempotency-Key" header directly when no dedicated middleware exists.
func idempotencyKey(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}
