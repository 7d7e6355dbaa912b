// Payment HTTP handlers.
//
// This file exposes REST endpoints for payments:
//   - POST /payments/orders       (create a gateway order + local transaction)
//   - GET  /payments/{order_id}   (read current transaction status)
//   - POST /payments/webhook      (ingest gateway event deliveries)
//
// The webhook endpoint has inverted error semantics compared to the rest of
// the API: the gateway retries any non-2xx response, so only authentication
// failures (bad signature, missing event id) are rejected. Internal processing
// failures are logged and acknowledged with a success-shaped body; because no
// ledger row was written, the gateway's redelivery of the same event id will
// be processed cleanly.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/averos/go-chatpay-backend/internal/domain"
	"github.com/averos/go-chatpay-backend/internal/http/middleware"
	"github.com/averos/go-chatpay-backend/internal/services"
)

// Gateway delivery headers (Razorpay-style).
const (
	HeaderWebhookSignature = "X-Razorpay-Signature"
	HeaderWebhookEventID   = "X-Razorpay-Event-Id"
)

//
// DTOs
//

// CreateOrderRequest is the JSON payload for creating a payment order.
type CreateOrderRequest struct {
	// Amount is the charge in the currency's smallest unit (e.g. paise).
	Amount int64 `json:"amount" binding:"required,min=1" example:"49900"`
	// Currency is the ISO code; defaults to INR when empty.
	Currency string `json:"currency,omitempty" example:"INR"`
}

// OrderResponse is the JSON envelope for a payment transaction.
type OrderResponse struct {
	OrderID string `json:"order_id" example:"order_Nxq7jJ8eK2tPBa"`
	// PaymentID is set once the gateway reports one; empty until then.
	PaymentID string `json:"payment_id,omitempty" example:"pay_Nxq8CvBl3K0dQm"`
	Amount    int64  `json:"amount" example:"49900"`
	Currency  string `json:"currency" example:"INR"`
	Status    string `json:"status" example:"created"`
	// FailureReason is set only for failed transactions.
	FailureReason string `json:"failure_reason,omitempty"`
}

func orderResponse(t *domain.PaymentTransaction) OrderResponse {
	return OrderResponse{
		OrderID:       t.OrderID,
		PaymentID:     t.PaymentID,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Status:        t.Status,
		FailureReason: t.FailureReason,
	}
}

//
// Handlers
//

// CreateOrder godoc
// @ID          createOrder
// @Summary     Create a payment order
// @Description Registers an order with the payment gateway and records the transaction in status "created".
// @Tags        Payments
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CreateOrderRequest  true  "Order payload"
//
// @Success     201  {object}  handlers.OrderResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     502  {object}  handlers.ErrorResponse  "Gateway failure"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /payments/orders [post]
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Amount < 1 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "amount (smallest currency unit) required")
		return
	}

	t, err := h.paySvc.CreateOrder(c.Request.Context(), req.Amount, strings.TrimSpace(req.Currency))
	if err != nil {
		if errors.Is(err, services.ErrUpstream) {
			fail(c, http.StatusBadGateway, ErrCodeUpstream, "payment gateway unavailable")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, orderResponse(t))
}

// GetPayment godoc
// @ID          getPayment
// @Summary     Read payment status
// @Description Returns the current transaction state for a gateway order id.
// @Tags        Payments
// @Produce     json
//
// @Param       order_id  path  string  true  "Gateway order ID"  example(order_Nxq7jJ8eK2tPBa)
//
// @Success     200  {object}  handlers.OrderResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Transaction not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /payments/{order_id} [get]
func (h *Handlers) GetPayment(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("order_id"))
	if orderID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "order id required")
		return
	}

	t, err := h.paySvc.GetByOrderID(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "transaction not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, orderResponse(t))
}

// HandleWebhook godoc
// @ID          paymentWebhook
// @Summary     Ingest a payment gateway webhook
// @Description Verifies the HMAC signature over the raw body and applies the event exactly once.
// @Description Internal processing failures still return 200 so the gateway's redelivery can retry safely.
// @Tags        Payments
// @Accept      json
// @Produce     json
//
// @Param       X-Razorpay-Signature  header  string  true  "Hex HMAC-SHA256 of the raw body"
// @Param       X-Razorpay-Event-Id   header  string  true  "Unique gateway event id"
//
// @Success     200  {object}  map[string]string  "Acknowledged"
// @Failure     400  {object}  handlers.ErrorResponse  "Missing event id"
// @Failure     401  {object}  handlers.ErrorResponse  "Signature mismatch"
// @Router      /payments/webhook [post]
func (h *Handlers) HandleWebhook(c *gin.Context) {
	// The signature covers the exact raw bytes; read them before any binding.
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	signature := c.GetHeader(HeaderWebhookSignature)
	eventID := c.GetHeader(HeaderWebhookEventID)

	res, err := h.paySvc.Ingest(c.Request.Context(), body, signature, eventID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidSignature):
			fail(c, http.StatusUnauthorized, ErrCodeInvalidSignature, "signature verification failed")
		case errors.Is(err, services.ErrMissingEventID):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "event id header required")
		default:
			// Acknowledge anyway: no ledger row was written, so the gateway's
			// redelivery of this event id retries the work.
			lg := middleware.LoggerFrom(c)
			lg.Error().
				Err(err).
				Str("event_id", eventID).
				Msg("webhook processing failed; acknowledged for redelivery")
			ok(c, http.StatusOK, gin.H{"status": "ok"})
		}
		return
	}

	if res.Duplicate {
		c.Header("Idempotency-Replayed", "true")
		middleware.WebhookEvents.WithLabelValues("duplicate").Inc()
	} else {
		middleware.WebhookEvents.WithLabelValues(res.Outcome).Inc()
	}
	ok(c, http.StatusOK, gin.H{"status": "ok", "outcome": res.Outcome})
}
