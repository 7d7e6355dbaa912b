// Wallet HTTP handlers.
//
// This file exposes REST endpoints for wallet balances:
//   - GET  /wallet/{wallet_id}               (balance, optionally with recent history)
//   - GET  /wallet/{wallet_id}/transactions  (paged history, newest first)
//   - POST /wallet/{wallet_id}/add           (start a top-up via the payment gateway)
//
// Wallets have no create endpoint: reading an unknown wallet id materializes
// a zero balance. Money enters exclusively through the payment pipeline; the
// add endpoint returns an order in status "created" and the balance changes
// only once the gateway reports the payment captured.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/averos/go-chatpay-backend/internal/domain"
	"github.com/averos/go-chatpay-backend/internal/services"
	"github.com/averos/go-chatpay-backend/internal/utils"
)

//
// DTOs
//

// WalletResponse is the JSON envelope for a wallet balance.
type WalletResponse struct {
	WalletID string `json:"wallet_id" example:"user_7f3b"`
	// Balance is the current balance in the currency's smallest unit.
	Balance     int64     `json:"balance" example:"150000"`
	LastUpdated time.Time `json:"last_updated"`
	// RecentTransactions holds the latest history entries when requested.
	RecentTransactions []domain.WalletEntry `json:"recent_transactions,omitempty"`
}

// WalletHistoryResponse is one page of a wallet's transaction history.
type WalletHistoryResponse struct {
	WalletID     string               `json:"wallet_id"`
	Transactions []domain.WalletEntry `json:"transactions"`
	TotalCount   int64                `json:"total_count"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}

// AddMoneyRequest is the JSON payload for starting a wallet top-up.
type AddMoneyRequest struct {
	// Amount is the top-up in the currency's smallest unit.
	Amount int64 `json:"amount" binding:"required,min=1" example:"50000"`
	// Currency is the ISO code; defaults to INR when empty.
	Currency string `json:"currency,omitempty" example:"INR"`
}

//
// Handlers
//

// GetWallet godoc
// @ID          getWallet
// @Summary     Read a wallet balance
// @Description Returns the current balance; unknown wallets read as zero.
// @Description Pass include_transactions=N (max 20) to embed the latest history entries.
// @Tags        Wallet
// @Produce     json
//
// @Param       wallet_id             path   string  true   "Wallet ID"
// @Param       include_transactions  query  int     false  "Number of recent entries to embed (0-20)"
//
// @Success     200  {object}  handlers.WalletResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /wallet/{wallet_id} [get]
func (h *Handlers) GetWallet(c *gin.Context) {
	walletID := strings.TrimSpace(c.Param("wallet_id"))
	if walletID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "wallet id required")
		return
	}

	recent := utils.AtoiDefault(c.Query("include_transactions"), 0)
	if recent < 0 {
		recent = 0
	}
	if recent > 20 {
		recent = 20
	}

	snap, err := h.walletSvc.Get(c.Request.Context(), walletID, recent)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	resp := WalletResponse{
		WalletID:    snap.Balance.WalletID,
		Balance:     snap.Balance.Balance,
		LastUpdated: snap.Balance.UpdatedAt,
	}
	if recent > 0 {
		resp.RecentTransactions = snap.Recent
	}
	ok(c, http.StatusOK, resp)
}

// GetWalletTransactions godoc
// @ID          listWalletTransactions
// @Summary     List wallet transaction history
// @Description Returns history entries newest first, with limit/offset paging.
// @Tags        Wallet
// @Produce     json
//
// @Param       wallet_id  path   string  true   "Wallet ID"
// @Param       limit      query  int     false  "Page size (default 50, max 100)"
// @Param       offset     query  int     false  "Rows to skip"
//
// @Success     200  {object}  handlers.WalletHistoryResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /wallet/{wallet_id}/transactions [get]
func (h *Handlers) GetWalletTransactions(c *gin.Context) {
	walletID := strings.TrimSpace(c.Param("wallet_id"))
	if walletID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "wallet id required")
		return
	}

	limit := utils.AtoiDefault(c.Query("limit"), 0)
	offset := utils.AtoiDefault(c.Query("offset"), 0)

	entries, total, err := h.walletSvc.History(c.Request.Context(), walletID, limit, offset)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	ok(c, http.StatusOK, WalletHistoryResponse{
		WalletID:     walletID,
		Transactions: entries,
		TotalCount:   total,
		Limit:        limit,
		Offset:       offset,
	})
}

// AddMoney godoc
// @ID          addMoney
// @Summary     Start a wallet top-up
// @Description Creates a gateway order tagged with the wallet id. The balance is
// @Description credited only once the gateway reports the payment captured.
// @Tags        Wallet
// @Accept      json
// @Produce     json
//
// @Param       wallet_id  path  string  true  "Wallet ID"
// @Param       body       body  handlers.AddMoneyRequest  true  "Top-up payload"
//
// @Success     201  {object}  handlers.OrderResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     502  {object}  handlers.ErrorResponse  "Gateway failure"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /wallet/{wallet_id}/add [post]
func (h *Handlers) AddMoney(c *gin.Context) {
	walletID := strings.TrimSpace(c.Param("wallet_id"))
	if walletID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "wallet id required")
		return
	}

	var req AddMoneyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Amount < 1 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "amount (smallest currency unit) required")
		return
	}

	t, err := h.walletSvc.AddMoney(c.Request.Context(), walletID, req.Amount, strings.TrimSpace(req.Currency))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAmountTooLarge):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "amount exceeds per-order limit")
		case errors.Is(err, services.ErrUpstream):
			fail(c, http.StatusBadGateway, ErrCodeUpstream, "payment gateway unavailable")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, orderResponse(t))
}
