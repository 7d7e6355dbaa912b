package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// OrderCreator is the contract the payment service uses to register an order
// with the gateway before a collect request is shown to the payer.
type OrderCreator interface {
	// CreateOrder registers an order for amount (smallest currency unit) and
	// returns the gateway-assigned order id.
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (string, error)
}

// Client calls the gateway's orders API (Razorpay-style: basic auth with
// key id/secret, JSON bodies, ids like "order_...").
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	httpc     *http.Client
}

// NewClient constructs a gateway client.
func NewClient(baseURL, keyID, keySecret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		httpc:     &http.Client{Timeout: timeout},
	}
}

type orderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
}

type orderResponse struct {
	ID string `json:"id"`
}

// CreateOrder implements OrderCreator.
func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (string, error) {
	body, err := json.Marshal(orderRequest{Amount: amount, Currency: currency, Receipt: receipt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway: create order: status %d", resp.StatusCode)
	}
	var out orderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("gateway: create order: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("gateway: create order: missing order id")
	}
	return out.ID, nil
}

// LocalOrders issues process-local order ids without contacting any gateway.
// Used in development and tests where the webhook flow is driven by hand.
type LocalOrders struct{}

// CreateOrder implements OrderCreator.
func (LocalOrders) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (string, error) {
	return "order_" + uuid.NewString(), nil
}
