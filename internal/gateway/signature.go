// Package gateway talks to the payment gateway: an HTTP client for order
// creation and helpers for authenticating inbound webhook deliveries.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature reports whether signature is the hex-encoded HMAC-SHA256 of
// body under secret. The comparison is constant-time; the exact raw request
// bytes must be passed, any mutation of the body invalidates the signature.
func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the hex-encoded HMAC-SHA256 of body under secret. Used by
// tests and by tooling that replays captured deliveries.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
