// Package services defines the business logic for chat sessions, chat turns,
// and payment event ingestion. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

// Session- and chat-related errors.
var (
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indicates that the session's TTL has elapsed. Expired
	// sessions reject every operation, including new turns; history is
	// retained but no further writes are permitted.
	ErrSessionExpired = errors.New("session expired")

	// ErrEmptyMessage is returned when a chat turn carries an empty message.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrTooLong is returned when a chat turn exceeds the maximum configured
	// message length.
	ErrTooLong = errors.New("message too long")

	// ErrUpstream is returned when the model-provider call fails (timeout,
	// non-2xx, malformed response). The user message of the turn remains
	// persisted; no assistant reply is synthesized.
	ErrUpstream = errors.New("provider request failed")
)

// Payment-related errors.
var (
	// ErrInvalidSignature indicates a webhook delivery whose HMAC signature
	// did not match the raw body. The event is rejected before any state is
	// touched.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMissingEventID indicates a webhook delivery without a gateway event
	// id; without it at-most-once processing cannot be guaranteed.
	ErrMissingEventID = errors.New("missing webhook event id")

	// ErrTransactionNotFound indicates that no payment transaction exists for
	// the requested gateway order id.
	ErrTransactionNotFound = errors.New("payment transaction not found")

	// ErrAmountTooLarge is returned when a wallet top-up exceeds the
	// per-order amount limit (the UPI single-transaction cap).
	ErrAmountTooLarge = errors.New("amount exceeds per-order limit")
)
