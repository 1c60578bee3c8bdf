// Package tradeerr is the closed sum of business error kinds the engine
// can return to a caller, per the error handling design: validation,
// resource, and lifecycle errors propagate synchronously with a machine
// code; invariant violations never surface here — they panic instead
// (see ledger.ErrLedgerInvariant).
package tradeerr

import "errors"

// Validation errors — detected pre-reservation, no ledger impact.
var (
	ErrInvalidPrice     = errors.New("INVALID_PRICE")
	ErrInvalidQuantity  = errors.New("INVALID_QUANTITY")
	ErrMarketNotActive  = errors.New("MARKET_NOT_ACTIVE")
)

// Resource errors — the reservation step fails, no changes persist.
var (
	ErrInsufficientFunds   = errors.New("INSUFFICIENT_FUNDS")
	ErrInsufficientPosition = errors.New("INSUFFICIENT_POSITION")
)

// Lifecycle errors.
var (
	ErrOrderNotFound        = errors.New("ORDER_NOT_FOUND")
	ErrOrderNotCancellable  = errors.New("ORDER_NOT_CANCELLABLE")
	ErrMarketAlreadySettled = errors.New("MARKET_ALREADY_SETTLED")
)

// Risk/limit errors — correlated exposure limiter rejections (SPEC_FULL
// enrichment, layered on top of the spec's own resource errors).
var (
	ErrPerMarketLimitExceeded = errors.New("PER_MARKET_LIMIT_EXCEEDED")
	ErrEventLimitExceeded     = errors.New("EVENT_LIMIT_EXCEEDED")
)
