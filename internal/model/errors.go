package model

import (
	"errors"
	"fmt"
)

// RejectReason is a machine-readable code attached to every rejection.
type RejectReason string

const (
	ReasonInvalidQuantity      RejectReason = "INVALID_QUANTITY"
	ReasonInvalidParams        RejectReason = "INVALID_PARAMS"
	ReasonMissingLimitPrice    RejectReason = "MISSING_LIMIT_PRICE"
	ReasonMissingStopPrice     RejectReason = "MISSING_STOP_PRICE"
	ReasonUnknownAsset         RejectReason = "UNKNOWN_ASSET"
	ReasonAssetNotTradeable    RejectReason = "ASSET_NOT_TRADEABLE"
	ReasonInsufficientFunds    RejectReason = "INSUFFICIENT_FUNDS"
	ReasonInsufficientHoldings RejectReason = "INSUFFICIENT_HOLDINGS"
	ReasonQuantityTooLarge     RejectReason = "QUANTITY_TOO_LARGE"
	ReasonPositionHalted       RejectReason = "POSITION_HALTED"
)

// RejectionError carries a reason code plus a human-readable message.
// Orders failing validation or funds/holdings checks surface one of these
// and transition to REJECTED; they are never retried.
type RejectionError struct {
	Reason  RejectReason
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Rejection builds a RejectionError.
func Rejection(reason RejectReason, msg string) *RejectionError {
	return &RejectionError{Reason: reason, Message: msg}
}

// ReasonOf extracts the reason code from an error chain, or "" if the error
// is not a rejection.
func ReasonOf(err error) RejectReason {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// ErrStaleState marks an operation that lost a race against an order that
// already transitioned (e.g. cancel after fill). Benign conflict, not fatal.
var ErrStaleState = errors.New("order already transitioned")

// ErrOrderNotFound is returned when an order ID is unknown or owned by
// someone else.
var ErrOrderNotFound = errors.New("order not found")

// ErrUnknownAsset is returned for operations against an unregistered asset.
var ErrUnknownAsset = errors.New("unknown asset")

// ErrNoPosition is returned when no position exists for (owner, asset).
var ErrNoPosition = errors.New("no position")

// ErrPositionHalted marks a position quarantined after an internal
// invariant violation. Further mutation is refused until reconciliation.
var ErrPositionHalted = errors.New("position halted pending reconciliation")

// ErrPriceUnavailable is returned when no price has been observed yet for
// an asset. Resting orders simply stay put until the feed recovers.
var ErrPriceUnavailable = errors.New("price unavailable")
