package domain

import "errors"

// Sentinel errors for the market engine. Every guard violation aborts the
// whole call with no partial state change; callers must resubmit with
// corrected arguments rather than expect a retry.
var (
	ErrNotFound            = errors.New("not found")
	ErrMarketAlreadyExists = errors.New("market already exists")
	ErrUnauthorized        = errors.New("unauthorized")

	// State-guard violations.
	ErrWrongState          = errors.New("market is not in the required state")
	ErrBettingClosed       = errors.New("betting period has ended")
	ErrCloseTooEarly       = errors.New("close time has not been reached")
	ErrDisputeWindowOpen   = errors.New("dispute window is still open")
	ErrDisputeWindowClosed = errors.New("dispute window has elapsed")

	// Input-validation violations.
	ErrInvalidOutcome   = errors.New("outcome index out of range")
	ErrZeroAmount       = errors.New("bet amount must be positive")
	ErrInvalidCloseTime = errors.New("close time must be in the future")
	ErrInvalidFee       = errors.New("fee exceeds 10000 basis points")
	ErrTooFewOutcomes   = errors.New("market needs at least two outcomes")

	// Double-action violations.
	ErrAlreadyClaimed  = errors.New("account already claimed")
	ErrRequestConsumed = errors.New("resolution request already consumed")
	ErrUnknownRequest  = errors.New("unknown resolution request")

	// Resource violations (relay pre-flight and asset ledger).
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// Infrastructure.
	ErrLockHeld = errors.New("lock already held")
)
