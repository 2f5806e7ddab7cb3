package shared

import "errors"

// Error taxonomy surfaced by orchestrators. Handlers map these onto
// problem responses; internal detail never reaches the caller.
var (
	// ErrInvalidRequest indicates malformed or missing request fields.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnauthorized indicates a missing or invalid caller identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateInProgress indicates the same reference is still being processed.
	ErrDuplicateInProgress = errors.New("operation already in progress")
	// ErrDuplicateCompleted indicates the reference already reached a terminal state.
	ErrDuplicateCompleted = errors.New("operation previously completed, use a new reference")
	// ErrInsufficientFunds indicates the wallet balance cannot cover the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrProviderError indicates the external gateway rejected or timed out.
	ErrProviderError = errors.New("payment provider error")
	// ErrBackendError indicates an internal storage or logic failure.
	ErrBackendError = errors.New("internal error")
)
