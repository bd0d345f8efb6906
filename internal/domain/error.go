package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrConflict           = errors.New("conflicting state")
	ErrOperationFailed    = errors.New("operation failed")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Reconciliation taxonomy
	ErrInvalidSignature       = errors.New("invalid webhook signature")
	ErrMalformedPayload       = errors.New("malformed webhook payload")
	ErrUnresolvedIdentity     = errors.New("unresolved identity")
	ErrTransientStorage       = errors.New("transient storage failure")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrLockTimeout            = errors.New("timed out waiting for user lock")
)

// IsRetryable reports whether the gateway should redeliver an event that failed with err.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStorage) || errors.Is(err, ErrLockTimeout)
}
