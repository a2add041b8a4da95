package negotiation

import "errors"

var (
	// ErrInvalidState is returned when an operation is not legal in the session's current state.
	ErrInvalidState = errors.New("invalid negotiation state")
	// ErrQuoteNotFound is returned when the quote does not exist in storage.
	ErrQuoteNotFound = errors.New("quote not found")
	// ErrNegotiationFailed wraps policy errors and recovered panics.
	ErrNegotiationFailed = errors.New("negotiation failed")
	// ErrPersistence wraps quote store failures.
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidInput is returned for malformed requests (bad strategy, turn count, prices).
	ErrInvalidInput = errors.New("invalid input")
)
