package apperrors

import "errors"

// Standardized domain errors
var (
	ErrMalformedContract = errors.New("malformed contract")
	ErrInvalidExpiry     = errors.New("invalid expiry date")
	ErrUnknownAccount    = errors.New("unknown account")
	ErrUnknownPosition   = errors.New("unknown position")
	ErrInvalidValue      = errors.New("invalid account value")
	ErrQueueFull         = errors.New("event queue full")
	ErrEngineStopped     = errors.New("engine stopped")
	ErrJournalClosed     = errors.New("journal closed")
)
