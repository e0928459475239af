package rules

import "errors"

// Sentinel kinds for rule errors.
var (
	ErrInvalidRegistry = errors.New("invalid rule registry")
	ErrUnknownTrigger  = errors.New("unknown trigger")
	ErrQuery           = errors.New("entity query failed")
	ErrQueryPanic      = errors.New("entity query panicked")
)
