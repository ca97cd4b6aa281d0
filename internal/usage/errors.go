package usage

import "errors"

// Domain-level error values returned by the usage service.
var (
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrUnknownUser          = errors.New("unknown user")
	ErrInsufficientCycles   = errors.New("insufficient cycles")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)
