package registry

import "errors"

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrSessionClosed = errors.New("session closed")
	ErrRangeInvalid  = errors.New("range invalid")
)
