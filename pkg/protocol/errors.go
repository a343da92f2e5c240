package protocol

// Error codes attached to command failures surfaced to callers.
const (
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeAlreadyResolved = "ALREADY_RESOLVED"
	ErrCodeInFlight        = "IN_FLIGHT"
	ErrCodeUnavailable     = "UNAVAILABLE"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeInternal        = "INTERNAL"
)
