package approvals

import (
	"errors"

	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

var (
	// ErrNotFound is returned when resolving an id the console has never seen.
	ErrNotFound = errors.New("approval not found")

	// ErrAlreadyResolved is returned when resolving a request in a terminal status.
	ErrAlreadyResolved = errors.New("approval already resolved")

	// ErrActionInFlight is returned when a different decision for the same
	// request is still awaiting the server.
	ErrActionInFlight = errors.New("another decision is in flight")

	// ErrInvalidAction is returned for actions other than approve/reject.
	ErrInvalidAction = errors.New("invalid approval action")

	// ErrClosed is returned after the manager has been torn down.
	ErrClosed = errors.New("approval manager closed")
)

// Code maps a resolve error onto a protocol error code for display.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return protocol.ErrCodeNotFound
	case errors.Is(err, ErrAlreadyResolved):
		return protocol.ErrCodeAlreadyResolved
	case errors.Is(err, ErrActionInFlight):
		return protocol.ErrCodeInFlight
	case errors.Is(err, ErrInvalidAction):
		return protocol.ErrCodeInvalidRequest
	case errors.Is(err, ErrClosed):
		return protocol.ErrCodeUnavailable
	default:
		return protocol.ErrCodeInternal
	}
}
