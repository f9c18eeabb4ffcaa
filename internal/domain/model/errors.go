package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a request rejected for missing or contradictory fields.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a reference to a network, match or record that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorage marks a durable store failure. In-memory state is left unchanged.
	ErrStorage = errors.New("storage unavailable")

	// ErrStale marks an in-memory entry that diverged from a freshly rebuilt
	// snapshot. The operation should be retried against current state.
	ErrStale = errors.New("stale scheduler state")
)

// Validationf wraps ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted reason.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
