package types

import (
	"errors"
	"fmt"
)

// Engine error taxonomy. Every operation failure surfaces as one of
// these so the HTTP layer can map it without inspecting messages.
var (
	// ErrNotFound: the referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStale: the listing left ACTIVE between the caller's snapshot and
	// the authoritative check. The caller should re-query.
	ErrStale = errors.New("listing is no longer available")

	// ErrInsufficientFunds: a balance withdraw was refused. No state changed.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBanned: the player is barred from the auction house.
	ErrBanned = errors.New("banned from the auction house")
)

// ValidationError rejects an operation before any state change: bad
// price bounds, blacklisted material, cooldown, listing limit and so on.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
