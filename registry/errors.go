package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrWalletNotFound is returned when no wallet with the given name,
	// or the given key set, is registered.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrDuplicateName is returned when a wallet with the same name is
	// already registered or pending.
	ErrDuplicateName = errors.New("wallet name already in use")

	// ErrUnknownReservation is returned when a reservation is confirmed
	// or aborted that is no longer pending.
	ErrUnknownReservation = errors.New("unknown reservation")

	// ErrUnknownDeletion is returned when a deletion is confirmed or
	// cancelled that is no longer pending.
	ErrUnknownDeletion = errors.New("unknown pending deletion")
)

// CapacityError is returned when a wallet doesn't fit in the remaining
// registry capacity.
type CapacityError struct {
	// Need is the footprint of the wallet that was refused.
	Need uint64

	// Free is the capacity that was left.
	Free uint64
}

// Error returns the message shown to the user.
func (e *CapacityError) Error() string {
	return fmt.Sprintf("no space left: need %d bytes, %d free", e.Need,
		e.Free)
}
