package multisig

import (
	"context"

	"github.com/lightningnetwork/msig/walletspec"
)

// ImportRequest is shown to the user before a wallet is registered.
type ImportRequest struct {
	// Name is the wallet name.
	Name string

	// M is the signing threshold.
	M int

	// N is the number of cosigners.
	N int

	// Format is the address format of the wallet.
	Format walletspec.AddressFormat

	// Fingerprints are the cosigner fingerprints in ascending order.
	Fingerprints []walletspec.Fingerprint

	// OwnFingerprint is the device's own fingerprint, so it can be
	// highlighted.
	OwnFingerprint walletspec.Fingerprint

	// Footprint is the room the wallet takes in the registry, and Free
	// the room that was left before it.
	Footprint, Free uint64
}

// AddressRequest is shown to the user before an address is considered
// verified.
type AddressRequest struct {
	// Wallet is the name of the wallet the address belongs to.
	Wallet string

	// M is the signing threshold.
	M int

	// N is the number of cosigners.
	N int

	// Format is the address format.
	Format walletspec.AddressFormat

	// Address is the rendered address.
	Address string

	// Path describes the derivation of each cosigner key.
	Path string

	// Fingerprints are the cosigner fingerprints in ascending order.
	Fingerprints []walletspec.Fingerprint
}

// DeleteRequest is shown to the user before a wallet is removed.
type DeleteRequest struct {
	// Name is the wallet name.
	Name string

	// M is the signing threshold.
	M int

	// N is the number of cosigners.
	N int

	// Format is the address format of the wallet.
	Format walletspec.AddressFormat
}

// Prompter is the human interface of the device. Each call blocks until the
// user approves or declines. Declining is not an error.
type Prompter interface {
	// ConfirmImport asks the user to approve a new wallet.
	ConfirmImport(ctx context.Context, req *ImportRequest) (bool, error)

	// ConfirmAddress shows an address and asks the user to confirm they
	// checked it.
	ConfirmAddress(ctx context.Context, req *AddressRequest) (bool, error)

	// ConfirmDelete asks the user to approve removing a wallet.
	ConfirmDelete(ctx context.Context, req *DeleteRequest) (bool, error)
}

// Outcome is the result of a flow that needed the user's approval.
type Outcome uint8

const (
	// OutcomeCommitted means the user approved and the change took
	// effect.
	OutcomeCommitted Outcome = iota

	// OutcomeAborted means the user declined and nothing changed.
	OutcomeAborted
)

// String returns a human readable name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
