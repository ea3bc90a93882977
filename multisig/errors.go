package multisig

import "errors"

var (
	// ErrUploadMismatch is returned when uploaded data doesn't match the
	// declared length or hash.
	ErrUploadMismatch = errors.New("upload length or hash mismatch")

	// ErrScriptMismatch is returned when the redeem script supplied by
	// the host differs from the one we built.
	ErrScriptMismatch = errors.New("redeem script mismatch")

	// ErrFormatMismatch is returned when an address is requested in a
	// format other than the wallet's.
	ErrFormatMismatch = errors.New("address format mismatch")

	// ErrMissingPath is returned when an address request lacks the path
	// of one of the cosigners, or names a cosigner that isn't part of
	// the wallet.
	ErrMissingPath = errors.New("missing derivation path")
)
