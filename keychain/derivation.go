package keychain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/lightningnetwork/msig/walletspec"
)

const (
	// BIP45Purpose is the purpose field of the BIP45 multisig account,
	// m/45'. It is the account we hand out to coordinators for
	// enrollment.
	BIP45Purpose = 45

	// HardenedKeyStart is the index at which hardened children start.
	HardenedKeyStart = hdkeychain.HardenedKeyStart
)

var (
	// ErrHardenedStep is returned when a hardened child of a foreign key
	// is requested. Without the private key this is impossible.
	ErrHardenedStep = errors.New("hardened step requires private key")

	// ErrInvalidPath is returned when a derivation path can't be applied
	// to the account key it is meant for.
	ErrInvalidPath = errors.New("invalid path")

	// ErrOwnKeyMismatch is returned when the registered xpub for our own
	// fingerprint doesn't match what our master key derives.
	ErrOwnKeyMismatch = errors.New("own key mismatch")
)

// DerivationError is returned when a leaf key can't be derived for one of
// the cosigners.
type DerivationError struct {
	// Fingerprint is the cosigner the derivation was attempted for.
	Fingerprint walletspec.Fingerprint

	// Path is the requested path.
	Path DerivationPath

	// Err is one of the sentinel errors above, or an error from the BIP32
	// library.
	Err error
}

// Error returns a human readable description of the failure.
func (e *DerivationError) Error() string {
	return fmt.Sprintf("unable to derive key of %v at %v: %v",
		e.Fingerprint, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *DerivationError) Unwrap() error {
	return e.Err
}

// DerivationPath is an ordered list of BIP32 child indexes. Indexes at or
// above HardenedKeyStart are hardened.
//
// Paths given to the Deriver are rooted at the master key, so the first
// components cover the path to the account level xpub and the remainder is
// the path below it.
type DerivationPath []uint32

// ParseDerivationPath decodes a path such as "m/45'/0/12". The leading "m"
// is optional and hardened steps may be marked with ', h or H.
func ParseDerivationPath(s string) (DerivationPath, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "m")
	s = strings.TrimPrefix(s, "M")
	s = strings.TrimPrefix(s, "/")

	if s == "" {
		return DerivationPath{}, nil
	}

	parts := strings.Split(s, "/")
	path := make(DerivationPath, 0, len(parts))
	for _, part := range parts {
		hardened := false
		if trimmed := strings.TrimRight(part, "'hH"); trimmed != part {
			if len(part)-len(trimmed) != 1 {
				return nil, fmt.Errorf("%w: bad component %q",
					ErrInvalidPath, part)
			}
			hardened = true
			part = trimmed
		}

		idx, err := strconv.ParseUint(part, 10, 32)
		if err != nil || idx >= HardenedKeyStart {
			return nil, fmt.Errorf("%w: bad component %q",
				ErrInvalidPath, part)
		}

		if hardened {
			idx += HardenedKeyStart
		}
		path = append(path, uint32(idx))
	}

	return path, nil
}

// String returns the path in the "m/45'/0/12" notation.
func (p DerivationPath) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, idx := range p {
		if idx >= HardenedKeyStart {
			fmt.Fprintf(&b, "/%d'", idx-HardenedKeyStart)
			continue
		}
		fmt.Fprintf(&b, "/%d", idx)
	}

	return b.String()
}

// HasHardened returns true if any of the components is hardened.
func (p DerivationPath) HasHardened() bool {
	for _, idx := range p {
		if idx >= HardenedKeyStart {
			return true
		}
	}

	return false
}

// Join returns a new path made of p followed by tail.
func (p DerivationPath) Join(tail DerivationPath) DerivationPath {
	joined := make(DerivationPath, 0, len(p)+len(tail))
	joined = append(joined, p...)

	return append(joined, tail...)
}

// Hardened returns the hardened version of the given index.
func Hardened(idx uint32) uint32 {
	return idx + HardenedKeyStart
}

// BIP45Path returns m/45'.
func BIP45Path() DerivationPath {
	return DerivationPath{Hardened(BIP45Purpose)}
}

// splitAtAccount splits a master rooted path into the part leading to the
// given account key and the remainder below it. The last step of the prefix
// must match the child index of the account key.
func splitAtAccount(key *hdkeychain.ExtendedKey,
	path DerivationPath) (DerivationPath, DerivationPath, error) {

	depth := int(key.Depth())
	if len(path) < depth {
		return nil, nil, fmt.Errorf("%w: path %v is above the "+
			"account key at depth %d", ErrInvalidPath, path, depth)
	}

	if depth > 0 && path[depth-1] != key.ChildIndex() {
		return nil, nil, fmt.Errorf("%w: path %v doesn't lead to "+
			"the account key", ErrInvalidPath, path)
	}

	return path[:depth], path[depth:], nil
}

// derivePath walks the given path starting at key.
func derivePath(key *hdkeychain.ExtendedKey,
	path DerivationPath) (*hdkeychain.ExtendedKey, error) {

	var err error
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, err
		}
	}

	return key, nil
}
