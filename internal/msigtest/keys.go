package msigtest

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

// BIP45Purpose is the hardened purpose index used for the test accounts.
const BIP45Purpose = hdkeychain.HardenedKeyStart + 45

// Signer is a deterministic test cosigner: a master key, its fingerprint and
// the neutered key at the account path.
type Signer struct {
	// Master is the private master key.
	Master *hdkeychain.ExtendedKey

	// Fingerprint is the big endian master fingerprint.
	Fingerprint uint32

	// AccountPath is the path from the master to the account key.
	AccountPath []uint32

	// XPub is the base58 encoded account level public key.
	XPub string
}

// NewMaster creates a master key from a seed made of the repeated seed byte.
func NewMaster(t testing.TB, seed byte,
	params *chaincfg.Params) *hdkeychain.ExtendedKey {

	t.Helper()

	master, err := hdkeychain.NewMaster(
		bytes.Repeat([]byte{seed}, hdkeychain.RecommendedSeedLen),
		params,
	)
	require.NoError(t, err)

	return master
}

// DerivePath walks the given path starting at key.
func DerivePath(t testing.TB, key *hdkeychain.ExtendedKey,
	path ...uint32) *hdkeychain.ExtendedKey {

	t.Helper()

	var err error
	for _, idx := range path {
		key, err = key.Derive(idx)
		require.NoError(t, err)
	}

	return key
}

// NewSigner creates a test cosigner whose account key sits at the given path,
// or at m/45' if no path is given.
func NewSigner(t testing.TB, seed byte, params *chaincfg.Params,
	accountPath ...uint32) *Signer {

	t.Helper()

	if len(accountPath) == 0 {
		accountPath = []uint32{BIP45Purpose}
	}

	master := NewMaster(t, seed, params)
	masterPub, err := master.ECPubKey()
	require.NoError(t, err)

	hash := btcutil.Hash160(masterPub.SerializeCompressed())
	fp := uint32(hash[0])<<24 | uint32(hash[1])<<16 |
		uint32(hash[2])<<8 | uint32(hash[3])

	account, err := DerivePath(t, master, accountPath...).Neuter()
	require.NoError(t, err)

	return &Signer{
		Master:      master,
		Fingerprint: fp,
		AccountPath: accountPath,
		XPub:        account.String(),
	}
}

// LeafPubKey derives the compressed public key at the full master rooted
// path, using private derivation.
func (s *Signer) LeafPubKey(t testing.TB, path ...uint32) []byte {
	t.Helper()

	pub, err := DerivePath(t, s.Master, path...).ECPubKey()
	require.NoError(t, err)

	return pub.SerializeCompressed()
}

// NewSigners creates n cosigners with seeds 1 through n at m/45'.
func NewSigners(t testing.TB, n int, params *chaincfg.Params) []*Signer {
	t.Helper()

	signers := make([]*Signer, 0, n)
	for i := 1; i <= n; i++ {
		signers = append(signers, NewSigner(t, byte(i), params))
	}

	return signers
}
