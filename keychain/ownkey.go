package keychain

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/msig/walletspec"
)

// OwnedKey is the device's own master key. It is the only key we hold
// private material for, and the private material never leaves this type:
// callers only ever get public keys out of it.
type OwnedKey struct {
	master *hdkeychain.ExtendedKey
	fp     walletspec.Fingerprint
	params *chaincfg.Params
}

// NewOwnedKey wraps a private master key.
func NewOwnedKey(master *hdkeychain.ExtendedKey,
	params *chaincfg.Params) (*OwnedKey, error) {

	if !master.IsPrivate() {
		return nil, fmt.Errorf("master key must be private")
	}
	if master.Depth() != 0 {
		return nil, fmt.Errorf("master key must be at depth 0, got %d",
			master.Depth())
	}
	if !master.IsForNet(params) {
		return nil, fmt.Errorf("master key is not for %v", params.Name)
	}

	pub, err := master.ECPubKey()
	if err != nil {
		return nil, err
	}

	return &OwnedKey{
		master: master,
		fp:     walletspec.MasterFingerprint(pub),
		params: params,
	}, nil
}

// GenerateOwnedKey creates a fresh master key from a random seed.
func GenerateOwnedKey(params *chaincfg.Params) (*OwnedKey, error) {
	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	if err != nil {
		return nil, err
	}

	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, err
	}

	return NewOwnedKey(master, params)
}

// LoadOwnedKey reads a base58 encoded private master key from disk.
func LoadOwnedKey(path string, params *chaincfg.Params) (*OwnedKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read master key: %w", err)
	}

	master, err := hdkeychain.NewKeyFromString(
		string(bytes.TrimSpace(raw)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to decode master key: %w", err)
	}

	return NewOwnedKey(master, params)
}

// WriteFile stores the master key at the given path, readable only by the
// current user. An existing file is never overwritten.
func (o *OwnedKey) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}

	if _, err := f.WriteString(o.master.String() + "\n"); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// Fingerprint returns the fingerprint of the master key.
func (o *OwnedKey) Fingerprint() walletspec.Fingerprint {
	return o.fp
}

// AccountXPub derives the neutered account key at the given master rooted
// path.
func (o *OwnedKey) AccountXPub(path DerivationPath) (string, error) {
	account, err := derivePath(o.master, path)
	if err != nil {
		return "", err
	}

	pub, err := account.Neuter()
	if err != nil {
		return "", err
	}

	return pub.String(), nil
}

// BIP45Cosigner returns our own cosigner entry for the m/45' account, ready
// to be handed to a coordinator.
func (o *OwnedKey) BIP45Cosigner() (walletspec.CosignerKey, error) {
	xpub, err := o.AccountXPub(BIP45Path())
	if err != nil {
		return walletspec.CosignerKey{}, err
	}

	return walletspec.NewCosignerKey(o.fp, xpub, o.params)
}

// derivePubKey derives the public key at the master rooted path, using
// private derivation so hardened steps are allowed.
func (o *OwnedKey) derivePubKey(path DerivationPath) (*btcec.PublicKey,
	error) {

	key, err := derivePath(o.master, path)
	if err != nil {
		return nil, err
	}

	return key.ECPubKey()
}
