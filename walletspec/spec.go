package walletspec

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// MaxNameLen is the longest wallet name, in characters, that we'll
	// accept.
	MaxNameLen = 20

	// MaxCosigners is the largest N we allow. A 15-of-15 redeem script is
	// 513 bytes, which stays below the 520 byte push limit.
	MaxCosigners = 15

	// FingerprintLen is the size of a key fingerprint in bytes.
	FingerprintLen = 4
)

// Fingerprint identifies a master key. It is the first four bytes of the
// HASH160 of the compressed master public key, read big endian so that the
// integer order matches the order of the hex rendering.
type Fingerprint uint32

// FingerprintFromBytes interprets the first four bytes of b as a fingerprint.
func FingerprintFromBytes(b []byte) Fingerprint {
	return Fingerprint(binary.BigEndian.Uint32(b[:FingerprintLen]))
}

// MasterFingerprint computes the fingerprint of the given master public key.
func MasterFingerprint(pub *btcec.PublicKey) Fingerprint {
	return FingerprintFromBytes(btcutil.Hash160(pub.SerializeCompressed()))
}

// ParseFingerprint decodes a fingerprint that must be exactly eight hex
// digits.
func ParseFingerprint(s string) (Fingerprint, error) {
	if len(s) != FingerprintLen*2 {
		return 0, fmt.Errorf("fingerprint %q must be exactly %d hex "+
			"digits", s, FingerprintLen*2)
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("fingerprint %q is not hex: %w", s, err)
	}

	return FingerprintFromBytes(b), nil
}

// Bytes returns the serialized form of the fingerprint.
func (f Fingerprint) Bytes() [FingerprintLen]byte {
	var b [FingerprintLen]byte
	binary.BigEndian.PutUint32(b[:], uint32(f))

	return b
}

// String returns the canonical upper case hex rendering of the fingerprint.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%08X", uint32(f))
}

// AddressFormat selects how a redeem script is turned into an address.
type AddressFormat uint8

const (
	// AddrFormatP2SH is a legacy pay-to-script-hash address. This is the
	// default when a wallet definition doesn't name a format.
	AddrFormatP2SH AddressFormat = iota

	// AddrFormatP2WSH is a native segwit v0 pay-to-witness-script-hash
	// address.
	AddrFormatP2WSH

	// AddrFormatP2WSHP2SH is a P2WSH witness program nested in P2SH.
	AddrFormatP2WSHP2SH

	// AddrFormatUnknown is what an unrecognised format header decodes
	// to. It never passes validation.
	AddrFormatUnknown AddressFormat = 0xff
)

// ParseAddressFormat maps the (case-insensitive) textual name of a format to
// its value. Unrecognised names map to AddrFormatUnknown.
func ParseAddressFormat(s string) AddressFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "p2sh":
		return AddrFormatP2SH
	case "p2wsh":
		return AddrFormatP2WSH
	case "p2wsh-p2sh", "p2sh-p2wsh":
		return AddrFormatP2WSHP2SH
	default:
		return AddrFormatUnknown
	}
}

// IsKnown returns true for the three formats we can render.
func (a AddressFormat) IsKnown() bool {
	switch a {
	case AddrFormatP2SH, AddrFormatP2WSH, AddrFormatP2WSHP2SH:
		return true
	}

	return false
}

// String returns the name of the format as used in wallet definition files.
func (a AddressFormat) String() string {
	switch a {
	case AddrFormatP2SH:
		return "p2sh"
	case AddrFormatP2WSH:
		return "p2wsh"
	case AddrFormatP2WSHP2SH:
		return "p2wsh-p2sh"
	default:
		return "unknown"
	}
}

// CosignerKey is one member of a multisig quorum: the fingerprint of its
// master key and its account level extended public key.
type CosignerKey struct {
	// Fingerprint is the master fingerprint of the cosigner.
	Fingerprint Fingerprint

	// XPub is the base58 encoded account level extended public key.
	XPub string

	key *hdkeychain.ExtendedKey
}

// ParseExtendedPubKey decodes an extended key and makes sure it is a public
// key for the given network.
func ParseExtendedPubKey(xpub string,
	params *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {

	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, err
	}

	if key.IsPrivate() {
		return nil, fmt.Errorf("extended private keys are not " +
			"accepted")
	}

	if !key.IsForNet(params) {
		return nil, fmt.Errorf("extended key is not for %v",
			params.Name)
	}

	return key, nil
}

// NewCosignerKey parses the extended public key and binds it to the given
// fingerprint.
func NewCosignerKey(fp Fingerprint, xpub string,
	params *chaincfg.Params) (CosignerKey, error) {

	key, err := ParseExtendedPubKey(xpub, params)
	if err != nil {
		return CosignerKey{}, err
	}

	return CosignerKey{
		Fingerprint: fp,
		XPub:        xpub,
		key:         key,
	}, nil
}

// ExtendedKey returns the decoded extended public key.
func (c CosignerKey) ExtendedKey() *hdkeychain.ExtendedKey {
	return c.key
}

// WalletSpec is the definition of a multisig wallet: its name, the M-of-N
// quorum, the address format and the cosigner keys.
type WalletSpec struct {
	// Name is the label shown to the user, 1 to 20 characters.
	Name string

	// M is the number of signatures required to spend.
	M int

	// N is the total number of cosigners.
	N int

	// AddressFormat selects the script wrapping of the receive
	// addresses.
	AddressFormat AddressFormat

	// Cosigners holds the cosigner keys in the order they were read.
	// The order carries no meaning.
	Cosigners []CosignerKey
}

// Fingerprints returns the fingerprints of all cosigners in ascending order.
func (w *WalletSpec) Fingerprints() []Fingerprint {
	fps := make([]Fingerprint, 0, len(w.Cosigners))
	for _, c := range w.Cosigners {
		fps = append(fps, c.Fingerprint)
	}
	sort.Slice(fps, func(i, j int) bool { return fps[i] < fps[j] })

	return fps
}

// Cosigner returns the cosigner with the given fingerprint.
func (w *WalletSpec) Cosigner(fp Fingerprint) (CosignerKey, bool) {
	for _, c := range w.Cosigners {
		if c.Fingerprint == fp {
			return c, true
		}
	}

	return CosignerKey{}, false
}

// SortedCosigners returns a copy of the cosigners ordered by fingerprint.
func (w *WalletSpec) SortedCosigners() []CosignerKey {
	sorted := make([]CosignerKey, len(w.Cosigners))
	copy(sorted, w.Cosigners)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Fingerprint < sorted[j].Fingerprint
	})

	return sorted
}

// Policy returns the human readable quorum, e.g. "2 of 3".
func (w *WalletSpec) Policy() string {
	return fmt.Sprintf("%d of %d", w.M, w.N)
}

// Equal reports whether both specs describe the same wallet. The order of the
// cosigners is ignored.
func (w *WalletSpec) Equal(o *WalletSpec) bool {
	if w.Name != o.Name || w.M != o.M || w.N != o.N ||
		w.AddressFormat != o.AddressFormat ||
		len(w.Cosigners) != len(o.Cosigners) {

		return false
	}

	a, b := w.SortedCosigners(), o.SortedCosigners()
	for i := range a {
		if a[i].Fingerprint != b[i].Fingerprint ||
			a[i].XPub != b[i].XPub {

			return false
		}
	}

	return true
}
