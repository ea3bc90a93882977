package registry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/lightningnetwork/msig/walletspec"
)

const (
	// Record types of a stored wallet.
	typeName      tlv.Type = 0
	typeM         tlv.Type = 1
	typeN         tlv.Type = 2
	typeFormat    tlv.Type = 3
	typeCosigners tlv.Type = 4

	// Record types of a verified address marker.
	typeMarkerWallet tlv.Type = 0
	typeMarkerPath   tlv.Type = 1
	typeMarkerTime   tlv.Type = 2

	// maxXPubLen bounds the length prefix of a stored xpub.
	maxXPubLen = 255
)

// encodeCosigners packs the cosigners in fingerprint order. Each entry is the
// 4-byte fingerprint, a single length byte and the base58 xpub.
func encodeCosigners(spec *walletspec.WalletSpec) ([]byte, error) {
	var b bytes.Buffer
	for _, c := range spec.SortedCosigners() {
		if len(c.XPub) > maxXPubLen {
			return nil, fmt.Errorf("xpub of %v too long",
				c.Fingerprint)
		}

		fp := c.Fingerprint.Bytes()
		b.Write(fp[:])
		b.WriteByte(byte(len(c.XPub)))
		b.WriteString(c.XPub)
	}

	return b.Bytes(), nil
}

// decodeCosigners is the inverse of encodeCosigners.
func decodeCosigners(blob []byte,
	params *chaincfg.Params) ([]walletspec.CosignerKey, error) {

	var cosigners []walletspec.CosignerKey
	for len(blob) > 0 {
		if len(blob) < walletspec.FingerprintLen+1 {
			return nil, fmt.Errorf("truncated cosigner entry")
		}

		fp := walletspec.Fingerprint(binary.BigEndian.Uint32(blob))
		xpubLen := int(blob[walletspec.FingerprintLen])
		blob = blob[walletspec.FingerprintLen+1:]
		if len(blob) < xpubLen {
			return nil, fmt.Errorf("truncated xpub of %v", fp)
		}

		ck, err := walletspec.NewCosignerKey(
			fp, string(blob[:xpubLen]), params,
		)
		if err != nil {
			return nil, fmt.Errorf("stored xpub of %v: %w", fp, err)
		}
		cosigners = append(cosigners, ck)
		blob = blob[xpubLen:]
	}

	return cosigners, nil
}

// encodeRecord serializes a wallet as a TLV stream. The length of the
// encoding is the footprint the wallet takes out of the registry budget.
func encodeRecord(w io.Writer, spec *walletspec.WalletSpec) error {
	var (
		name   = []byte(spec.Name)
		m      = uint8(spec.M)
		n      = uint8(spec.N)
		format = uint8(spec.AddressFormat)
	)
	cosigners, err := encodeCosigners(spec)
	if err != nil {
		return err
	}

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeName, &name),
		tlv.MakePrimitiveRecord(typeM, &m),
		tlv.MakePrimitiveRecord(typeN, &n),
		tlv.MakePrimitiveRecord(typeFormat, &format),
		tlv.MakePrimitiveRecord(typeCosigners, &cosigners),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// decodeRecord deserializes a wallet written by encodeRecord.
func decodeRecord(r io.Reader,
	params *chaincfg.Params) (*walletspec.WalletSpec, error) {

	var (
		name      []byte
		m, n      uint8
		format    uint8
		cosigners []byte
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeName, &name),
		tlv.MakePrimitiveRecord(typeM, &m),
		tlv.MakePrimitiveRecord(typeN, &n),
		tlv.MakePrimitiveRecord(typeFormat, &format),
		tlv.MakePrimitiveRecord(typeCosigners, &cosigners),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(r); err != nil {
		return nil, err
	}

	keys, err := decodeCosigners(cosigners, params)
	if err != nil {
		return nil, err
	}

	return &walletspec.WalletSpec{
		Name:          string(name),
		M:             int(m),
		N:             int(n),
		AddressFormat: walletspec.AddressFormat(format),
		Cosigners:     keys,
	}, nil
}

// serializeRecord returns the stored form of the wallet.
func serializeRecord(spec *walletspec.WalletSpec) ([]byte, error) {
	var b bytes.Buffer
	if err := encodeRecord(&b, spec); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Footprint returns the number of bytes the wallet takes out of the
// registry's capacity.
func Footprint(spec *walletspec.WalletSpec) (uint64, error) {
	record, err := serializeRecord(spec)
	if err != nil {
		return 0, err
	}

	return uint64(len(record)), nil
}

// Marker records that the user confirmed an address on screen.
type Marker struct {
	// Address is the confirmed address.
	Address string

	// Wallet is the name of the wallet the address belongs to.
	Wallet string

	// Path describes the derivation the address was shown for.
	Path string

	// Timestamp is the unix time of the confirmation.
	Timestamp uint64
}

func encodeMarker(w io.Writer, m *Marker) error {
	var (
		wallet = []byte(m.Wallet)
		path   = []byte(m.Path)
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeMarkerWallet, &wallet),
		tlv.MakePrimitiveRecord(typeMarkerPath, &path),
		tlv.MakePrimitiveRecord(typeMarkerTime, &m.Timestamp),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

func decodeMarker(address string, r io.Reader) (*Marker, error) {
	var (
		wallet, path []byte
		m            = &Marker{Address: address}
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeMarkerWallet, &wallet),
		tlv.MakePrimitiveRecord(typeMarkerPath, &path),
		tlv.MakePrimitiveRecord(typeMarkerTime, &m.Timestamp),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(r); err != nil {
		return nil, err
	}

	m.Wallet = string(wallet)
	m.Path = string(path)

	return m, nil
}
