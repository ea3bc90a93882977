package address

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/msig/input"
	"github.com/lightningnetwork/msig/walletspec"
)

// Render turns a multisig redeem script into the address of the given
// format.
//
//   - P2SH hashes the script with HASH160.
//   - P2WSH uses the SHA256 of the script as a version 0 witness program.
//   - P2WSH-P2SH hashes the witness program "OP_0 <sha256(script)>" as a
//     P2SH redeem script.
func Render(script []byte, format walletspec.AddressFormat,
	params *chaincfg.Params) (btcutil.Address, error) {

	switch format {
	case walletspec.AddrFormatP2SH:
		return btcutil.NewAddressScriptHash(script, params)

	case walletspec.AddrFormatP2WSH:
		scriptHash := sha256.Sum256(script)

		return btcutil.NewAddressWitnessScriptHash(
			scriptHash[:], params,
		)

	case walletspec.AddrFormatP2WSHP2SH:
		witnessProgram, err := input.WitnessScriptHash(script)
		if err != nil {
			return nil, err
		}

		return btcutil.NewAddressScriptHash(witnessProgram, params)

	default:
		return nil, fmt.Errorf("unknown address format %v", format)
	}
}

// PkScript returns the output script paying to the rendered address.
func PkScript(addr btcutil.Address) ([]byte, error) {
	return txscript.PayToAddrScript(addr)
}

// MultiSig is a fully rendered multisig receive address.
type MultiSig struct {
	// Address is the receive address.
	Address btcutil.Address

	// RedeemScript is the M-of-N script the address commits to.
	RedeemScript []byte

	// SortedKeys are the leaf keys in the order they appear in the
	// script.
	SortedKeys [][]byte

	// PkScript is the output script paying to Address.
	PkScript []byte
}

// RenderMultiSig builds the sorted M-of-N script over the given leaf keys and
// renders it in the given format.
func RenderMultiSig(m int, pubs [][]byte, format walletspec.AddressFormat,
	params *chaincfg.Params) (*MultiSig, error) {

	script, sorted, err := input.GenMultiSigScript(m, pubs)
	if err != nil {
		return nil, err
	}

	addr, err := Render(script, format, params)
	if err != nil {
		return nil, err
	}

	pkScript, err := PkScript(addr)
	if err != nil {
		return nil, err
	}

	return &MultiSig{
		Address:      addr,
		RedeemScript: script,
		SortedKeys:   sorted,
		PkScript:     pkScript,
	}, nil
}
