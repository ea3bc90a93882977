package input

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// MaxMultiSigKeys is the largest number of keys an OP_CHECKMULTISIG
	// script can carry while its redeem script still fits the 520 byte
	// push limit. GenMultiSigScript doesn't check it separately, one more
	// key is already caught by the size check.
	MaxMultiSigKeys = 15

	// MaxRedeemScriptSize is the largest redeem script that can be pushed
	// onto the stack when spending.
	MaxRedeemScriptSize = txscript.MaxScriptElementSize
)

// ScriptTooLongError is returned when a multisig redeem script would exceed
// MaxRedeemScriptSize.
type ScriptTooLongError struct {
	// Size is the length the script would have had.
	Size int
}

// Error returns a human readable description of the error.
func (e *ScriptTooLongError) Error() string {
	return fmt.Sprintf("redeem script of %d bytes exceeds the %d byte "+
		"limit", e.Size, MaxRedeemScriptSize)
}

// MultiSigScriptSize returns the size of an M-of-N multisig script over N
// compressed keys: OP_M, N pushes of 33 bytes, OP_N and OP_CHECKMULTISIG.
func MultiSigScriptSize(numKeys int) int {
	return 1 + numKeys*(1+btcec.PubKeyBytesLenCompressed) + 2
}

// SortPubKeys returns a copy of the given compressed public keys in
// ascending lexicographic order, as mandated by BIP67.
func SortPubKeys(pubs [][]byte) [][]byte {
	sorted := make([][]byte, len(pubs))
	copy(sorted, pubs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	})

	return sorted
}

// GenMultiSigScript generates the non-p2sh'd M-of-N multisig script for the
// given compressed pubkeys. Keys are sorted in lexicographical order, so the
// result doesn't depend on the order they're passed in. The sorted keys are
// returned alongside the script. More than MaxMultiSigKeys keys fail with a
// ScriptTooLongError.
func GenMultiSigScript(m int, pubs [][]byte) ([]byte, [][]byte, error) {
	if len(pubs) == 0 {
		return nil, nil, fmt.Errorf("no pubkeys given")
	}
	if m < 1 || m > len(pubs) {
		return nil, nil, fmt.Errorf("invalid threshold %d of %d", m,
			len(pubs))
	}

	for _, pub := range pubs {
		if len(pub) != btcec.PubKeyBytesLenCompressed ||
			(pub[0] != 0x02 && pub[0] != 0x03) {

			return nil, nil, fmt.Errorf("Pubkey size error. " +
				"Compressed pubkeys only")
		}
	}

	size := MultiSigScriptSize(len(pubs))
	if size > MaxRedeemScriptSize {
		return nil, nil, &ScriptTooLongError{Size: size}
	}

	sorted := SortPubKeys(pubs)

	bldr := txscript.NewScriptBuilder()
	bldr.AddInt64(int64(m))
	for _, pub := range sorted {
		bldr.AddData(pub)
	}
	bldr.AddInt64(int64(len(sorted)))
	bldr.AddOp(txscript.OP_CHECKMULTISIG)

	script, err := bldr.Script()
	if err != nil {
		return nil, nil, err
	}

	return script, sorted, nil
}

// WitnessScriptHash generates a pay-to-witness-script-hash public key script
// paying to a version 0 witness program paying to the passed redeem script.
func WitnessScriptHash(witnessScript []byte) ([]byte, error) {
	bldr := txscript.NewScriptBuilder()

	bldr.AddOp(txscript.OP_0)
	scriptHash := sha256.Sum256(witnessScript)
	bldr.AddData(scriptHash[:])

	return bldr.Script()
}
