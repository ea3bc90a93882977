package address

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/msig/walletspec"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ripemd160"
	"pgregory.net/rapid"
)

// bip67Script is the 2-of-2 script of the first BIP67 test vector.
const bip67Script = "522102fe6f0a5a297eb38c391581c4413e084773ea23954d93f775" +
	"3db7dc0adc188b2f2102ff12471208c14bd580709cb2358d98975247d8765f92bc" +
	"25eab3b2763ed605f852ae"

// TestRenderVectors checks every format on main and test net against known
// addresses.
func TestRenderVectors(t *testing.T) {
	t.Parallel()

	script, err := hex.DecodeString(bip67Script)
	require.NoError(t, err)

	tests := []struct {
		params *chaincfg.Params
		format walletspec.AddressFormat
		want   string
	}{
		{
			params: &chaincfg.MainNetParams,
			format: walletspec.AddrFormatP2SH,
			want:   "39bgKC7RFbpoCRbtD5KEdkYKtNyhpsNa3Z",
		},
		{
			params: &chaincfg.TestNet3Params,
			format: walletspec.AddrFormatP2SH,
			want:   "2N19tNw3Ss4L9QDERtCw7FhXb6jBsYmeXNu",
		},
		{
			params: &chaincfg.MainNetParams,
			format: walletspec.AddrFormatP2WSH,
			want: "bc1qknwt9mhqpd7hrjrvpqz57zjqk28xlp2h90te6v22en0" +
				"m3uctnams3pq5ce",
		},
		{
			params: &chaincfg.TestNet3Params,
			format: walletspec.AddrFormatP2WSH,
			want: "tb1qknwt9mhqpd7hrjrvpqz57zjqk28xlp2h90te6v22en0" +
				"m3uctnamsxfkmzk",
		},
		{
			params: &chaincfg.MainNetParams,
			format: walletspec.AddrFormatP2WSHP2SH,
			want:   "3BBLivaThSP3C31jzmQJiMWBM7BLndaWfh",
		},
		{
			params: &chaincfg.TestNet3Params,
			format: walletspec.AddrFormatP2WSHP2SH,
			want:   "2N2jYnfWVJttPPpeHfu2BLJVSZTPWbNHNcb",
		},
	}

	for _, test := range tests {
		addr, err := Render(script, test.format, test.params)
		require.NoError(t, err)
		require.Equal(t, test.want, addr.EncodeAddress(),
			"%v on %v", test.format, test.params.Name)
	}

	_, err = Render(script, walletspec.AddrFormatUnknown,
		&chaincfg.MainNetParams)
	require.Error(t, err)
}

// hash160 is computed here without btcutil so the renderer is checked
// against an independent construction.
func hash160(b []byte) []byte {
	sha := sha256.Sum256(b)
	h := ripemd160.New()
	h.Write(sha[:])

	return h.Sum(nil)
}

// independentAddress renders the address by hand from the raw encodings.
func independentAddress(t require.TestingT, script []byte,
	format walletspec.AddressFormat, params *chaincfg.Params) string {

	switch format {
	case walletspec.AddrFormatP2SH:
		return base58.CheckEncode(
			hash160(script), params.ScriptHashAddrID,
		)

	case walletspec.AddrFormatP2WSH:
		program := sha256.Sum256(script)
		data, err := bech32.ConvertBits(program[:], 8, 5, true)
		require.NoError(t, err)

		addr, err := bech32.Encode(
			params.Bech32HRPSegwit, append([]byte{0}, data...),
		)
		require.NoError(t, err)

		return addr

	default:
		program := sha256.Sum256(script)
		witness := append([]byte{0x00, 0x20}, program[:]...)

		return base58.CheckEncode(
			hash160(witness), params.ScriptHashAddrID,
		)
	}
}

// TestRenderMatchesIndependent compares rendered addresses of random key sets
// against a hand rolled encoder.
func TestRenderMatchesIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 15).Draw(t, "n")
		m := rapid.IntRange(1, n).Draw(t, "m")
		format := rapid.SampledFrom([]walletspec.AddressFormat{
			walletspec.AddrFormatP2SH,
			walletspec.AddrFormatP2WSH,
			walletspec.AddrFormatP2WSHP2SH,
		}).Draw(t, "format")
		params := rapid.SampledFrom([]*chaincfg.Params{
			&chaincfg.MainNetParams, &chaincfg.TestNet3Params,
			&chaincfg.RegressionNetParams,
		}).Draw(t, "params")

		pubs := make([][]byte, 0, n)
		for i := 0; i < n; i++ {
			seed := rapid.Uint64().Draw(t, "seed")
			secret := sha256.Sum256(
				binary.BigEndian.AppendUint64(nil, seed),
			)
			_, pub := btcec.PrivKeyFromBytes(secret[:])
			pubs = append(pubs, pub.SerializeCompressed())
		}

		ms, err := RenderMultiSig(m, pubs, format, params)
		require.NoError(t, err)

		want := independentAddress(t, ms.RedeemScript, format, params)
		require.Equal(t, want, ms.Address.EncodeAddress())

		// Rendering twice gives the same result.
		again, err := RenderMultiSig(m, pubs, format, params)
		require.NoError(t, err)
		require.Equal(t, ms.Address.EncodeAddress(),
			again.Address.EncodeAddress())
	})
}

// TestPkScript checks the output scripts of each format.
func TestPkScript(t *testing.T) {
	t.Parallel()

	script, err := hex.DecodeString(bip67Script)
	require.NoError(t, err)
	params := &chaincfg.MainNetParams

	addr, err := Render(script, walletspec.AddrFormatP2SH, params)
	require.NoError(t, err)
	pkScript, err := PkScript(addr)
	require.NoError(t, err)
	require.True(t, txscript.IsPayToScriptHash(pkScript))

	addr, err = Render(script, walletspec.AddrFormatP2WSH, params)
	require.NoError(t, err)
	pkScript, err = PkScript(addr)
	require.NoError(t, err)
	require.True(t, txscript.IsPayToWitnessScriptHash(pkScript))

	addr, err = Render(script, walletspec.AddrFormatP2WSHP2SH, params)
	require.NoError(t, err)
	pkScript, err = PkScript(addr)
	require.NoError(t, err)
	require.True(t, txscript.IsPayToScriptHash(pkScript))
}
