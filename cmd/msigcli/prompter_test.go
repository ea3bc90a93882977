package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lightningnetwork/msig/keychain"
	"github.com/lightningnetwork/msig/multisig"
	"github.com/lightningnetwork/msig/walletspec"
	"github.com/stretchr/testify/require"
)

func newTestPrompter(input string, interactive bool) (*terminalPrompter,
	*bytes.Buffer) {

	var out bytes.Buffer

	return &terminalPrompter{
		in:  bufio.NewReader(strings.NewReader(input)),
		out: &out,
		interactive: func() bool {
			return interactive
		},
	}, &out
}

// TestPrompterAnswers checks the accepted answers and that anything else is
// asked again.
func TestPrompterAnswers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	req := &multisig.DeleteRequest{
		Name: "family", M: 2, N: 3, Format: walletspec.AddrFormatP2WSH,
	}

	p, out := newTestPrompter("maybe\nYES\n", true)
	ok, err := p.ConfirmDelete(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, strings.Count(out.String(), "Are you SURE?"))
	require.Contains(t, out.String(), `"family" (2 of 3, p2wsh)`)

	p, _ = newTestPrompter("n\n", true)
	ok, err = p.ConfirmDelete(ctx, req)
	require.NoError(t, err)
	require.False(t, ok)

	// A final answer without a newline still counts.
	p, _ = newTestPrompter("yes", true)
	ok, err = p.ConfirmDelete(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)

	p, _ = newTestPrompter("", true)
	_, err = p.ConfirmDelete(ctx, req)
	require.Error(t, err)

	p, _ = newTestPrompter("yes\n", false)
	_, err = p.ConfirmDelete(ctx, req)
	require.ErrorIs(t, err, errNotTerminal)

	p, out = newTestPrompter("", false)
	p.autoConfirm = true
	ok, err = p.ConfirmDelete(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, out.String(), "Are you SURE? (yes/no): yes")
}

// TestPrompterScreens checks the import and address screens show what the
// user needs to decide.
func TestPrompterScreens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	p, out := newTestPrompter("yes\n", true)
	ok, err := p.ConfirmImport(ctx, &multisig.ImportRequest{
		Name:           "family",
		M:              2,
		N:              3,
		Format:         walletspec.AddrFormatP2WSHP2SH,
		Fingerprints:   []walletspec.Fingerprint{1, 0xabcd, 0xffffffff},
		OwnFingerprint: 0xabcd,
		Footprint:      383,
		Free:           3200,
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, out.String(), "Policy: 2 of 3")
	require.Contains(t, out.String(), "Addresses: p2wsh-p2sh")
	require.Contains(t, out.String(), "0000ABCD (this device)")
	require.Contains(t, out.String(), "FFFFFFFF")
	require.Contains(t, out.String(), "Uses 383 of 3200 free bytes.")

	p, out = newTestPrompter("no\n", true)
	ok, err = p.ConfirmAddress(ctx, &multisig.AddressRequest{
		Wallet:  "family",
		M:       2,
		N:       3,
		Format:  walletspec.AddrFormatP2WSH,
		Address: "tb1qexample",
		Path:    "m/<account>/0/1",
	})
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, out.String(), "tb1qexample")
	require.Contains(t, out.String(), "m/<account>/0/1")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	p, _ = newTestPrompter("yes\n", true)
	_, err = p.ConfirmAddress(cancelled, &multisig.AddressRequest{})
	require.ErrorIs(t, err, context.Canceled)
}

// TestParseCosignerPath covers the FINGERPRINT:PATH arguments.
func TestParseCosignerPath(t *testing.T) {
	t.Parallel()

	fp, path, err := parseCosignerPath("0F0E0D0C:m/45'/0/3")
	require.NoError(t, err)
	require.Equal(t, walletspec.Fingerprint(0x0f0e0d0c), fp)
	require.Equal(t, keychain.DerivationPath{
		keychain.Hardened(45), 0, 3,
	}, path)

	for _, arg := range []string{
		"0F0E0D0C", "0F0E0D:m/1", "0F0E0D0C:m/x", "zzzzzzzz:m/1",
	} {
		_, _, err := parseCosignerPath(arg)
		require.Error(t, err, arg)
	}
}

// TestReadUpload checks the declared hash is attached to the upload.
func TestReadUpload(t *testing.T) {
	t.Parallel()

	fileName := filepath.Join(t.TempDir(), "wallet.txt")
	data := []byte("policy: 1 of 1\n")
	require.NoError(t, os.WriteFile(fileName, data, 0600))

	hash := sha256.Sum256(data)
	upload, err := readUpload(fileName, hex.EncodeToString(hash[:]))
	require.NoError(t, err)
	require.NoError(t, upload.Verify())

	upload, err = readUpload(fileName, strings.Repeat("00", 32))
	require.NoError(t, err)
	require.ErrorIs(t, upload.Verify(), multisig.ErrUploadMismatch)

	_, err = readUpload(fileName, "abcd")
	require.Error(t, err)
}
