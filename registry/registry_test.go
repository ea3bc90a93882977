package registry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/msig/internal/msigtest"
	"github.com/lightningnetwork/msig/walletspec"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	testParams = &chaincfg.TestNet3Params

	testTime = time.Unix(1700000000, 0)

	signersOnce sync.Once
	signers     []*msigtest.Signer
)

func testSigners(t testing.TB) []*msigtest.Signer {
	signersOnce.Do(func() {
		signers = msigtest.NewSigners(t, walletspec.MaxCosigners,
			testParams)
	})

	return signers
}

// testSpec builds an M-of-N wallet over the first n test signers.
func testSpec(t testing.TB, name string, m, n int,
	format walletspec.AddressFormat) *walletspec.WalletSpec {

	spec := &walletspec.WalletSpec{
		Name: name, M: m, N: n, AddressFormat: format,
	}
	for _, s := range testSigners(t)[:n] {
		ck, err := walletspec.NewCosignerKey(
			walletspec.Fingerprint(s.Fingerprint), s.XPub,
			testParams,
		)
		require.NoError(t, err)
		spec.Cosigners = append(spec.Cosigners, ck)
	}

	return spec
}

// walletName returns a distinct name of exactly 20 characters.
func walletName(i int) string {
	return fmt.Sprintf("wallet-%013d", i)
}

type testRegistry struct {
	*Registry

	dbPath string
	clock  *clock.TestClock
}

func newTestRegistry(t testing.TB, capacity uint64) *testRegistry {
	dbPath := filepath.Join(t.TempDir(), DBFilename)
	db, err := OpenDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	testClock := clock.NewTestClock(testTime)
	r, err := New(Config{
		DB:          db,
		ChainParams: testParams,
		Capacity:    capacity,
		Clock:       testClock,
	})
	require.NoError(t, err)

	return &testRegistry{Registry: r, dbPath: dbPath, clock: testClock}
}

func (r *testRegistry) store(t testing.TB, spec *walletspec.WalletSpec) {
	t.Helper()

	res, err := r.Insert(spec)
	require.NoError(t, err)
	require.NoError(t, r.Confirm(res))
}

// TestFootprint checks the stored size grows with the number of cosigners.
func TestFootprint(t *testing.T) {
	t.Parallel()

	signers := testSigners(t)
	xpubLen := uint64(len(signers[0].XPub))

	for _, n := range []int{1, 3, 15} {
		spec := testSpec(
			t, walletName(0), 1, n, walletspec.AddrFormatP2WSH,
		)
		footprint, err := Footprint(spec)
		require.NoError(t, err)

		// Name, three single byte records, and the cosigner blob with
		// its length prefix.
		blob := uint64(n) * (walletspec.FingerprintLen + 1 + xpubLen)
		lenPrefix := uint64(1)
		if blob >= 0xfd {
			lenPrefix = 3
		}
		want := (2 + 20) + 3*3 + (1 + lenPrefix + blob)
		require.Equal(t, want, footprint, "n=%d", n)
	}
}

// TestCapacityOverflow checks the calibrated default capacity: eight 3-key
// wallets or one 15-key wallet.
func TestCapacityOverflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n       int
		maxKept int
	}{
		{n: 3, maxKept: 8},
		{n: 15, maxKept: 1},
	}

	for _, test := range tests {
		r := newTestRegistry(t, DefaultCapacity)

		for i := 0; i < test.maxKept; i++ {
			r.store(t, testSpec(
				t, walletName(i), 2, test.n,
				walletspec.AddrFormatP2WSH,
			))
		}

		spec := testSpec(
			t, walletName(test.maxKept), 2, test.n,
			walletspec.AddrFormatP2WSH,
		)
		_, err := r.Insert(spec)

		var capErr *CapacityError
		require.ErrorAs(t, err, &capErr)
		require.Contains(t, err.Error(), "no space left")

		footprint, err := Footprint(spec)
		require.NoError(t, err)
		require.Equal(t, footprint, capErr.Need)
		require.Less(t, capErr.Free, capErr.Need)

		entries, err := r.Enumerate()
		require.NoError(t, err)
		require.Len(t, entries, test.maxKept)
	}
}

// TestCapacityDeterministic checks the number of wallets that fit depends
// only on N and the budget.
func TestCapacityDeterministic(t *testing.T) {
	testSigners(t)

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, walletspec.MaxCosigners).Draw(rt, "n")
		capacity := rapid.Uint64Range(0, 5000).Draw(rt, "capacity")

		footprint, err := Footprint(testSpec(
			t, walletName(0), 1, n, walletspec.AddrFormatP2SH,
		))
		require.NoError(rt, err)

		r := newTestRegistry(t, capacity)

		var kept int
		for i := 0; ; i++ {
			res, err := r.Insert(testSpec(
				t, walletName(i), 1, n,
				walletspec.AddrFormatP2SH,
			))
			if err != nil {
				var capErr *CapacityError
				require.ErrorAs(rt, err, &capErr)
				break
			}
			require.NoError(rt, r.Confirm(res))
			kept++
		}

		require.Equal(rt, int(capacity/footprint), kept)

		used, total := r.Usage()
		require.Equal(rt, capacity, total)
		require.Equal(rt, uint64(kept)*footprint, used)
		require.LessOrEqual(rt, used, capacity)
	})
}

// TestAbortIntegrity makes sure an aborted import leaves the database file
// byte for byte unchanged and frees its reservation.
func TestAbortIntegrity(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, DefaultCapacity)
	r.store(t, testSpec(t, "first", 2, 3, walletspec.AddrFormatP2SH))

	before, err := os.ReadFile(r.dbPath)
	require.NoError(t, err)
	usedBefore, _ := r.Usage()

	res, err := r.Insert(testSpec(
		t, "second", 2, 3, walletspec.AddrFormatP2WSH,
	))
	require.NoError(t, err)

	// The reservation counts against the budget while pending.
	usedPending, _ := r.Usage()
	require.Equal(t, usedBefore+res.Footprint(), usedPending)

	_, err = r.Lookup("second")
	require.ErrorIs(t, err, ErrWalletNotFound)

	require.NoError(t, r.Abort(res))
	require.ErrorIs(t, r.Abort(res), ErrUnknownReservation)
	require.ErrorIs(t, r.Confirm(res), ErrUnknownReservation)

	after, err := os.ReadFile(r.dbPath)
	require.NoError(t, err)
	require.Equal(t, before, after)

	usedAfter, _ := r.Usage()
	require.Equal(t, usedBefore, usedAfter)

	entries, err := r.Enumerate()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

// TestDuplicateName checks names are unique across stored and reserved
// wallets.
func TestDuplicateName(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, DefaultCapacity)
	r.store(t, testSpec(t, "taken", 2, 3, walletspec.AddrFormatP2SH))

	_, err := r.Insert(testSpec(t, "taken", 1, 2, walletspec.AddrFormatP2SH))
	require.ErrorIs(t, err, ErrDuplicateName)

	res, err := r.Insert(testSpec(
		t, "pending", 1, 2, walletspec.AddrFormatP2SH,
	))
	require.NoError(t, err)

	_, err = r.Insert(testSpec(
		t, "pending", 1, 2, walletspec.AddrFormatP2SH,
	))
	require.ErrorIs(t, err, ErrDuplicateName)

	require.NoError(t, r.Abort(res))
	_, err = r.Insert(testSpec(
		t, "pending", 1, 2, walletspec.AddrFormatP2SH,
	))
	require.NoError(t, err)
}

// TestLookupAndReopen checks stored wallets decode to what was inserted, and
// that the budget is recomputed when the database is opened again.
func TestLookupAndReopen(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), DBFilename)
	db, err := OpenDB(dbPath)
	require.NoError(t, err)

	cfg := Config{
		DB:          db,
		ChainParams: testParams,
		Capacity:    DefaultCapacity,
		Clock:       clock.NewTestClock(testTime),
	}
	r, err := New(cfg)
	require.NoError(t, err)

	specs := []*walletspec.WalletSpec{
		testSpec(t, "b-wallet", 2, 3, walletspec.AddrFormatP2WSHP2SH),
		testSpec(t, "a-wallet", 1, 1, walletspec.AddrFormatP2SH),
	}
	for _, spec := range specs {
		res, err := r.Insert(spec)
		require.NoError(t, err)
		require.NoError(t, r.Confirm(res))
	}

	got, err := r.Lookup("b-wallet")
	require.NoError(t, err)
	require.True(t, specs[0].Equal(got))

	used, _ := r.Usage()
	require.NoError(t, db.Close())

	db, err = OpenDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	cfg.DB = db
	r, err = New(cfg)
	require.NoError(t, err)

	reopenedUsed, _ := r.Usage()
	require.Equal(t, used, reopenedUsed)

	entries, err := r.Enumerate()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a-wallet", entries[0].Spec.Name)
	require.True(t, specs[1].Equal(entries[0].Spec))
	require.True(t, specs[0].Equal(entries[1].Spec))
}

// TestFindByKeys checks the lookup by threshold, key set and format.
func TestFindByKeys(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, DefaultCapacity)
	spec := testSpec(t, "vault", 2, 3, walletspec.AddrFormatP2WSH)
	pair := testSpec(t, "pair", 2, 2, walletspec.AddrFormatP2WSH)
	r.store(t, spec)
	r.store(t, pair)

	p2wsh := walletspec.AddrFormatP2WSH
	fps := spec.Fingerprints()
	reversed := []walletspec.Fingerprint{fps[2], fps[1], fps[0]}

	found, err := r.FindByKeys(2, p2wsh, reversed)
	require.NoError(t, err)
	require.Equal(t, "vault", found.Name)

	found, err = r.FindByKeys(2, p2wsh, pair.Fingerprints())
	require.NoError(t, err)
	require.Equal(t, "pair", found.Name)

	// Without a wallet in the asked format, the key set match is
	// returned for the caller to report.
	found, err = r.FindByKeys(2, walletspec.AddrFormatP2SH, fps)
	require.NoError(t, err)
	require.Equal(t, "vault", found.Name)

	_, err = r.FindByKeys(1, p2wsh, fps)
	require.ErrorIs(t, err, ErrWalletNotFound)

	_, err = r.FindByKeys(
		2, p2wsh, []walletspec.Fingerprint{fps[0], 0xdeadbeef},
	)
	require.ErrorIs(t, err, ErrWalletNotFound)
}

// TestDeleteGate checks deletion only happens once confirmed, and that it
// frees the budget and the wallet's markers.
func TestDeleteGate(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, DefaultCapacity)
	for i := 0; i < 8; i++ {
		r.store(t, testSpec(
			t, walletName(i), 2, 3, walletspec.AddrFormatP2WSH,
		))
	}
	require.NoError(t, r.MarkVerified("tb1qaddr0", walletName(3), "m/0/0"))
	require.NoError(t, r.MarkVerified("tb1qaddr1", walletName(3), "m/0/1"))
	require.NoError(t, r.MarkVerified("tb1qaddr2", walletName(4), "m/0/0"))

	_, err := r.Insert(testSpec(
		t, walletName(8), 2, 3, walletspec.AddrFormatP2WSH,
	))
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)

	pending, err := r.BeginDelete(walletName(3))
	require.NoError(t, err)
	require.Equal(t, walletName(3), pending.Spec().Name)
	require.NoError(t, r.CancelDelete(pending))
	require.ErrorIs(t, r.ConfirmDelete(pending), ErrUnknownDeletion)

	_, err = r.Lookup(walletName(3))
	require.NoError(t, err)

	pending, err = r.BeginDelete(walletName(3))
	require.NoError(t, err)
	require.NoError(t, r.ConfirmDelete(pending))

	_, err = r.Lookup(walletName(3))
	require.ErrorIs(t, err, ErrWalletNotFound)

	markers, err := r.Markers(walletName(3))
	require.NoError(t, err)
	require.Empty(t, markers)

	marker, err := r.VerifiedMarker("tb1qaddr2")
	require.NoError(t, err)
	require.True(t, marker.IsSome())

	// The freed room can be used again.
	r.store(t, testSpec(
		t, walletName(8), 2, 3, walletspec.AddrFormatP2WSH,
	))

	_, err = r.BeginDelete("missing")
	require.ErrorIs(t, err, ErrWalletNotFound)
}

// TestDeleteTwice checks that a pending deletion whose wallet is already
// gone fails and is dropped rather than kept around.
func TestDeleteTwice(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, DefaultCapacity)
	r.store(t, testSpec(t, "vault", 2, 3, walletspec.AddrFormatP2WSH))

	first, err := r.BeginDelete("vault")
	require.NoError(t, err)
	second, err := r.BeginDelete("vault")
	require.NoError(t, err)

	require.NoError(t, r.ConfirmDelete(first))
	require.ErrorIs(t, r.ConfirmDelete(second), ErrWalletNotFound)
	require.ErrorIs(t, r.ConfirmDelete(second), ErrUnknownDeletion)
	require.ErrorIs(t, r.CancelDelete(second), ErrUnknownDeletion)

	r.mu.Lock()
	require.Empty(t, r.deleting)
	r.mu.Unlock()
}

// TestVerifiedMarker checks markers are stored with the clock's time.
func TestVerifiedMarker(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, DefaultCapacity)

	marker, err := r.VerifiedMarker("2N19tNw3Ss4L9QDERtCw7FhXb6jBsYmeXNu")
	require.NoError(t, err)
	require.True(t, marker.IsNone())

	r.clock.SetTime(testTime.Add(time.Hour))
	require.NoError(t, r.MarkVerified(
		"2N19tNw3Ss4L9QDERtCw7FhXb6jBsYmeXNu", "vault", "m/45'/0/7",
	))

	marker, err = r.VerifiedMarker("2N19tNw3Ss4L9QDERtCw7FhXb6jBsYmeXNu")
	require.NoError(t, err)

	m := marker.UnwrapOr(Marker{})
	require.Equal(t, "vault", m.Wallet)
	require.Equal(t, "m/45'/0/7", m.Path)
	require.EqualValues(t, testTime.Add(time.Hour).Unix(), m.Timestamp)

	// Markers don't count against the wallet budget.
	used, _ := r.Usage()
	require.Zero(t, used)
}

// TestRecordRejectsGarbage makes sure a corrupt record doesn't decode.
func TestRecordRejectsGarbage(t *testing.T) {
	t.Parallel()

	spec := testSpec(t, "vault", 2, 3, walletspec.AddrFormatP2SH)
	record, err := serializeRecord(spec)
	require.NoError(t, err)

	decoded, err := decodeRecord(bytes.NewReader(record),
		testParams)
	require.NoError(t, err)
	require.True(t, spec.Equal(decoded))

	_, err = decodeRecord(
		bytes.NewReader(record[:len(record)-10]), testParams,
	)
	require.Error(t, err)

	_, err = decodeCosigners([]byte{1, 2, 3, 4, 200, 'x'}, testParams)
	require.Error(t, err)
}
