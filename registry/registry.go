package registry

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // Register the bolt driver.
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/msig/walletspec"
)

const (
	// DefaultCapacity is the default byte budget of the registry. With
	// 20 character names it holds eight 2-of-3 wallets, or a single
	// wallet with 15 cosigners.
	DefaultCapacity = 3200

	// DBFilename is the name of the registry database file.
	DBFilename = "multisig.db"
)

var (
	// walletBucket holds the registered wallets, keyed by name.
	walletBucket = []byte("multisig-wallets")

	// markerBucket holds the verified address markers, keyed by address.
	markerBucket = []byte("verified-addresses")
)

// OpenDB opens, or creates, the bolt database at the given path.
func OpenDB(path string) (kvdb.Backend, error) {
	return kvdb.Create(
		kvdb.BoltBackendName, path, true, kvdb.DefaultDBTimeout, false,
	)
}

// Config holds the dependencies of a Registry.
type Config struct {
	// DB is the backing database.
	DB kvdb.Backend

	// ChainParams are the network parameters stored xpubs are decoded
	// with.
	ChainParams *chaincfg.Params

	// Capacity is the byte budget shared by all registered wallets.
	Capacity uint64

	// Clock provides the timestamps of verified address markers.
	Clock clock.Clock
}

// Entry is a registered wallet together with its footprint.
type Entry struct {
	// Spec is the stored wallet definition.
	Spec *walletspec.WalletSpec

	// Footprint is the number of bytes the wallet takes out of the
	// budget.
	Footprint uint64
}

// Reservation is a wallet that passed validation and has room set aside for
// it, but isn't stored yet. It must be either confirmed or aborted.
type Reservation struct {
	id        uint64
	spec      *walletspec.WalletSpec
	record    []byte
	footprint uint64
}

// Spec returns the wallet being registered.
func (r *Reservation) Spec() *walletspec.WalletSpec {
	return r.spec
}

// Footprint returns the room set aside for the wallet.
func (r *Reservation) Footprint() uint64 {
	return r.footprint
}

// PendingDelete is a deletion waiting for the user to confirm it.
type PendingDelete struct {
	id   uint64
	spec *walletspec.WalletSpec
}

// Spec returns the wallet that is about to be deleted.
func (p *PendingDelete) Spec() *walletspec.WalletSpec {
	return p.spec
}

// Registry is the fixed capacity store of multisig wallets. Registration is
// done in two phases: Insert reserves room without touching storage, then
// Confirm writes the wallet in a single transaction or Abort drops the
// reservation. Deletion is gated the same way.
type Registry struct {
	cfg Config

	mu sync.Mutex

	// used is the footprint of all stored wallets, by name.
	used map[string]uint64

	// reserved holds the pending reservations by id.
	reserved map[uint64]*Reservation

	// deleting holds the pending deletions by id.
	deleting map[uint64]*PendingDelete

	nextID uint64
}

// New creates a Registry on top of the given database. The budget in use is
// recomputed from the stored records.
func New(cfg Config) (*Registry, error) {
	r := &Registry{
		cfg:      cfg,
		used:     make(map[string]uint64),
		reserved: make(map[uint64]*Reservation),
		deleting: make(map[uint64]*PendingDelete),
	}

	err := kvdb.Update(cfg.DB, func(tx kvdb.RwTx) error {
		if _, err := tx.CreateTopLevelBucket(walletBucket); err != nil {
			return err
		}
		_, err := tx.CreateTopLevelBucket(markerBucket)

		return err
	}, func() {})
	if err != nil {
		return nil, fmt.Errorf("unable to create buckets: %w", err)
	}

	err = kvdb.View(cfg.DB, func(tx kvdb.RTx) error {
		wallets := tx.ReadBucket(walletBucket)

		return wallets.ForEach(func(k, v []byte) error {
			r.used[string(k)] = uint64(len(v))
			return nil
		})
	}, func() {
		r.used = make(map[string]uint64)
	})
	if err != nil {
		return nil, err
	}

	usedBytes := r.usedBytes()
	if usedBytes > cfg.Capacity {
		log.Warnf("Stored wallets take %d bytes, more than the "+
			"capacity of %d: no new wallets can be added",
			usedBytes, cfg.Capacity)
	}

	log.Infof("Opened multisig registry: %d wallets, %d/%d bytes used",
		len(r.used), usedBytes, cfg.Capacity)

	return r, nil
}

// usedBytes returns the footprint of stored and reserved wallets.
//
// NOTE: The mutex must be held.
func (r *Registry) usedBytes() uint64 {
	var total uint64
	for _, footprint := range r.used {
		total += footprint
	}
	for _, res := range r.reserved {
		total += res.footprint
	}

	return total
}

// Usage returns the number of bytes taken by stored and reserved wallets
// along with the total capacity.
func (r *Registry) Usage() (uint64, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.usedBytes(), r.cfg.Capacity
}

// nameTaken returns true if a stored or reserved wallet uses the name.
//
// NOTE: The mutex must be held.
func (r *Registry) nameTaken(name string) bool {
	if _, ok := r.used[name]; ok {
		return true
	}
	for _, res := range r.reserved {
		if res.spec.Name == name {
			return true
		}
	}

	return false
}

// Insert reserves room for a validated wallet. Nothing is written until the
// reservation is confirmed.
func (r *Registry) Insert(spec *walletspec.WalletSpec) (*Reservation, error) {
	record, err := serializeRecord(spec)
	if err != nil {
		return nil, err
	}
	footprint := uint64(len(record))

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nameTaken(spec.Name) {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, spec.Name)
	}

	var free uint64
	if usedBytes := r.usedBytes(); usedBytes < r.cfg.Capacity {
		free = r.cfg.Capacity - usedBytes
	}
	if footprint > free {
		log.Debugf("Refusing wallet %q of %d bytes, %d bytes free",
			spec.Name, footprint, free)

		return nil, &CapacityError{Need: footprint, Free: free}
	}

	r.nextID++
	res := &Reservation{
		id:        r.nextID,
		spec:      spec,
		record:    record,
		footprint: footprint,
	}
	r.reserved[res.id] = res

	log.Debugf("Reserved %d bytes for wallet %q", footprint, spec.Name)

	return res, nil
}

// Confirm stores a reserved wallet in a single transaction.
func (r *Registry) Confirm(res *Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reserved[res.id]; !ok {
		return ErrUnknownReservation
	}

	err := kvdb.Update(r.cfg.DB, func(tx kvdb.RwTx) error {
		wallets := tx.ReadWriteBucket(walletBucket)
		if wallets == nil {
			return kvdb.ErrBucketNotFound
		}

		return wallets.Put([]byte(res.spec.Name), res.record)
	}, func() {})
	if err != nil {
		return err
	}

	delete(r.reserved, res.id)
	r.used[res.spec.Name] = res.footprint

	log.Infof("Stored wallet %q (%v, %v)", res.spec.Name,
		res.spec.Policy(), res.spec.AddressFormat)

	return nil
}

// Abort drops a reservation. Storage is left untouched.
func (r *Registry) Abort(res *Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reserved[res.id]; !ok {
		return ErrUnknownReservation
	}
	delete(r.reserved, res.id)

	log.Debugf("Released reservation of wallet %q", res.spec.Name)

	return nil
}

// fetch reads a single wallet.
func (r *Registry) fetch(name string) (*walletspec.WalletSpec, error) {
	var spec *walletspec.WalletSpec
	err := kvdb.View(r.cfg.DB, func(tx kvdb.RTx) error {
		wallets := tx.ReadBucket(walletBucket)
		if wallets == nil {
			return kvdb.ErrBucketNotFound
		}

		record := wallets.Get([]byte(name))
		if record == nil {
			return ErrWalletNotFound
		}

		var err error
		spec, err = decodeRecord(
			bytes.NewReader(record), r.cfg.ChainParams,
		)

		return err
	}, func() {
		spec = nil
	})
	if err != nil {
		return nil, err
	}

	return spec, nil
}

// Lookup returns the stored wallet with the given name.
func (r *Registry) Lookup(name string) (*walletspec.WalletSpec, error) {
	return r.fetch(name)
}

// Enumerate returns all stored wallets, ordered by name.
func (r *Registry) Enumerate() ([]*Entry, error) {
	var entries []*Entry
	err := kvdb.View(r.cfg.DB, func(tx kvdb.RTx) error {
		wallets := tx.ReadBucket(walletBucket)
		if wallets == nil {
			return kvdb.ErrBucketNotFound
		}

		return wallets.ForEach(func(k, v []byte) error {
			spec, err := decodeRecord(
				bytes.NewReader(v), r.cfg.ChainParams,
			)
			if err != nil {
				return fmt.Errorf("wallet %q: %w", k, err)
			}

			entries = append(entries, &Entry{
				Spec:      spec,
				Footprint: uint64(len(v)),
			})

			return nil
		})
	}, func() {
		entries = nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// FindByKeys returns the stored wallet with the given threshold, exactly the
// given set of cosigner fingerprints and the given address format. If the key
// set is only registered with other formats, the first such wallet is
// returned instead so the caller can report the format it uses.
func (r *Registry) FindByKeys(m int, format walletspec.AddressFormat,
	fps []walletspec.Fingerprint) (*walletspec.WalletSpec, error) {

	want := make([]walletspec.Fingerprint, len(fps))
	copy(want, fps)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	entries, err := r.Enumerate()
	if err != nil {
		return nil, err
	}

	var fallback *walletspec.WalletSpec
	for _, entry := range entries {
		if entry.Spec.M != m || !sameKeys(entry.Spec.Fingerprints(), want) {
			continue
		}

		if entry.Spec.AddressFormat == format {
			return entry.Spec, nil
		}
		if fallback == nil {
			fallback = entry.Spec
		}
	}

	if fallback != nil {
		return fallback, nil
	}

	return nil, ErrWalletNotFound
}

// sameKeys compares two sorted fingerprint lists.
func sameKeys(have, want []walletspec.Fingerprint) bool {
	if len(have) != len(want) {
		return false
	}

	for i := range have {
		if have[i] != want[i] {
			return false
		}
	}

	return true
}

// BeginDelete looks up a wallet and returns a handle that deletes it once
// confirmed.
func (r *Registry) BeginDelete(name string) (*PendingDelete, error) {
	spec, err := r.fetch(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	pending := &PendingDelete{id: r.nextID, spec: spec}
	r.deleting[pending.id] = pending

	return pending, nil
}

// ConfirmDelete removes the wallet along with its verified address markers
// in a single transaction.
func (r *Registry) ConfirmDelete(pending *PendingDelete) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.deleting[pending.id]; !ok {
		return ErrUnknownDeletion
	}

	// The pending deletion is used up whatever the outcome.
	delete(r.deleting, pending.id)

	name := pending.spec.Name
	var numMarkers int
	err := kvdb.Update(r.cfg.DB, func(tx kvdb.RwTx) error {
		wallets := tx.ReadWriteBucket(walletBucket)
		markers := tx.ReadWriteBucket(markerBucket)
		if wallets == nil || markers == nil {
			return kvdb.ErrBucketNotFound
		}

		if wallets.Get([]byte(name)) == nil {
			return ErrWalletNotFound
		}
		if err := wallets.Delete([]byte(name)); err != nil {
			return err
		}

		// Collect first, the bucket can't be modified while we
		// iterate over it.
		var stale [][]byte
		err := markers.ForEach(func(k, v []byte) error {
			m, err := decodeMarker(string(k), bytes.NewReader(v))
			if err != nil {
				return err
			}
			if m.Wallet == name {
				stale = append(stale, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := markers.Delete(k); err != nil {
				return err
			}
		}
		numMarkers = len(stale)

		return nil
	}, func() {
		numMarkers = 0
	})
	if err != nil {
		return err
	}

	delete(r.used, name)

	log.Infof("Deleted wallet %q and %d verified address markers", name,
		numMarkers)

	return nil
}

// CancelDelete drops a pending deletion.
func (r *Registry) CancelDelete(pending *PendingDelete) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.deleting[pending.id]; !ok {
		return ErrUnknownDeletion
	}
	delete(r.deleting, pending.id)

	return nil
}

// MarkVerified records that the user confirmed the address.
func (r *Registry) MarkVerified(address, wallet, path string) error {
	marker := &Marker{
		Address:   address,
		Wallet:    wallet,
		Path:      path,
		Timestamp: uint64(r.cfg.Clock.Now().Unix()),
	}

	var b bytes.Buffer
	if err := encodeMarker(&b, marker); err != nil {
		return err
	}

	return kvdb.Update(r.cfg.DB, func(tx kvdb.RwTx) error {
		markers := tx.ReadWriteBucket(markerBucket)
		if markers == nil {
			return kvdb.ErrBucketNotFound
		}

		return markers.Put([]byte(address), b.Bytes())
	}, func() {})
}

// VerifiedMarker returns the marker of a previously confirmed address, if
// any.
func (r *Registry) VerifiedMarker(address string) (fn.Option[Marker], error) {
	var marker fn.Option[Marker]
	err := kvdb.View(r.cfg.DB, func(tx kvdb.RTx) error {
		markers := tx.ReadBucket(markerBucket)
		if markers == nil {
			return kvdb.ErrBucketNotFound
		}

		v := markers.Get([]byte(address))
		if v == nil {
			return nil
		}

		m, err := decodeMarker(address, bytes.NewReader(v))
		if err != nil {
			return err
		}
		marker = fn.Some(*m)

		return nil
	}, func() {
		marker = fn.None[Marker]()
	})
	if err != nil {
		return fn.None[Marker](), err
	}

	return marker, nil
}

// Markers returns the verified address markers of the given wallet.
func (r *Registry) Markers(wallet string) ([]Marker, error) {
	var result []Marker
	err := kvdb.View(r.cfg.DB, func(tx kvdb.RTx) error {
		markers := tx.ReadBucket(markerBucket)
		if markers == nil {
			return kvdb.ErrBucketNotFound
		}

		return markers.ForEach(func(k, v []byte) error {
			m, err := decodeMarker(string(k), bytes.NewReader(v))
			if err != nil {
				return err
			}
			if m.Wallet == wallet {
				result = append(result, *m)
			}

			return nil
		})
	}, func() {
		result = nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
