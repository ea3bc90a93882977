package keychain

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/lightningnetwork/msig/walletspec"
)

const (
	// DefaultCacheSize is the default number of derived leaf keys that
	// are kept around.
	DefaultCacheSize = 256
)

// cacheKey identifies a derived leaf key by everything that decides the
// outcome of a derivation: the cosigner's fingerprint and account key, and
// the requested path. The path is kept in its string form so the key stays
// comparable. Master rooted and relative paths never share an entry.
type cacheKey struct {
	fingerprint walletspec.Fingerprint
	xpub        string
	path        string
	relative    bool
}

// cachedPubKey is a wrapper around a compressed public key that implements
// the cache.Value interface required by the LRU cache.
type cachedPubKey struct {
	pubKeyBytes [btcec.PubKeyBytesLenCompressed]byte
}

// Size returns the "size" of an entry. We return 1 as we just want to limit
// the total number of entries rather than do accurate size accounting.
func (c *cachedPubKey) Size() (uint64, error) {
	return 1, nil
}

// Deriver walks cosigner account keys down to leaf public keys. Foreign keys
// are derived publicly and so can't take hardened steps. Our own key, if
// known, is derived from the master key, which lifts that restriction and
// also lets us check that the registered xpub really is ours.
//
// Deriving is deterministic, so results can be cached.
type Deriver struct {
	own *OwnedKey

	// cache is nil when caching is disabled.
	cache *lru.Cache[cacheKey, *cachedPubKey]
}

// NewDeriver creates a new Deriver. The own key may be nil, in which case
// every cosigner is treated as foreign. A cache size of zero disables the
// cache.
func NewDeriver(own *OwnedKey, cacheSize uint64) *Deriver {
	d := &Deriver{own: own}
	if cacheSize > 0 {
		d.cache = lru.NewCache[cacheKey, *cachedPubKey](cacheSize)
	}

	return d
}

// OwnKey returns the device's own key, if any.
func (d *Deriver) OwnKey() *OwnedKey {
	return d.own
}

// isOwn returns true if the cosigner carries our own fingerprint.
func (d *Deriver) isOwn(ck walletspec.CosignerKey) bool {
	return d.own != nil && ck.Fingerprint == d.own.Fingerprint()
}

// DeriveKey derives the 33-byte compressed public key of the cosigner at the
// given master rooted path. The leading components of the path must lead to
// the cosigner's account key.
func (d *Deriver) DeriveKey(ck walletspec.CosignerKey,
	path DerivationPath) ([]byte, error) {

	fail := func(err error) ([]byte, error) {
		return nil, &DerivationError{
			Fingerprint: ck.Fingerprint, Path: path, Err: err,
		}
	}

	account := ck.ExtendedKey()
	prefix, tail, err := splitAtAccount(account, path)
	if err != nil {
		return fail(err)
	}

	own := d.isOwn(ck)
	if !own && tail.HasHardened() {
		return fail(ErrHardenedStep)
	}

	// Only successful derivations are cached, and the key covers the
	// fingerprint, so a hit implies the own key check passed before.
	key := cacheKey{
		fingerprint: ck.Fingerprint,
		xpub:        ck.XPub,
		path:        path.String(),
	}
	if pub, ok := d.lookup(key); ok {
		return pub, nil
	}

	var pub *btcec.PublicKey
	switch {
	case own:
		xpub, err := d.own.AccountXPub(prefix)
		if err != nil {
			return fail(err)
		}
		if xpub != ck.XPub {
			log.Warnf("Registered xpub of our own fingerprint %v "+
				"doesn't match account %v", ck.Fingerprint,
				prefix)

			return fail(ErrOwnKeyMismatch)
		}

		pub, err = d.own.derivePubKey(path)
		if err != nil {
			return fail(err)
		}

	default:
		leaf, err := derivePath(account, tail)
		if err != nil {
			return fail(err)
		}

		pub, err = leaf.ECPubKey()
		if err != nil {
			return fail(err)
		}
	}

	return d.store(key, pub), nil
}

// DeriveRelative derives the cosigner key at the given path below its
// account key. Only non-hardened steps are allowed, for every cosigner.
func (d *Deriver) DeriveRelative(ck walletspec.CosignerKey,
	tail DerivationPath) ([]byte, error) {

	if tail.HasHardened() {
		return nil, &DerivationError{
			Fingerprint: ck.Fingerprint, Path: tail,
			Err: ErrHardenedStep,
		}
	}

	key := cacheKey{
		fingerprint: ck.Fingerprint,
		xpub:        ck.XPub,
		path:        tail.String(),
		relative:    true,
	}
	if pub, ok := d.lookup(key); ok {
		return pub, nil
	}

	leaf, err := derivePath(ck.ExtendedKey(), tail)
	if err != nil {
		return nil, &DerivationError{
			Fingerprint: ck.Fingerprint, Path: tail, Err: err,
		}
	}

	pub, err := leaf.ECPubKey()
	if err != nil {
		return nil, &DerivationError{
			Fingerprint: ck.Fingerprint, Path: tail, Err: err,
		}
	}

	return d.store(key, pub), nil
}

func (d *Deriver) lookup(key cacheKey) ([]byte, bool) {
	if d.cache == nil {
		return nil, false
	}

	cached, err := d.cache.Get(key)
	if err != nil {
		return nil, false
	}

	log.Tracef("Derived key cache hit for %v of %v", key.path,
		key.fingerprint)

	pub := cached.pubKeyBytes

	return pub[:], true
}

func (d *Deriver) store(key cacheKey, pub *btcec.PublicKey) []byte {
	var compressed [btcec.PubKeyBytesLenCompressed]byte
	copy(compressed[:], pub.SerializeCompressed())

	if d.cache != nil {
		// Caching is best-effort, a failure just means we'll derive
		// the key again next time.
		_, _ = d.cache.Put(key, &cachedPubKey{pubKeyBytes: compressed})
	}

	return compressed[:]
}
