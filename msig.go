package msig

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/msig/keychain"
	"github.com/lightningnetwork/msig/multisig"
	"github.com/lightningnetwork/msig/registry"
)

// ErrNoMasterKey is returned by Open if the device has no master key yet.
var ErrNoMasterKey = errors.New("no master key found, create one with " +
	"genkey")

// Engine ties the device's master key, the wallet registry and the multisig
// flows together.
type Engine struct {
	cfg *Config

	db       kvdb.Backend
	ownKey   *keychain.OwnedKey
	registry *registry.Registry
	manager  *multisig.Manager

	closeOnce sync.Once
}

// Open loads the master key, opens the registry database and creates the
// multisig manager. The config must have been validated.
func Open(cfg *Config, prompter multisig.Prompter) (*Engine, error) {
	ownKey, err := keychain.LoadOwnedKey(
		cfg.MasterKeyPath(), cfg.ActiveNetParams,
	)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, ErrNoMasterKey

	case err != nil:
		return nil, err
	}

	if err := os.MkdirAll(cfg.networkDir(), 0700); err != nil {
		return nil, err
	}

	db, err := registry.OpenDB(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(registry.Config{
		DB:          db,
		ChainParams: cfg.ActiveNetParams,
		Capacity:    cfg.Capacity,
		Clock:       clock.NewDefaultClock(),
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	manager, err := multisig.NewManager(multisig.Config{
		Registry:    reg,
		Deriver:     keychain.NewDeriver(ownKey, cfg.CacheSize),
		Prompter:    prompter,
		ChainParams: cfg.ActiveNetParams,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	used, capacity := reg.Usage()
	log.Infof("Opened registry %v on %v for device %v, %d of %d bytes "+
		"used", cfg.DBPath(), cfg.ActiveNetParams.Name,
		ownKey.Fingerprint(), used, capacity)

	return &Engine{
		cfg:      cfg,
		db:       db,
		ownKey:   ownKey,
		registry: reg,
		manager:  manager,
	}, nil
}

// Manager returns the multisig flows of the engine.
func (e *Engine) Manager() *multisig.Manager {
	return e.manager
}

// Registry returns the wallet registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// OwnKey returns the device's master key.
func (e *Engine) OwnKey() *keychain.OwnedKey {
	return e.ownKey
}

// Close closes the registry database.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		log.Debugf("Closing registry %v", e.cfg.DBPath())
		err = e.db.Close()
	})

	return err
}

// GenerateMasterKey creates a new master key and stores it at the configured
// path. An existing key is never overwritten.
func GenerateMasterKey(cfg *Config) (*keychain.OwnedKey, error) {
	ownKey, err := keychain.GenerateOwnedKey(cfg.ActiveNetParams)
	if err != nil {
		return nil, err
	}

	path := cfg.MasterKeyPath()
	if err := ownKey.WriteFile(path); err != nil {
		return nil, fmt.Errorf("unable to store master key: %w", err)
	}

	log.Infof("Created master key %v at %v", ownKey.Fingerprint(), path)

	return ownKey, nil
}
