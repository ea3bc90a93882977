package multisig

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/msig/address"
	"github.com/lightningnetwork/msig/keychain"
	"github.com/lightningnetwork/msig/lnutils"
	"github.com/lightningnetwork/msig/registry"
	"github.com/lightningnetwork/msig/walletspec"
)

// Config holds everything the Manager needs.
type Config struct {
	// Registry stores the enrolled wallets.
	Registry *registry.Registry

	// Deriver turns cosigner keys into leaf keys. It must carry the
	// device's own key.
	Deriver *keychain.Deriver

	// Prompter gates every change and every address behind the user.
	Prompter Prompter

	// ChainParams selects the network keys and addresses are for.
	ChainParams *chaincfg.Params
}

// Manager drives the multisig flows of the device: enrolling wallets,
// showing addresses, deleting and exporting wallets. Requests are handled
// one at a time.
type Manager struct {
	cfg Config

	// mu serializes requests.
	mu sync.Mutex
}

// NewManager creates a new Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Deriver.OwnKey() == nil {
		return nil, fmt.Errorf("deriver has no own key")
	}

	return &Manager{cfg: cfg}, nil
}

// ownFingerprint returns the device's master fingerprint.
func (m *Manager) ownFingerprint() walletspec.Fingerprint {
	return m.cfg.Deriver.OwnKey().Fingerprint()
}

// EnrollResult is the result of an enrollment.
type EnrollResult struct {
	// Outcome tells whether the wallet was stored.
	Outcome Outcome

	// Spec is the validated wallet.
	Spec *walletspec.WalletSpec
}

// Enroll parses, validates and registers a wallet definition. The wallet is
// only stored once the user approved it. If the definition carries no name
// the fallback is used, and failing that an "M-of-N" name.
func (m *Manager) Enroll(ctx context.Context, data []byte,
	fallbackName fn.Option[string]) (*EnrollResult, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	spec, err := walletspec.ParseBytes(data, m.cfg.ChainParams)
	if err != nil {
		return nil, err
	}

	if spec.Name == "" {
		spec.Name = fallbackName.UnwrapOr(
			fmt.Sprintf("%d-of-%d", spec.M, spec.N),
		)
	}

	spec, err = walletspec.Validate(spec, m.ownFingerprint())
	if err != nil {
		return nil, err
	}

	var free uint64
	if used, capacity := m.cfg.Registry.Usage(); used < capacity {
		free = capacity - used
	}

	res, err := m.cfg.Registry.Insert(spec)
	if err != nil {
		return nil, err
	}

	req := &ImportRequest{
		Name:           spec.Name,
		M:              spec.M,
		N:              spec.N,
		Format:         spec.AddressFormat,
		Fingerprints:   spec.Fingerprints(),
		OwnFingerprint: m.ownFingerprint(),
		Footprint:      res.Footprint(),
		Free:           free,
	}

	log.Debugf("Asking to import wallet: %v",
		lnutils.SpewLogClosure(req))

	ok, err := m.cfg.Prompter.ConfirmImport(ctx, req)
	if err != nil || !ok {
		if abortErr := m.cfg.Registry.Abort(res); abortErr != nil {
			log.Errorf("Unable to release reservation of %q: %v",
				spec.Name, abortErr)
		}
		if err != nil {
			return nil, fmt.Errorf("import confirmation: %w", err)
		}

		log.InfoS(ctx, "Wallet import declined", "name", spec.Name)

		return &EnrollResult{Outcome: OutcomeAborted, Spec: spec}, nil
	}

	if err := m.cfg.Registry.Confirm(res); err != nil {
		return nil, err
	}

	log.InfoS(ctx, "Wallet enrolled",
		"name", spec.Name,
		"policy", spec.Policy(),
		"format", spec.AddressFormat.String())

	return &EnrollResult{Outcome: OutcomeCommitted, Spec: spec}, nil
}

// EnrollUpload checks an upload against its declared length and hash before
// enrolling it.
func (m *Manager) EnrollUpload(ctx context.Context,
	upload *Upload) (*EnrollResult, error) {

	if err := upload.Verify(); err != nil {
		return nil, err
	}

	return m.Enroll(ctx, upload.Data, fn.None[string]())
}

// ImportFile enrolls a wallet definition read from removable storage. If the
// file has no name header, the wallet is named after the file.
func (m *Manager) ImportFile(ctx context.Context, fileName string,
	r io.Reader) (*EnrollResult, error) {

	data, err := readWalletFile(r)
	if err != nil {
		return nil, err
	}

	fallback := fn.None[string]()
	if name := NameFromFilename(fileName); name != "" {
		fallback = fn.Some(name)
	}

	return m.Enroll(ctx, data, fallback)
}

// AddressQuery is a host's request to show an address. It identifies the
// wallet by threshold and cosigner fingerprints, and gives the master rooted
// derivation path of every cosigner.
type AddressQuery struct {
	// M is the signing threshold.
	M int

	// Paths holds the derivation path of every cosigner.
	Paths map[walletspec.Fingerprint]keychain.DerivationPath

	// Format is the address format the host expects.
	Format walletspec.AddressFormat

	// ExpectedScript optionally holds the redeem script the host built,
	// which must match ours.
	ExpectedScript fn.Option[[]byte]
}

// ShownAddress is an address that was shown to the user.
type ShownAddress struct {
	// Outcome tells whether the user confirmed the address.
	Outcome Outcome

	// Wallet is the wallet the address belongs to.
	Wallet *walletspec.WalletSpec

	// Address holds the address and its scripts.
	Address *address.MultiSig

	// Path is the description of the derivation shown to the user.
	Path string
}

// ShowAddress derives the address a host asks for, shows it and records it
// as verified once the user confirmed it.
func (m *Manager) ShowAddress(ctx context.Context,
	query *AddressQuery) (*ShownAddress, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	fps := make([]walletspec.Fingerprint, 0, len(query.Paths))
	for fp := range query.Paths {
		fps = append(fps, fp)
	}

	spec, err := m.cfg.Registry.FindByKeys(
		query.M, query.Format, fps,
	)
	if err != nil {
		return nil, err
	}

	if query.Format != spec.AddressFormat {
		return nil, fmt.Errorf("%w: wallet %q uses %v, not %v",
			ErrFormatMismatch, spec.Name, spec.AddressFormat,
			query.Format)
	}

	pubs := make([][]byte, 0, len(spec.Cosigners))
	for _, ck := range spec.SortedCosigners() {
		path, ok := query.Paths[ck.Fingerprint]
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrMissingPath,
				ck.Fingerprint)
		}

		pub, err := m.cfg.Deriver.DeriveKey(ck, path)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, pub)
	}

	rendered, err := address.RenderMultiSig(
		spec.M, pubs, spec.AddressFormat, m.cfg.ChainParams,
	)
	if err != nil {
		return nil, err
	}

	var mismatch bool
	query.ExpectedScript.WhenSome(func(script []byte) {
		mismatch = !bytes.Equal(script, rendered.RedeemScript)
	})
	if mismatch {
		log.DebugS(ctx, "Host script differs from ours",
			lnutils.LogScript("ours", rendered.RedeemScript))

		return nil, ErrScriptMismatch
	}

	return m.showAddress(ctx, spec, rendered, describePaths(query.Paths))
}

// ShowWalletAddress shows the address of a wallet at the given path below
// every cosigner's account key.
func (m *Manager) ShowWalletAddress(ctx context.Context, name string,
	subPath keychain.DerivationPath) (*ShownAddress, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	spec, err := m.cfg.Registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	pubs := make([][]byte, 0, len(spec.Cosigners))
	for _, ck := range spec.Cosigners {
		pub, err := m.cfg.Deriver.DeriveRelative(ck, subPath)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, pub)
	}

	rendered, err := address.RenderMultiSig(
		spec.M, pubs, spec.AddressFormat, m.cfg.ChainParams,
	)
	if err != nil {
		return nil, err
	}

	path := strings.Replace(subPath.String(), "m", "m/<account>", 1)

	return m.showAddress(ctx, spec, rendered, path)
}

// showAddress asks the user to confirm the address and records the marker.
//
// NOTE: The mutex must be held.
func (m *Manager) showAddress(ctx context.Context,
	spec *walletspec.WalletSpec, rendered *address.MultiSig,
	path string) (*ShownAddress, error) {

	addr := rendered.Address.EncodeAddress()
	shown := &ShownAddress{
		Outcome: OutcomeAborted,
		Wallet:  spec,
		Address: rendered,
		Path:    path,
	}

	ok, err := m.cfg.Prompter.ConfirmAddress(ctx, &AddressRequest{
		Wallet:       spec.Name,
		M:            spec.M,
		N:            spec.N,
		Format:       spec.AddressFormat,
		Address:      addr,
		Path:         path,
		Fingerprints: spec.Fingerprints(),
	})
	if err != nil {
		return nil, fmt.Errorf("address confirmation: %w", err)
	}
	if !ok {
		log.DebugS(ctx, "Address not confirmed", "address", addr)
		return shown, nil
	}

	err = m.cfg.Registry.MarkVerified(addr, spec.Name, path)
	if err != nil {
		return nil, err
	}
	shown.Outcome = OutcomeCommitted

	log.InfoS(ctx, "Address verified", "wallet", spec.Name,
		"address", addr, "path", path)

	return shown, nil
}

// describePaths renders the per cosigner paths in fingerprint order.
func describePaths(
	paths map[walletspec.Fingerprint]keychain.DerivationPath) string {

	fps := make([]walletspec.Fingerprint, 0, len(paths))
	for fp := range paths {
		fps = append(fps, fp)
	}
	sort.Slice(fps, func(i, j int) bool { return fps[i] < fps[j] })

	parts := make([]string, 0, len(fps))
	for _, fp := range fps {
		parts = append(parts, fmt.Sprintf("%v: %v", fp, paths[fp]))
	}

	return strings.Join(parts, ", ")
}

// Delete removes a wallet once the user approved it.
func (m *Manager) Delete(ctx context.Context, name string) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.cfg.Registry.BeginDelete(name)
	if err != nil {
		return OutcomeAborted, err
	}

	spec := pending.Spec()
	ok, err := m.cfg.Prompter.ConfirmDelete(ctx, &DeleteRequest{
		Name:   spec.Name,
		M:      spec.M,
		N:      spec.N,
		Format: spec.AddressFormat,
	})
	if err != nil || !ok {
		cancelErr := m.cfg.Registry.CancelDelete(pending)
		if cancelErr != nil {
			log.Errorf("Unable to cancel deletion of %q: %v", name,
				cancelErr)
		}
		if err != nil {
			return OutcomeAborted, fmt.Errorf("delete "+
				"confirmation: %w", err)
		}

		return OutcomeAborted, nil
	}

	if err := m.cfg.Registry.ConfirmDelete(pending); err != nil {
		return OutcomeAborted, err
	}

	log.InfoS(ctx, "Wallet deleted", "name", name)

	return OutcomeCommitted, nil
}

// List returns all registered wallets.
func (m *Manager) List() ([]*registry.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cfg.Registry.Enumerate()
}

// Lookup returns the registered wallet with the given name.
func (m *Manager) Lookup(name string) (*walletspec.WalletSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cfg.Registry.Lookup(name)
}

// Export writes a registered wallet to the given directory in the wallet
// definition format and returns the path of the file.
func (m *Manager) Export(name, dir string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	spec, err := m.cfg.Registry.Lookup(name)
	if err != nil {
		return "", err
	}

	fileName := filepath.Join(dir, ExportFilename(spec.Name))
	err = writeFileAtomic(fileName, walletspec.SerializeBytes(spec))
	if err != nil {
		return "", err
	}

	log.Infof("Exported wallet %q to %v", spec.Name, fileName)

	return fileName, nil
}

// ExportBIP45 writes the device's m/45' account key to the given directory.
// The file can be read by a coordinator, or by another device as a single
// cosigner line.
func (m *Manager) ExportBIP45(dir string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ck, err := m.cfg.Deriver.OwnKey().BIP45Cosigner()
	if err != nil {
		return "", err
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "# BIP45 multisig account of %v\n#\n", ck.Fingerprint)
	fmt.Fprintf(&b, "# derivation: %v\n", keychain.BIP45Path())
	fmt.Fprintf(&b, "%v: %s\n", ck.Fingerprint, ck.XPub)

	fileName := filepath.Join(dir, fmt.Sprintf("bip45-%v.txt",
		ck.Fingerprint))
	if err := writeFileAtomic(fileName, b.Bytes()); err != nil {
		return "", err
	}

	log.Infof("Exported BIP45 account of %v to %v", ck.Fingerprint,
		fileName)

	return fileName, nil
}

// ImportFilePath is a convenience wrapper around ImportFile for files on
// disk.
func (m *Manager) ImportFilePath(ctx context.Context,
	fileName string) (*EnrollResult, error) {

	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return m.ImportFile(ctx, fileName, f)
}
