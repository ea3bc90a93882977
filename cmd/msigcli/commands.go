package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/msig"
	"github.com/lightningnetwork/msig/keychain"
	"github.com/lightningnetwork/msig/multisig"
	"github.com/lightningnetwork/msig/walletspec"
	"github.com/urfave/cli"
)

type walletResp struct {
	Name      string `json:"name"`
	Policy    string `json:"policy"`
	Format    string `json:"format"`
	Cosigners int    `json:"cosigners"`
	Footprint uint64 `json:"footprint,omitempty"`
}

type listResp struct {
	Wallets  []walletResp `json:"wallets"`
	Used     uint64       `json:"used_bytes"`
	Capacity uint64       `json:"capacity_bytes"`
}

type outcomeResp struct {
	Outcome string      `json:"outcome"`
	Wallet  *walletResp `json:"wallet,omitempty"`
}

type addressResp struct {
	Outcome      string `json:"outcome"`
	Wallet       string `json:"wallet"`
	Address      string `json:"address"`
	RedeemScript string `json:"redeem_script"`
	PkScript     string `json:"pk_script"`
	Path         string `json:"path"`
}

type fileResp struct {
	File string `json:"file"`
}

func newWalletResp(spec *walletspec.WalletSpec) *walletResp {
	return &walletResp{
		Name:      spec.Name,
		Policy:    spec.Policy(),
		Format:    spec.AddressFormat.String(),
		Cosigners: len(spec.Cosigners),
	}
}

func newAddressResp(shown *multisig.ShownAddress) *addressResp {
	return &addressResp{
		Outcome: shown.Outcome.String(),
		Wallet:  shown.Wallet.Name,
		Address: shown.Address.Address.EncodeAddress(),
		RedeemScript: hex.EncodeToString(
			shown.Address.RedeemScript,
		),
		PkScript: hex.EncodeToString(shown.Address.PkScript),
		Path:     shown.Path,
	}
}

var genKeyCommand = cli.Command{
	Name:     "genkey",
	Category: "Device",
	Usage:    "Create a new master key for the device.",
	Description: `
	Generates a random master key and stores it in the data directory, or
	at --masterkeyfile. An existing key is never overwritten. The key is
	meant for testing, a real device keeps its seed in secure storage.`,
	Action: genKey,
}

func genKey(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	ownKey, err := msig.GenerateMasterKey(cfg)
	if err != nil {
		return err
	}

	ck, err := ownKey.BIP45Cosigner()
	if err != nil {
		return err
	}

	printJSON(struct {
		Fingerprint string `json:"fingerprint"`
		File        string `json:"file"`
		BIP45XPub   string `json:"bip45_xpub"`
	}{
		Fingerprint: ck.Fingerprint.String(),
		File:        cfg.MasterKeyPath(),
		BIP45XPub:   ck.XPub,
	})

	return nil
}

var importCommand = cli.Command{
	Name:      "import",
	Category:  "Wallets",
	Usage:     "Register a multisig wallet from a definition file.",
	ArgsUsage: "file",
	Description: `
	Reads a wallet definition, checks it and asks for confirmation before
	storing it. If the file has no name header the wallet is named after
	the file.

	With --sha256 the file is treated as an upload from a host: its
	length and hash are checked before anything else.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "sha256",
			Usage: "The hex encoded SHA256 the file must have.",
		},
	},
	Action: importWallet,
}

func importWallet(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "import")
	}
	fileName := ctx.Args().First()

	engine, _, cleanUp, err := getEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	ctxc, cancel := getContext()
	defer cancel()

	var res *multisig.EnrollResult
	switch {
	case ctx.IsSet("sha256"):
		upload, err := readUpload(fileName, ctx.String("sha256"))
		if err != nil {
			return err
		}
		res, err = engine.Manager().EnrollUpload(ctxc, upload)
		if err != nil {
			return err
		}

	default:
		res, err = engine.Manager().ImportFilePath(ctxc, fileName)
		if err != nil {
			return err
		}
	}

	printJSON(&outcomeResp{
		Outcome: res.Outcome.String(),
		Wallet:  newWalletResp(res.Spec),
	})

	return nil
}

// readUpload reads a file as an upload with the given declared hash.
func readUpload(fileName, hashHex string) (*multisig.Upload, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}

	hash, err := hex.DecodeString(hashHex)
	if err != nil || len(hash) != 32 {
		return nil, fmt.Errorf("invalid sha256 %q", hashHex)
	}

	upload := multisig.NewUpload(data)
	copy(upload.Hash[:], hash)

	return upload, nil
}

var listCommand = cli.Command{
	Name:     "list",
	Category: "Wallets",
	Usage:    "List the registered wallets.",
	Action:   listWallets,
}

func listWallets(ctx *cli.Context) error {
	engine, _, cleanUp, err := getEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	entries, err := engine.Manager().List()
	if err != nil {
		return err
	}

	resp := &listResp{Wallets: make([]walletResp, 0, len(entries))}
	for _, entry := range entries {
		wallet := newWalletResp(entry.Spec)
		wallet.Footprint = entry.Footprint
		resp.Wallets = append(resp.Wallets, *wallet)
	}
	resp.Used, resp.Capacity = engine.Registry().Usage()

	printJSON(resp)

	return nil
}

var showCommand = cli.Command{
	Name:      "show",
	Category:  "Wallets",
	Usage:     "Print the definition of a registered wallet.",
	ArgsUsage: "name",
	Action:    showWallet,
}

func showWallet(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "show")
	}

	engine, _, cleanUp, err := getEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	spec, err := engine.Manager().Lookup(ctx.Args().First())
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(walletspec.SerializeBytes(spec))

	return err
}

var addressCommand = cli.Command{
	Name:      "address",
	Category:  "Addresses",
	Usage:     "Show a wallet's address at a path below its accounts.",
	ArgsUsage: "name subpath",
	Description: `
	Derives the address of the named wallet at the given path below
	every cosigner's account key, e.g. "0/12" for the 13th receive
	address. Hardened steps are not allowed.`,
	Action: showWalletAddress,
}

func showWalletAddress(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "address")
	}

	subPath, err := keychain.ParseDerivationPath(ctx.Args().Get(1))
	if err != nil {
		return err
	}

	engine, _, cleanUp, err := getEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	ctxc, cancel := getContext()
	defer cancel()

	shown, err := engine.Manager().ShowWalletAddress(
		ctxc, ctx.Args().First(), subPath,
	)
	if err != nil {
		return err
	}

	printJSON(newAddressResp(shown))

	return nil
}

var verifyAddressCommand = cli.Command{
	Name:     "verify-address",
	Category: "Addresses",
	Usage:    "Show an address requested by a host.",
	Description: `
	Finds the registered wallet with the given threshold and cosigners,
	derives the address from the given master rooted paths and asks
	for confirmation. Confirmed addresses are remembered as verified.

	Every cosigner needs a --path of the form FINGERPRINT:m/45'/0/3.`,
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "m",
			Usage: "The number of required signatures.",
		},
		cli.StringSliceFlag{
			Name:  "path",
			Usage: "A cosigner path, FINGERPRINT:PATH.",
		},
		cli.StringFlag{
			Name:  "format",
			Usage: "The address format: p2sh, p2wsh or p2wsh-p2sh.",
			Value: walletspec.AddrFormatP2SH.String(),
		},
		cli.StringFlag{
			Name:  "script",
			Usage: "The hex encoded redeem script the host built.",
		},
	},
	Action: verifyAddress,
}

func verifyAddress(ctx *cli.Context) error {
	if !ctx.IsSet("m") || len(ctx.StringSlice("path")) == 0 {
		return cli.ShowCommandHelp(ctx, "verify-address")
	}

	paths := make(map[walletspec.Fingerprint]keychain.DerivationPath)
	query := &multisig.AddressQuery{
		M:              ctx.Int("m"),
		Paths:          paths,
		Format:         walletspec.ParseAddressFormat(ctx.String("format")),
		ExpectedScript: fn.None[[]byte](),
	}
	for _, arg := range ctx.StringSlice("path") {
		fp, path, err := parseCosignerPath(arg)
		if err != nil {
			return err
		}
		if _, ok := query.Paths[fp]; ok {
			return fmt.Errorf("duplicate path for %v", fp)
		}
		query.Paths[fp] = path
	}

	if ctx.IsSet("script") {
		script, err := hex.DecodeString(ctx.String("script"))
		if err != nil {
			return fmt.Errorf("invalid script: %w", err)
		}
		query.ExpectedScript = fn.Some(script)
	}

	engine, _, cleanUp, err := getEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	ctxc, cancel := getContext()
	defer cancel()

	shown, err := engine.Manager().ShowAddress(ctxc, query)
	if err != nil {
		return err
	}

	printJSON(newAddressResp(shown))

	return nil
}

// parseCosignerPath decodes a FINGERPRINT:PATH argument.
func parseCosignerPath(arg string) (walletspec.Fingerprint,
	keychain.DerivationPath, error) {

	fpStr, pathStr, found := strings.Cut(arg, ":")
	if !found {
		return 0, nil, fmt.Errorf("path %q must be of the form "+
			"FINGERPRINT:PATH", arg)
	}

	fp, err := walletspec.ParseFingerprint(strings.TrimSpace(fpStr))
	if err != nil {
		return 0, nil, err
	}

	path, err := keychain.ParseDerivationPath(pathStr)
	if err != nil {
		return 0, nil, err
	}

	return fp, path, nil
}

var dirFlag = cli.StringFlag{
	Name:      "dir",
	Usage:     "The directory to write to, defaults to the export dir.",
	TakesFile: true,
}

// exportDir returns the directory named by --dir or the configured export
// directory, making sure it exists.
func exportDir(ctx *cli.Context, cfg *msig.Config) (string, error) {
	dir := cfg.ExportDir
	if ctx.IsSet("dir") {
		dir = msig.CleanAndExpandPath(ctx.String("dir"))
	}

	return dir, os.MkdirAll(dir, 0700)
}

var exportCommand = cli.Command{
	Name:      "export",
	Category:  "Wallets",
	Usage:     "Write a registered wallet to a definition file.",
	ArgsUsage: "name",
	Flags:     []cli.Flag{dirFlag},
	Action:    exportWallet,
}

func exportWallet(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "export")
	}

	engine, cfg, cleanUp, err := getEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	dir, err := exportDir(ctx, cfg)
	if err != nil {
		return err
	}

	fileName, err := engine.Manager().Export(ctx.Args().First(), dir)
	if err != nil {
		return err
	}

	printJSON(&fileResp{File: fileName})

	return nil
}

var bip45ExportCommand = cli.Command{
	Name:     "bip45-export",
	Category: "Device",
	Usage:    "Write the device's m/45' account key to a file.",
	Flags:    []cli.Flag{dirFlag},
	Action:   exportBIP45,
}

func exportBIP45(ctx *cli.Context) error {
	engine, cfg, cleanUp, err := getEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	dir, err := exportDir(ctx, cfg)
	if err != nil {
		return err
	}

	fileName, err := engine.Manager().ExportBIP45(dir)
	if err != nil {
		return err
	}

	printJSON(&fileResp{File: fileName})

	return nil
}

var deleteCommand = cli.Command{
	Name:      "delete",
	Category:  "Wallets",
	Usage:     "Remove a registered wallet.",
	ArgsUsage: "name",
	Action:    deleteWallet,
}

func deleteWallet(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "delete")
	}

	engine, _, cleanUp, err := getEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	ctxc, cancel := getContext()
	defer cancel()

	outcome, err := engine.Manager().Delete(ctxc, ctx.Args().First())
	if err != nil {
		return err
	}

	printJSON(&outcomeResp{Outcome: outcome.String()})

	return nil
}
