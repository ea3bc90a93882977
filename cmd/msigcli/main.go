package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/lightningnetwork/msig"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[msigcli] %v\n", err)
	os.Exit(1)
}

func main() {
	defaults := msig.DefaultConfig()

	app := cli.NewApp()
	app.Name = "msigcli"
	app.Usage = "register multisig wallets and verify their addresses"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "configfile",
			Value:     defaults.ConfigFile,
			Usage:     "The path to the INI configuration file.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:      "msigdir",
			Value:     defaults.MsigDir,
			Usage:     "The base directory of the device.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:      "datadir",
			Usage:     "The directory the registry and key live in.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name: "network, n",
			Usage: "The network keys and addresses are for, " +
				"e.g. mainnet, testnet, regtest.",
		},
		cli.StringFlag{
			Name:      "masterkeyfile",
			Usage:     "The path to the device's master key.",
			TakesFile: true,
		},
		cli.Uint64Flag{
			Name:  "capacity",
			Usage: "The registry capacity in bytes.",
		},
		cli.StringFlag{
			Name: "debuglevel",
			Usage: "The log level for all subsystems, or " +
				"<global-level>,<subsystem>=<level>,...",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "Also write log output to the console.",
		},
		cli.BoolFlag{
			Name:  "yes, y",
			Usage: "Confirm every prompt without asking.",
		},
	}
	app.Commands = []cli.Command{
		genKeyCommand,
		importCommand,
		listCommand,
		showCommand,
		addressCommand,
		verifyAddressCommand,
		exportCommand,
		bip45ExportCommand,
		deleteCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

// getContext returns a context that is cancelled on interrupt.
func getContext() (context.Context, func()) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// loadConfig builds the configuration from the defaults, the config file and
// the global flags, in increasing order of precedence.
func loadConfig(ctx *cli.Context) (*msig.Config, error) {
	cfg := msig.DefaultConfig()
	cfg.MsigDir = ctx.GlobalString("msigdir")
	cfg.ConfigFile = msig.ConfigFilePath(
		cfg.MsigDir, ctx.GlobalString("configfile"),
	)

	if err := msig.LoadConfigFile(&cfg, cfg.ConfigFile); err != nil {
		return nil, err
	}

	if ctx.GlobalIsSet("datadir") {
		cfg.DataDir = ctx.GlobalString("datadir")
	}
	if ctx.GlobalIsSet("network") {
		cfg.Network = ctx.GlobalString("network")
	}
	if ctx.GlobalIsSet("masterkeyfile") {
		cfg.MasterKeyFile = ctx.GlobalString("masterkeyfile")
	}
	if ctx.GlobalIsSet("capacity") {
		cfg.Capacity = ctx.GlobalUint64("capacity")
	}
	if ctx.GlobalIsSet("debuglevel") {
		cfg.DebugLevel = ctx.GlobalString("debuglevel")
	}

	// The console belongs to the prompts unless asked otherwise.
	cfg.LogConfig.Console.Disable = !ctx.GlobalBool("verbose")

	return msig.ValidateConfig(cfg)
}

// getEngine loads the configuration, sets up logging and opens the engine.
// The returned cleanup function must be called once done.
func getEngine(ctx *cli.Context) (*msig.Engine, *msig.Config, func(),
	error) {

	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	logWriter, err := msig.InitLogging(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	engine, err := msig.Open(cfg, newTerminalPrompter(
		ctx.GlobalBool("yes"),
	))
	if err != nil {
		_ = logWriter.Close()
		return nil, nil, nil, err
	}

	cleanUp := func() {
		if err := engine.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "unable to close registry: %v\n",
				err)
		}
		_ = logWriter.Close()
	}

	return engine, cfg, cleanUp, nil
}

func printJSON(resp interface{}) {
	b, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		fatal(err)
	}

	fmt.Printf("%s\n", b)
}
