package msig

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/msig/build"
	"github.com/lightningnetwork/msig/keychain"
	"github.com/lightningnetwork/msig/multisig"
	"github.com/lightningnetwork/msig/registry"
	"github.com/lightningnetwork/msig/walletspec"
)

// Subsystem defines the logging code for the engine itself.
const Subsystem = "MSGD"

// log is the engine's logger. It stays disabled until SetupLoggers is called.
var log = build.NewSubLogger(Subsystem, nil)

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager) {
	root.GenSubLogger(Subsystem, func(l btclog.Logger) {
		log = l
	})

	AddSubLogger(root, walletspec.Subsystem, walletspec.UseLogger)
	AddSubLogger(root, keychain.Subsystem, keychain.UseLogger)
	AddSubLogger(root, registry.Subsystem, registry.UseLogger)
	AddSubLogger(root, multisig.Subsystem, multisig.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	useLoggers ...func(btclog.Logger)) {

	logger := root.GenSubLogger(subsystem, nil)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// InitLogging sets up the console and rotating file loggers described by the
// config and applies its debug level. The returned writer must be closed on
// shutdown.
func InitLogging(cfg *Config) (*build.RotatingLogWriter, error) {
	rotator := build.NewRotatingLogWriter()
	if !cfg.LogConfig.File.Disable {
		err := rotator.InitLogRotator(
			cfg.LogConfig.File, cfg.LogFilePath(),
		)
		if err != nil {
			return nil, err
		}
	}

	root := build.NewSubLoggerManager(cfg.LogConfig, rotator)
	SetupLoggers(root)

	err := build.ParseAndSetDebugLevels(cfg.DebugLevel, root)
	if err != nil {
		_ = rotator.Close()
		return nil, err
	}

	return rotator, nil
}
