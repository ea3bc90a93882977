package msig

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/msig/build"
	"github.com/lightningnetwork/msig/keychain"
	"github.com/lightningnetwork/msig/registry"
)

const (
	// DefaultConfigFilename is the default configuration file name msig
	// tries to load.
	DefaultConfigFilename = "msig.conf"

	defaultDataDirname       = "data"
	defaultLogDirname        = "logs"
	defaultLogFilename       = "msig.log"
	defaultExportDirname     = "export"
	defaultMasterKeyFilename = "master.key"
	defaultLogLevel          = "info"
	defaultNetwork           = "testnet"
)

var (
	// DefaultMsigDir is the default directory where msig keeps all of
	// its data.
	DefaultMsigDir = btcutil.AppDataDir("msig", false)

	// DefaultConfigFile is the default full path of msig's configuration
	// file.
	DefaultConfigFile = filepath.Join(DefaultMsigDir, DefaultConfigFilename)

	defaultDataDir   = filepath.Join(DefaultMsigDir, defaultDataDirname)
	defaultLogDir    = filepath.Join(DefaultMsigDir, defaultLogDirname)
	defaultExportDir = filepath.Join(DefaultMsigDir, defaultExportDirname)
)

// Config defines the configuration options for msig.
//
// See DefaultConfig for the default values.
//
//nolint:lll
type Config struct {
	MsigDir    string `long:"msigdir" description:"The base directory that contains msig's data, logs, configuration file, etc."`
	ConfigFile string `long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"The directory to store msig's data within"`
	LogDir     string `long:"logdir" description:"Directory to log output."`
	ExportDir  string `long:"exportdir" description:"The directory wallet exports are written to, standing in for removable storage"`

	Network string `long:"network" description:"The bitcoin network keys and addresses are for" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"signet" choice:"simnet"`

	MasterKeyFile string `long:"masterkeyfile" description:"Path to the device's master key. Defaults to a per network file in the data directory"`

	Capacity  uint64 `long:"capacity" description:"The number of bytes of wallet records the registry holds"`
	CacheSize uint64 `long:"cachesize" description:"The number of derived keys to cache, 0 disables the cache"`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`

	// ActiveNetParams are the parameters of the selected network. They
	// are set by ValidateConfig.
	ActiveNetParams *chaincfg.Params
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		MsigDir:    DefaultMsigDir,
		ConfigFile: DefaultConfigFile,
		DataDir:    defaultDataDir,
		LogDir:     defaultLogDir,
		ExportDir:  defaultExportDir,
		Network:    defaultNetwork,
		Capacity:   registry.DefaultCapacity,
		CacheSize:  keychain.DefaultCacheSize,
		DebugLevel: defaultLogLevel,
		LogConfig:  build.DefaultLogConfig(),
	}
}

// LoadConfigFile reads the INI configuration file at the given path into
// cfg, overwriting the options it sets. A missing file is not an error.
func LoadConfigFile(cfg *Config, path string) error {
	err := flags.IniParse(CleanAndExpandPath(path), cfg)
	switch {
	case err == nil:
		return nil

	case errors.Is(err, os.ErrNotExist):
		log.Debugf("No config file found at %v", path)
		return nil

	default:
		return fmt.Errorf("unable to load config file %v: %w", path,
			err)
	}
}

// ConfigFilePath returns the config file to load for the given msig
// directory and config file options. If the msig directory was changed but
// the config file wasn't, the file is looked for in the new directory.
func ConfigFilePath(msigDir, configFile string) string {
	configFileDir := CleanAndExpandPath(msigDir)
	configFilePath := CleanAndExpandPath(configFile)
	if configFileDir != DefaultMsigDir &&
		configFilePath == DefaultConfigFile {

		configFilePath = filepath.Join(
			configFileDir, DefaultConfigFilename,
		)
	}

	return configFilePath
}

// ValidateConfig checks the given configuration to be sane. All file system
// paths are normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config) (*Config, error) {
	// If the provided msig directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it, unless they were set explicitly.
	msigDir := CleanAndExpandPath(cfg.MsigDir)
	if msigDir != DefaultMsigDir {
		if cfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(msigDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(msigDir, defaultLogDirname)
		}
		if cfg.ExportDir == defaultExportDir {
			cfg.ExportDir = filepath.Join(
				msigDir, defaultExportDirname,
			)
		}
	}

	cfg.MsigDir = msigDir
	cfg.DataDir = CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)
	cfg.ExportDir = CleanAndExpandPath(cfg.ExportDir)
	cfg.MasterKeyFile = CleanAndExpandPath(cfg.MasterKeyFile)

	params, err := NetParams(cfg.Network)
	if err != nil {
		return nil, err
	}
	cfg.ActiveNetParams = params

	if cfg.Capacity == 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}

	if cfg.LogConfig == nil {
		cfg.LogConfig = build.DefaultLogConfig()
	}
	if err := cfg.LogConfig.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// NetParams maps a network name to its chain parameters.
func NetParams(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(network) {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// networkDir is the directory below the data directory that holds the files
// of the active network.
func (c *Config) networkDir() string {
	return filepath.Join(c.DataDir, c.ActiveNetParams.Name)
}

// DBPath returns the path of the wallet registry database.
func (c *Config) DBPath() string {
	return filepath.Join(c.networkDir(), registry.DBFilename)
}

// MasterKeyPath returns the path of the device's master key file.
func (c *Config) MasterKeyPath() string {
	if c.MasterKeyFile != "" {
		return c.MasterKeyFile
	}

	return filepath.Join(c.networkDir(), defaultMasterKeyFilename)
}

// LogFilePath returns the path of the rotating log file.
func (c *Config) LogFilePath() string {
	return filepath.Join(
		c.LogDir, c.ActiveNetParams.Name, defaultLogFilename,
	)
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
