package msig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/msig/build"
	"github.com/lightningnetwork/msig/registry"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfig makes sure the defaults pass validation.
func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg, err := ValidateConfig(DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, &chaincfg.TestNet3Params, cfg.ActiveNetParams)
	require.EqualValues(t, registry.DefaultCapacity, cfg.Capacity)
	require.Equal(t,
		filepath.Join(
			DefaultMsigDir, defaultDataDirname, "testnet3",
			registry.DBFilename,
		),
		cfg.DBPath(),
	)
}

// TestValidateConfig covers the rejected option values and the rebasing of
// paths below a custom base directory.
func TestValidateConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Network = "litecoin"
	_, err := ValidateConfig(cfg)
	require.ErrorContains(t, err, "unknown network")

	cfg = DefaultConfig()
	cfg.Capacity = 0
	_, err = ValidateConfig(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.LogConfig.File.Compressor = "lz4"
	_, err = ValidateConfig(cfg)
	require.Error(t, err)

	dir := t.TempDir()
	explicitData := filepath.Join(t.TempDir(), "elsewhere")

	cfg = DefaultConfig()
	cfg.MsigDir = dir
	cfg.DataDir = explicitData
	cfg.Network = "regtest"

	cleaned, err := ValidateConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, explicitData, cleaned.DataDir)
	require.Equal(t, filepath.Join(dir, defaultLogDirname), cleaned.LogDir)
	require.Equal(t, filepath.Join(dir, defaultExportDirname),
		cleaned.ExportDir)
	require.Equal(t,
		filepath.Join(explicitData, "regtest", defaultMasterKeyFilename),
		cleaned.MasterKeyPath(),
	)
	require.Equal(t,
		filepath.Join(dir, defaultLogDirname, "regtest",
			defaultLogFilename),
		cleaned.LogFilePath(),
	)
}

// TestNetParams checks every supported network name.
func TestNetParams(t *testing.T) {
	t.Parallel()

	tests := map[string]*chaincfg.Params{
		"mainnet":  &chaincfg.MainNetParams,
		"testnet":  &chaincfg.TestNet3Params,
		"TestNet3": &chaincfg.TestNet3Params,
		"regtest":  &chaincfg.RegressionNetParams,
		"signet":   &chaincfg.SigNetParams,
		"simnet":   &chaincfg.SimNetParams,
	}
	for name, want := range tests {
		params, err := NetParams(name)
		require.NoError(t, err, name)
		require.Equal(t, want, params, name)
	}

	_, err := NetParams("")
	require.Error(t, err)
}

// TestLoadConfigFile checks options are read from the INI file and that a
// missing file is fine.
func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg := DefaultConfig()
	require.NoError(t, LoadConfigFile(&cfg, filepath.Join(dir, "none")))
	require.Equal(t, DefaultConfig().Network, cfg.Network)

	path := filepath.Join(dir, DefaultConfigFilename)
	require.NoError(t, os.WriteFile(path, []byte(`[Application Options]
network=signet
capacity=6400
debuglevel=debug,REGY=trace
logging.file.compressor=zstd
`), 0600))

	require.NoError(t, LoadConfigFile(&cfg, path))
	require.Equal(t, "signet", cfg.Network)
	require.EqualValues(t, 6400, cfg.Capacity)
	require.Equal(t, "debug,REGY=trace", cfg.DebugLevel)
	require.Equal(t, build.Zstd, cfg.LogConfig.File.Compressor)

	require.NoError(t, os.WriteFile(path, []byte(`[Application Options]
network=moonnet
`), 0600))
	require.Error(t, LoadConfigFile(&cfg, path))
}

// TestConfigFilePath checks the config file follows a changed msig directory
// unless it was set explicitly.
func TestConfigFilePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	custom := filepath.Join(dir, "custom.conf")

	require.Equal(t, DefaultConfigFile,
		ConfigFilePath(DefaultMsigDir, DefaultConfigFile))
	require.Equal(t, filepath.Join(dir, DefaultConfigFilename),
		ConfigFilePath(dir, DefaultConfigFile))
	require.Equal(t, custom, ConfigFilePath(dir, custom))
	require.Equal(t, custom, ConfigFilePath(DefaultMsigDir, custom))

	// The file in the changed directory is the one that gets loaded.
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, DefaultConfigFilename),
		[]byte("[Application Options]\nnetwork=regtest\n"), 0600,
	))

	cfg := DefaultConfig()
	cfg.MsigDir = dir
	require.NoError(t, LoadConfigFile(
		&cfg, ConfigFilePath(cfg.MsigDir, cfg.ConfigFile),
	))
	require.Equal(t, "regtest", cfg.Network)
}
