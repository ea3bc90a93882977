package build

import (
	"testing"

	"github.com/btcsuite/btclog/v2"
	"github.com/stretchr/testify/require"
)

// TestParseAndSetDebugLevels checks the global and per-subsystem level
// syntax accepted on the command line.
func TestParseAndSetDebugLevels(t *testing.T) {
	t.Parallel()

	mgr := NewSubLoggerManager(&LogConfig{
		Console: &LoggerConfig{Disable: true},
		File:    &FileLoggerConfig{LoggerConfig: LoggerConfig{Disable: true}},
	}, nil)
	regy := mgr.GenSubLogger("REGY", nil)
	msig := mgr.GenSubLogger("MSIG", nil)

	require.Equal(t, []string{"MSIG", "REGY"}, mgr.SupportedSubsystems())

	require.NoError(t, ParseAndSetDebugLevels("warn,REGY=trace", mgr))
	require.Equal(t, btclog.LevelTrace, regy.Level())
	require.Equal(t, btclog.LevelWarn, msig.Level())

	require.NoError(t, ParseAndSetDebugLevels("MSIG=debug", mgr))
	require.Equal(t, btclog.LevelDebug, msig.Level())

	require.Error(t, ParseAndSetDebugLevels("loud", mgr))
	require.Error(t, ParseAndSetDebugLevels("info,NOPE=info", mgr))
	require.Error(t, ParseAndSetDebugLevels("info,REGY=loud", mgr))
	require.Error(t, ParseAndSetDebugLevels("info,REGY", mgr))
}

// TestLogConfigValidate makes sure unknown compressors are refused.
func TestLogConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultLogConfig()
	require.NoError(t, cfg.Validate())

	cfg.File.Compressor = Zstd
	require.NoError(t, cfg.Validate())

	cfg.File.Compressor = "lz4"
	require.Error(t, cfg.Validate())
}
