package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticedb/crrdb/pkg/config"
	"github.com/latticedb/crrdb/pkg/crr"
)

func TestLoadFromEnvAppliesDefaults(t *testing.T) {
	cfg := config.LoadFromEnv()
	require.Equal(t, "./data", cfg.Database.DataDir)
	require.Equal(t, 100, cfg.Sync.RetentionDepth)
	require.Equal(t, crr.LexicographicMin, cfg.Sync.DefaultPolicy)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvReadsOverrides(t *testing.T) {
	t.Setenv("CRRDB_DATA_DIR", "/tmp/peer1")
	t.Setenv("CRRDB_RETENTION_DEPTH", "50")
	t.Setenv("CRRDB_DEFAULT_POLICY", "prefer_incoming")

	cfg := config.LoadFromEnv()
	require.Equal(t, "/tmp/peer1", cfg.Database.DataDir)
	require.Equal(t, 50, cfg.Sync.RetentionDepth)
	require.Equal(t, crr.PreferIncoming, cfg.Sync.DefaultPolicy)
}

func TestValidateRejectsNegativeRetentionDepth(t *testing.T) {
	cfg := config.LoadFromEnv()
	cfg.Sync.RetentionDepth = -1
	require.Error(t, cfg.Validate())
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crr.yaml")
	contents := "data_dir: /var/lib/crrdb\nretention_depth: 200\ndefault_policy: prefer_existing\nsync_timeout: 10s\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := config.LoadFromYAML(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/crrdb", cfg.Database.DataDir)
	require.Equal(t, 200, cfg.Sync.RetentionDepth)
	require.Equal(t, crr.PreferExisting, cfg.Sync.DefaultPolicy)
}

func TestLoadFromYAMLRejectsMissingFile(t *testing.T) {
	_, err := config.LoadFromYAML("/nonexistent/crr.yaml")
	require.Error(t, err)
}
