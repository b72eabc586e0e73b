package boxclient

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingExplicitPathIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")
	cfg, err := LoadConfig(path)
	require.Error(t, err) // an explicit path that doesn't exist is fatal
	assert.Nil(t, cfg)
}

func TestLoadConfigFromExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	yaml := `
key-material: /etc/boxbackup/key-material
account-id: 42
server-address: backup.example.com:2201
min-match-ratio: 0.25
roots:
  - local-path: /home/user/docs
    remote-dir-id: 7
    exclude:
      - "*.tmp"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/etc/boxbackup/key-material", cfg.KeyMaterialPath)
	assert.Equal(t, uint64(42), cfg.AccountID)
	assert.Equal(t, "backup.example.com:2201", cfg.ServerAddress)
	assert.Equal(t, 0.25, cfg.MinMatchRatio)
	require.Len(t, cfg.Roots, 1)
	assert.Equal(t, "/home/user/docs", cfg.Roots[0].LocalPath)
	assert.Equal(t, uint64(7), cfg.Roots[0].RemoteDirID)
	assert.Equal(t, []string{"*.tmp"}, cfg.Roots[0].Exclude)

	// Defaults still apply to fields the file didn't set.
	assert.Equal(t, 30*time.Second, cfg.DiffBudget)
	assert.Equal(t, time.Hour, cfg.IndexCacheTTL)
}

func TestLoadConfigNoFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 30*time.Second, cfg.DiffBudget)
	assert.Equal(t, 0.1, cfg.MinMatchRatio)
	assert.Equal(t, time.Hour, cfg.IndexCacheTTL)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.LockTimeout)
	assert.NotEmpty(t, cfg.IndexCachePath)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	// viper's automatic env lookup doesn't apply a "-"->"_" key
	// replacer unless one is configured, so the env var name keeps
	// the config key's dash literally.
	t.Setenv("BOX_SERVER-ADDRESS", "override.example.com:2201")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "override.example.com:2201", cfg.ServerAddress)
}
