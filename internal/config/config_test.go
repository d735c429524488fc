package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillsync/tillsync/internal/config"
)

// chdir changes into dir for the duration of the test. It stands in for
// t.Chdir, which requires Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "an explicit path must exist")

	// With no explicit path, defaults apply.
	chdir(t, t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 3, cfg.API.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 2*time.Second, cfg.Sync.BackoffBase)
	assert.Equal(t, 5*time.Minute, cfg.Sync.BackoffMax)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Empty(t, cfg.Device.ID)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tillsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: https://pos.example.com
  token: secret
sync:
  interval: 15s
log:
  format: json
device:
  id: till-3
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://pos.example.com", cfg.API.BaseURL)
	assert.Equal(t, "secret", cfg.API.Token)
	assert.Equal(t, 15*time.Second, cfg.Sync.Interval)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "till-3", cfg.Device.ID)

	// Untouched keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TILLSYNC_API_BASE_URL", "https://env.example.com")
	t.Setenv("TILLSYNC_SYNC_INTERVAL", "45s")
	chdir(t, t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.API.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Sync.Interval)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tillsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: ""
log:
  format: xml
`), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			API:     config.APIConfig{BaseURL: "http://localhost:8080", Timeout: time.Second},
			Storage: config.StorageConfig{DataDir: ".tillsync", DBFile: "tillsync.db"},
			Sync: config.SyncConfig{
				Interval: time.Minute, BackoffBase: time.Second, BackoffMax: time.Minute,
			},
		}
	}

	require.NoError(t, valid().Validate())

	t.Run("inverted backoff", func(t *testing.T) {
		cfg := valid()
		cfg.Sync.BackoffMax = cfg.Sync.BackoffBase / 2
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad log format", func(t *testing.T) {
		cfg := valid()
		cfg.Log.Format = "xml"
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative retries", func(t *testing.T) {
		cfg := valid()
		cfg.API.MaxRetries = -1
		assert.Error(t, cfg.Validate())
	})
}

func TestDBPath(t *testing.T) {
	s := config.StorageConfig{DataDir: "/var/lib/tillsync", DBFile: "tillsync.db"}
	assert.Equal(t, filepath.Join("/var/lib/tillsync", "tillsync.db"), s.DBPath())
}
