package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Storage.Driver)
	assert.Equal(t, 3*time.Second, cfg.Lock.WaitTimeout)
	assert.Equal(t, 10*time.Second, cfg.Lock.LeaseTimeout)
	assert.Equal(t, "@every 1m", cfg.Scheduler.SettleSpec)
	assert.Equal(t, "auction_changes", cfg.Notifier.Channel)
	assert.EqualValues(t, 1, cfg.Bid.MinIncrement)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("LOCK_WAIT_TIMEOUT", "500ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.Lock.WaitTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
server:
  port: 8181
lock:
  wait_timeout: 1s
  lease_timeout: 5s
scheduler:
  settle_spec: "@every 30s"
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Lock.WaitTimeout)
	assert.Equal(t, 5*time.Second, cfg.Lock.LeaseTimeout)
	assert.Equal(t, "@every 30s", cfg.Scheduler.SettleSpec)
	assert.Equal(t, "@every 1m", cfg.Scheduler.OpenSpec)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Storage: StorageConfig{Driver: "memory"},
			Lock:    LockConfig{WaitTimeout: time.Second, LeaseTimeout: 5 * time.Second, RetryInterval: time.Millisecond},
			Bid:     BidConfig{MinIncrement: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"short lease", func(c *Config) { c.Lock.LeaseTimeout = 100 * time.Millisecond }, true},
		{"negative wait", func(c *Config) { c.Lock.WaitTimeout = -time.Second }, true},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }, true},
		{"zero increment", func(c *Config) { c.Bid.MinIncrement = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
