package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/authzkit/pkg/config"
)

type cacheConfig struct {
	TTL       time.Duration `env:"TEST_CACHE_TTL" envDefault:"5m"`
	MaxTenant int           `env:"TEST_CACHE_MAX_TENANTS" envDefault:"1000"`
	Enabled   bool          `env:"TEST_CACHE_ENABLED" envDefault:"true"`
}

type singletonConfig struct {
	Name string `env:"TEST_SINGLETON_NAME" envDefault:"default"`
}

type requiredConfig struct {
	DSN string `env:"TEST_REQUIRED_DSN,required"`
}

type fileConfig struct {
	Region string `env:"TEST_FILE_REGION"`
	Zone   string `env:"TEST_FILE_ZONE"`
}

func TestLoadDefaults(t *testing.T) {
	config.ResetCache()
	os.Unsetenv("TEST_CACHE_TTL")
	os.Unsetenv("TEST_CACHE_MAX_TENANTS")
	os.Unsetenv("TEST_CACHE_ENABLED")

	var cfg cacheConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, 5*time.Minute, cfg.TTL)
	assert.Equal(t, 1000, cfg.MaxTenant)
	assert.True(t, cfg.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	config.ResetCache()
	t.Setenv("TEST_CACHE_TTL", "30s")
	t.Setenv("TEST_CACHE_MAX_TENANTS", "10")
	t.Setenv("TEST_CACHE_ENABLED", "false")

	var cfg cacheConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, 30*time.Second, cfg.TTL)
	assert.Equal(t, 10, cfg.MaxTenant)
	assert.False(t, cfg.Enabled)
}

func TestLoadCachesPerType(t *testing.T) {
	config.ResetCache()
	t.Setenv("TEST_SINGLETON_NAME", "first")

	var first singletonConfig
	require.NoError(t, config.Load(&first))

	t.Setenv("TEST_SINGLETON_NAME", "second")
	var second singletonConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "first", second.Name)

	config.ResetCache()
	var third singletonConfig
	require.NoError(t, config.Load(&third))
	assert.Equal(t, "second", third.Name)
}

func TestLoadMissingRequired(t *testing.T) {
	config.ResetCache()
	os.Unsetenv("TEST_REQUIRED_DSN")

	var cfg requiredConfig
	assert.ErrorIs(t, config.Load(&cfg), config.ErrParsingConfig)

	t.Setenv("TEST_REQUIRED_DSN", "postgres://localhost/authz")
	require.NoError(t, config.Load(&cfg), "a failed parse is not cached")
	assert.Equal(t, "postgres://localhost/authz", cfg.DSN)
}

func TestLoadNilPointer(t *testing.T) {
	var cfg *cacheConfig
	assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
}

func TestLoadEnvFiles(t *testing.T) {
	config.ResetCache()
	os.Unsetenv("TEST_FILE_REGION")
	os.Unsetenv("TEST_FILE_ZONE")
	t.Cleanup(func() {
		os.Unsetenv("TEST_FILE_REGION")
		os.Unsetenv("TEST_FILE_ZONE")
	})

	dir := t.TempDir()
	base := filepath.Join(dir, ".env")
	local := filepath.Join(dir, ".env.local")
	require.NoError(t, os.WriteFile(base, []byte("TEST_FILE_REGION=eu\nTEST_FILE_ZONE=a\n"), 0o600))
	require.NoError(t, os.WriteFile(local, []byte("TEST_FILE_ZONE=b\n"), 0o600))

	require.NoError(t, config.LoadEnv(base, local))

	var cfg fileConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "eu", cfg.Region)
	assert.Equal(t, "b", cfg.Zone, "later files override earlier ones")
}

func TestLoadEnvMissingFile(t *testing.T) {
	err := config.LoadEnv(filepath.Join(t.TempDir(), "absent.env"))
	assert.ErrorIs(t, err, config.ErrLoadingEnvFile)
	assert.Panics(t, func() { config.MustLoadEnv(filepath.Join(t.TempDir(), "absent.env")) })
}
