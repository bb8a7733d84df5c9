package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesTemplatesWithDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.FileExists(t, filepath.Join(dir, "credentials.toml"))

	assert.Equal(t, "live", cfg.Trading.Mode)
	assert.Equal(t, EnvProd, cfg.Credentials.Environment)
	assert.Equal(t, 10, cfg.Feed.MaxRetries)
	assert.Equal(t, 1000, cfg.Feed.BaseDelayMS)
	assert.Equal(t, 30000, cfg.Feed.MaxDelayMS)
	assert.Equal(t, 2.0, cfg.Feed.BackoffGrowth)
	assert.False(t, cfg.IsPaperMode())
}

func TestLoadReadsCredentialsFile(t *testing.T) {
	dir := t.TempDir()
	creds := `consumer_key = "ck-test"
environment = "stg"
mobile = "+919876543210"
ucc = "ABC123"
mpin = "123456"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.toml"), []byte(creds), 0600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "ck-test", cfg.Credentials.ConsumerKey)
	assert.Equal(t, EnvStaging, cfg.Credentials.Environment)
	assert.Equal(t, "+919876543210", cfg.Credentials.Mobile)
	assert.Equal(t, "ABC123", cfg.Credentials.UCC)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NEO_CONSUMER_KEY", "ck-from-env")
	t.Setenv("NEO_ENVIRONMENT", "dev")
	t.Setenv("TRADING_MODE", "paper")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "ck-from-env", cfg.Credentials.ConsumerKey)
	assert.Equal(t, EnvDev, cfg.Credentials.Environment)
	assert.True(t, cfg.IsPaperMode())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{}
	cfg.Trading.Mode = "yolo"
	assert.Error(t, cfg.Validate())

	cfg = &Config{}
	cfg.Credentials.Environment = "qa"
	assert.Error(t, cfg.Validate())

	cfg = &Config{}
	cfg.Feed.BackoffGrowth = 0.5
	assert.Error(t, cfg.Validate())
}

func TestSaveCredentialsRoundTrip(t *testing.T) {
	dir := t.TempDir()

	in := Credentials{
		ConsumerKey: "ck-test",
		Environment: EnvProd,
		Mobile:      "+919876543210",
		UCC:         "ABC123",
		MPIN:        "123456",
	}
	require.NoError(t, SaveCredentials(dir, in))

	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, in, cfg.Credentials)
}
