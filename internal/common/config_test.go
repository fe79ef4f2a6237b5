package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig_IsValid(t *testing.T) {
	config := NewDefaultConfig()

	require.NoError(t, config.Validate())
	assert.Equal(t, "https://online.emea.adp.com", config.Portal.AuthBaseURL)
	assert.Equal(t, "https://ihcm.adp.com", config.Portal.AppBaseURL)
	assert.Equal(t, "auto", config.Auth.Mode)
	assert.Equal(t, 100, config.Sync.PageSize)
	assert.True(t, config.IsProduction())
}

func TestLoadFromFiles_LaterFileWins(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
[sync]
cache_dir = "/data/payslips"
page_size = 50

[auth]
mode = "protocol"
`), 0644))
	require.NoError(t, os.WriteFile(override, []byte(`
[sync]
page_size = 25
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, "/data/payslips", config.Sync.CacheDir)
	assert.Equal(t, 25, config.Sync.PageSize)
	assert.Equal(t, "protocol", config.Auth.Mode)
	// Untouched values keep their defaults
	assert.Equal(t, "200ms", config.Sync.RecordDelay)
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hrsync.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"warn\"\n"), 0644))

	t.Setenv("HRSYNC_LOG_LEVEL", "debug")
	t.Setenv("HRSYNC_CREDENTIAL_SOURCES", "env, ssm")
	t.Setenv("HRSYNC_PAGE_SIZE", "not-a-number")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, []string{"env", "ssm"}, config.Credentials.Sources)
	assert.Equal(t, 100, config.Sync.PageSize, "malformed env values are ignored")
}

func TestLoadFromFiles_Errors(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[sync\n"), 0644))
	_, err = LoadFromFiles(bad)
	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown auth mode", func(c *Config) { c.Auth.Mode = "magic" }},
		{"page size zero", func(c *Config) { c.Sync.PageSize = 0 }},
		{"app url not a url", func(c *Config) { c.Portal.AppBaseURL = "ihcm" }},
		{"empty cache dir", func(c *Config) { c.Sync.CacheDir = "" }},
		{"every minute schedule", func(c *Config) { c.Schedule.Cron = "* * * * *" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, true, true)

	assert.False(t, config.Browser.Headless)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, Duration("200ms", time.Second))
	assert.Equal(t, time.Second, Duration("", time.Second))
	assert.Equal(t, time.Second, Duration("soon", time.Second))
	assert.Equal(t, time.Second, Duration("-5s", time.Second))
}

func TestValidate_ProductionRequiresHTTPS(t *testing.T) {
	config := NewDefaultConfig()
	config.Portal.AppBaseURL = "http://127.0.0.1:8080"
	assert.ErrorContains(t, config.Validate(), "portal.app_base_url must use https")

	config.Environment = "development"
	assert.False(t, config.IsProduction())
	assert.NoError(t, config.Validate())
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("0 6 * * 1"))
	assert.NoError(t, ValidateSchedule("*/15 * * * *"))
	assert.Error(t, ValidateSchedule("*/2 * * * *"))
	assert.Error(t, ValidateSchedule("not a cron"))
}
