package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/pulmoscan/pkg/intake"
	"github.com/menta2k/pulmoscan/pkg/predictsvc"
)

// isolate keeps the user's real config directory and working directory out
// of the search path
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, predictsvc.DefaultBaseURL, cfg.Service.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.Service.Timeout)
	assert.Equal(t, intake.DefaultMaxBytes, cfg.Intake.MaxUploadBytes)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PULMOSCAN_SERVICE_BASE_URL", "http://svc:9000/api")
	t.Setenv("PULMOSCAN_SERVICE_TIMEOUT", "15s")
	t.Setenv("PULMOSCAN_CACHE_ENABLED", "false")
	t.Setenv("PULMOSCAN_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://svc:9000/api", cfg.Service.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Service.Timeout)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "pulmoscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  base_url: https://predict.example.org/api
  timeout: 45s
  max_retries: 0
intake:
  max_upload_bytes: 1048576
logging:
  format: json
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://predict.example.org/api", cfg.Service.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Service.Timeout)
	assert.Equal(t, 0, cfg.Service.MaxRetries)
	assert.Equal(t, int64(1<<20), cfg.Intake.MaxUploadBytes)
	assert.Equal(t, "json", cfg.Logging.Format)
	// untouched keys keep their defaults
	assert.Equal(t, 512, cfg.Intake.PreviewMaxDim)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestEnvBeatsFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"service":{"timeout":"45s"}}`), 0o644))
	t.Setenv("PULMOSCAN_SERVICE_TIMEOUT", "5s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Service.Timeout)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad url", func(c *Config) { c.Service.BaseURL = "localhost:8000" }},
		{"zero timeout", func(c *Config) { c.Service.Timeout = 0 }},
		{"negative retries", func(c *Config) { c.Service.MaxRetries = -1 }},
		{"ratio above one", func(c *Config) { c.Service.BreakerFailureRatio = 1.5 }},
		{"zero upload limit", func(c *Config) { c.Intake.MaxUploadBytes = 0 }},
		{"preview format", func(c *Config) { c.Intake.PreviewFormat = "gif" }},
		{"preview quality", func(c *Config) { c.Intake.PreviewQuality = 0 }},
		{"cache size", func(c *Config) { c.Cache.Size = 0 }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Cache.Enabled = false
	cfg.Cache.Size = 0
	assert.NoError(t, cfg.Validate(), "size is irrelevant when the cache is off")
}

func TestSettingsConversion(t *testing.T) {
	cfg := Default()
	in := cfg.IntakeSettings()
	assert.Equal(t, intake.DefaultConfig(), in)

	assert.Equal(t, predictsvc.DefaultResilienceConfig(), cfg.ResilienceSettings())
}

func TestSaveToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	require.NoError(t, Default().SaveToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"base_url": "http://localhost:8000/api"`)
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	assert.Equal(t, "/home/tester/.config/pulmoscan/config.json", GetConfigPath())
}
