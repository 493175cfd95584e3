package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adalundhe/ascent/core/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfig_IsValid verifies the defaults pass validation so the
// engine can boot with no configuration file at all.
func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "anthropic", cfg.Providers.DefaultProfile)
	assert.Contains(t, cfg.Providers.Profiles, "anthropic")
	assert.Contains(t, cfg.Providers.Profiles, "openai")
	assert.Contains(t, cfg.Providers.Profiles, "gemini")
	assert.Equal(t, 2, cfg.Loop.ValidationRetries)
}

// TestManager_Load_MissingFileKeepsDefaults verifies a missing config file is
// not an error.
func TestManager_Load_MissingFileKeepsDefaults(t *testing.T) {
	mgr := config.NewManager(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, mgr.Load())

	assert.Equal(t, config.DefaultConfig().Sandbox.Runtime, mgr.Get().Sandbox.Runtime)
}

// TestManager_Load_FileOverridesDefaults verifies YAML layering.
func TestManager_Load_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
providers:
  default_profile: openai
sandbox:
  runtime: python3.12
  default_timeout: 5m
loop:
  validation_retries: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	mgr := config.NewManager(path)
	require.NoError(t, mgr.Load())

	cfg := mgr.Get()
	assert.Equal(t, "openai", cfg.Providers.DefaultProfile)
	assert.Equal(t, "python3.12", cfg.Sandbox.Runtime)
	assert.Equal(t, 5*time.Minute, cfg.Sandbox.DefaultTimeout)
	assert.Equal(t, 4, cfg.Loop.ValidationRetries)
}

// TestManager_Load_EnvironmentOverridesFile verifies env vars win over YAML.
func TestManager_Load_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sandbox:\n  runtime: python3.11\n"), 0644))

	t.Setenv("ASCENT_SANDBOX_RUNTIME", "python3.13")
	t.Setenv("ASCENT_VALIDATION_RETRIES", "1")

	mgr := config.NewManager(path)
	require.NoError(t, mgr.Load())

	assert.Equal(t, "python3.13", mgr.Get().Sandbox.Runtime)
	assert.Equal(t, 1, mgr.Get().Loop.ValidationRetries)
}

// TestConfig_Validate_RejectsBrokenProfiles covers profile validation errors.
func TestConfig_Validate_RejectsBrokenProfiles(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{
			"unknown default profile",
			func(c *config.Config) { c.Providers.DefaultProfile = "missing" },
		},
		{
			"unknown provider type",
			func(c *config.Config) {
				c.Providers.Profiles["bad"] = config.ProfileConfig{Type: "cohere", Model: "x", APIKeyEnv: "K"}
			},
		},
		{
			"missing model",
			func(c *config.Config) {
				c.Providers.Profiles["bad"] = config.ProfileConfig{Type: "openai", APIKeyEnv: "K"}
			},
		},
		{
			"missing api key env",
			func(c *config.Config) {
				c.Providers.Profiles["bad"] = config.ProfileConfig{Type: "openai", Model: "x"}
			},
		},
		{
			"negative validation retries",
			func(c *config.Config) { c.Loop.ValidationRetries = -1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
