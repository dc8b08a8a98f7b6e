package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CREDENTIAL_PATH", filepath.Join(t.TempDir(), "token"))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000/api", cfg.Client.APIBaseURL)
	assert.Equal(t, BackendLocal, cfg.Client.AuthBackend)
	assert.Equal(t, DriverFile, cfg.Client.CredentialDriver)
	assert.Equal(t, 30*time.Minute, cfg.Server.TokenTTL)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "careerguide.yaml")
	body := `
log_level: debug
client:
  api_base_url: http://api.internal/api/
  credential_driver: memory
  request_timeout: 5s
server:
  port: "9000"
  token_ttl: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("PORT", "9100")
	t.Setenv("REQUEST_TIMEOUT", "12")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Debug())
	assert.Equal(t, DriverMemory, cfg.Client.CredentialDriver)
	assert.Equal(t, "http://api.internal/api", cfg.Client.APIBaseURL)
	assert.Equal(t, 12*time.Second, cfg.Client.RequestTimeout)
	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Server.TokenTTL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Client.AuthBackend = "ldap" }, "AUTH_BACKEND"},
		{"external without supabase", func(c *Config) { c.Client.AuthBackend = BackendExternal }, "SUPABASE_URL"},
		{"redis without addr", func(c *Config) { c.Client.CredentialDriver = DriverRedis }, "REDIS_ADDR"},
		{"unknown driver", func(c *Config) { c.Client.CredentialDriver = "etcd" }, "CREDENTIAL_DRIVER"},
		{"empty path", func(c *Config) { c.Client.CredentialPath = "" }, "CREDENTIAL_PATH"},
		{"zero ttl", func(c *Config) { c.Server.TokenTTL = 0 }, "TOKEN_TTL"},
		{"zero sweep interval", func(c *Config) { c.Server.SweepEvery = 0 }, "TOKEN_SWEEP_INTERVAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("CG_FLAG", "yes")
	assert.True(t, getEnvBool("CG_FLAG", false))

	t.Setenv("CG_FLAG", "off")
	assert.False(t, getEnvBool("CG_FLAG", true))

	t.Setenv("CG_FLAG", "maybe")
	assert.True(t, getEnvBool("CG_FLAG", true))
}
