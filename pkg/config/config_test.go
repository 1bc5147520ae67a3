package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  address: ":9090"
store:
  mode: postgres+file
  fallback_dir: /var/lib/decision-engine/sessions
database:
  dsn: postgres://localhost/decisions?sslmode=disable
session:
  idle_timeout: 30m
auth:
  allow_anonymous: true
`))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "postgres+file", cfg.Store.Mode)
	assert.Equal(t, "/var/lib/decision-engine/sessions", cfg.Store.FallbackDir)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, "decision-engine", cfg.Server.Name)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Store.Mode)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, time.Minute, cfg.Session.SweepInterval)
	assert.Equal(t, 50, cfg.Session.ListLimit)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestParse_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_DE_DSN", "postgres://db.internal/decisions")

	cfg, err := Parse([]byte(`
database:
  dsn: ${TEST_DE_DSN}
`))
	require.NoError(t, err)
	assert.Equal(t, "postgres://db.internal/decisions", cfg.Database.DSN)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "default is valid",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown store mode",
			mutate:  func(c *Config) { c.Store.Mode = "redis" },
			wantErr: "store.mode",
		},
		{
			name:    "postgres store without dsn",
			mutate:  func(c *Config) { c.Store.Mode = "postgres" },
			wantErr: "database.dsn",
		},
		{
			name:    "jwt without signing key",
			mutate:  func(c *Config) { c.Auth.JWT.Enabled = true },
			wantErr: "signing_key",
		},
		{
			name: "api key without user",
			mutate: func(c *Config) {
				c.Auth.APIKeys.Enabled = true
				c.Auth.APIKeys.Keys = []APIKeyDef{{Name: "ci", Key: "secret"}}
			},
			wantErr: "user is required",
		},
		{
			name: "no auth path at all",
			mutate: func(c *Config) {
				c.Auth.AllowAnonymous = false
			},
			wantErr: "allow_anonymous",
		},
		{
			name:    "negative idle timeout",
			mutate:  func(c *Config) { c.Session.IdleTimeout = -time.Minute },
			wantErr: "idle_timeout",
		},
		{
			name:    "tls without cert",
			mutate:  func(c *Config) { c.Server.TLS.Enabled = true },
			wantErr: "tls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
