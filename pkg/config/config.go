// Package config loads the service configuration from YAML with
// environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Store    StoreConfig    `yaml:"store"`
	Session  SessionConfig  `yaml:"session"`
	Engines  EnginesConfig  `yaml:"engines"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Name            string        `yaml:"name"`
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig configures TLS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig configures authentication.
type AuthConfig struct {
	JWT            JWTAuthConfig    `yaml:"jwt"`
	APIKeys        APIKeyAuthConfig `yaml:"api_keys"`
	AllowAnonymous bool             `yaml:"allow_anonymous"` // default: false
}

// JWTAuthConfig configures HMAC-signed JWT bearer authentication.
type JWTAuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SigningKey string `yaml:"signing_key"` // Base64-encoded HMAC key
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// APIKeyAuthConfig configures API key authentication.
type APIKeyAuthConfig struct {
	Enabled bool        `yaml:"enabled"`
	Keys    []APIKeyDef `yaml:"keys"`
}

// APIKeyDef defines an API key. Hash is the bcrypt hash of the key;
// Key holds the plaintext for development setups and is ignored when
// Hash is set.
type APIKeyDef struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key,omitempty"`
	Hash string `yaml:"hash,omitempty"`
	User string `yaml:"user"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// StoreConfig selects the session persistence tiers.
type StoreConfig struct {
	// Mode is "memory", "file", "postgres", or "postgres+file" (the
	// two-tier store with local fallback).
	Mode string `yaml:"mode"`

	// FallbackDir is the directory for the file tier.
	FallbackDir string `yaml:"fallback_dir"`
}

// SessionConfig configures session lifecycle behavior.
type SessionConfig struct {
	// IdleTimeout abandons active sessions untouched for this long.
	// Zero disables the sweeper.
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// ListLimit caps the default page size of session listings.
	ListLimit int `yaml:"list_limit"`
}

// EnginesConfig configures engine definition loading.
type EnginesConfig struct {
	// Dir holds extra *.yaml engine definitions loaded alongside the
	// built-in ones.
	Dir string `yaml:"dir"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load reads configuration from a YAML file.
// The path is expected to come from command line arguments, controlled by the administrator.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration bytes, expanding ${VAR} references
// and applying defaults.
func Parse(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file is given: an
// in-memory store and an open server on localhost.
func Default() *Config {
	cfg := &Config{}
	cfg.Auth.AllowAnonymous = true
	applyDefaults(cfg)
	return cfg
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "decision-engine"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Store.Mode == "" {
		cfg.Store.Mode = "memory"
	}
	if cfg.Store.FallbackDir == "" {
		cfg.Store.FallbackDir = "data/sessions"
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = time.Minute
	}
	if cfg.Session.ListLimit == 0 {
		cfg.Session.ListLimit = 50
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Mode {
	case "memory", "file", "postgres", "postgres+file":
	default:
		errs = append(errs, fmt.Sprintf("store.mode %q is not one of memory, file, postgres, postgres+file", c.Store.Mode))
	}

	if (c.Store.Mode == "postgres" || c.Store.Mode == "postgres+file") && c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required for a postgres store")
	}

	if c.Auth.JWT.Enabled && c.Auth.JWT.SigningKey == "" {
		errs = append(errs, "auth.jwt.signing_key is required when JWT auth is enabled")
	}

	if c.Auth.APIKeys.Enabled {
		for i, key := range c.Auth.APIKeys.Keys {
			if key.Key == "" && key.Hash == "" {
				errs = append(errs, fmt.Sprintf("auth.api_keys.keys[%d]: key or hash is required", i))
			}
			if key.User == "" {
				errs = append(errs, fmt.Sprintf("auth.api_keys.keys[%d]: user is required", i))
			}
		}
	}

	if !c.Auth.JWT.Enabled && !c.Auth.APIKeys.Enabled && !c.Auth.AllowAnonymous {
		errs = append(errs, "no auth method enabled and allow_anonymous is false; the API would be unreachable")
	}

	if c.Session.IdleTimeout < 0 {
		errs = append(errs, "session.idle_timeout must not be negative")
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, "server.tls.cert_file and key_file are required when TLS is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
