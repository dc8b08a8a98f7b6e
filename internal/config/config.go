// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Identity backend variants.
const (
	BackendLocal    = "local"
	BackendExternal = "external"
)

// Credential persistence drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`

	LogLevel string `yaml:"log_level"`
}

// ClientConfig configures the session layer used by the CLI.
type ClientConfig struct {
	APIBaseURL       string        `yaml:"api_base_url"`
	AuthBackend      string        `yaml:"auth_backend"`
	CredentialDriver string        `yaml:"credential_driver"`
	CredentialPath   string        `yaml:"credential_path"`
	RedisAddr        string        `yaml:"redis_addr"`
	RedisPrefix      string        `yaml:"redis_prefix"`
	SupabaseURL      string        `yaml:"supabase_url"`
	SupabaseKey      string        `yaml:"supabase_key"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	// IdentityPollInterval controls how often the external backend re-checks
	// the provider session. Zero disables polling.
	IdentityPollInterval time.Duration `yaml:"identity_poll_interval"`
}

// ServerConfig configures the development API server.
type ServerConfig struct {
	Port         string        `yaml:"port"`
	FrontendURL  string        `yaml:"frontend_url"`
	DBPath       string        `yaml:"db_path"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	SweepEvery   time.Duration `yaml:"sweep_every"`
	GeminiAPIKey string        `yaml:"-"`
	GeminiModel  string        `yaml:"gemini_model"`
	DevMode      bool          `yaml:"dev_mode"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return &Config{
		LogLevel: "info",
		Client: ClientConfig{
			APIBaseURL:       "http://localhost:8000/api",
			AuthBackend:      BackendLocal,
			CredentialDriver: DriverFile,
			CredentialPath:   home + "/.careerguide/token",
			RedisPrefix:      "careerguide:",
			RequestTimeout:   30 * time.Second,
		},
		Server: ServerConfig{
			Port:        "8000",
			DBPath:      "./data/careerguide.db",
			TokenTTL:    30 * time.Minute,
			SweepEvery:  5 * time.Minute,
			GeminiModel: "gemini-2.0-flash",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in that order of precedence (last wins).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Client.APIBaseURL = strings.TrimRight(getEnv("CAREER_API_URL", c.Client.APIBaseURL), "/")
	c.Client.AuthBackend = strings.ToLower(getEnv("AUTH_BACKEND", c.Client.AuthBackend))
	c.Client.CredentialDriver = strings.ToLower(getEnv("CREDENTIAL_DRIVER", c.Client.CredentialDriver))
	c.Client.CredentialPath = getEnv("CREDENTIAL_PATH", c.Client.CredentialPath)
	c.Client.RedisAddr = getEnv("REDIS_ADDR", c.Client.RedisAddr)
	c.Client.RedisPrefix = getEnv("REDIS_PREFIX", c.Client.RedisPrefix)
	c.Client.SupabaseURL = getEnv("SUPABASE_URL", c.Client.SupabaseURL)
	c.Client.SupabaseKey = getEnv("SUPABASE_KEY", c.Client.SupabaseKey)
	c.Client.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.Client.RequestTimeout)
	c.Client.IdentityPollInterval = getEnvDuration("IDENTITY_POLL_INTERVAL", c.Client.IdentityPollInterval)

	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.FrontendURL = getEnv("FRONTEND_URL", c.Server.FrontendURL)
	c.Server.DBPath = getEnv("DB_PATH", c.Server.DBPath)
	c.Server.TokenTTL = getEnvDuration("TOKEN_TTL", c.Server.TokenTTL)
	c.Server.SweepEvery = getEnvDuration("TOKEN_SWEEP_INTERVAL", c.Server.SweepEvery)
	c.Server.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.Server.GeminiAPIKey)
	c.Server.GeminiModel = getEnv("GEMINI_MODEL", c.Server.GeminiModel)
	c.Server.DevMode = getEnvBool("DEV_MODE", c.Server.DevMode)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	switch c.Client.AuthBackend {
	case BackendLocal:
	case BackendExternal:
		if c.Client.SupabaseURL == "" || c.Client.SupabaseKey == "" {
			return errors.New("SUPABASE_URL and SUPABASE_KEY are required for the external auth backend")
		}
	default:
		return fmt.Errorf("AUTH_BACKEND must be %q or %q, got %q", BackendLocal, BackendExternal, c.Client.AuthBackend)
	}

	switch c.Client.CredentialDriver {
	case DriverFile, DriverSQLite:
		if c.Client.CredentialPath == "" {
			return errors.New("CREDENTIAL_PATH cannot be empty")
		}
	case DriverRedis:
		if c.Client.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis credential driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown CREDENTIAL_DRIVER %q", c.Client.CredentialDriver)
	}

	if c.Client.APIBaseURL == "" {
		return errors.New("CAREER_API_URL cannot be empty")
	}
	if c.Client.RequestTimeout < 0 {
		return errors.New("REQUEST_TIMEOUT must be >= 0")
	}
	if c.Server.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.Server.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.Server.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be > 0")
	}
	if c.Server.SweepEvery <= 0 {
		return errors.New("TOKEN_SWEEP_INTERVAL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if c.Server.DevMode {
		return true
	}
	return c.Server.FrontendURL == "" ||
		strings.Contains(c.Server.FrontendURL, "localhost") ||
		strings.Contains(c.Server.FrontendURL, "127.0.0.1")
}

// Debug reports whether debug logging was requested.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("45s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if _, err := strconv.Atoi(value); err == nil {
		return time.Duration(getEnvInt(key, 0)) * time.Second
	}
	return fallback
}
