// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	API           APIConfig           `yaml:"api"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Wizard        WizardConfig        `yaml:"wizard"`
	Session       SessionConfig       `yaml:"session"`
	ObjectStorage ObjectStorageConfig `yaml:"object_storage"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Keyring       KeyringConfig       `yaml:"keyring"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT and identity provider settings.
type IdentityConfig struct {
	Issuer       string            `yaml:"issuer"`
	Audience     string            `yaml:"audience"`
	JWKSURL      string            `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration     `yaml:"jwks_cache_ttl"`
	Algorithms   []string          `yaml:"algorithms"`
	ClaimPaths   map[string]string `yaml:"claim_paths"`
}

// APIConfig describes the remote insurance API.
type APIConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig describes circuit breaker settings for the API client.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// NotificationsConfig describes the admin notification socket.
type NotificationsConfig struct {
	SocketURL      string        `yaml:"socket_url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxBuffer      int           `yaml:"max_buffer"`
}

// WizardConfig describes wizard definitions and state persistence.
type WizardConfig struct {
	Directories []string    `yaml:"directories"`
	Store       StoreConfig `yaml:"store"`
}

// StoreConfig describes a state store. Driver is one of memory, redis or
// postgres; the connection string is read from the named environment
// variable.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	AddrEnv         string        `yaml:"addr_env"`
	DSNEnv          string        `yaml:"dsn_env"`
	DB              int           `yaml:"db"`
	TTL             time.Duration `yaml:"ttl"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// SessionConfig describes where tokens and user records are cached.
type SessionConfig struct {
	Store StoreConfig `yaml:"store"`
}

// ObjectStorageConfig describes where damage photos are uploaded.
type ObjectStorageConfig struct {
	Driver   string `yaml:"driver"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// RateLimitConfig describes per-client request limits.
type RateLimitConfig struct {
	LoginPerMinute int `yaml:"login_per_minute"`
	LoginBurst     int `yaml:"login_burst"`
}

// KeyringConfig describes the workstation credential store used by the CLI.
type KeyringConfig struct {
	FileDir     string `yaml:"file_dir"`
	PasswordEnv string `yaml:"password_env"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
// AlwaysSample lists span name prefixes recorded regardless of the sampling
// rate, such as "upload." for damage photo uploads.
type TracingConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Exporter     string   `yaml:"exporter"`
	Endpoint     string   `yaml:"endpoint"`
	SamplingRate float64  `yaml:"sampling_rate"`
	AlwaysSample []string `yaml:"always_sample"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			HandlerTimeout:  50 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  32 << 20,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"session_id": "sid",
				"email":      "email",
				"roles":      "roles",
			},
		},
		API: APIConfig{
			Timeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Notifications: NotificationsConfig{
			ConnectTimeout: 10 * time.Second,
			MaxBuffer:      10,
		},
		Wizard: WizardConfig{
			Store: StoreConfig{
				Driver:          "memory",
				TTL:             24 * time.Hour,
				MaxOpenConns:    10,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Session: SessionConfig{
			Store: StoreConfig{
				Driver: "memory",
				TTL:    12 * time.Hour,
			},
		},
		ObjectStorage: ObjectStorageConfig{
			Driver: "none",
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute: 10,
			LoginBurst:     5,
		},
		Keyring: KeyringConfig{
			PasswordEnv: "SURETY_KEYRING_PASSWORD",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
				AlwaysSample: []string{"upload."},
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

var (
	wizardDrivers  = map[string]bool{"memory": true, "redis": true, "postgres": true}
	sessionDrivers = map[string]bool{"memory": true, "redis": true}
	objectDrivers  = map[string]bool{"none": true, "s3": true}
)

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.JWKSURL == "" {
		errs = append(errs, "identity.jwks_url is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}
	if c.API.BaseURL == "" {
		errs = append(errs, "api.base_url is required")
	}
	if c.Notifications.SocketURL == "" {
		errs = append(errs, "notifications.socket_url is required")
	}
	if c.Notifications.MaxBuffer < 1 {
		errs = append(errs, "notifications.max_buffer must be at least 1")
	}
	if !wizardDrivers[c.Wizard.Store.Driver] {
		errs = append(errs, fmt.Sprintf("wizard.store.driver %q must be memory, redis or postgres", c.Wizard.Store.Driver))
	}
	if !sessionDrivers[c.Session.Store.Driver] {
		errs = append(errs, fmt.Sprintf("session.store.driver %q must be memory or redis", c.Session.Store.Driver))
	}
	if !objectDrivers[c.ObjectStorage.Driver] {
		errs = append(errs, fmt.Sprintf("object_storage.driver %q must be none or s3", c.ObjectStorage.Driver))
	}
	if c.ObjectStorage.Driver == "s3" && c.ObjectStorage.Bucket == "" {
		errs = append(errs, "object_storage.bucket is required for the s3 driver")
	}
	if c.RateLimit.LoginPerMinute < 1 || c.RateLimit.LoginBurst < 1 {
		errs = append(errs, "rate_limit.login_per_minute and rate_limit.login_burst must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads SURETY_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SURETY_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SURETY_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("SURETY_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("SURETY_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("SURETY_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("SURETY_NOTIFICATIONS_SOCKET_URL"); v != "" {
		cfg.Notifications.SocketURL = v
	}
	if v := os.Getenv("SURETY_WIZARD_STORE_DRIVER"); v != "" {
		cfg.Wizard.Store.Driver = v
	}
	if v := os.Getenv("SURETY_SESSION_STORE_DRIVER"); v != "" {
		cfg.Session.Store.Driver = v
	}
	if v := os.Getenv("SURETY_OBJECT_STORAGE_BUCKET"); v != "" {
		cfg.ObjectStorage.Bucket = v
	}
	if v := os.Getenv("SURETY_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
