// Package config handles application configuration loading and validation
// from environment variables, providing a type-safe configuration structure.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/itshen/AI-message-hook/internal/policy"
)

// Config holds all application configuration values loaded from environment variables.
type Config struct {
	// Server configuration
	ListenAddr      string        // Address to listen on (e.g., ":8080")
	ProxyPrefix     string        // URL prefix under which calls are forwarded
	MaxRequestSize  int64         // Maximum size of incoming request bodies in bytes
	ShutdownTimeout time.Duration // Grace period for in-flight calls on shutdown

	// Upstream transport
	UpstreamMaxIdleConns          int
	UpstreamMaxIdleConnsPerHost   int
	UpstreamIdleConnTimeout       time.Duration
	UpstreamTLSHandshakeTimeout   time.Duration
	UpstreamResponseHeaderTimeout time.Duration // 0 waits indefinitely

	// Policy seed; a policy file, when present, overrides these values
	UpstreamBaseURL       string
	UpstreamAPIKey        string
	DefaultModel          string
	AutoReplaceCredential bool
	AutoReplaceModel      bool
	CredentialReplaceMode string
	ModelReplaceMode      string
	PolicyFile            string // YAML or TOML file; empty disables persistence

	// Authentication for the management API. Both empty disables it.
	ManagementToken     string
	ManagementTokenHash string // bcrypt hash, checked instead of ManagementToken when set

	// Database configuration
	DBDriver         string // sqlite, postgres or mysql
	DatabasePath     string // Path to the SQLite database file
	DatabaseURL      string // DSN for postgres/mysql
	DatabasePoolSize int    // Number of connections in the database pool

	// Logging
	LogLevel      string // Log level (debug, info, warn, error)
	LogFormat     string // Log format (json, console)
	LogFile       string // Path to log file (empty for stdout)
	LogMaxSizeMB  int    // Rotate LogFile beyond this size; 0 disables rotation
	LogMaxBackups int    // Rotated files kept

	// Audit trail
	AuditEnabled   bool   // Record calls at all
	AuditLogFile   string // JSONL file of calls (empty to disable)
	AuditCreateDir bool   // Create parent directories for audit log file
	AuditStoreInDB bool   // Store calls in the database

	// Event bus configuration
	EventBusBackend string // "in-memory", "redis" or "none"
	EventBufferSize int    // Per-subscriber buffer for the in-memory bus
	RedisAddr       string // Redis server address (e.g., "localhost:6379")
	RedisDB         int    // Redis database number (default: 0)
	EventStreamKey  string // Redis stream key
}

// New creates a new configuration with values from environment variables.
// It applies default values where environment variables are not set,
// and validates the settings that have a fixed set of values.
func New() (*Config, error) {
	config := &Config{
		ListenAddr:      getEnvString("LISTEN_ADDR", ":8080"),
		ProxyPrefix:     getEnvString("PROXY_PREFIX", "/api/v1"),
		MaxRequestSize:  getEnvInt64("MAX_REQUEST_SIZE", 10*1024*1024), // 10MB
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		UpstreamMaxIdleConns:          getEnvInt("UPSTREAM_MAX_IDLE_CONNS", 100),
		UpstreamMaxIdleConnsPerHost:   getEnvInt("UPSTREAM_MAX_IDLE_CONNS_PER_HOST", 20),
		UpstreamIdleConnTimeout:       getEnvDuration("UPSTREAM_IDLE_CONN_TIMEOUT", 90*time.Second),
		UpstreamTLSHandshakeTimeout:   getEnvDuration("UPSTREAM_TLS_HANDSHAKE_TIMEOUT", 10*time.Second),
		UpstreamResponseHeaderTimeout: getEnvDuration("UPSTREAM_RESPONSE_HEADER_TIMEOUT", 0),

		UpstreamBaseURL:       getEnvString("UPSTREAM_BASE_URL", policy.DefaultUpstreamBaseURL),
		UpstreamAPIKey:        getEnvString("UPSTREAM_API_KEY", ""),
		DefaultModel:          getEnvString("DEFAULT_MODEL", ""),
		AutoReplaceCredential: getEnvBool("AUTO_REPLACE_CREDENTIAL", true),
		AutoReplaceModel:      getEnvBool("AUTO_REPLACE_MODEL", true),
		CredentialReplaceMode: getEnvString("CREDENTIAL_REPLACE_MODE", string(policy.ModeForce)),
		ModelReplaceMode:      getEnvString("MODEL_REPLACE_MODE", string(policy.ModeForce)),
		PolicyFile:            getEnvString("POLICY_FILE", ""),

		ManagementToken:     getEnvString("MANAGEMENT_TOKEN", ""),
		ManagementTokenHash: getEnvString("MANAGEMENT_TOKEN_HASH", ""),

		DBDriver:         strings.ToLower(getEnvString("DB_DRIVER", "sqlite")),
		DatabasePath:     getEnvString("DATABASE_PATH", "./data/message-hook.db"),
		DatabaseURL:      getEnvString("DATABASE_URL", ""),
		DatabasePoolSize: getEnvInt("DATABASE_POOL_SIZE", 10),

		LogLevel:      getEnvString("LOG_LEVEL", "info"),
		LogFormat:     getEnvString("LOG_FORMAT", "json"),
		LogFile:       getEnvString("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 0),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),

		AuditEnabled:   getEnvBool("AUDIT_ENABLED", true),
		AuditLogFile:   getEnvString("AUDIT_LOG_FILE", ""),
		AuditCreateDir: getEnvBool("AUDIT_CREATE_DIR", true),
		AuditStoreInDB: getEnvBool("AUDIT_STORE_IN_DB", true),

		EventBusBackend: strings.ToLower(getEnvString("EVENT_BUS", "in-memory")),
		EventBufferSize: getEnvInt("EVENT_BUFFER_SIZE", 1000),
		RedisAddr:       getEnvString("REDIS_ADDR", "localhost:6379"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		EventStreamKey:  getEnvString("EVENT_STREAM_KEY", "message-hook-events"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks settings that only accept a fixed set of values.
func (c *Config) Validate() error {
	if _, err := policy.ParseReplaceMode(c.CredentialReplaceMode); err != nil {
		return fmt.Errorf("CREDENTIAL_REPLACE_MODE: %w", err)
	}
	if _, err := policy.ParseReplaceMode(c.ModelReplaceMode); err != nil {
		return fmt.Errorf("MODEL_REPLACE_MODE: %w", err)
	}
	switch c.EventBusBackend {
	case "in-memory", "redis", "none":
	default:
		return fmt.Errorf("EVENT_BUS: unsupported backend %q", c.EventBusBackend)
	}
	switch c.DBDriver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("DB_DRIVER: unsupported driver %q", c.DBDriver)
	}
	if c.ProxyPrefix == "" || !strings.HasPrefix(c.ProxyPrefix, "/") {
		return fmt.Errorf("PROXY_PREFIX must start with '/', got %q", c.ProxyPrefix)
	}
	return nil
}

// PolicySeed returns the initial policy described by the environment.
func (c *Config) PolicySeed() (policy.Config, error) {
	credMode, err := policy.ParseReplaceMode(c.CredentialReplaceMode)
	if err != nil {
		return policy.Config{}, err
	}
	modelMode, err := policy.ParseReplaceMode(c.ModelReplaceMode)
	if err != nil {
		return policy.Config{}, err
	}
	return policy.Config{
		UpstreamBaseURL:       c.UpstreamBaseURL,
		Credential:            c.UpstreamAPIKey,
		DefaultModel:          c.DefaultModel,
		CredentialReplaceMode: credMode,
		ModelReplaceMode:      modelMode,
		AutoReplaceCredential: c.AutoReplaceCredential,
		AutoReplaceModel:      c.AutoReplaceModel,
	}, nil
}

// ManagementEnabled reports whether the management API should be mounted.
func (c *Config) ManagementEnabled() bool {
	return c.ManagementToken != "" || c.ManagementTokenHash != ""
}

// getEnvString retrieves a string value from an environment variable,
// falling back to the provided default value if the variable is not set.
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvBool retrieves a boolean value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed as a boolean.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := strconv.ParseBool(value)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}

// getEnvInt retrieves an integer value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed as an integer.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := strconv.Atoi(value)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}

// getEnvInt64 retrieves a 64-bit integer value from an environment variable.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed as a duration.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := time.ParseDuration(value)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":8080",
		ProxyPrefix:     "/api/v1",
		MaxRequestSize:  10 * 1024 * 1024,
		ShutdownTimeout: 30 * time.Second,

		UpstreamMaxIdleConns:        100,
		UpstreamMaxIdleConnsPerHost: 20,
		UpstreamIdleConnTimeout:     90 * time.Second,
		UpstreamTLSHandshakeTimeout: 10 * time.Second,

		UpstreamBaseURL:       policy.DefaultUpstreamBaseURL,
		AutoReplaceCredential: true,
		AutoReplaceModel:      true,
		CredentialReplaceMode: string(policy.ModeForce),
		ModelReplaceMode:      string(policy.ModeForce),

		DBDriver:         "sqlite",
		DatabasePath:     "./data/message-hook.db",
		DatabasePoolSize: 10,

		LogLevel:      "info",
		LogFormat:     "json",
		LogMaxBackups: 5,

		AuditEnabled:   true,
		AuditCreateDir: true,
		AuditStoreInDB: true,

		EventBusBackend: "in-memory",
		EventBufferSize: 1000,
		RedisAddr:       "localhost:6379",
		EventStreamKey:  "message-hook-events",
	}
}
