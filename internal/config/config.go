// Package config provides server configuration loaded from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds ws-dispatch configuration.
type Config struct {
	// WebSocket transport
	WSAddr string `envconfig:"WS_ADDR" default:":8080"`
	WSPath string `envconfig:"WS_PATH" default:"/ws"`

	// COMMS: connect to standalone NATS at COMMSURL. Empty disables the
	// COMMS transport and violation events.
	COMMSURL        string `envconfig:"COMMS_URL"`
	COMMSName       string `envconfig:"SERVICE_NAME" default:"ws-dispatch"`
	DispatchSubject string `envconfig:"DISPATCH_SUBJECT" default:"rpc.dispatch"`
	// ViolationSubject overrides the global contract violation subject.
	ViolationSubject string `envconfig:"VIOLATION_SUBJECT"`
	WireCodec        string `envconfig:"WIRE_CODEC" default:"json"`

	// Timeouts
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Shared schemas
	SchemaFile              string `envconfig:"SCHEMA_FILE"`
	SchemaVersionConstraint string `envconfig:"SCHEMA_VERSION_CONSTRAINT"`

	// Database is optional; when set, shared schemas are also read from it.
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// Per-connection limits
	RateLimitRPS    float64 `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst  int     `envconfig:"RATE_LIMIT_BURST" default:"40"`
	MaxMessageBytes int64   `envconfig:"MAX_MESSAGE_BYTES" default:"1048576"`

	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// EnvFile is read before the environment is processed. Variables already
	// set in the environment take precedence.
	EnvFile string `envconfig:"ENV_FILE" default:".env"`
}

// LoadConfig loads configuration from an optional .env file and environment variables.
func LoadConfig() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s - failed to read %s: %w", logPrefix, envFile, err)
		}
		slog.Debug(fmt.Sprintf("%s - No %s file found, using environment variables", logPrefix, envFile))
	}

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the dispatch server.
func (c *Config) ValidateForServe() error {
	if c.WSPath == "" || !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("%s - WS_PATH must start with /", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("%s - RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive", logPrefix)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("%s - MAX_MESSAGE_BYTES must be positive", logPrefix)
	}
	switch strings.ToLower(c.WireCodec) {
	case "", "json", "cbor":
	default:
		return fmt.Errorf("%s - WIRE_CODEC must be json or cbor, got %q", logPrefix, c.WireCodec)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, seed-schemas).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
