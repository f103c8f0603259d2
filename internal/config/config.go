package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store drivers.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreNone     = "none"
)

// Remote cache tiers.
const (
	CacheRemoteNone   = "none"
	CacheRemoteSQLite = "sqlite"
	CacheRemoteMongo  = "mongo"
)

// Auth modes.
const (
	AuthNone   = "none"
	AuthAPIKey = "api-key"
	AuthJWT    = "jwt"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`

	// LLM provider (optional; template generation works without it)
	AnthropicAPIKey  string        `envconfig:"ANTHROPIC_API_KEY"`
	LLMModel         string        `envconfig:"LLM_MODEL" default:"claude-sonnet-4-20250514"`
	LLMFallbackModel string        `envconfig:"LLM_FALLBACK_MODEL" default:"claude-3-5-haiku-20241022"`
	LLMMaxTokens     int           `envconfig:"LLM_MAX_TOKENS" default:"16000"`
	LLMTimeout       time.Duration `envconfig:"LLM_TIMEOUT" default:"5m"`

	// Retry schedule for transient provider failures
	RetryMaxAttempts int             `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryDelays      []time.Duration `envconfig:"RETRY_DELAYS" default:"1s,2s,4s"`

	// Project store
	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/appforge.db"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Schema cache
	CacheCapacity int           `envconfig:"CACHE_CAPACITY" default:"256"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"1h"`
	CacheRemote   string        `envconfig:"CACHE_REMOTE" default:"none"`
	MongoURI      string        `envconfig:"MONGO_URI"`
	MongoDatabase string        `envconfig:"MONGO_DATABASE" default:"appforge"`

	// HTTP API
	AuthMode       string `envconfig:"AUTH_MODE" default:"none"`
	APIKey         string `envconfig:"API_KEY"`
	JWTSecret      string `envconfig:"JWT_SECRET"`
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"10"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"20"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS"`

	// Pipeline
	ReviewEnabled bool   `envconfig:"REVIEW_ENABLED" default:"true"`
	PromptsFile   string `envconfig:"PROMPTS_FILE"`

	// Tracing (disabled when the endpoint is empty)
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `envconfig:"OTEL_SERVICE_NAME" default:"appforge"`
}

// LLMEnabled returns true if a provider key is configured.
func (c *Config) LLMEnabled() bool {
	return c.AnthropicAPIKey != ""
}

// TracingEnabled returns true if an OTLP endpoint is configured.
func (c *Config) TracingEnabled() bool {
	return c.OTLPEndpoint != ""
}

// IsDevelopment reports whether the service runs locally.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// RetryCount is the number of retries after the first attempt.
func (c *Config) RetryCount() int {
	if c.RetryMaxAttempts <= 1 {
		return 0
	}
	return c.RetryMaxAttempts - 1
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER=sqlite")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case StoreNone:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.CacheRemote {
	case CacheRemoteNone:
	case CacheRemoteSQLite:
		if c.StoreDriver != StoreSQLite {
			return fmt.Errorf("CACHE_REMOTE=sqlite requires STORE_DRIVER=sqlite")
		}
	case CacheRemoteMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when CACHE_REMOTE=mongo")
		}
	default:
		return fmt.Errorf("unknown CACHE_REMOTE %q", c.CacheRemote)
	}

	switch c.AuthMode {
	case AuthNone:
	case AuthAPIKey:
		if c.APIKey == "" {
			return fmt.Errorf("API_KEY is required when AUTH_MODE=api-key")
		}
	case AuthJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when AUTH_MODE=jwt")
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.CacheCapacity < 0 {
		return fmt.Errorf("CACHE_CAPACITY must not be negative")
	}
	return nil
}

// Load reads an optional .env file, then configuration from environment
// variables. Variables already set in the environment win over .env.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix, without .env loading.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
