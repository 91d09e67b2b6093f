// Package config provides unified configuration for the localresp server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (LOCALRESP_ prefix, plus OLLAMA_TIMEOUT)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"strconv"
	"time"
)

// Config holds all configuration for the server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Backend       BackendConfig       `yaml:"backend"`
	Engine        EngineConfig        `yaml:"engine"`
	WebSearch     WebSearchConfig     `yaml:"web_search"`
	Storage       StorageConfig       `yaml:"storage"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port              int           `yaml:"port"`                // default: 8000
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"` // default: 10s
	IdleTimeout       time.Duration `yaml:"idle_timeout"`        // default: 120s
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`    // default: 30s
	MaxBodySize       int64         `yaml:"max_body_size"`       // bytes, default: 10 MiB
}

// Backend types.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

// BackendConfig holds inference backend settings.
type BackendConfig struct {
	Type         string `yaml:"type"`          // "ollama" or "openai", default: "ollama"
	URL          string `yaml:"url"`           // default: http://localhost:11434
	APIKey       string `yaml:"api_key"`       // openai only, optional
	APIKeyFile   string `yaml:"api_key_file"`  // _file variant for api_key
	DefaultModel string `yaml:"default_model"` // optional

	// FirstTokenTimeout bounds the wait for the first token (default: 30s).
	FirstTokenTimeout time.Duration `yaml:"first_token_timeout"`
	// IdleTimeout bounds the gap between tokens (default: 15s).
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	MaxRetries  int           `yaml:"max_retries"` // openai only

	OAuth OAuthConfig `yaml:"oauth"`
}

// OAuthConfig holds OAuth2 client-credentials settings for OpenAI-compatible
// backends behind an identity provider. Disabled when TokenURL is empty.
type OAuthConfig struct {
	TokenURL         string   `yaml:"token_url"`
	ClientID         string   `yaml:"client_id"`
	ClientSecret     string   `yaml:"client_secret"`
	ClientSecretFile string   `yaml:"client_secret_file"`
	Scopes           []string `yaml:"scopes"`
}

// EngineConfig holds request defaults applied by the engine.
type EngineConfig struct {
	DefaultTemperature     *float64 `yaml:"default_temperature"`
	DefaultMaxOutputTokens int      `yaml:"default_max_output_tokens"`
	MaxHistoryDepth        int      `yaml:"max_history_depth"` // default: 100
	MaxToolTurns           int      `yaml:"max_tool_turns"`    // default: 8
}

// WebSearchConfig enables the web_search tool. Disabled when URL is empty.
type WebSearchConfig struct {
	Backend    string        `yaml:"backend"`     // default: "searxng"
	URL        string        `yaml:"url"`         // base URL of the search engine
	MaxResults int           `yaml:"max_results"` // default: 5
	Timeout    time.Duration `yaml:"timeout"`     // default: 10s
	CacheSize  int           `yaml:"cache_size"`  // default: 256, 0 disables
	CacheTTL   time.Duration `yaml:"cache_ttl"`   // default: 10m
}

// Storage types.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
	StorageSQLite   = "sqlite"
)

// StorageConfig holds response store settings.
type StorageConfig struct {
	Type     string         `yaml:"type"` // default: "memory"
	Memory   MemoryConfig   `yaml:"memory"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

// MemoryConfig holds in-memory store settings.
type MemoryConfig struct {
	MaxSize int `yaml:"max_size"` // default: 10000
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: true
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	URL       string        `yaml:"url"`
	URLFile   string        `yaml:"url_file"` // _file variant for url
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"` // 0 keeps responses until deleted
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"` // default: localresp.db
}

// RateLimitConfig bounds create requests. Disabled when RequestsPerSecond is 0.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "otlphttp", "otlpgrpc" or "none", default: "otlphttp"
	Endpoint    string  `yaml:"endpoint"` // collector host:port
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"` // default: 1.0
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // ERROR, WARN, INFO, DEBUG, TRACE; default: INFO
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:              8000,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			MaxBodySize:       10 << 20,
		},
		Backend: BackendConfig{
			Type:              BackendOllama,
			URL:               "http://localhost:11434",
			FirstTokenTimeout: 30 * time.Second,
			IdleTimeout:       15 * time.Second,
		},
		Engine: EngineConfig{
			MaxHistoryDepth: 100,
			MaxToolTurns:    8,
		},
		WebSearch: WebSearchConfig{
			Backend:    "searxng",
			MaxResults: 5,
			Timeout:    10 * time.Second,
			CacheSize:  256,
			CacheTTL:   10 * time.Minute,
		},
		Storage: StorageConfig{
			Type:   StorageMemory,
			Memory: MemoryConfig{MaxSize: 10000},
			Postgres: PostgresConfig{
				MaxConns:       25,
				MigrateOnStart: true,
			},
			SQLite: SQLiteConfig{Path: "localresp.db"},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Tracing: TracingConfig{
				Exporter:    "otlphttp",
				SampleRatio: 1.0,
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// Addr returns the listen address for the configured port.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}
