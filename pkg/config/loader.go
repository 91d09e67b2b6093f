package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, LOCALRESP_CONFIG env, ./config.yaml, /etc/localresp/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. LOCALRESP_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/localresp/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("LOCALRESP_CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/localresp/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
// Unknown keys are rejected.
func loadYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides maps environment variables to config fields. Values
// that do not parse are reported together.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	decimal := func(name string, dst *float64) {
		if v := os.Getenv(name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = f
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	integer("LOCALRESP_PORT", &cfg.Server.Port)

	str("LOCALRESP_INFERENCE_BACKEND", &cfg.Backend.Type)
	str("LOCALRESP_BACKEND_URL", &cfg.Backend.URL)
	str("LOCALRESP_API_KEY", &cfg.Backend.APIKey)
	str("LOCALRESP_MODEL", &cfg.Backend.DefaultModel)
	// OLLAMA_TIMEOUT is seconds to wait for the first token.
	duration("OLLAMA_TIMEOUT", &cfg.Backend.FirstTokenTimeout)
	duration("LOCALRESP_FIRST_TOKEN_TIMEOUT", &cfg.Backend.FirstTokenTimeout)
	duration("LOCALRESP_IDLE_TIMEOUT", &cfg.Backend.IdleTimeout)

	integer("LOCALRESP_MAX_TOOL_TURNS", &cfg.Engine.MaxToolTurns)
	str("LOCALRESP_WEB_SEARCH_URL", &cfg.WebSearch.URL)
	integer("LOCALRESP_WEB_SEARCH_MAX_RESULTS", &cfg.WebSearch.MaxResults)

	str("LOCALRESP_STORAGE", &cfg.Storage.Type)
	integer("LOCALRESP_STORAGE_SIZE", &cfg.Storage.Memory.MaxSize)
	str("LOCALRESP_POSTGRES_DSN", &cfg.Storage.Postgres.DSN)
	str("LOCALRESP_REDIS_URL", &cfg.Storage.Redis.URL)
	str("LOCALRESP_SQLITE_PATH", &cfg.Storage.SQLite.Path)

	decimal("LOCALRESP_RATE_LIMIT_RPS", &cfg.RateLimit.RequestsPerSecond)
	integer("LOCALRESP_RATE_LIMIT_BURST", &cfg.RateLimit.Burst)

	if v := os.Getenv("LOCALRESP_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
		cfg.Observability.Tracing.Enabled = true
	}

	str("LOCALRESP_LOG_LEVEL", &cfg.Logging.Level)
	str("LOCALRESP_LOG_FORMAT", &cfg.Logging.Format)
	str("LOCALRESP_DEBUG", &cfg.Logging.Debug)

	return errors.Join(errs...)
}

// parseDuration accepts Go durations ("45s") and bare seconds ("30.5").
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name string
		file string
		dst  *string
	}{
		{"backend.api_key_file", cfg.Backend.APIKeyFile, &cfg.Backend.APIKey},
		{"backend.oauth.client_secret_file", cfg.Backend.OAuth.ClientSecretFile, &cfg.Backend.OAuth.ClientSecret},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
		{"storage.redis.url_file", cfg.Storage.Redis.URLFile, &cfg.Storage.Redis.URL},
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.dst != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.dst = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
