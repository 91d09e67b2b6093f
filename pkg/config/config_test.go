package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable the loader reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"LOCALRESP_CONFIG", "LOCALRESP_PORT", "LOCALRESP_INFERENCE_BACKEND",
		"LOCALRESP_BACKEND_URL", "LOCALRESP_API_KEY", "LOCALRESP_MODEL",
		"OLLAMA_TIMEOUT", "LOCALRESP_FIRST_TOKEN_TIMEOUT", "LOCALRESP_IDLE_TIMEOUT",
		"LOCALRESP_STORAGE", "LOCALRESP_STORAGE_SIZE", "LOCALRESP_POSTGRES_DSN",
		"LOCALRESP_REDIS_URL", "LOCALRESP_SQLITE_PATH", "LOCALRESP_RATE_LIMIT_RPS",
		"LOCALRESP_RATE_LIMIT_BURST", "LOCALRESP_TRACING_ENDPOINT",
		"LOCALRESP_LOG_LEVEL", "LOCALRESP_LOG_FORMAT", "LOCALRESP_DEBUG",
		"LOCALRESP_MAX_TOOL_TURNS", "LOCALRESP_WEB_SEARCH_URL", "LOCALRESP_WEB_SEARCH_MAX_RESULTS",
	} {
		t.Setenv(name, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 8000 {
		t.Errorf("default server.port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Server.MaxBodySize != 10<<20 {
		t.Errorf("default server.max_body_size = %d, want 10 MiB", cfg.Server.MaxBodySize)
	}
	if cfg.Backend.Type != BackendOllama {
		t.Errorf("default backend.type = %q, want %q", cfg.Backend.Type, BackendOllama)
	}
	if cfg.Backend.FirstTokenTimeout != 30*time.Second {
		t.Errorf("default backend.first_token_timeout = %v, want 30s", cfg.Backend.FirstTokenTimeout)
	}
	if cfg.Backend.IdleTimeout != 15*time.Second {
		t.Errorf("default backend.idle_timeout = %v, want 15s", cfg.Backend.IdleTimeout)
	}
	if cfg.Storage.Type != StorageMemory || cfg.Storage.Memory.MaxSize != 10000 {
		t.Errorf("default storage = %+v", cfg.Storage)
	}
	if cfg.Engine.MaxHistoryDepth != 100 {
		t.Errorf("default engine.max_history_depth = %d, want 100", cfg.Engine.MaxHistoryDepth)
	}
	if !cfg.Observability.Metrics.Enabled || cfg.Observability.Metrics.Path != "/metrics" {
		t.Errorf("default metrics = %+v", cfg.Observability.Metrics)
	}
	if cfg.Observability.Tracing.Enabled {
		t.Error("tracing should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if cfg.Addr() != ":8000" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestLoadFromYAML(t *testing.T) {
	clearEnv(t)
	yamlContent := `
server:
  port: 9090
  read_header_timeout: 5s
  max_body_size: 1048576
backend:
  type: openai
  url: http://localhost:8080/v1
  api_key: sk-test-key
  default_model: qwen3
  first_token_timeout: 45s
  idle_timeout: 20s
  oauth:
    token_url: http://idp/token
    client_id: gw
    client_secret: s3cret
    scopes: [inference]
engine:
  default_temperature: 0.2
  default_max_output_tokens: 512
  max_history_depth: 10
  max_tool_turns: 3
web_search:
  url: http://searxng:8080
  max_results: 3
  cache_ttl: 1m
storage:
  type: redis
  redis:
    url: redis://localhost:6379/0
    ttl: 24h
rate_limit:
  requests_per_second: 5
  burst: 10
observability:
  tracing:
    enabled: true
    exporter: otlpgrpc
    endpoint: collector:4317
    sample_ratio: 0.5
logging:
  level: debug
  format: json
  debug: backend,engine
`
	cfg, err := Load(writeTemp(t, "config-*.yaml", yamlContent))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.ReadHeaderTimeout != 5*time.Second || cfg.Server.MaxBodySize != 1<<20 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.IdleTimeout != 120*time.Second {
		t.Errorf("server.idle_timeout = %v, want default", cfg.Server.IdleTimeout)
	}

	b := cfg.Backend
	if b.Type != BackendOpenAI || b.URL != "http://localhost:8080/v1" || b.APIKey != "sk-test-key" || b.DefaultModel != "qwen3" {
		t.Errorf("backend = %+v", b)
	}
	if b.FirstTokenTimeout != 45*time.Second || b.IdleTimeout != 20*time.Second {
		t.Errorf("backend timeouts = %v / %v", b.FirstTokenTimeout, b.IdleTimeout)
	}
	if b.OAuth.TokenURL != "http://idp/token" || len(b.OAuth.Scopes) != 1 || b.OAuth.Scopes[0] != "inference" {
		t.Errorf("backend.oauth = %+v", b.OAuth)
	}

	if cfg.Engine.DefaultTemperature == nil || *cfg.Engine.DefaultTemperature != 0.2 {
		t.Errorf("engine.default_temperature = %v", cfg.Engine.DefaultTemperature)
	}
	if cfg.Engine.DefaultMaxOutputTokens != 512 || cfg.Engine.MaxHistoryDepth != 10 || cfg.Engine.MaxToolTurns != 3 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	ws := cfg.WebSearch
	if ws.URL != "http://searxng:8080" || ws.MaxResults != 3 || ws.CacheTTL != time.Minute {
		t.Errorf("web_search = %+v", ws)
	}
	if ws.Backend != "searxng" || ws.Timeout != 10*time.Second || ws.CacheSize != 256 {
		t.Errorf("web_search defaults lost: %+v", ws)
	}

	if cfg.Storage.Type != StorageRedis || cfg.Storage.Redis.URL != "redis://localhost:6379/0" || cfg.Storage.Redis.TTL != 24*time.Hour {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.RateLimit.RequestsPerSecond != 5 || cfg.RateLimit.Burst != 10 {
		t.Errorf("rate_limit = %+v", cfg.RateLimit)
	}

	tr := cfg.Observability.Tracing
	if !tr.Enabled || tr.Exporter != "otlpgrpc" || tr.Endpoint != "collector:4317" || tr.SampleRatio != 0.5 {
		t.Errorf("tracing = %+v", tr)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" || cfg.Logging.Debug != "backend,engine" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeTemp(t, "config-*.yaml", "backend:\n  provider: vllm\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "provider") {
		t.Errorf("error = %v, want it to name the key", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeTemp(t, "config-*.yaml", ""))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("server.port = %d, want default", cfg.Server.Port)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	yamlContent := `
server:
  port: 9090
backend:
  url: http://from-yaml:11434
storage:
  memory:
    max_size: 5000
`
	tmpFile := writeTemp(t, "config-*.yaml", yamlContent)

	t.Setenv("LOCALRESP_BACKEND_URL", "http://from-env:11434")
	t.Setenv("LOCALRESP_MODEL", "env-model")
	t.Setenv("LOCALRESP_PORT", "7070")
	t.Setenv("LOCALRESP_STORAGE_SIZE", "2000")
	t.Setenv("LOCALRESP_RATE_LIMIT_RPS", "2.5")
	t.Setenv("LOCALRESP_TRACING_ENDPOINT", "collector:4318")
	t.Setenv("LOCALRESP_LOG_FORMAT", "json")
	t.Setenv("LOCALRESP_WEB_SEARCH_URL", "http://searx.local")

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Backend.URL != "http://from-env:11434" {
		t.Errorf("backend.url = %q, want env override", cfg.Backend.URL)
	}
	if cfg.Backend.DefaultModel != "env-model" {
		t.Errorf("backend.default_model = %q, want env override", cfg.Backend.DefaultModel)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("server.port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.WebSearch.URL != "http://searx.local" {
		t.Errorf("web_search.url = %q, want env override", cfg.WebSearch.URL)
	}
	if cfg.Storage.Memory.MaxSize != 2000 {
		t.Errorf("storage.memory.max_size = %d, want env override 2000", cfg.Storage.Memory.MaxSize)
	}
	if cfg.RateLimit.RequestsPerSecond != 2.5 {
		t.Errorf("rate_limit.requests_per_second = %v, want 2.5", cfg.RateLimit.RequestsPerSecond)
	}
	if !cfg.Observability.Tracing.Enabled || cfg.Observability.Tracing.Endpoint != "collector:4318" {
		t.Errorf("tracing = %+v, want enabled by endpoint env", cfg.Observability.Tracing)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging.format = %q, want json", cfg.Logging.Format)
	}
}

func TestOllamaTimeoutEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"30.0", 30 * time.Second},
		{"2.5", 2500 * time.Millisecond},
		{"45", 45 * time.Second},
		{"1m", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("OLLAMA_TIMEOUT", tt.value)

			cfg, err := Load(writeTemp(t, "config-*.yaml", ""))
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if cfg.Backend.FirstTokenTimeout != tt.want {
				t.Errorf("first_token_timeout = %v, want %v", cfg.Backend.FirstTokenTimeout, tt.want)
			}
		})
	}
}

func TestEnvOverrideErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOCALRESP_PORT", "eighty")
	t.Setenv("OLLAMA_TIMEOUT", "soon")

	_, err := Load(writeTemp(t, "config-*.yaml", ""))
	if err == nil {
		t.Fatal("expected error for unparseable env values")
	}
	for _, want := range []string{"LOCALRESP_PORT", "OLLAMA_TIMEOUT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to mention %s", err, want)
		}
	}
}

func TestFileReference(t *testing.T) {
	clearEnv(t)
	secretFile := writeTemp(t, "secret-*.txt", "  sk-from-file-123  \n")
	clientSecret := writeTemp(t, "client-*.txt", "oauth-secret\n")

	yamlContent := `
backend:
  type: openai
  url: http://localhost:8080
  api_key_file: ` + secretFile + `
  oauth:
    token_url: http://idp/token
    client_id: gw
    client_secret_file: ` + clientSecret + `
`
	cfg, err := Load(writeTemp(t, "config-*.yaml", yamlContent))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Backend.APIKey != "sk-from-file-123" {
		t.Errorf("backend.api_key = %q, want \"sk-from-file-123\" (from file, trimmed)", cfg.Backend.APIKey)
	}
	if cfg.Backend.OAuth.ClientSecret != "oauth-secret" {
		t.Errorf("backend.oauth.client_secret = %q", cfg.Backend.OAuth.ClientSecret)
	}
}

func TestFileReferenceStorage(t *testing.T) {
	clearEnv(t)
	dsnFile := writeTemp(t, "dsn-*.txt", "  postgres://user:pass@db:5432/app  \n")

	yamlContent := `
storage:
  type: postgres
  postgres:
    dsn_file: ` + dsnFile + `
`
	cfg, err := Load(writeTemp(t, "config-*.yaml", yamlContent))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Storage.Postgres.DSN != "postgres://user:pass@db:5432/app" {
		t.Errorf("storage.postgres.dsn = %q", cfg.Storage.Postgres.DSN)
	}

	urlFile := writeTemp(t, "redis-*.txt", "redis://cache:6379\n")
	cfg, err = Load(writeTemp(t, "config-*.yaml", "storage:\n  type: redis\n  redis:\n    url_file: "+urlFile+"\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Storage.Redis.URL != "redis://cache:6379" {
		t.Errorf("storage.redis.url = %q", cfg.Storage.Redis.URL)
	}
}

func TestFileReferenceMissingFile(t *testing.T) {
	clearEnv(t)
	yamlContent := `
backend:
  api_key_file: /nonexistent/secret
`
	_, err := Load(writeTemp(t, "config-*.yaml", yamlContent))
	if err == nil || !strings.Contains(err.Error(), "backend.api_key_file") {
		t.Errorf("error = %v, want backend.api_key_file failure", err)
	}
}

func TestFileReferenceDoesNotOverrideExplicitValue(t *testing.T) {
	clearEnv(t)
	secretFile := writeTemp(t, "secret-*.txt", "sk-from-file")

	yamlContent := `
backend:
  api_key: sk-explicit
  api_key_file: ` + secretFile + `
`
	cfg, err := Load(writeTemp(t, "config-*.yaml", yamlContent))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Backend.APIKey != "sk-explicit" {
		t.Errorf("backend.api_key = %q, want \"sk-explicit\" (explicit value should win over file)", cfg.Backend.APIKey)
	}
}

func TestFileDiscovery(t *testing.T) {
	clearEnv(t)

	tmpFile := writeTemp(t, "config-*.yaml", "backend:\n  url: http://explicit:11434\n")
	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load(explicit) error: %v", err)
	}
	if cfg.Backend.URL != "http://explicit:11434" {
		t.Errorf("explicit path: url = %q", cfg.Backend.URL)
	}

	envFile := writeTemp(t, "envconfig-*.yaml", "backend:\n  url: http://env-config:11434\n")
	t.Setenv("LOCALRESP_CONFIG", envFile)

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load(LOCALRESP_CONFIG) error: %v", err)
	}
	if cfg.Backend.URL != "http://env-config:11434" {
		t.Errorf("LOCALRESP_CONFIG: url = %q", cfg.Backend.URL)
	}

	// The explicit path wins over LOCALRESP_CONFIG.
	cfg, err = Load(tmpFile)
	if err != nil {
		t.Fatalf("Load(explicit) error: %v", err)
	}
	if cfg.Backend.URL != "http://explicit:11434" {
		t.Errorf("explicit over env: url = %q", cfg.Backend.URL)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port must be in 1..65535"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"unknown backend", func(c *Config) { c.Backend.Type = "vllm" }, "backend.type must be"},
		{"missing url", func(c *Config) { c.Backend.URL = "" }, "backend.url is required"},
		{"relative url", func(c *Config) { c.Backend.URL = "localhost:11434" }, "backend.url must be an absolute URL"},
		{"negative timeout", func(c *Config) { c.Backend.IdleTimeout = -time.Second }, "backend.idle_timeout"},
		{"oauth on ollama", func(c *Config) {
			c.Backend.OAuth = OAuthConfig{TokenURL: "http://idp", ClientID: "a", ClientSecret: "b"}
		}, "backend.oauth requires"},
		{"oauth without secret", func(c *Config) {
			c.Backend.Type = BackendOpenAI
			c.Backend.OAuth = OAuthConfig{TokenURL: "http://idp", ClientID: "a"}
		}, "client_secret are required"},
		{"temperature range", func(c *Config) { v := 3.0; c.Engine.DefaultTemperature = &v }, "engine.default_temperature"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "etcd" }, "storage.type must be"},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = StoragePostgres }, "storage.postgres.dsn"},
		{"redis without url", func(c *Config) { c.Storage.Type = StorageRedis }, "storage.redis.url"},
		{"sqlite without path", func(c *Config) {
			c.Storage.Type = StorageSQLite
			c.Storage.SQLite.Path = ""
		}, "storage.sqlite.path"},
		{"negative rate", func(c *Config) { c.RateLimit.RequestsPerSecond = -1 }, "rate_limit.requests_per_second"},
		{"bad exporter", func(c *Config) { c.Observability.Tracing.Exporter = "zipkin" }, "observability.tracing.exporter"},
		{"bad sample ratio", func(c *Config) { c.Observability.Tracing.SampleRatio = 2 }, "sample_ratio"},
		{"bad metrics path", func(c *Config) { c.Observability.Metrics.Path = "metrics" }, "observability.metrics.path"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"web search relative url", func(c *Config) { c.WebSearch.URL = "searxng:8080" }, "web_search.url"},
		{"web search unknown backend", func(c *Config) {
			c.WebSearch.URL = "http://searxng:8080"
			c.WebSearch.Backend = "google"
		}, "web_search.backend"},
		{"negative tool turns", func(c *Config) { c.Engine.MaxToolTurns = -1 }, "engine.max_tool_turns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidationReportsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	cfg.Backend.Type = "nope"
	cfg.Storage.Type = "nope"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"server.port", "backend.type", "storage.type"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q is missing %s", err, want)
		}
	}
}

// writeTemp creates a temporary file with the given content and returns its path.
// The file is removed when the test finishes.
func writeTemp(t *testing.T, pattern, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), pattern)
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return f.Name()
}
