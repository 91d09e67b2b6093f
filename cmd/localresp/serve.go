package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rhuss/localresp/pkg/config"
	"github.com/rhuss/localresp/pkg/debug"
	"github.com/rhuss/localresp/pkg/engine"
	"github.com/rhuss/localresp/pkg/observability"
	transporthttp "github.com/rhuss/localresp/pkg/transport/http"
)

// serveFlags mirror the config fields that are most often set per run.
// A flag only overrides the loaded config when given explicitly.
type serveFlags struct {
	port       int
	backend    string
	backendURL string
	model      string
	storage    string
	logLevel   string
	debug      string
}

func newServeCmd() *cobra.Command {
	f := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Run the Responses API server.

Endpoints:
  POST   /v1/responses
  GET    /v1/responses/{id}
  GET    /v1/responses/{id}/input_items
  DELETE /v1/responses/{id}
  POST   /v1/responses/{id}/cancel
  GET    /healthz
  GET    /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, f, cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	addServeFlags(cmd, f)
	return cmd
}

func addServeFlags(cmd *cobra.Command, f *serveFlags) {
	fl := cmd.Flags()
	fl.IntVar(&f.port, "port", 0, "Port to listen on (default 8000)")
	fl.StringVar(&f.backend, "inference-backend", "", "Inference backend: ollama or openai")
	fl.StringVar(&f.backendURL, "backend-url", "", "Inference backend base URL")
	fl.StringVar(&f.model, "model", "", "Default model when a request names none")
	fl.StringVar(&f.storage, "storage", "", "Response store: memory, postgres, redis or sqlite")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level: ERROR, WARN, INFO, DEBUG or TRACE")
	fl.StringVar(&f.debug, "debug", "", "Comma-separated debug categories (backend, engine, http, storage, all)")
}

// applyFlags copies explicitly set flags into cfg and revalidates it.
func applyFlags(cmd *cobra.Command, f *serveFlags, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("port") {
		cfg.Server.Port = f.port
	}
	if changed("inference-backend") {
		cfg.Backend.Type = f.backend
	}
	if changed("backend-url") {
		cfg.Backend.URL = f.backendURL
	}
	if changed("model") {
		cfg.Backend.DefaultModel = f.model
	}
	if changed("storage") {
		cfg.Storage.Type = f.storage
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if changed("debug") {
		cfg.Logging.Debug = f.debug
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

// runServe builds every component from cfg and serves until ctx is done.
func runServe(ctx context.Context, cfg *config.Config) error {
	debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)
	logger := slog.Default()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		Insecure:    cfg.Observability.Tracing.Insecure,
		SampleRatio: cfg.Observability.Tracing.SampleRatio,
		ServiceName: "localresp",
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	b, err := newBackend(cfg)
	if err != nil {
		return fmt.Errorf("creating backend: %w", err)
	}
	defer b.Close()

	store, err := newStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer store.Close()

	search, err := newWebSearch(cfg)
	if err != nil {
		return fmt.Errorf("creating web search: %w", err)
	}

	eng, err := engine.New(b, store, engineConfig(cfg, search))
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	srv := transporthttp.NewServer(eng, store, serverOptions(cfg, logger)...)

	logger.Info("localresp configured",
		"backend", b.Name(),
		"backend_url", cfg.Backend.URL,
		"model", cfg.Backend.DefaultModel,
		"storage", cfg.Storage.Type,
		"web_search", search != nil,
		"tracing", cfg.Observability.Tracing.Enabled,
		"debug", debug.Categories())

	return srv.Run(ctx)
}
