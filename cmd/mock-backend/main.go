// Command mock-backend runs a deterministic inference server for local
// development and end-to-end tests. It speaks both Ollama's /api/chat
// (NDJSON) and OpenAI's /v1/chat/completions (SSE), and picks a script
// from the last user message:
//
//	"fail"               - 503 before any output
//	"think"              - reasoning, then text
//	"count from 1 to 5"  - "1, 2, 3, 4, 5"
//	"long story"         - text cut off with finish reason "length"
//	any request w/ tools - one call to the first tool
//	anything else        - "Hello, nice day!"
//
// Configuration:
//
//	MOCK_PORT        - Listen port (default: 11435)
//	MOCK_TOKEN_DELAY - Pause between chunks, e.g. "50ms" (default: 0)
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "11435"
	}
	var delay time.Duration
	if v := os.Getenv("MOCK_TOKEN_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Error("invalid MOCK_TOKEN_DELAY", "value", v, "error", err)
			os.Exit(1)
		}
		delay = d
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newMux(delay),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port, "token_delay", delay)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func newMux(delay time.Duration) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", ollamaChat(delay))
	mux.HandleFunc("GET /api/tags", ollamaTags)
	mux.HandleFunc("POST /v1/chat/completions", openaiChat(delay))
	mux.HandleFunc("GET /v1/models", openaiModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

// pause waits between chunks and reports false once the client is gone.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
