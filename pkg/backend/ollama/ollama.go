// Package ollama adapts a local Ollama server to the backend contract using
// the official Ollama API client.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ollamaapi "github.com/ollama/ollama/api"

	"github.com/rhuss/localresp/pkg/backend"
	"github.com/rhuss/localresp/pkg/debug"
)

// DefaultBaseURL is where a local Ollama listens by default.
const DefaultBaseURL = "http://localhost:11434"

// Config holds the configuration for the Ollama backend.
type Config struct {
	// BaseURL is the Ollama server URL (e.g., "http://localhost:11434").
	BaseURL string

	// Timeouts bound the wait for the first token and between tokens.
	Timeouts backend.Timeouts

	// HTTPClient overrides the HTTP client. Streaming requests must not use
	// a client-wide timeout; cancellation comes from the request context.
	HTTPClient *http.Client
}

// Backend implements backend.Backend for Ollama's /api/chat endpoint.
type Backend struct {
	cfg    Config
	client *ollamaapi.Client
}

var _ backend.Backend = (*Backend)(nil)

// New creates an Ollama backend.
func New(cfg Config) (*Backend, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("ollama: base URL %q must include scheme and host", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Backend{
		cfg:    cfg,
		client: ollamaapi.NewClient(base, httpClient),
	}, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return "ollama"
}

// Stream starts a streaming chat call.
func (b *Backend) Stream(ctx context.Context, req *backend.Request) (*backend.Stream, error) {
	chatReq, err := translateRequest(req)
	if err != nil {
		return nil, err
	}
	debug.Log("backend", "ollama chat request", "model", chatReq.Model,
		"messages", len(chatReq.Messages), "tools", len(chatReq.Tools))

	return backend.Start(ctx, b.cfg.Timeouts, func(ctx context.Context, emit func(backend.TokenEvent) error) error {
		conv := &converter{}
		err := b.client.Chat(ctx, chatReq, func(resp ollamaapi.ChatResponse) error {
			debug.Trace("backend", "ollama chunk", "done", resp.Done,
				"content", debug.Truncate(resp.Message.Content, 200), "tool_calls", len(resp.Message.ToolCalls))
			for _, ev := range conv.process(resp) {
				if err := emit(ev); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return mapError(err)
		}
		return nil
	})
}

// Close releases backend resources.
func (b *Backend) Close() error {
	return nil
}

func mapError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var statusErr ollamaapi.StatusError
	if errors.As(err, &statusErr) {
		msg := statusErr.ErrorMessage
		if msg == "" {
			msg = statusErr.Status
		}
		return backend.FromStatus(statusErr.StatusCode, msg)
	}
	return backend.Classify(err)
}
