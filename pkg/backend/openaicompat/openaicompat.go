package openaicompat

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/rhuss/localresp/pkg/backend"
	"github.com/rhuss/localresp/pkg/debug"
)

// Config holds the configuration for an OpenAI-compatible backend.
type Config struct {
	// BaseURL is the server root or its /v1 prefix
	// (e.g., "http://localhost:8080" or "http://localhost:8080/v1").
	BaseURL string

	// APIKey is sent as a bearer token. Most local servers ignore it.
	APIKey string

	// OAuth enables the client-credentials flow for gateways that front
	// the backend with an identity provider. It takes precedence over APIKey.
	OAuth *OAuthConfig

	// MaxRetries is the SDK retry budget for failed connection attempts.
	MaxRetries int

	Timeouts   backend.Timeouts
	HTTPClient *http.Client
}

// OAuthConfig configures the OAuth2 client-credentials grant.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Backend implements backend.Backend for /v1/chat/completions.
type Backend struct {
	cfg    Config
	client openai.Client
}

var _ backend.Backend = (*Backend)(nil)

// New creates an OpenAI-compatible backend.
func New(cfg Config) (*Backend, error) {
	base, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	opts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.OAuth != nil {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		httpClient = cc.Client(ctx)
	} else {
		key := cfg.APIKey
		if key == "" {
			// The SDK reads OPENAI_API_KEY when no key is given; local
			// servers accept any value.
			key = "unused"
		}
		opts = append(opts, option.WithAPIKey(key))
	}
	opts = append(opts, option.WithHTTPClient(httpClient))

	return &Backend{cfg: cfg, client: openai.NewClient(opts...)}, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return "openai-compatible"
}

// Stream starts a streaming chat completion.
func (b *Backend) Stream(ctx context.Context, req *backend.Request) (*backend.Stream, error) {
	params, err := translateRequest(req)
	if err != nil {
		return nil, err
	}
	debug.Log("backend", "chat completions request", "model", req.Model,
		"messages", len(params.Messages), "tools", len(params.Tools))

	return backend.Start(ctx, b.cfg.Timeouts, func(ctx context.Context, emit func(backend.TokenEvent) error) error {
		stream := b.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		demux := newDemuxer()
		for stream.Next() {
			chunk := stream.Current()
			if debug.TraceIsEnabled("backend") {
				debug.Trace("backend", "chat completions chunk", "raw", debug.Truncate(chunk.RawJSON(), 500))
			}
			for _, ev := range demux.process(chunk) {
				if err := emit(ev); err != nil {
					return err
				}
			}
		}
		if err := stream.Err(); err != nil {
			return mapError(err)
		}
		fin, ok := demux.finish()
		if !ok {
			return nil
		}
		return emit(fin)
	})
}

// Close releases backend resources.
func (b *Backend) Close() error {
	return nil
}

func normalizeBaseURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("openaicompat: base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return "", fmt.Errorf("openaicompat: invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("openaicompat: base URL %q must include scheme and host", raw)
	}
	if !strings.HasSuffix(u.Path, "/v1") {
		u.Path += "/v1"
	}
	return u.String() + "/", nil
}
