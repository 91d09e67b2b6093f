package engine

import "github.com/rhuss/localresp/pkg/api"

// Config holds configuration for the core engine.
type Config struct {
	// DefaultModel is used when the request omits the model field.
	// Empty string means a model is always required in the request.
	DefaultModel string

	// DefaultTemperature and DefaultMaxOutputTokens apply when the request
	// leaves them unset. Nil and zero mean "let the backend decide".
	DefaultTemperature     *float64
	DefaultMaxOutputTokens int

	// MaxHistoryDepth caps how many stored responses are followed through
	// previous_response_id. Zero or negative means the default of 100.
	MaxHistoryDepth int

	// Validation bounds request sizes.
	Validation api.ValidationConfig

	// WebSearch runs the web_search tool. Nil rejects requests that ask
	// for it.
	WebSearch WebSearcher

	// MaxToolTurns caps backend turns per response when the model keeps
	// calling web_search. Zero or negative means the default of 8.
	MaxToolTurns int

	// Warn receives non-fatal problems such as failed store writes.
	// Nil installs a handler that logs and counts them.
	Warn WarningFunc
}

// maxHistoryDepth returns the effective chain depth, defaulting to 100.
func (c Config) maxHistoryDepth() int {
	if c.MaxHistoryDepth <= 0 {
		return 100
	}
	return c.MaxHistoryDepth
}

func (c Config) maxToolTurns() int {
	if c.MaxToolTurns <= 0 {
		return 8
	}
	return c.MaxToolTurns
}

// validation returns the effective validation limits.
func (c Config) validation() api.ValidationConfig {
	if c.Validation == (api.ValidationConfig{}) {
		return api.DefaultValidationConfig()
	}
	return c.Validation
}
