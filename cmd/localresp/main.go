// Command localresp serves the Responses API in front of a local inference
// backend (Ollama or any OpenAI-compatible Chat Completions server).
//
// Run "localresp serve --help" for flags. Configuration also comes from a
// YAML file and LOCALRESP_* environment variables; see pkg/config.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("localresp failed", "error", err)
		os.Exit(1)
	}
}
