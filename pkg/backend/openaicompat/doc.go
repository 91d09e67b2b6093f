// Package openaicompat adapts any OpenAI-compatible Chat Completions server
// (vLLM, llama.cpp, LiteLLM, LocalAI) to the backend contract. Requests and
// SSE chunks are handled by the official openai-go SDK; this package maps
// the chat message history, demultiplexes indexed tool-call deltas into
// stable call ids, and classifies SDK errors.
package openaicompat
