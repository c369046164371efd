// Package llm provides the model backends behind sheet selection and
// chunk summarization. Three interchangeable clients implement
// LLMClient: OpenAI-compatible endpoints (vLLM included), a local
// Ollama instance, and Anthropic's Messages API. The serve command
// picks one at startup from the backend config; everything above this
// package sees only the interface.
package llm

import (
	"context"

	"github.com/AleutianAI/KodiakSheets/services/gateway/datatypes"
)

// GenerationParams carries the sampling knobs a caller may override.
// Nil means "use the backend default"; each client maps the set fields
// onto its own wire names.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient is the contract every backend satisfies.
//
// Generate takes a single prompt and returns the completion text. Chat
// takes a full conversation and returns the assistant's next turn.
// Both must honor context cancellation; the locator runs them under
// tight deadlines and moves on without the answer when one expires.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)
}
