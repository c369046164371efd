package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/KodiakSheets/services/gateway/datatypes"
)

var tracer = otel.Tracer("kodiak.llm") // Shared by all backend clients

// Generation defaults applied when the caller leaves a knob unset.
// Low temperature because most Kodiak prompts want deterministic
// answers about grid structure, not prose.
const (
	defaultTemperature = float32(0.2)
	defaultTopK        = 20
	defaultTopP        = float32(0.9)
	defaultMaxTokens   = 4096
)

// OllamaClient talks to a local Ollama server over its native REST API.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []datatypes.Message `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message   datatypes.Message `json:"message"`
	CreatedAt string            `json:"created_at"`
	Done      bool              `json:"done"`
}

// NewOllamaClient builds a client from OLLAMA_BASE_URL and
// OLLAMA_MODEL, defaulting to the local instance and llama3.1. The
// generous timeout covers cold model loads on first use.
func NewOllamaClient() (*OllamaClient, error) {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
		slog.Warn("OLLAMA_BASE_URL not set, assuming local instance", "base_url", baseURL)
	}
	model := os.Getenv("OLLAMA_MODEL")
	if model == "" {
		model = "llama3.1"
		slog.Warn("OLLAMA_MODEL not set, defaulting to llama3.1")
	}
	slog.Info("Ollama client ready", "base_url", baseURL, "model", model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
	}, nil
}

// buildOllamaOptions maps GenerationParams onto Ollama's options block.
// Every knob gets a value; Ollama's own defaults drift between
// versions, and sheet selection needs repeatable output.
func buildOllamaOptions(params GenerationParams) map[string]any {
	options := map[string]any{
		"temperature": defaultTemperature,
		"top_k":       defaultTopK,
		"top_p":       defaultTopP,
		"num_predict": defaultMaxTokens,
	}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}

// Generate implements LLMClient against /api/generate.
func (o *OllamaClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {

	ctx, span := tracer.Start(ctx, "OllamaClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	payload := ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Options: buildOllamaOptions(params),
	}
	var out ollamaGenerateResponse
	if err := o.post(ctx, "/api/generate", payload, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return out.Response, nil
}

// Chat implements LLMClient against /api/chat.
func (o *OllamaClient) Chat(ctx context.Context, messages []datatypes.Message,
	params GenerationParams) (string, error) {

	ctx, span := tracer.Start(ctx, "OllamaClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	payload := ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Options:  buildOllamaOptions(params),
	}
	var out ollamaChatResponse
	if err := o.post(ctx, "/api/chat", payload, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	if out.Message.Role != "assistant" {
		slog.Warn("Ollama chat answered with unexpected role", "role", out.Message.Role)
	}
	return out.Message.Content, nil
}

// post sends payload as JSON and decodes the 200 response into out.
// Both endpoints share the same envelope and error conventions.
func (o *OllamaClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return o.statusError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// statusError turns a non-200 into something actionable. A 404 naming
// the model almost always means it was never pulled.
func (o *OllamaClient) statusError(status int, body []byte) error {
	if status == http.StatusNotFound {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil &&
			strings.Contains(apiErr.Error, "not found") {
			return fmt.Errorf("model %q is not available; run `ollama pull %s` first", o.model, o.model)
		}
	}
	return fmt.Errorf("server returned status %d: %s", status, body)
}
