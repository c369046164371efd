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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/KodiakSheets/services/gateway/datatypes"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicBaseURL    = "https://api.anthropic.com/v1/messages"

	// System prompts longer than this are marked cacheable so repeated
	// locator calls reuse the provider-side prompt cache.
	anthropicCacheThreshold = 1024
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"` // Top-level system prompt
	MaxTokens int                `json:"max_tokens"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// --- Client Implementation ---

type AnthropicClient struct {
	httpClient *http.Client
	key        *SecureKey
	model      string
}

func NewAnthropicClient() (*AnthropicClient, error) {
	key, err := LoadSecureKey("ANTHROPIC_API_KEY", "anthropic_api_key")
	if err != nil {
		return nil, err
	}

	model := os.Getenv("CLAUDE_MODEL")
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
		slog.Info("CLAUDE_MODEL not set, using default", "model", model)
	}

	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		key:        key,
		model:      model,
	}, nil
}

// Generate implements LLMClient by wrapping the prompt as a single
// user turn; the Messages API has no separate completion endpoint.
func (a *AnthropicClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return a.Chat(ctx, []datatypes.Message{{Role: "user", Content: prompt}}, params)
}

// buildAnthropicPayload converts generic chat messages into the Messages
// API shape. System turns ride in the top-level system field, not the
// message list; long system prompts are marked cacheable.
func buildAnthropicPayload(model string, messages []datatypes.Message, params GenerationParams) anthropicRequest {
	var apiMessages []anthropicMessage
	var systemPrompt string

	for _, msg := range messages {
		if strings.ToLower(msg.Role) == "system" {
			systemPrompt = msg.Content
			continue
		}
		apiMessages = append(apiMessages, anthropicMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	var systemBlocks []systemBlock
	if systemPrompt != "" {
		block := systemBlock{
			Type: "text",
			Text: systemPrompt,
		}
		if len(systemPrompt) > anthropicCacheThreshold {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		systemBlocks = append(systemBlocks, block)
	}

	reqPayload := anthropicRequest{
		Model:       model,
		Messages:    apiMessages,
		System:      systemBlocks,
		MaxTokens:   4096,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
	}
	if params.MaxTokens != nil {
		reqPayload.MaxTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		reqPayload.StopSeqs = params.Stop
	}
	return reqPayload
}

// Chat implements LLMClient against the Messages API.
func (a *AnthropicClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "AnthropicClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", a.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	reqBodyBytes, err := json.Marshal(buildAnthropicPayload(a.model, messages, params))
	if err != nil {
		return "", fmt.Errorf("marshaling anthropic request: %w", err)
	}

	// The API key only exists in plaintext inside this closure.
	var bodyBytes []byte
	var statusCode int
	err = a.key.Use(func(apiKey string) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, anthropicBaseURL, bytes.NewReader(reqBodyBytes))
		if reqErr != nil {
			return fmt.Errorf("building anthropic request: %w", reqErr)
		}
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", anthropicAPIVersion)
		req.Header.Set("content-type", "application/json")

		resp, doErr := a.httpClient.Do(req)
		if doErr != nil {
			return fmt.Errorf("calling anthropic: %w", doErr)
		}
		defer resp.Body.Close()

		statusCode = resp.StatusCode
		bodyBytes, doErr = io.ReadAll(resp.Body)
		if doErr != nil {
			return fmt.Errorf("reading anthropic response: %w", doErr)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	slog.Debug("Anthropic responded", "status", statusCode, "body_length", len(bodyBytes))

	if statusCode != http.StatusOK {
		span.SetStatus(codes.Error, fmt.Sprintf("anthropic status %d", statusCode))
		return "", fmt.Errorf("anthropic returned status %d: %s", statusCode, string(bodyBytes))
	}

	text, err := extractAnthropicText(bodyBytes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

// extractAnthropicText concatenates the text blocks of a Messages API
// response, surfacing the in-band error object when present.
func extractAnthropicText(body []byte) (string, error) {
	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("parsing anthropic response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("anthropic error %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	var b strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("anthropic response carried no text blocks")
	}
	return b.String(), nil
}
