package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/KodiakSheets/services/gateway/datatypes"
)

const (
	// openaiRequestsPerSecond caps outbound request rate so a burst of
	// locator calls cannot trip the account-level rate limit.
	openaiRequestsPerSecond = 2
	openaiBurst             = 4

	maxAPIRetries  = 3
	retryBaseDelay = 500 * time.Millisecond
)

type OpenAIClient struct {
	key        *SecureKey
	model      string
	limiter    *rate.Limiter
	httpClient *http.Client
}

func NewOpenAIClient() (*OpenAIClient, error) {
	key, err := LoadSecureKey("OPENAI_API_KEY", "openai_api_key")
	if err != nil {
		return nil, err
	}
	model := os.Getenv("OPENAI_MODEL") // e.g., "gpt-4o"
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		key:        key,
		model:      model,
		limiter:    rate.NewLimiter(rate.Limit(openaiRequestsPerSecond), openaiBurst),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// Generate implements the LLMClient interface
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	systemRoleContent := os.Getenv("KODIAK_SYSTEM_PROMPT")
	if systemRoleContent == "" {
		systemRoleContent = "You are a spreadsheet analysis assistant."
	}
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemRoleContent},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	return o.chatCompletion(ctx, "OpenAIClient.Generate", messages, params)
}

// Chat implements the LLMClient interface
func (o *OpenAIClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return o.chatCompletion(ctx, "OpenAIClient.Chat", converted, params)
}

func (o *OpenAIClient) chatCompletion(ctx context.Context, spanName string,
	messages []openai.ChatCompletionMessage, params GenerationParams) (string, error) {

	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))
	span.SetAttributes(attribute.Int("llm.num_messages", len(messages)))

	if err := o.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("rate limiter wait: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	slog.Debug("Generating text via OpenAI", "model", o.model)
	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt < maxAPIRetries; attempt++ {
		if attempt > 0 {
			// Shifted backoff: 500ms, 1s, 2s.
			delay := retryBaseDelay << (attempt - 1)
			slog.Warn("Retrying OpenAI call", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}
		lastErr = o.key.Use(func(apiKey string) error {
			config := openai.DefaultConfig(apiKey)
			config.HTTPClient = o.httpClient
			client := openai.NewClientWithConfig(config)
			var callErr error
			resp, callErr = client.CreateChatCompletion(ctx, req)
			return callErr
		})
		if lastErr == nil {
			break
		}
		if !isRetryableOpenAIError(lastErr) {
			break
		}
	}
	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
		slog.Error("OpenAI API call failed", "error", lastErr)
		return "", fmt.Errorf("OpenAI API call failed: %w", lastErr)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices or empty content")
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// isRetryableOpenAIError reports whether the call can be retried: rate
// limit responses and server-side errors, but never auth or bad-request
// failures.
func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return false
}
