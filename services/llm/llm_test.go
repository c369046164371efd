// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/KodiakSheets/services/gateway/datatypes"
)

// newTestOllamaClient creates an OllamaClient pointing at a test server,
// bypassing environment configuration.
func newTestOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		model:      model,
	}
}

func TestBuildOllamaOptions_Defaults(t *testing.T) {
	t.Parallel()

	options := buildOllamaOptions(GenerationParams{})

	if got := options["temperature"]; got != float32(0.2) {
		t.Errorf("Expected default temperature 0.2, got %v", got)
	}
	if got := options["top_k"]; got != 20 {
		t.Errorf("Expected default top_k 20, got %v", got)
	}
	if got := options["top_p"]; got != float32(0.9) {
		t.Errorf("Expected default top_p 0.9, got %v", got)
	}
	if got := options["num_predict"]; got != 4096 {
		t.Errorf("Expected default num_predict 4096, got %v", got)
	}
	if _, ok := options["stop"]; ok {
		t.Error("Expected no stop sequences by default")
	}
}

func TestBuildOllamaOptions_Overrides(t *testing.T) {
	t.Parallel()

	temp := float32(0.7)
	topK := 40
	topP := float32(0.5)
	maxTokens := 256
	options := buildOllamaOptions(GenerationParams{
		Temperature: &temp,
		TopK:        &topK,
		TopP:        &topP,
		MaxTokens:   &maxTokens,
		Stop:        []string{"END"},
	})

	if got := options["temperature"]; got != float32(0.7) {
		t.Errorf("Expected temperature 0.7, got %v", got)
	}
	if got := options["top_k"]; got != 40 {
		t.Errorf("Expected top_k 40, got %v", got)
	}
	if got := options["top_p"]; got != float32(0.5) {
		t.Errorf("Expected top_p 0.5, got %v", got)
	}
	if got := options["num_predict"]; got != 256 {
		t.Errorf("Expected num_predict 256, got %v", got)
	}
	stop, ok := options["stop"].([]string)
	if !ok || len(stop) != 1 || stop[0] != "END" {
		t.Errorf("Expected stop [END], got %v", options["stop"])
	}
}

func TestOllamaClient_Generate(t *testing.T) {
	t.Parallel()

	var captured ollamaGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:    captured.Model,
			Response: "The Budget sheet drives Forecast.",
			Done:     true,
		})
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	got, err := client.Generate(context.Background(), "Which sheets matter?", GenerationParams{})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if got != "The Budget sheet drives Forecast." {
		t.Errorf("Unexpected response text: %q", got)
	}
	if captured.Model != "test-model" {
		t.Errorf("Expected model test-model, got %q", captured.Model)
	}
	if captured.Prompt != "Which sheets matter?" {
		t.Errorf("Prompt not forwarded, got %q", captured.Prompt)
	}
	if captured.Stream {
		t.Error("Expected stream=false")
	}
}

func TestOllamaClient_Generate_ModelNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'missing-model' not found"}`))
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "missing-model")
	_, err := client.Generate(context.Background(), "hello", GenerationParams{})
	if err == nil {
		t.Fatal("Expected error for missing model")
	}
	if !strings.Contains(err.Error(), "ollama pull") {
		t.Errorf("Expected pull hint in error, got: %v", err)
	}
}

func TestOllamaClient_Chat(t *testing.T) {
	t.Parallel()

	var captured ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: datatypes.Message{Role: "assistant", Content: "Budget, Forecast"},
			Done:    true,
		})
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	messages := []datatypes.Message{
		{Role: "system", Content: "You select sheets."},
		{Role: "user", Content: "Where is Q3 revenue?"},
	}
	got, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if got != "Budget, Forecast" {
		t.Errorf("Unexpected chat answer: %q", got)
	}
	if len(captured.Messages) != 2 {
		t.Fatalf("Expected 2 messages forwarded, got %d", len(captured.Messages))
	}
	if captured.Messages[0].Role != "system" || captured.Messages[1].Role != "user" {
		t.Errorf("Message roles not preserved: %+v", captured.Messages)
	}
}

func TestOllamaClient_Chat_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"load failed"}`))
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	_, err := client.Chat(context.Background(), []datatypes.Message{{Role: "user", Content: "hi"}}, GenerationParams{})
	if err == nil {
		t.Fatal("Expected error on 500 response")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("Expected status in error, got: %v", err)
	}
}

func TestSecureKey_UseReturnsPlaintext(t *testing.T) {
	key := NewSecureKey("sk-test-12345")

	var seen string
	err := key.Use(func(plaintext string) error {
		// The plaintext is a zero-copy view of the locked buffer and is
		// wiped when Use returns; clone it to observe the value safely.
		seen = strings.Clone(plaintext)
		return nil
	})
	if err != nil {
		t.Fatalf("Use returned error: %v", err)
	}
	if seen != "sk-test-12345" {
		t.Errorf("Expected sealed key back, got %q", seen)
	}
}

func TestSecureKey_UsePropagatesError(t *testing.T) {
	key := NewSecureKey("sk-test-12345")

	wantErr := errors.New("call failed")
	err := key.Use(func(string) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected wrapped call error, got: %v", err)
	}
}

func TestLoadSecureKey_FromEnv(t *testing.T) {
	t.Setenv("KODIAK_TEST_API_KEY", "  sk-env-key  ")

	key, err := LoadSecureKey("KODIAK_TEST_API_KEY", "kodiak_test_api_key")
	if err != nil {
		t.Fatalf("LoadSecureKey returned error: %v", err)
	}
	var seen string
	if err := key.Use(func(plaintext string) error {
		// Clone: the zero-copy plaintext is wiped when Use returns.
		seen = strings.Clone(plaintext)
		return nil
	}); err != nil {
		t.Fatalf("Use returned error: %v", err)
	}
	if seen != "sk-env-key" {
		t.Errorf("Expected trimmed key, got %q", seen)
	}
}

func TestLoadSecureKey_Missing(t *testing.T) {
	t.Setenv("KODIAK_TEST_ABSENT_KEY", "")

	_, err := LoadSecureKey("KODIAK_TEST_ABSENT_KEY", "kodiak_test_absent_key")
	if !errors.Is(err, ErrKeyMissing) {
		t.Errorf("Expected ErrKeyMissing, got: %v", err)
	}
}

func TestIsRetryableOpenAIError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"server error", &openai.APIError{HTTPStatusCode: http.StatusBadGateway}, true},
		{"auth failure", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, false},
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, false},
		{"plain error", errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isRetryableOpenAIError(tc.err); got != tc.want {
				t.Errorf("isRetryableOpenAIError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestBuildAnthropicPayload_SystemHandling(t *testing.T) {
	t.Parallel()

	messages := []datatypes.Message{
		{Role: "system", Content: "You select sheets."},
		{Role: "user", Content: "Where is revenue?"},
		{Role: "assistant", Content: "In Budget."},
	}
	payload := buildAnthropicPayload("claude-test", messages, GenerationParams{})

	if len(payload.Messages) != 2 {
		t.Fatalf("Expected system turn hoisted out, got %d messages", len(payload.Messages))
	}
	if len(payload.System) != 1 || payload.System[0].Text != "You select sheets." {
		t.Errorf("System block not populated: %+v", payload.System)
	}
	if payload.System[0].CacheControl != nil {
		t.Error("Short system prompt should not be marked cacheable")
	}
	if payload.MaxTokens != 4096 {
		t.Errorf("Expected default max tokens 4096, got %d", payload.MaxTokens)
	}
}

func TestBuildAnthropicPayload_LongSystemCached(t *testing.T) {
	t.Parallel()

	longPrompt := strings.Repeat("sheet selection guidance. ", 60)
	messages := []datatypes.Message{
		{Role: "system", Content: longPrompt},
		{Role: "user", Content: "hello"},
	}
	payload := buildAnthropicPayload("claude-test", messages, GenerationParams{})

	if len(payload.System) != 1 {
		t.Fatalf("Expected one system block, got %d", len(payload.System))
	}
	if payload.System[0].CacheControl == nil || payload.System[0].CacheControl.Type != "ephemeral" {
		t.Errorf("Long system prompt should carry ephemeral cache control, got %+v", payload.System[0].CacheControl)
	}
}

func TestBuildAnthropicPayload_ParamsMapped(t *testing.T) {
	t.Parallel()

	temp := float32(0.3)
	maxTokens := 1024
	payload := buildAnthropicPayload("claude-test", []datatypes.Message{
		{Role: "user", Content: "hi"},
	}, GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        []string{"\n\n"},
	})

	if payload.Temperature == nil || *payload.Temperature != 0.3 {
		t.Errorf("Temperature not mapped: %+v", payload.Temperature)
	}
	if payload.MaxTokens != 1024 {
		t.Errorf("Expected max tokens override 1024, got %d", payload.MaxTokens)
	}
	if len(payload.StopSeqs) != 1 || payload.StopSeqs[0] != "\n\n" {
		t.Errorf("Stop sequences not mapped: %v", payload.StopSeqs)
	}
}
