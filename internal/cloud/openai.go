// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/chatrelay/internal/llm"
	"github.com/jeranaias/chatrelay/internal/stream"
	"github.com/jeranaias/chatrelay/internal/util"
)

// Endpoints and default models for the OpenAI-compatible providers.
const (
	DefaultOpenAIURL   = "https://api.openai.com/v1"
	DefaultOpenAIModel = "gpt-3.5-turbo"

	DefaultGroqURL   = "https://api.groq.com/openai/v1"
	DefaultGroqModel = "llama3-70b-8192"
)

// OpenAIModels are the suggested models for the openai provider.
var OpenAIModels = []string{"gpt-3.5-turbo", "gpt-4", "gpt-4o", "gpt-4o-mini"}

// GroqModels are the suggested models for the groq provider.
var GroqModels = []string{"llama3-70b-8192", "llama3-8b-8192", "mixtral-8x7b-32768", "gemma-7b-it"}

// =============================================================================
// OPENAI-COMPATIBLE ADAPTER
// =============================================================================

// OpenAIAdapter streams chat completions from any OpenAI-compatible
// /chat/completions endpoint. OpenAI and Groq share it.
type OpenAIAdapter struct {
	client
}

var _ llm.Adapter = (*OpenAIAdapter)(nil)

// NewOpenAI returns the adapter for api.openai.com.
func NewOpenAI(cfg Config) *OpenAIAdapter {
	return &OpenAIAdapter{client: newClient(llm.ProviderOpenAI, cfg, DefaultOpenAIURL, DefaultOpenAIModel, openAIErrorMessage)}
}

// NewGroq returns the adapter for Groq's OpenAI-compatible endpoint.
func NewGroq(cfg Config) *OpenAIAdapter {
	return &OpenAIAdapter{client: newClient(llm.ProviderGroq, cfg, DefaultGroqURL, DefaultGroqModel, openAIErrorMessage)}
}

// Stream posts a single user message with stream=true and decodes the SSE
// response. Each choices[0].delta.content is a fragment; [DONE] ends the
// stream. Payloads that do not decode are logged and skipped.
func (a *OpenAIAdapter) Stream(ctx context.Context, req llm.Request, emit llm.EmitFunc) (string, error) {
	if err := a.requireKey(); err != nil {
		return "", err
	}

	body := openai.ChatCompletionRequest{
		Model: llm.ModelOrDefault(a, req),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Message},
		},
		Stream: true,
	}
	resp, err := a.post(ctx, a.baseURL+"/chat/completions", body, map[string]string{
		"Authorization": "Bearer " + a.apiKey,
		"Accept":        "text/event-stream",
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	acc := llm.NewAccumulator(emit)
	err = stream.Decode(ctx, resp.Body, func(line string) error {
		payload, ok := stream.SSEData(line)
		if !ok {
			return nil
		}
		if stream.IsDone(payload) {
			return stream.ErrStop
		}

		var frame openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			slog.Warn("STREAM_MALFORMED_FRAME", "provider", a.name, "payload", util.Preview(payload, 80), "err", err)
			return nil
		}
		if len(frame.Choices) == 0 {
			return nil
		}
		return acc.Add(frame.Choices[0].Delta.Content)
	})
	return acc.Text(), err
}

// openAIErrorMessage reads {"error":{"message":...}} bodies.
func openAIErrorMessage(body []byte) string {
	var envelope openai.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return ""
	}
	return envelope.Error.Message
}
