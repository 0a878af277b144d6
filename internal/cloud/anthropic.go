// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jeranaias/chatrelay/internal/llm"
	"github.com/jeranaias/chatrelay/internal/stream"
	"github.com/jeranaias/chatrelay/internal/util"
)

// Anthropic Messages API settings.
const (
	DefaultAnthropicURL   = "https://api.anthropic.com"
	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"

	// AnthropicVersion is sent as the anthropic-version header.
	AnthropicVersion = "2023-06-01"

	// DefaultAnthropicMaxTokens caps the reply length.
	DefaultAnthropicMaxTokens = 1024
)

// AnthropicModels are the suggested models for the anthropic provider.
var AnthropicModels = []string{
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
	"claude-3-opus-20240229",
}

// anthropicRequest is the body of a streaming /v1/messages call.
type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicEvent covers every SSE payload type this adapter inspects.
type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *anthropicError `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// ANTHROPIC ADAPTER
// =============================================================================

// AnthropicAdapter streams replies from the Anthropic Messages API.
type AnthropicAdapter struct {
	client
	maxTokens int
}

var _ llm.Adapter = (*AnthropicAdapter)(nil)

// NewAnthropic returns the adapter for api.anthropic.com. A maxTokens of
// zero selects DefaultAnthropicMaxTokens.
func NewAnthropic(cfg Config, maxTokens int) *AnthropicAdapter {
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}
	return &AnthropicAdapter{
		client:    newClient(llm.ProviderAnthropic, cfg, DefaultAnthropicURL, DefaultAnthropicModel, anthropicErrorMessage),
		maxTokens: maxTokens,
	}
}

// Stream posts the message and decodes the typed SSE events. Only
// content_block_delta events contribute text; message_stop ends the stream
// and an error event aborts it with an UpstreamError.
func (a *AnthropicAdapter) Stream(ctx context.Context, req llm.Request, emit llm.EmitFunc) (string, error) {
	if err := a.requireKey(); err != nil {
		return "", err
	}

	body := anthropicRequest{
		Model:     llm.ModelOrDefault(a, req),
		MaxTokens: a.maxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Message}},
		Stream:    true,
	}
	resp, err := a.post(ctx, a.baseURL+"/v1/messages", body, map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": AnthropicVersion,
		"Accept":            "text/event-stream",
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

		var ev anthropicEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			slog.Warn("STREAM_MALFORMED_FRAME", "provider", a.name, "payload", util.Preview(payload, 80), "err", err)
			return nil
		}

		switch ev.Type {
		case "content_block_delta":
			return acc.Add(ev.Delta.Text)
		case "message_stop":
			return stream.ErrStop
		case "error":
			ue := llm.NewUpstreamError(a.name, 0, []byte(payload), "stream error")
			if ev.Error != nil && ev.Error.Message != "" {
				ue.Message = ev.Error.Message
			}
			return ue
		}
		return nil
	})
	return acc.Text(), err
}

// anthropicErrorMessage reads {"type":"error","error":{"message":...}} bodies.
func anthropicErrorMessage(body []byte) string {
	var envelope struct {
		Error *anthropicError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return ""
	}
	return envelope.Error.Message
}
