// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jeranaias/chatrelay/internal/llm"
	"github.com/jeranaias/chatrelay/internal/stream"
	"github.com/jeranaias/chatrelay/internal/util"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

const (
	// DefaultBaseURL is the local Ollama endpoint.
	// Uses explicit IPv4 address instead of localhost to avoid IPv6 resolution issues.
	DefaultBaseURL = "http://127.0.0.1:11434"

	// DefaultModel is used when a request names no model.
	DefaultModel = "llama2"
)

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	BaseURL string

	// DefaultModel to use if none specified (default: "llama2")
	DefaultModel string

	// HTTPClient overrides the streaming client. Tests inject httptest clients here.
	HTTPClient *http.Client
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      DefaultBaseURL,
		DefaultModel: DefaultModel,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client streams completions from a local Ollama server. It implements
// llm.Adapter and is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

var _ llm.Adapter = (*Client)(nil)

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.DefaultModel == "" {
		config.DefaultModel = DefaultModel
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		// No client timeout: streams are bounded by the request context.
		httpClient = &http.Client{}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}
}

// Name implements llm.Adapter.
func (c *Client) Name() string {
	return llm.ProviderLocal
}

// DefaultModel implements llm.Adapter.
func (c *Client) DefaultModel() string {
	return c.config.DefaultModel
}

// BaseURL returns the configured endpoint.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// STREAMING GENERATE
// =============================================================================

// Stream sends a streaming /api/generate request. Each line with a non-empty
// response is emitted as a fragment; a line with done=true ends the stream
// regardless of what follows. Malformed lines are logged and skipped.
func (c *Client) Stream(ctx context.Context, req llm.Request, emit llm.EmitFunc) (string, error) {
	model := llm.ModelOrDefault(c, req)
	body, err := json.Marshal(GenerateRequest{
		Model:  model,
		Prompt: req.Message,
		Stream: true,
	})
	if err != nil {
		return "", &llm.ProtocolError{Provider: c.Name(), Reason: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &llm.UpstreamError{Provider: c.Name(), Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &llm.UpstreamError{Provider: c.Name(), Message: "ollama is not reachable", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := c.handleErrorResponse(resp)
		if IsModelNotFound(err) {
			slog.Warn("LOCAL_MODEL_NOT_FOUND", "model", model, "base_url", c.BaseURL(), "hint", "ollama pull "+model)
		}
		return "", err
	}
	if resp.Body == http.NoBody {
		return "", &llm.ProtocolError{Provider: c.Name(), Reason: "response has no body"}
	}

	acc := llm.NewAccumulator(emit)
	err = stream.Decode(ctx, resp.Body, func(line string) error {
		if strings.TrimSpace(line) == "" {
			return nil
		}
		var chunk GenerateResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			slog.Warn("LOCAL_MALFORMED_LINE", "line", util.Preview(line, 80), "err", err)
			return nil
		}
		if err := acc.Add(chunk.Response); err != nil {
			return err
		}
		if chunk.Done {
			return stream.ErrStop
		}
		return nil
	})
	if err != nil {
		return acc.Text(), err
	}
	return acc.Text(), nil
}

// handleErrorResponse converts a non-200 response into an UpstreamError,
// using Ollama's {"error": "..."} body when present.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var ollamaErr OllamaError
	message := ""
	if err := json.Unmarshal(raw, &ollamaErr); err == nil && ollamaErr.Error != "" {
		message = ollamaErr.Error
	}
	if resp.StatusCode == http.StatusNotFound && message == "" {
		message = "model not found"
	}
	return llm.NewUpstreamError(c.Name(), resp.StatusCode, raw, message)
}

// IsModelNotFound checks if an error is a model not found response.
func IsModelNotFound(err error) bool {
	var ue *llm.UpstreamError
	if errors.As(err, &ue) {
		return ue.Provider == llm.ProviderLocal && ue.Status == http.StatusNotFound
	}
	return false
}
