// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/chatrelay/internal/llm"
)

// Configuration constants shared by the hosted providers.
const (
	// MaxResponseSize is the maximum allowed non-streaming response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024

	// maxErrorRead bounds how much of an error body is read.
	maxErrorRead = 64 * 1024
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// sharedStreamingClient has no timeout; every call is bounded by its context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// Config configures one hosted provider adapter.
type Config struct {
	// APIKey is sent with every request. Blank makes Stream fail with
	// llm.ConfigurationError before any network call.
	APIKey string

	// BaseURL overrides the provider endpoint. Tests point it at httptest.
	BaseURL string

	// DefaultModel is used when a request names no model.
	DefaultModel string

	// HTTPClient overrides the shared streaming client.
	HTTPClient *http.Client
}

// =============================================================================
// SHARED TRANSPORT
// =============================================================================

// client is the transport shared by every hosted adapter.
type client struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	httpClient   *http.Client

	// errorMessage extracts a human-readable message from the provider's
	// error envelope. Empty means "use the status text".
	errorMessage func(body []byte) string
}

func newClient(name string, cfg Config, defaultBaseURL, defaultModel string, errorMessage func([]byte) string) client {
	c := client{
		name:         name,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
		httpClient:   cfg.HTTPClient,
		errorMessage: errorMessage,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.defaultModel == "" {
		c.defaultModel = defaultModel
	}
	if c.httpClient == nil {
		c.httpClient = sharedStreamingClient
	}
	return c
}

// Name implements llm.Adapter.
func (c *client) Name() string {
	return c.name
}

// DefaultModel implements llm.Adapter.
func (c *client) DefaultModel() string {
	return c.defaultModel
}

// IsConfigured returns true if the adapter has an API key.
func (c *client) IsConfigured() bool {
	return c.apiKey != ""
}

// requireKey fails fast when no API key is configured.
func (c *client) requireKey() error {
	if c.apiKey == "" {
		return &llm.ConfigurationError{Provider: c.name, Field: "api_key"}
	}
	return nil
}

// keyFingerprint returns a short hash of the API key for logging.
// SECURITY: Never log any fragment of the key itself.
func (c *client) keyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// post sends body as JSON and returns the response once a 2xx status has
// been received. Non-2xx responses are converted to llm.UpstreamError and
// their bodies closed. A cancelled ctx is reported as ctx.Err().
func (c *client) post(ctx context.Context, url string, body any, headers map[string]string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &llm.ProtocolError{Provider: c.name, Reason: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &llm.UpstreamError{Provider: c.name, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	slog.Debug("UPSTREAM_REQUEST", "provider", c.name, "path", req.URL.Path, "key", c.keyFingerprint())
	start := time.Now()
	resp, err := c.httpClient.Do(req)

	// SECURITY: Clear credentials so the request can not be logged with them.
	req.Header.Del("Authorization")
	req.Header.Del("x-api-key")

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &llm.UpstreamError{Provider: c.name, Message: "request failed", Cause: err}
	}
	slog.Debug("UPSTREAM_RESPONSE", "provider", c.name, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, c.handleErrorResponse(resp)
	}
	if resp.Body == http.NoBody {
		return nil, &llm.ProtocolError{Provider: c.name, Reason: "response has no body"}
	}
	return resp, nil
}

// handleErrorResponse converts a non-2xx response into an UpstreamError.
func (c *client) handleErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorRead))
	message := ""
	if c.errorMessage != nil {
		message = c.errorMessage(raw)
	}
	return llm.NewUpstreamError(c.name, resp.StatusCode, raw, message)
}

// readResponse reads a non-streaming body with a size limit.
//
// SECURITY: Response size limit prevents memory exhaustion attacks.
func readResponse(provider string, resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, &llm.UpstreamError{Provider: provider, Status: resp.StatusCode, Message: "failed to read response", Cause: err}
	}
	if len(body) > MaxResponseSize {
		return nil, &llm.ProtocolError{Provider: provider, Reason: fmt.Sprintf("response exceeded maximum size of %d bytes", MaxResponseSize)}
	}
	return body, nil
}
