// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the hosted provider adapters.
//
// Every adapter implements llm.Adapter on top of one shared transport that
// checks the API key, posts JSON and maps non-2xx responses to
// llm.UpstreamError using the provider's own error envelope.
//
// # Key Types
//
//   - OpenAIAdapter: OpenAI and Groq chat completions over SSE
//   - AnthropicAdapter: Anthropic Messages API over typed SSE events
//   - HuggingFaceAdapter: batch inference replayed word by word
//
// # Usage
//
//	a := cloud.NewGroq(cloud.Config{APIKey: os.Getenv("GROQ_API_KEY")})
//	text, err := a.Stream(ctx, llm.Request{Message: "Hello"}, emit)
//
// # Security
//
// API keys are never logged; requests log a short SHA-256 fingerprint and
// the credential headers are cleared once the response arrives. TLS 1.2 is
// the minimum for the shared client.
package cloud
