// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm defines the contract shared by every provider adapter.
//
// An Adapter turns a Request into a stream of text fragments. Each fragment
// is handed to an EmitFunc together with the running total, and Stream
// returns the final text once the upstream signals completion.
//
// # Key Types
//
//   - Request: normalized input to any adapter (message + model)
//   - Adapter: provider-specific protocol translator
//   - ConfigurationError, UpstreamError, ProtocolError: adapter failures
package llm

import (
	"context"
	"strings"
)

// =============================================================================
// PROVIDER KEYS
// =============================================================================

// Provider keys accepted in the selectedAPI field.
const (
	ProviderLocal       = "local"
	ProviderOpenAI      = "openai"
	ProviderGroq        = "groq"
	ProviderAnthropic   = "anthropic"
	ProviderHuggingFace = "huggingface"
)

// =============================================================================
// CONTRACT
// =============================================================================

// Request is the provider-neutral input to an adapter.
type Request struct {
	// Message is the user's prompt.
	Message string

	// Model is the provider model identifier. Empty means the adapter default.
	Model string
}

// EmitFunc receives each decoded fragment and the text accumulated so far.
// A non-nil error aborts the stream and is returned from Adapter.Stream.
type EmitFunc func(fragment, accumulated string) error

// Adapter translates a Request into one provider's wire protocol.
type Adapter interface {
	// Name returns the provider key (e.g. "openai").
	Name() string

	// DefaultModel is used when a Request carries no model.
	DefaultModel() string

	// Stream issues the upstream call and emits fragments in decode order.
	// The returned text equals the concatenation of all emitted fragments.
	Stream(ctx context.Context, req Request, emit EmitFunc) (string, error)
}

// ModelOrDefault returns req.Model, or the adapter default when blank.
func ModelOrDefault(a Adapter, req Request) string {
	if m := strings.TrimSpace(req.Model); m != "" {
		return m
	}
	return a.DefaultModel()
}

// =============================================================================
// ACCUMULATOR
// =============================================================================

// Accumulator tracks the running text of a stream and forwards fragments.
// Empty fragments are dropped so every emitted chunk carries new text.
type Accumulator struct {
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	buf  strings.Builder
	emit EmitFunc
}

// NewAccumulator wraps emit. A nil emit only accumulates.
func NewAccumulator(emit EmitFunc) *Accumulator {
	return &Accumulator{emit: emit}
}

// Add appends fragment and emits it with the new total.
func (a *Accumulator) Add(fragment string) error {
	if fragment == "" {
		return nil
	}
	a.buf.WriteString(fragment)
	if a.emit == nil {
		return nil
	}
	return a.emit(fragment, a.buf.String())
}

// Text returns everything accumulated so far.
func (a *Accumulator) Text() string {
	return a.buf.String()
}
