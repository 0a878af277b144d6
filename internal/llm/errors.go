// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// maxErrorBody bounds how much of an upstream error body is retained.
const maxErrorBody = 2048

// ConfigurationError reports a provider that cannot be called because a
// required setting (usually the API key) is absent.
type ConfigurationError struct {
	Provider string
	Field    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s not configured", e.Provider, e.Field)
}

// UpstreamError reports a non-success response from a provider.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
	Body     string
	Cause    error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": http %d", e.Status)
	} else {
		b.WriteString(": upstream error")
	}
	msg := e.Message
	if msg == "" && e.Status != 0 {
		msg = http.StatusText(e.Status)
	}
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// ProtocolError reports a response whose shape could not be consumed.
type ProtocolError struct {
	Provider string
	Reason   string
	Cause    error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: protocol error: %s: %v", e.Provider, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: protocol error: %s", e.Provider, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewUpstreamError builds an UpstreamError from a status and raw body.
// The body is trimmed and capped so it can be logged safely.
func NewUpstreamError(provider string, status int, body []byte, message string) *UpstreamError {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return &UpstreamError{
		Provider: provider,
		Status:   status,
		Message:  message,
		Body:     text,
	}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsUpstream reports whether err is an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// IsProtocol reports whether err is a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
