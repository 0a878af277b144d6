// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jeranaias/chatrelay/internal/llm"
)

// =============================================================================
// SENTINELS
// =============================================================================

// ErrNotFound is returned by a Gateway when a chat does not exist for the
// requesting owner.
var ErrNotFound = errors.New("chat: not found")

// errEmptyReply marks a stream that finished without producing any text.
var errEmptyReply = errors.New("chat: empty reply")

// Public messages. Handlers show these instead of internal error text.
const (
	MsgUnauthorized    = "Unauthorized"
	MsgRequired        = "Message and chatId are required"
	MsgTitleRequired   = "Title is required"
	MsgTitleTooLong    = "Title must be at most 255 characters"
	MsgChatNotFound    = "Chat not found"
	MsgInternal        = "Internal server error"
	MsgSaveFailed      = "Failed to save response"
	MsgGenerateFailed  = "Failed to generate response"
	MsgTimeout         = "The model took too long to respond"
	MsgChatDeleted     = "Chat deleted successfully"
	MsgNotConfigured   = "Provider is not configured"
	MsgUpstreamFailure = "Provider request failed"
)

// =============================================================================
// TYPED ERRORS
// =============================================================================

// AuthError means the request has no principal.
type AuthError struct{}

func (e *AuthError) Error() string { return MsgUnauthorized }

// ValidationError is a malformed request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError means the chat is missing or owned by someone else.
type NotFoundError struct {
	ChatID string
}

func (e *NotFoundError) Error() string { return MsgChatNotFound }

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PersistenceError wraps a storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("chat: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// =============================================================================
// CLASSIFICATION
// =============================================================================

// StatusCode maps an error returned by Service to an HTTP status.
func StatusCode(err error) int {
	var (
		authErr  *AuthError
		valErr   *ValidationError
		notFound *NotFoundError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &notFound), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns text that is safe to show to the caller.
func PublicMessage(err error) string {
	var valErr *ValidationError
	switch StatusCode(err) {
	case http.StatusUnauthorized:
		return MsgUnauthorized
	case http.StatusBadRequest:
		if errors.As(err, &valErr) {
			return valErr.Message
		}
		return MsgRequired
	case http.StatusNotFound:
		return MsgChatNotFound
	default:
		return MsgInternal
	}
}

// failureMessage describes an adapter failure for an error event.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return MsgTimeout
	case llm.IsConfiguration(err):
		return MsgNotConfigured
	case llm.IsUpstream(err), llm.IsProtocol(err):
		return MsgUpstreamFailure
	default:
		return MsgGenerateFailed
	}
}
