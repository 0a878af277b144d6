// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"
)

// =============================================================================
// ROLES
// =============================================================================

// Role identifies who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Sender is the display name of the author: "user" or "bot".
func (r Role) Sender() string {
	if r == RoleAssistant {
		return "bot"
	}
	return "user"
}

// =============================================================================
// RECORDS
// =============================================================================

// Chat is one conversation owned by a principal.
type Chat struct {
	ID        string
	OwnerID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one persisted turn.
type Message struct {
	ID      string
	ChatID  string
	Content string
	Role    Role

	// GeneratedBy names the model behind an assistant message.
	GeneratedBy string

	CreatedAt time.Time
}

// ChatSummary is a chat plus the creation time of its newest message.
type ChatSummary struct {
	Chat
	LastMessageAt *time.Time
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Gateway is the persistence the streaming aggregator needs.
type Gateway interface {
	CreateMessage(ctx context.Context, chatID, content string, role Role, generatedBy string) (*Message, error)
	UpdateChatTimestamp(ctx context.Context, chatID string) error
	CountMessages(ctx context.Context, chatID string) (int, error)
	UpdateChatTitle(ctx context.Context, chatID, title string) error

	// FindChatByIDForOwner returns ErrNotFound when the chat does not exist
	// or belongs to someone else.
	FindChatByIDForOwner(ctx context.Context, chatID, ownerID string) (*Chat, error)
}

// Store adds the chat CRUD operations to Gateway.
type Store interface {
	Gateway

	CreateChat(ctx context.Context, ownerID, title string) (*Chat, error)

	// ListChats orders by UpdatedAt, newest first.
	ListChats(ctx context.Context, ownerID string) ([]ChatSummary, error)

	// ListMessages orders by CreatedAt, oldest first.
	ListMessages(ctx context.Context, chatID string) ([]Message, error)

	RenameChat(ctx context.Context, chatID, title string) (*Chat, error)

	// DeleteChat removes the chat and all of its messages.
	DeleteChat(ctx context.Context, chatID string) error

	Ping(ctx context.Context) error
	Driver() string
	Close() error
}
