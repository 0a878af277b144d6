// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "time"

// =============================================================================
// EVENTS
// =============================================================================

// EventType discriminates Event.
type EventType string

const (
	EventChunk    EventType = "chunk"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one item on the channel returned by Service.Send. A turn yields
// any number of chunk events followed by at most one complete or error.
type Event struct {
	Type EventType `json:"type"`

	// chunk
	Fragment    string `json:"fragment,omitempty"`
	Accumulated string `json:"accumulated,omitempty"`

	// complete
	UserMessage *MessageView `json:"userMessage,omitempty"`
	BotMessage  *MessageView `json:"botMessage,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// Terminal reports whether e ends the turn.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// =============================================================================
// VIEWS
// =============================================================================

// MessageView is the caller-facing shape of a Message.
type MessageView struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	Sender      string `json:"sender"`
	Role        Role   `json:"role"`
	Timestamp   string `json:"timestamp"`
	GeneratedBy string `json:"generatedBy,omitempty"`
}

// ChatView is the caller-facing shape of a Chat.
type ChatView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChatListItem is one row of the chat list.
type ChatListItem struct {
	ChatView
	LastMessage string `json:"lastMessage"`
}

// ChatDetail is a chat with its messages.
type ChatDetail struct {
	ChatView
	LastMessage string        `json:"lastMessage,omitempty"`
	Messages    []MessageView `json:"messages"`
}

func newChatView(c *Chat) ChatView {
	return ChatView{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

func newMessageView(m *Message, layout string) *MessageView {
	v := &MessageView{
		ID:        m.ID,
		Content:   m.Content,
		Sender:    m.Role.Sender(),
		Role:      m.Role,
		Timestamp: m.CreatedAt.Local().Format(layout),
	}
	if m.Role == RoleAssistant {
		v.GeneratedBy = m.GeneratedBy
	}
	return v
}
