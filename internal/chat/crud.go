// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jeranaias/chatrelay/internal/security"
	"github.com/jeranaias/chatrelay/internal/util"
)

// =============================================================================
// CHAT CRUD
// =============================================================================

// Placeholders shown in chat lists.
const (
	LastMessageNone = "No messages"
	LastMessageNew  = "Just now"
)

// MaxTitleLength matches the width of the title column, in characters.
const MaxTitleLength = 255

// ListChats returns the principal's chats, most recently updated first.
func (s *Service) ListChats(ctx context.Context, p *security.Principal) ([]ChatListItem, error) {
	if p == nil || p.ID == "" {
		return nil, &AuthError{}
	}
	summaries, err := s.store.ListChats(ctx, p.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "list chats", Err: err}
	}

	layout := s.Options().DateLayout
	items := make([]ChatListItem, 0, len(summaries))
	for i := range summaries {
		item := ChatListItem{ChatView: newChatView(&summaries[i].Chat), LastMessage: LastMessageNone}
		if at := summaries[i].LastMessageAt; at != nil {
			item.LastMessage = at.Local().Format(layout)
		}
		items = append(items, item)
	}
	return items, nil
}

// CreateChat starts an empty chat with the default title.
func (s *Service) CreateChat(ctx context.Context, p *security.Principal) (*ChatDetail, error) {
	if p == nil || p.ID == "" {
		return nil, &AuthError{}
	}
	c, err := s.store.CreateChat(ctx, p.ID, s.Options().DefaultTitle)
	if err != nil {
		return nil, &PersistenceError{Op: "create chat", Err: err}
	}
	slog.InfoContext(ctx, "CHAT_CREATED", "chat", c.ID, "owner", p.ID)
	return &ChatDetail{
		ChatView:    newChatView(c),
		LastMessage: LastMessageNew,
		Messages:    []MessageView{},
	}, nil
}

// GetChat returns one chat with its messages, oldest first.
func (s *Service) GetChat(ctx context.Context, p *security.Principal, chatID string) (*ChatDetail, error) {
	c, err := s.ownedChat(ctx, p, chatID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, c.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "list messages", Err: err}
	}

	layout := s.Options().TimestampLayout
	views := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		views = append(views, *newMessageView(&msgs[i], layout))
	}
	return &ChatDetail{ChatView: newChatView(c), Messages: views}, nil
}

// RenameChat sets a new title. The title is trimmed, must not be empty and
// may hold at most MaxTitleLength characters.
func (s *Service) RenameChat(ctx context.Context, p *security.Principal, chatID, title string) (*ChatView, error) {
	if p == nil || p.ID == "" {
		return nil, &AuthError{}
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &ValidationError{Message: MsgTitleRequired}
	}
	if util.RuneLen(title) > MaxTitleLength {
		return nil, &ValidationError{Message: MsgTitleTooLong}
	}
	c, err := s.ownedChat(ctx, p, chatID)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.RenameChat(ctx, c.ID, title)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{ChatID: chatID}
		}
		return nil, &PersistenceError{Op: "rename chat", Err: err}
	}
	v := newChatView(updated)
	return &v, nil
}

// DeleteChat removes a chat and its messages.
func (s *Service) DeleteChat(ctx context.Context, p *security.Principal, chatID string) error {
	c, err := s.ownedChat(ctx, p, chatID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteChat(ctx, c.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &NotFoundError{ChatID: chatID}
		}
		return &PersistenceError{Op: "delete chat", Err: err}
	}
	slog.InfoContext(ctx, "CHAT_DELETED", "chat", c.ID, "owner", p.ID)
	return nil
}

// ownedChat loads chatID if it belongs to p.
func (s *Service) ownedChat(ctx context.Context, p *security.Principal, chatID string) (*Chat, error) {
	if p == nil || p.ID == "" {
		return nil, &AuthError{}
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, &NotFoundError{}
	}
	c, err := s.store.FindChatByIDForOwner(ctx, chatID, p.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{ChatID: chatID}
		}
		return nil, &PersistenceError{Op: "find chat", Err: err}
	}
	return c, nil
}
