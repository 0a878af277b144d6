// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jeranaias/chatrelay/internal/chat"
)

// =============================================================================
// REDIS STORE
// =============================================================================

// Key layout, all under the configured prefix:
//
//	{p}:chat:{id}            hash   chatRecord
//	{p}:chat:{id}:messages   list   JSON messageRecord, oldest first
//	{p}:owner:{owner}:chats  zset   chat id scored by updated_at

// RedisOptions configures OpenRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis is a chat.Store on go-redis.
type Redis struct {
	rdb    *redis.Client
	prefix string
	clock  *clock
}

var _ chat.Store = (*Redis)(nil)

type chatRecord struct {
	ID        string `redis:"id"`
	OwnerID   string `redis:"owner_id"`
	Title     string `redis:"title"`
	CreatedAt int64  `redis:"created_at"`
	UpdatedAt int64  `redis:"updated_at"`
}

type messageRecord struct {
	ID          string `json:"id"`
	ChatID      string `json:"chat_id"`
	Content     string `json:"content"`
	Role        string `json:"role"`
	GeneratedBy string `json:"generated_by,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("storage: connect redis %s: %w", opts.Addr, err)
	}
	return NewRedis(rdb, opts.Prefix), nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "chatrelay"
	}
	return &Redis{rdb: rdb, prefix: prefix, clock: newClock()}
}

func (r *Redis) chatKey(id string) string { return r.prefix + ":chat:" + id }
func (r *Redis) messagesKey(id string) string { return r.prefix + ":chat:" + id + ":messages" }
func (r *Redis) ownerKey(owner string) string { return r.prefix + ":owner:" + owner + ":chats" }

// Driver implements chat.Store.
func (r *Redis) Driver() string { return "redis" }

// Ping implements chat.Store.
func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

// Close implements chat.Store.
func (r *Redis) Close() error { return r.rdb.Close() }

// =============================================================================
// GATEWAY
// =============================================================================

// CreateMessage implements chat.Gateway.
func (r *Redis) CreateMessage(ctx context.Context, chatID, content string, role chat.Role, generatedBy string) (*chat.Message, error) {
	if err := r.requireChat(ctx, chatID); err != nil {
		return nil, err
	}
	rec := messageRecord{
		ID:          newID(),
		ChatID:      chatID,
		Content:     content,
		Role:        string(role),
		GeneratedBy: generatedBy,
		CreatedAt:   r.clock.next(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	if err := r.rdb.RPush(ctx, r.messagesKey(chatID), raw).Err(); err != nil {
		return nil, fmt.Errorf("push message: %w", err)
	}
	m := rec.toMessage()
	return &m, nil
}

// UpdateChatTimestamp implements chat.Gateway.
func (r *Redis) UpdateChatTimestamp(ctx context.Context, chatID string) error {
	return r.updateChat(ctx, chatID, "")
}

// CountMessages implements chat.Gateway.
func (r *Redis) CountMessages(ctx context.Context, chatID string) (int, error) {
	n, err := r.rdb.LLen(ctx, r.messagesKey(chatID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return int(n), nil
}

// UpdateChatTitle implements chat.Gateway.
func (r *Redis) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	return r.updateChat(ctx, chatID, title)
}

// FindChatByIDForOwner implements chat.Gateway.
func (r *Redis) FindChatByIDForOwner(ctx context.Context, chatID, ownerID string) (*chat.Chat, error) {
	rec, err := r.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != ownerID {
		return nil, chat.ErrNotFound
	}
	c := rec.toChat()
	return &c, nil
}

// =============================================================================
// CRUD
// =============================================================================

// CreateChat implements chat.Store.
func (r *Redis) CreateChat(ctx context.Context, ownerID, title string) (*chat.Chat, error) {
	now := r.clock.next()
	rec := chatRecord{ID: newID(), OwnerID: ownerID, Title: title, CreatedAt: now, UpdatedAt: now}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.chatKey(rec.ID), rec)
		pipe.ZAdd(ctx, r.ownerKey(ownerID), redis.Z{Score: float64(now), Member: rec.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	c := rec.toChat()
	return &c, nil
}

// ListChats implements chat.Store.
func (r *Redis) ListChats(ctx context.Context, ownerID string) ([]chat.ChatSummary, error) {
	ids, err := r.rdb.ZRevRange(ctx, r.ownerKey(ownerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	// PERFORMANCE: one round trip for every chat hash and newest message.
	hashes := make([]*redis.MapStringStringCmd, len(ids))
	lasts := make([]*redis.StringCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			hashes[i] = pipe.HGetAll(ctx, r.chatKey(id))
			lasts[i] = pipe.LIndex(ctx, r.messagesKey(id), -1)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load chats: %w", err)
	}

	out := make([]chat.ChatSummary, 0, len(ids))
	for i := range ids {
		var rec chatRecord
		if err := hashes[i].Scan(&rec); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		if rec.ID == "" {
			// Index entry outlived its chat.
			continue
		}
		sum := chat.ChatSummary{Chat: rec.toChat()}
		if raw, err := lasts[i].Result(); err == nil {
			var m messageRecord
			if json.Unmarshal([]byte(raw), &m) == nil {
				at := fromMicros(m.CreatedAt)
				sum.LastMessageAt = &at
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

// ListMessages implements chat.Store.
func (r *Redis) ListMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	raws, err := r.rdb.LRange(ctx, r.messagesKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]chat.Message, 0, len(raws))
	for _, raw := range raws {
		var rec messageRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, rec.toMessage())
	}
	return out, nil
}

// RenameChat implements chat.Store.
func (r *Redis) RenameChat(ctx context.Context, chatID, title string) (*chat.Chat, error) {
	if err := r.updateChat(ctx, chatID, title); err != nil {
		return nil, err
	}
	rec, err := r.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	c := rec.toChat()
	return &c, nil
}

// DeleteChat implements chat.Store.
func (r *Redis) DeleteChat(ctx context.Context, chatID string) error {
	owner, err := r.rdb.HGet(ctx, r.chatKey(chatID), "owner_id").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return chat.ErrNotFound
		}
		return fmt.Errorf("load chat: %w", err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.chatKey(chatID), r.messagesKey(chatID))
		pipe.ZRem(ctx, r.ownerKey(owner), chatID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (r *Redis) requireChat(ctx context.Context, chatID string) error {
	n, err := r.rdb.Exists(ctx, r.chatKey(chatID)).Result()
	if err != nil {
		return fmt.Errorf("check chat: %w", err)
	}
	if n == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (r *Redis) loadChat(ctx context.Context, chatID string) (*chatRecord, error) {
	var rec chatRecord
	cmd := r.rdb.HGetAll(ctx, r.chatKey(chatID))
	if err := cmd.Err(); err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if len(cmd.Val()) == 0 {
		return nil, chat.ErrNotFound
	}
	if err := cmd.Scan(&rec); err != nil {
		return nil, fmt.Errorf("scan chat: %w", err)
	}
	return &rec, nil
}

// updateChat bumps updated_at and, when title is non-empty, sets it.
func (r *Redis) updateChat(ctx context.Context, chatID, title string) error {
	owner, err := r.rdb.HGet(ctx, r.chatKey(chatID), "owner_id").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return chat.ErrNotFound
		}
		return fmt.Errorf("load chat: %w", err)
	}
	now := r.clock.next()
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if title != "" {
			pipe.HSet(ctx, r.chatKey(chatID), "title", title, "updated_at", now)
		} else {
			pipe.HSet(ctx, r.chatKey(chatID), "updated_at", now)
		}
		pipe.ZAdd(ctx, r.ownerKey(owner), redis.Z{Score: float64(now), Member: chatID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	return nil
}

func (rec chatRecord) toChat() chat.Chat {
	return chat.Chat{
		ID:        rec.ID,
		OwnerID:   rec.OwnerID,
		Title:     rec.Title,
		CreatedAt: fromMicros(rec.CreatedAt),
		UpdatedAt: fromMicros(rec.UpdatedAt),
	}
}

func (rec messageRecord) toMessage() chat.Message {
	return chat.Message{
		ID:          rec.ID,
		ChatID:      rec.ChatID,
		Content:     rec.Content,
		Role:        chat.Role(rec.Role),
		GeneratedBy: rec.GeneratedBy,
		CreatedAt:   fromMicros(rec.CreatedAt),
	}
}
