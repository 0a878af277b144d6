// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/chatrelay/internal/llm"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// memStore is an in-memory Store with failure injection.
type memStore struct {
	mu    sync.Mutex
	chats map[string]*Chat
	msgs  []Message
	seq   int
	clock time.Time

	failCreate func(role Role) error
	failFind   error
	failTouch  error
	failCount  error
	failTitle  error

	touches int
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		chats: make(map[string]*Chat),
		clock: time.Date(2025, 3, 14, 9, 5, 0, 0, time.Local),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) addChat(owner, title string) *Chat {
	c, _ := m.CreateChat(context.Background(), owner, title)
	return c
}

func (m *memStore) messages(chatID string) []Message {
	msgs, _ := m.ListMessages(context.Background(), chatID)
	return msgs
}

func (m *memStore) chat(id string) Chat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.chats[id]
}

func (m *memStore) CreateMessage(ctx context.Context, chatID, content string, role Role, generatedBy string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		if err := m.failCreate(role); err != nil {
			return nil, err
		}
	}
	if _, ok := m.chats[chatID]; !ok {
		return nil, ErrNotFound
	}
	msg := Message{
		ID:          m.nextID("msg"),
		ChatID:      chatID,
		Content:     content,
		Role:        role,
		GeneratedBy: generatedBy,
		CreatedAt:   m.tick(),
	}
	m.msgs = append(m.msgs, msg)
	return &msg, nil
}

func (m *memStore) UpdateChatTimestamp(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTouch != nil {
		return m.failTouch
	}
	c, ok := m.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	c.UpdatedAt = m.tick()
	m.touches++
	return nil
}

func (m *memStore) CountMessages(ctx context.Context, chatID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCount != nil {
		return 0, m.failCount
	}
	n := 0
	for _, msg := range m.msgs {
		if msg.ChatID == chatID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	_, err := m.RenameChat(ctx, chatID, title)
	return err
}

func (m *memStore) FindChatByIDForOwner(ctx context.Context, chatID, ownerID string) (*Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFind != nil {
		return nil, m.failFind
	}
	c, ok := m.chats[chatID]
	if !ok || c.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) CreateChat(ctx context.Context, ownerID, title string) (*Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	c := &Chat{ID: m.nextID("chat"), OwnerID: ownerID, Title: title, CreatedAt: now, UpdatedAt: now}
	m.chats[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *memStore) ListChats(ctx context.Context, ownerID string) ([]ChatSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ChatSummary
	for _, c := range m.chats {
		if c.OwnerID != ownerID {
			continue
		}
		sum := ChatSummary{Chat: *c}
		for _, msg := range m.msgs {
			if msg.ChatID == c.ID {
				at := msg.CreatedAt
				sum.LastMessageAt = &at
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *memStore) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.msgs {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) RenameChat(ctx context.Context, chatID, title string) (*Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTitle != nil {
		return nil, m.failTitle
	}
	c, ok := m.chats[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	c.Title = title
	c.UpdatedAt = m.tick()
	cp := *c
	return &cp, nil
}

func (m *memStore) DeleteChat(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chatID]; !ok {
		return ErrNotFound
	}
	delete(m.chats, chatID)
	kept := m.msgs[:0]
	for _, msg := range m.msgs {
		if msg.ChatID != chatID {
			kept = append(kept, msg)
		}
	}
	m.msgs = kept
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }
func (m *memStore) Driver() string                 { return "memory" }
func (m *memStore) Close() error                   { return nil }

// =============================================================================
// FAKE ADAPTERS
// =============================================================================

// fakeAdapter emits fragments, then optionally blocks until ctx ends, then
// returns err.
type fakeAdapter struct {
	name      string
	model     string
	fragments []string
	block     bool
	err       error

	// afterEmit runs once every fragment has been delivered.
	afterEmit func()

	mu   sync.Mutex
	seen []llm.Request
}

func (f *fakeAdapter) Name() string         { return f.name }
func (f *fakeAdapter) DefaultModel() string { return f.model }

func (f *fakeAdapter) Stream(ctx context.Context, req llm.Request, emit llm.EmitFunc) (string, error) {
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()

	acc := llm.NewAccumulator(emit)
	for _, frag := range f.fragments {
		if err := acc.Add(frag); err != nil {
			return acc.Text(), err
		}
	}
	if f.afterEmit != nil {
		f.afterEmit()
	}
	if f.block {
		<-ctx.Done()
		return acc.Text(), ctx.Err()
	}
	return acc.Text(), f.err
}

func (f *fakeAdapter) requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.seen...)
}

// fakeProviders resolves like the registry: unknown keys use "local".
type fakeProviders map[string]llm.Adapter

func (p fakeProviders) Resolve(key string) llm.Adapter {
	if a, ok := p[key]; ok {
		return a
	}
	return p[llm.ProviderLocal]
}

// =============================================================================
// HELPERS
// =============================================================================

// drain reads every event until the channel closes.
func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event channel not closed; got %d events", len(events))
			return nil
		}
	}
}

func chunks(events []Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == EventChunk {
			out = append(out, ev.Fragment)
		}
	}
	return out
}

func terminal(t *testing.T, events []Event) Event {
	t.Helper()
	var found []Event
	for _, ev := range events {
		if ev.Terminal() {
			found = append(found, ev)
		}
	}
	if len(found) != 1 {
		t.Fatalf("terminal events = %d, want 1 (%+v)", len(found), events)
	}
	if !events[len(events)-1].Terminal() {
		t.Fatalf("last event = %q, want terminal", events[len(events)-1].Type)
	}
	return found[0]
}
