// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatrelay/internal/llm"
	"github.com/jeranaias/chatrelay/internal/security"
)

var alice = &security.Principal{ID: "alice", Email: "alice@example.com"}

type fixture struct {
	store *memStore
	local *fakeAdapter
	svc   *Service
	chat  *Chat
}

func newFixture(t *testing.T, local *fakeAdapter, opts Options) *fixture {
	t.Helper()
	if local.name == "" {
		local.name = llm.ProviderLocal
	}
	if local.model == "" {
		local.model = "llama2"
	}
	store := newMemStore()
	f := &fixture{
		store: store,
		local: local,
		svc:   NewService(store, fakeProviders{llm.ProviderLocal: local}, opts),
	}
	f.chat = store.addChat(alice.ID, "New Chat")
	return f
}

func (f *fixture) send(t *testing.T, ctx context.Context, message string) []Event {
	t.Helper()
	ch, err := f.svc.Send(ctx, alice, SendRequest{Message: message, ChatID: f.chat.ID, SelectedAPI: "local"})
	require.NoError(t, err)
	events := drain(t, ch)
	f.svc.Wait()
	return events
}

func maskOff() Options {
	opts := DefaultOptions()
	opts.Policy.MaskUpstreamFailureAsMessage = false
	return opts
}

// =============================================================================
// SUCCESS PATH
// =============================================================================

func TestSend_StreamsAndPersists(t *testing.T) {
	f := newFixture(t, &fakeAdapter{fragments: []string{"Hel", "lo"}}, DefaultOptions())

	events := f.send(t, context.Background(), "Hi")

	require.Equal(t, []string{"Hel", "lo"}, chunks(events))
	require.Equal(t, "Hel", events[0].Accumulated)
	require.Equal(t, "Hello", events[1].Accumulated)

	done := terminal(t, events)
	require.Equal(t, EventComplete, done.Type)
	require.Equal(t, "Hi", done.UserMessage.Content)
	require.Equal(t, "user", done.UserMessage.Sender)
	require.Equal(t, RoleUser, done.UserMessage.Role)
	require.Empty(t, done.UserMessage.GeneratedBy)
	require.Equal(t, "Hello", done.BotMessage.Content)
	require.Equal(t, "bot", done.BotMessage.Sender)
	require.Equal(t, RoleAssistant, done.BotMessage.Role)
	require.Equal(t, "llama2", done.BotMessage.GeneratedBy)
	require.Regexp(t, `^\d\d:\d\d [AP]M$`, done.BotMessage.Timestamp)

	msgs := f.store.messages(f.chat.ID)
	require.Len(t, msgs, 2)
	require.Equal(t, RoleUser, msgs[0].Role)
	require.Equal(t, "Hello", msgs[1].Content)
	require.Equal(t, 1, f.store.touches)
	require.Equal(t, "Hi", f.store.chat(f.chat.ID).Title)

	stats := f.svc.Stats().Snapshot()[llm.ProviderLocal]
	require.Equal(t, int64(1), stats.Started)
	require.Equal(t, int64(1), stats.Completed)
}

func TestSend_RequestedModel(t *testing.T) {
	local := &fakeAdapter{fragments: []string{"ok"}}
	f := newFixture(t, local, DefaultOptions())

	ch, err := f.svc.Send(context.Background(), alice, SendRequest{
		Message: "Hi", ChatID: f.chat.ID, SelectedAPI: "local", SelectedLLM: "mistral",
	})
	require.NoError(t, err)
	done := terminal(t, drain(t, ch))

	require.Equal(t, "mistral", done.BotMessage.GeneratedBy)
	require.Equal(t, []llm.Request{{Message: "Hi", Model: "mistral"}}, local.requests())
}

func TestSend_UnknownProviderFallsBackToLocal(t *testing.T) {
	f := newFixture(t, &fakeAdapter{fragments: []string{"ok"}}, DefaultOptions())

	ch, err := f.svc.Send(context.Background(), alice, SendRequest{Message: "Hi", ChatID: f.chat.ID, SelectedAPI: "nope"})
	require.NoError(t, err)
	require.Equal(t, EventComplete, terminal(t, drain(t, ch)).Type)
	require.Len(t, f.local.requests(), 1)
}

func TestSend_TitleRules(t *testing.T) {
	long := strings.Repeat("abcdefghij", 4)

	tests := []struct {
		name      string
		title     string
		prior     int
		message   string
		wantTitle string
	}{
		{"first exchange short", "New Chat", 0, "Hi", "Hi"},
		{"first exchange long", "New Chat", 0, long, long[:30] + "..."},
		{"custom title kept", "Groceries", 0, "Hi", "Groceries"},
		{"later exchange", "New Chat", 2, "Hi", "New Chat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeAdapter{fragments: []string{"ok"}}, DefaultOptions())
			_, err := f.store.RenameChat(context.Background(), f.chat.ID, tt.title)
			require.NoError(t, err)
			f.chat.Title = tt.title
			for i := 0; i < tt.prior; i++ {
				_, err := f.store.CreateMessage(context.Background(), f.chat.ID, "old", RoleUser, "")
				require.NoError(t, err)
			}

			f.send(t, context.Background(), tt.message)

			if got := f.store.chat(f.chat.ID).Title; got != tt.wantTitle {
				t.Errorf("title = %q, want %q", got, tt.wantTitle)
			}
		})
	}
}

func TestSend_FinalizeFailuresAreNotSurfaced(t *testing.T) {
	f := newFixture(t, &fakeAdapter{fragments: []string{"ok"}}, DefaultOptions())
	f.store.failTouch = errors.New("touch failed")
	f.store.failCount = errors.New("count failed")

	events := f.send(t, context.Background(), "Hi")
	require.Equal(t, EventComplete, terminal(t, events).Type)
	require.Equal(t, "New Chat", f.store.chat(f.chat.ID).Title)
}

// =============================================================================
// PRE-STREAM ERRORS
// =============================================================================

func TestSend_PreStreamErrors(t *testing.T) {
	f := newFixture(t, &fakeAdapter{fragments: []string{"ok"}}, DefaultOptions())
	bobChat := f.store.addChat("bob", "New Chat")

	tests := []struct {
		name       string
		principal  *security.Principal
		req        SendRequest
		wantStatus int
		wantMsg    string
	}{
		{"no principal", nil, SendRequest{Message: "Hi", ChatID: f.chat.ID}, http.StatusUnauthorized, MsgUnauthorized},
		{"empty principal", &security.Principal{}, SendRequest{Message: "Hi", ChatID: f.chat.ID}, http.StatusUnauthorized, MsgUnauthorized},
		{"blank message", alice, SendRequest{Message: "  ", ChatID: f.chat.ID}, http.StatusBadRequest, MsgRequired},
		{"blank chat", alice, SendRequest{Message: "Hi"}, http.StatusBadRequest, MsgRequired},
		{"missing chat", alice, SendRequest{Message: "Hi", ChatID: "chat-999"}, http.StatusNotFound, MsgChatNotFound},
		{"foreign chat", alice, SendRequest{Message: "Hi", ChatID: bobChat.ID}, http.StatusNotFound, MsgChatNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := f.svc.Send(context.Background(), tt.principal, tt.req)
			require.Error(t, err)
			require.Nil(t, ch)
			if got := StatusCode(err); got != tt.wantStatus {
				t.Errorf("StatusCode() = %d, want %d", got, tt.wantStatus)
			}
			if got := PublicMessage(err); got != tt.wantMsg {
				t.Errorf("PublicMessage() = %q, want %q", got, tt.wantMsg)
			}
		})
	}

	require.Empty(t, f.store.messages(f.chat.ID))
	require.Empty(t, f.local.requests())
}

func TestSend_UserMessageSaveFails(t *testing.T) {
	f := newFixture(t, &fakeAdapter{fragments: []string{"ok"}}, DefaultOptions())
	f.store.failCreate = func(Role) error { return errors.New("disk full") }

	ch, err := f.svc.Send(context.Background(), alice, SendRequest{Message: "Hi", ChatID: f.chat.ID})
	require.Nil(t, ch)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, http.StatusInternalServerError, StatusCode(err))
	require.Equal(t, MsgInternal, PublicMessage(err))
	require.Empty(t, f.local.requests())
}

func TestSend_LookupFailureIsPersistenceError(t *testing.T) {
	f := newFixture(t, &fakeAdapter{}, DefaultOptions())
	f.store.failFind = errors.New("connection refused")

	_, err := f.svc.Send(context.Background(), alice, SendRequest{Message: "Hi", ChatID: f.chat.ID})
	require.Equal(t, http.StatusInternalServerError, StatusCode(err))
}

// =============================================================================
// FAILURE PATH
// =============================================================================

func TestSend_UpstreamFailureMasked(t *testing.T) {
	upstream := &llm.UpstreamError{Provider: "local", Status: 500, Message: "boom"}
	f := newFixture(t, &fakeAdapter{fragments: []string{"par"}, err: upstream}, DefaultOptions())

	events := f.send(t, context.Background(), "Hi")

	require.Equal(t, []string{"par"}, chunks(events))
	done := terminal(t, events)
	require.Equal(t, EventComplete, done.Type)
	require.Equal(t, DefaultOptions().Policy.ApologyMessage, done.BotMessage.Content)

	msgs := f.store.messages(f.chat.ID)
	require.Len(t, msgs, 2)
	require.Equal(t, DefaultOptions().Policy.ApologyMessage, msgs[1].Content)
	require.Equal(t, "Hi", f.store.chat(f.chat.ID).Title)
	require.Equal(t, int64(1), f.svc.Stats().Snapshot()["local"].Masked)
}

func TestSend_UpstreamFailureUnmasked(t *testing.T) {
	upstream := &llm.UpstreamError{Provider: "local", Status: 500, Message: "secret internals"}
	f := newFixture(t, &fakeAdapter{err: upstream}, maskOff())

	done := terminal(t, f.send(t, context.Background(), "Hi"))
	require.Equal(t, EventError, done.Type)
	require.Equal(t, MsgUpstreamFailure, done.Message)
	require.NotContains(t, done.Message, "secret")

	require.Len(t, f.store.messages(f.chat.ID), 1)
	require.Equal(t, int64(1), f.svc.Stats().Snapshot()["local"].Errors)
}

func TestSend_ApologySaveFails(t *testing.T) {
	f := newFixture(t, &fakeAdapter{err: errors.New("boom")}, DefaultOptions())
	f.store.failCreate = func(r Role) error {
		if r == RoleAssistant {
			return errors.New("disk full")
		}
		return nil
	}

	done := terminal(t, f.send(t, context.Background(), "Hi"))
	require.Equal(t, EventError, done.Type)
	require.Equal(t, MsgGenerateFailed, done.Message)

	msgs := f.store.messages(f.chat.ID)
	require.Len(t, msgs, 1)
	if msgs[0].Role != RoleUser {
		t.Errorf("Role = %q, want %q", msgs[0].Role, RoleUser)
	}
}

func TestSend_ReplySaveFails(t *testing.T) {
	f := newFixture(t, &fakeAdapter{fragments: []string{"ok"}}, DefaultOptions())
	f.store.failCreate = func(r Role) error {
		if r == RoleAssistant {
			return errors.New("disk full")
		}
		return nil
	}

	done := terminal(t, f.send(t, context.Background(), "Hi"))
	require.Equal(t, EventError, done.Type)
	require.Equal(t, MsgSaveFailed, done.Message)
	require.Equal(t, 0, f.store.touches)
}

func TestSend_EmptyReplyIsFailure(t *testing.T) {
	f := newFixture(t, &fakeAdapter{}, DefaultOptions())

	done := terminal(t, f.send(t, context.Background(), "Hi"))
	require.Equal(t, EventComplete, done.Type)
	require.Equal(t, DefaultOptions().Policy.ApologyMessage, done.BotMessage.Content)
}

func TestSend_MissingAdapter(t *testing.T) {
	store := newMemStore()
	c := store.addChat(alice.ID, "New Chat")
	svc := NewService(store, fakeProviders{}, maskOff())

	ch, err := svc.Send(context.Background(), alice, SendRequest{Message: "Hi", ChatID: c.ID, SelectedAPI: "openai"})
	require.NoError(t, err)
	done := terminal(t, drain(t, ch))
	require.Equal(t, EventError, done.Type)
	require.Equal(t, MsgNotConfigured, done.Message)
}

func TestSend_CallTimeout(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantType EventType
		wantMsg  string
	}{
		{"masked", DefaultOptions(), EventComplete, ""},
		{"unmasked", maskOff(), EventError, MsgTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.CallTimeout = 20 * time.Millisecond
			f := newFixture(t, &fakeAdapter{block: true}, tt.opts)

			done := terminal(t, f.send(t, context.Background(), "Hi"))
			require.Equal(t, tt.wantType, done.Type)
			require.Equal(t, tt.wantMsg, done.Message)
		})
	}
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestSend_CallerCancelsMidStream(t *testing.T) {
	f := newFixture(t, &fakeAdapter{fragments: []string{"Hel"}, block: true}, DefaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := f.svc.Send(ctx, alice, SendRequest{Message: "Hi", ChatID: f.chat.ID})
	require.NoError(t, err)

	first := <-ch
	require.Equal(t, EventChunk, first.Type)
	cancel()

	for ev := range ch {
		require.False(t, ev.Terminal(), "no terminal event after cancel, got %+v", ev)
	}
	f.svc.Wait()

	require.Len(t, f.store.messages(f.chat.ID), 1, "only the user message is stored")
	require.Equal(t, 0, f.store.touches)
	require.Equal(t, int64(1), f.svc.Stats().Snapshot()["local"].Cancelled)
}

func TestSend_DisconnectAfterLastByteStillPersists(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, &fakeAdapter{fragments: []string{"done"}, afterEmit: cancel}, DefaultOptions())

	ch, err := f.svc.Send(ctx, alice, SendRequest{Message: "Hi", ChatID: f.chat.ID})
	require.NoError(t, err)
	for range ch {
	}
	f.svc.Wait()

	msgs := f.store.messages(f.chat.ID)
	require.Len(t, msgs, 2)
	require.Equal(t, "done", msgs[1].Content)
	require.Equal(t, "Hi", f.store.chat(f.chat.ID).Title)
}

// =============================================================================
// OPTIONS
// =============================================================================

func TestSetOptions_AppliesToNextTurn(t *testing.T) {
	f := newFixture(t, &fakeAdapter{err: errors.New("boom")}, DefaultOptions())

	f.svc.SetOptions(maskOff())
	done := terminal(t, f.send(t, context.Background(), "Hi"))
	require.Equal(t, EventError, done.Type)

	opts := DefaultOptions()
	opts.Policy.ApologyMessage = "Try again later."
	f.svc.SetOptions(opts)
	done = terminal(t, f.send(t, context.Background(), "Hi"))
	require.Equal(t, "Try again later.", done.BotMessage.Content)
}

func TestOptions_WithDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	if opts.TitleLength != 30 {
		t.Errorf("TitleLength = %d, want 30", opts.TitleLength)
	}
	if opts.DefaultTitle != "New Chat" {
		t.Errorf("DefaultTitle = %q, want %q", opts.DefaultTitle, "New Chat")
	}
	if opts.TimestampLayout != "03:04 PM" {
		t.Errorf("TimestampLayout = %q, want %q", opts.TimestampLayout, "03:04 PM")
	}
	if opts.Policy.MaskUpstreamFailureAsMessage {
		t.Error("withDefaults must not turn masking on")
	}
}

// =============================================================================
// TITLES
// =============================================================================

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "Hello", 30, "Hello"},
		{"exact", strings.Repeat("a", 30), 30, strings.Repeat("a", 30)},
		{"long", strings.Repeat("a", 31), 30, strings.Repeat("a", 30) + "..."},
		{"multibyte", "héllo wörld", 5, "héllo..."},
		{"emoji", "😀😀😀", 2, "😀😀..."},
		{"decomposed accent counts once", "e\u0301e\u0301e\u0301", 2, "\u00e9\u00e9..."},
		{"empty", "", 30, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveTitle(tt.in, tt.n); got != tt.want {
				t.Errorf("DeriveTitle(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

// =============================================================================
// ERRORS
// =============================================================================

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{&AuthError{}, http.StatusUnauthorized},
		{&ValidationError{Message: MsgTitleRequired}, http.StatusBadRequest},
		{&NotFoundError{ChatID: "x"}, http.StatusNotFound},
		{ErrNotFound, http.StatusNotFound},
		{&PersistenceError{Op: "save", Err: errors.New("x")}, http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := StatusCode(tt.err); got != tt.want {
			t.Errorf("StatusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
	require.True(t, errors.Is(&NotFoundError{}, ErrNotFound))
	require.Equal(t, MsgTitleRequired, PublicMessage(&ValidationError{Message: MsgTitleRequired}))
}

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, MsgTimeout},
		{&llm.ConfigurationError{Provider: "openai", Field: "api_key"}, MsgNotConfigured},
		{&llm.UpstreamError{Provider: "groq", Status: 429}, MsgUpstreamFailure},
		{&llm.ProtocolError{Provider: "huggingface", Reason: "shape"}, MsgUpstreamFailure},
		{errEmptyReply, MsgGenerateFailed},
	}

	for _, tt := range tests {
		if got := failureMessage(tt.err); got != tt.want {
			t.Errorf("failureMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
