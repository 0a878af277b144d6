// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/chatrelay/internal/llm"
	"github.com/jeranaias/chatrelay/internal/logger"
	"github.com/jeranaias/chatrelay/internal/security"
)

// =============================================================================
// SERVICE
// =============================================================================

// Providers resolves a provider key to an adapter. Unknown keys fall back
// to the local adapter; nil means nothing is available.
type Providers interface {
	Resolve(key string) llm.Adapter
}

// Service runs chat turns against a Store and a set of providers.
type Service struct {
	store     Store
	providers Providers
	opts      atomic.Pointer[Options]
	stats     *Stats

	// inflight tracks running turns so shutdown can wait for their writes.
	inflight sync.WaitGroup
}

// NewService creates a Service.
func NewService(store Store, providers Providers, opts Options) *Service {
	s := &Service{
		store:     store,
		providers: providers,
		stats:     newStats(),
	}
	s.SetOptions(opts)
	return s
}

// SetOptions swaps the options used by turns started from now on.
func (s *Service) SetOptions(opts Options) {
	opts = opts.withDefaults()
	s.opts.Store(&opts)
}

// Options returns the current options.
func (s *Service) Options() Options {
	return *s.opts.Load()
}

// Stats returns the per-provider counters.
func (s *Service) Stats() *Stats {
	return s.stats
}

// Store returns the backing store.
func (s *Service) Store() Store {
	return s.store
}

// Wait blocks until every running turn has closed its channel.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// =============================================================================
// SEND
// =============================================================================

// SendRequest is the body of POST /api/messages.
type SendRequest struct {
	Message     string `json:"message"`
	ChatID      string `json:"chatId"`
	SelectedLLM string `json:"selectedLLM"`
	SelectedAPI string `json:"selectedAPI"`
}

// turn carries one Send call into its goroutine.
type turn struct {
	chat     *Chat
	user     *Message
	adapter  llm.Adapter
	provider string
	model    string
	opts     Options
	events   chan Event
}

// Send validates the request, stores the user message and starts streaming
// the reply. Failures before the user message is stored are returned as
// AuthError, ValidationError, NotFoundError or PersistenceError and no
// channel is created. Otherwise the returned channel yields chunk events
// followed by at most one complete or error event, and is always closed.
//
// Cancelling ctx stops the upstream call; nothing else is stored or emitted
// for that turn.
func (s *Service) Send(ctx context.Context, p *security.Principal, req SendRequest) (<-chan Event, error) {
	if p == nil || p.ID == "" {
		return nil, &AuthError{}
	}
	if strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.ChatID) == "" {
		return nil, &ValidationError{Message: MsgRequired}
	}

	c, err := s.store.FindChatByIDForOwner(ctx, req.ChatID, p.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{ChatID: req.ChatID}
		}
		return nil, &PersistenceError{Op: "find chat", Err: err}
	}

	user, err := s.store.CreateMessage(ctx, c.ID, req.Message, RoleUser, "")
	if err != nil {
		return nil, &PersistenceError{Op: "save user message", Err: err}
	}

	t := &turn{
		chat:   c,
		user:   user,
		opts:   s.Options(),
		events: make(chan Event),
	}
	t.adapter = s.providers.Resolve(req.SelectedAPI)
	if t.adapter != nil {
		t.provider = t.adapter.Name()
		t.model = llm.ModelOrDefault(t.adapter, llm.Request{Model: req.SelectedLLM})
	} else {
		t.provider = strings.ToLower(strings.TrimSpace(req.SelectedAPI))
		if t.provider == "" {
			t.provider = llm.ProviderLocal
		}
		t.model = strings.TrimSpace(req.SelectedLLM)
	}

	s.inflight.Add(1)
	go s.run(ctx, t)
	return t.events, nil
}

// send delivers ev unless the caller has gone away.
func (t *turn) send(ctx context.Context, ev Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// run owns t.events and closes it exactly once.
func (s *Service) run(ctx context.Context, t *turn) {
	defer s.inflight.Done()
	defer close(t.events)

	s.stats.started(t.provider)
	start := time.Now()
	slog.InfoContext(ctx, "STREAM_START", "chat", t.chat.ID, "provider", t.provider, "model", t.model)

	text, err := s.stream(ctx, t)

	// RELIABILITY: a caller that left mid-stream gets nothing more persisted.
	if err != nil && ctx.Err() != nil {
		s.stats.cancelled(t.provider)
		slog.InfoContext(ctx, "STREAM_CANCELLED", "chat", t.chat.ID, "provider", t.provider,
			"received", len(text), "elapsed", time.Since(start))
		return
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyReply
	}

	if err == nil {
		s.complete(ctx, t, text, start)
		return
	}
	s.fail(ctx, t, err, start)
}

// stream runs the adapter under the per-call timeout and forwards chunks.
func (s *Service) stream(ctx context.Context, t *turn) (string, error) {
	if t.adapter == nil {
		return "", &llm.ConfigurationError{Provider: t.provider, Field: "adapter"}
	}

	callCtx := ctx
	if t.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t.opts.CallTimeout)
		defer cancel()
	}

	req := llm.Request{Message: t.user.Content, Model: t.model}
	return t.adapter.Stream(callCtx, req, func(fragment, accumulated string) error {
		if !t.send(ctx, Event{Type: EventChunk, Fragment: fragment, Accumulated: accumulated}) {
			return ctx.Err()
		}
		return nil
	})
}

// complete stores the reply and emits the complete event.
func (s *Service) complete(ctx context.Context, t *turn, text string, start time.Time) {
	// RELIABILITY: the reply is fully received; record it even if the
	// caller disconnects from here on.
	persistCtx := context.WithoutCancel(ctx)

	bot, err := s.store.CreateMessage(persistCtx, t.chat.ID, text, RoleAssistant, t.model)
	if err != nil {
		s.stats.errored(t.provider)
		slog.ErrorContext(ctx, "STREAM_SAVE_FAILED", "chat", t.chat.ID, "provider", t.provider, logger.Err(err))
		t.send(ctx, Event{Type: EventError, Message: MsgSaveFailed})
		return
	}
	s.finalize(persistCtx, t)

	s.stats.completed(t.provider)
	slog.InfoContext(ctx, "STREAM_COMPLETE", "chat", t.chat.ID, "provider", t.provider,
		"chars", len(text), "elapsed", time.Since(start))
	t.send(ctx, s.completeEvent(t, bot))
}

// fail applies the OutcomePolicy to an adapter failure.
func (s *Service) fail(ctx context.Context, t *turn, cause error, start time.Time) {
	slog.WarnContext(ctx, "STREAM_FAILED", "chat", t.chat.ID, "provider", t.provider,
		"elapsed", time.Since(start), logger.Err(cause))

	policy := t.opts.Policy
	if !policy.MaskUpstreamFailureAsMessage {
		s.stats.errored(t.provider)
		t.send(ctx, Event{Type: EventError, Message: failureMessage(cause)})
		return
	}

	bot, err := s.store.CreateMessage(ctx, t.chat.ID, policy.ApologyMessage, RoleAssistant, t.model)
	if err != nil {
		if ctx.Err() != nil {
			s.stats.cancelled(t.provider)
			return
		}
		s.stats.errored(t.provider)
		slog.ErrorContext(ctx, "APOLOGY_SAVE_FAILED", "chat", t.chat.ID, logger.Err(err))
		t.send(ctx, Event{Type: EventError, Message: MsgGenerateFailed})
		return
	}
	s.finalize(ctx, t)

	s.stats.masked(t.provider)
	t.send(ctx, s.completeEvent(t, bot))
}

// finalize touches the chat and sets its title after the first exchange.
// Failures here are logged only.
func (s *Service) finalize(ctx context.Context, t *turn) {
	if err := s.store.UpdateChatTimestamp(ctx, t.chat.ID); err != nil {
		slog.WarnContext(ctx, "CHAT_TOUCH_FAILED", "chat", t.chat.ID, logger.Err(err))
	}

	count, err := s.store.CountMessages(ctx, t.chat.ID)
	if err != nil {
		slog.WarnContext(ctx, "CHAT_COUNT_FAILED", "chat", t.chat.ID, logger.Err(err))
		return
	}
	if count != 2 || t.chat.Title != t.opts.DefaultTitle {
		return
	}

	title := DeriveTitle(t.user.Content, t.opts.TitleLength)
	if err := s.store.UpdateChatTitle(ctx, t.chat.ID, title); err != nil {
		slog.WarnContext(ctx, "CHAT_TITLE_FAILED", "chat", t.chat.ID, logger.Err(err))
		return
	}
	slog.DebugContext(ctx, "CHAT_TITLED", "chat", t.chat.ID, "title", title)
}

func (s *Service) completeEvent(t *turn, bot *Message) Event {
	return Event{
		Type:        EventComplete,
		UserMessage: newMessageView(t.user, t.opts.TimestampLayout),
		BotMessage:  newMessageView(bot, t.opts.TimestampLayout),
	}
}
