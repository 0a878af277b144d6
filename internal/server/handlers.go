// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jeranaias/chatrelay/internal/chat"
	"github.com/jeranaias/chatrelay/internal/logger"
	"github.com/jeranaias/chatrelay/internal/router"
)

const (
	msgBadBody  = "Invalid request body"
	msgTooLarge = "Request body too large"
)

// rejectBody answers a body that failed to decode.
func rejectBody(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, msgTooLarge)
		return
	}
	writeError(w, http.StatusBadRequest, msgBadBody)
}

// ============================================================================
// MESSAGES
// ============================================================================

// completeResponse is the ?stream=false body.
type completeResponse struct {
	UserMessage *chat.MessageView `json:"userMessage"`
	BotMessage  *chat.MessageView `json:"botMessage"`
}

// handleSendMessage handles POST /api/messages.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req chat.SendRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		rejectBody(w, err)
		return
	}

	events, err := s.chat.Send(r.Context(), s.principal(r), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	if r.URL.Query().Get("stream") == "false" {
		collectEvents(w, events)
		return
	}
	streamEvents(w, r, events)
}

// collectEvents drains events into a single JSON reply.
func collectEvents(w http.ResponseWriter, events <-chan chat.Event) {
	for ev := range events {
		switch ev.Type {
		case chat.EventComplete:
			writeJSON(w, http.StatusOK, completeResponse{
				UserMessage: ev.UserMessage,
				BotMessage:  ev.BotMessage,
			})
		case chat.EventError:
			writeError(w, http.StatusBadGateway, ev.Message)
		}
	}
	// A channel closed without a terminal event means the caller left.
}

// ============================================================================
// CHATS
// ============================================================================

// handleListChats handles GET /api/chats.
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	items, err := s.chat.ListChats(r.Context(), s.principal(r))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCreateChat handles POST /api/chats.
func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	detail, err := s.chat.CreateChat(r.Context(), s.principal(r))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// handleGetChat handles GET /api/chats/{chatId}.
func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	detail, err := s.chat.GetChat(r.Context(), s.principal(r), r.PathValue("chatId"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// renameRequest is the body of PATCH /api/chats/{chatId}.
type renameRequest struct {
	Title string `json:"title"`
}

// handleRenameChat handles PATCH /api/chats/{chatId}.
func (s *Server) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		rejectBody(w, err)
		return
	}
	view, err := s.chat.RenameChat(r.Context(), s.principal(r), r.PathValue("chatId"), req.Title)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleDeleteChat handles DELETE /api/chats/{chatId}.
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.DeleteChat(r.Context(), s.principal(r), r.PathValue("chatId")); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": chat.MsgChatDeleted})
}

// ============================================================================
// PROVIDERS, HEALTH AND STATS
// ============================================================================

// ProvidersResponse is the body of GET /api/providers.
type ProvidersResponse struct {
	Providers []router.ProviderInfo `json:"providers"`
	Default   string                `json:"default"`
}

// handleProviders handles GET /api/providers.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	resp := ProvidersResponse{Providers: []router.ProviderInfo{}, Default: router.FallbackKey}
	if s.providers != nil {
		resp.Providers = s.providers.Models()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Storage       string `json:"storage"`
	StorageStatus string `json:"storageStatus"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// handleHealth handles GET /health. A failed storage ping degrades the
// status but still answers 200 so the process counts as live.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:        "ok",
		Version:       Version,
		StorageStatus: "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	store := s.chat.Store()
	health.Storage = store.Driver()

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		slog.WarnContext(r.Context(), "HEALTH_STORAGE_DOWN", "driver", health.Storage, logger.Err(err))
		health.Status = "degraded"
		health.StorageStatus = "unavailable"
	}

	writeJSON(w, http.StatusOK, health)
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	UptimeSeconds int64                         `json:"uptimeSeconds"`
	Providers     map[string]chat.ProviderStats `json:"providers"`
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Providers:     s.chat.Stats().Snapshot(),
	})
}
