// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jeranaias/chatrelay/internal/chat"
	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/logger"
	"github.com/jeranaias/chatrelay/internal/router"
	"github.com/jeranaias/chatrelay/internal/security"
)

// Version is reported by GET /health. Set at startup.
var Version = "dev"

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultMaxBodyBytes caps request bodies when the config leaves it unset.
	DefaultMaxBodyBytes = 1 << 20

	// DefaultShutdownTimeout bounds graceful shutdown when unset.
	DefaultShutdownTimeout = 15 * time.Second

	// healthPingTimeout bounds the storage ping in GET /health.
	healthPingTimeout = 2 * time.Second
)

// ProviderLister reports the providers offered to clients.
type ProviderLister interface {
	Models() []router.ProviderInfo
}

// ============================================================================
// SERVER
// ============================================================================

// Server serves the chat API.
type Server struct {
	cfg       config.ServerConfig
	chat      *chat.Service
	providers ProviderLister
	auth      security.Resolver
	router    *http.ServeMux
	limiter   *RateLimiter
	proxies   *ProxyList
	started   time.Time
}

// New wires the routes. auth may be nil, in which case every request is
// anonymous and the chat routes answer 401.
func New(cfg config.ServerConfig, svc *chat.Service, providers ProviderLister, auth security.Resolver) *Server {
	if auth == nil {
		auth = security.ResolverFunc(func(*http.Request) (*security.Principal, error) { return nil, nil })
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{
		cfg:       cfg,
		chat:      svc,
		providers: providers,
		auth:      auth,
		router:    http.NewServeMux(),
		proxies:   NewProxyList(cfg.TrustedProxies),
		started:   time.Now(),
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	s.setupRoutes()
	return s
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/messages", s.handleSendMessage)

	s.router.HandleFunc("GET /api/chats", s.handleListChats)
	s.router.HandleFunc("POST /api/chats", s.handleCreateChat)
	s.router.HandleFunc("GET /api/chats/{chatId}", s.handleGetChat)
	s.router.HandleFunc("PATCH /api/chats/{chatId}", s.handleRenameChat)
	s.router.HandleFunc("DELETE /api/chats/{chatId}", s.handleDeleteChat)

	s.router.HandleFunc("GET /api/providers", s.handleProviders)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /stats", s.handleStats)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(),
		RequestIDMiddleware(),
		LoggingMiddleware(),
		SecurityHeadersMiddleware(),
	}
	if len(s.cfg.CORSOrigins) > 0 {
		middlewares = append(middlewares, CORSMiddleware(NewCORSConfig(s.cfg.CORSOrigins)))
	}
	if s.limiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(s.limiter, s.proxies))
	}
	return Chain(middlewares...)(s.router)
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Name identifies the server in a service group.
func (s *Server) Name() string { return "http" }

// Run listens on cfg.Addr until ctx is cancelled, then shuts down
// gracefully and waits for in-flight turns to finish persisting.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener. Requests outlive ctx so streams can
// finish during shutdown; any still open after ShutdownTimeout are aborted.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("SERVER_START", "addr", ln.Addr().String(), "version", Version)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("SERVER_SHUTDOWN", "timeout", s.cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		// Streams still open past the timeout are cut so their turns see a
		// cancelled context and s.chat.Wait can return.
		slog.Warn("SERVER_FORCE_CLOSE", logger.Err(err))
		abort()
		if cerr := srv.Close(); cerr != nil {
			slog.Warn("SERVER_CLOSE_FAILED", logger.Err(cerr))
		}
	}
	if s.chat != nil {
		s.chat.Wait()
	}
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

// principal resolves the caller. Resolver failures are logged and treated
// as anonymous so the service answers 401.
func (s *Server) principal(r *http.Request) *security.Principal {
	p, err := s.auth.ResolvePrincipal(r)
	if err != nil {
		slog.WarnContext(r.Context(), "AUTH_RESOLVE_FAILED", logger.Err(err))
		return nil
	}
	return p
}

// decodeJSON reads a size-capped JSON body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// writeError writes {"error": message}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// writeFailure maps a service error to its status and public message.
// Internal details are logged, never sent.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := chat.StatusCode(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "REQUEST_FAILED", "path", r.URL.Path, logger.Err(err))
	}
	writeError(w, status, chat.PublicMessage(err))
}
