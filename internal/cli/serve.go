// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatrelay/internal/chat"
	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/logger"
	"github.com/jeranaias/chatrelay/internal/router"
	"github.com/jeranaias/chatrelay/internal/security"
	"github.com/jeranaias/chatrelay/internal/server"
	"github.com/jeranaias/chatrelay/internal/service"
	"github.com/jeranaias/chatrelay/internal/storage"
)

// serveOptions are the serve-only flags.
type serveOptions struct {
	addr    string
	noWatch bool
}

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&a.serve.addr, "addr", "", "listen address, overrides server.addr")
	cmd.Flags().BoolVar(&a.serve.noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

// =============================================================================
// SERVE
// =============================================================================

// reloadable holds the reloadable components.
type reloadable struct {
	registry *router.Registry
	chat     *chat.Service
	auth     *security.TokenAuthenticator
}

// apply pushes a reloaded config into the running components. Server and
// storage settings take effect on restart.
func (rt *reloadable) apply(cfg *config.Config) {
	rt.registry.Replace(router.New(cfg.Providers))
	rt.chat.SetOptions(chat.OptionsFromConfig(cfg.Chat))
	rt.auth.Reload(cfg.Auth)
	config.SetGlobal(cfg)
	slog.Info("CONFIG_APPLIED", "providers", len(rt.registry.Keys()), "tokens", len(cfg.Auth.Tokens))
}

// runServe wires storage, providers, auth and the HTTP server, then runs
// until SIGINT or SIGTERM.
func (a *app) runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	if a.serve.addr != "" {
		cfg.Server.Addr = a.serve.addr
	}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("STORAGE_CLOSE_FAILED", logger.Err(err))
		}
	}()
	slog.Info("STORAGE_READY", "driver", store.Driver())

	rt := &reloadable{
		registry: router.New(cfg.Providers),
		auth:     security.NewTokenAuthenticator(cfg.Auth),
	}
	rt.chat = chat.NewService(store, rt.registry, chat.OptionsFromConfig(cfg.Chat))

	if len(cfg.Auth.Tokens) == 0 && cfg.Auth.AnonymousOwner == "" {
		slog.Warn("AUTH_NO_TOKENS", "hint", "every chat route will answer 401; add [[auth.tokens]] or set auth.anonymous_owner")
	}

	server.Version = Version
	srv := server.New(cfg.Server, rt.chat, rt.registry, rt.auth)

	group := service.Group{srv}
	if !a.serve.noWatch {
		path := config.ResolvePath(a.flags.configPath)
		group = append(group, service.Func{
			ServiceName: "config-watch",
			Fn: func(ctx context.Context) error {
				return config.Watch(ctx, path, config.DefaultDebounce, rt.apply)
			},
		})
	}

	return group.Run(ctx)
}
