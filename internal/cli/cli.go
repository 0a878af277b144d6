// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the chatrelay command line.
//
// Commands:
//   - serve (default) - Run the HTTP API
//   - migrate         - Apply or inspect SQL schema migrations
//   - hash-token      - Hash a bearer token for [[auth.tokens]]
//   - version         - Print build information
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/logger"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	noColor    bool
}

// app carries state from the persistent pre-run into subcommands.
type app struct {
	flags globalFlags
	serve serveOptions
	cfg   *config.Config
	out   io.Writer
	err   io.Writer
}

// usageError marks errors caused by bad invocation.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{out: os.Stdout, err: os.Stderr}

	root := &cobra.Command{
		Use:           "chatrelay",
		Short:         "Streaming chat relay for local and hosted LLM providers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			a.err = cmd.ErrOrStderr()
			if cmd.Annotations[annotationNoConfig] == "true" {
				return nil
			}
			return a.loadConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd.Context())
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "config file (default $"+config.PathEnv+" or "+config.DefaultPath+")")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&a.flags.noColor, "no-color", false, "disable colored log output")

	root.AddCommand(
		newServeCommand(a),
		newMigrateCommand(a),
		newHashTokenCommand(a),
		newVersionCommand(a),
	)
	return root
}

// annotationNoConfig skips config loading for commands that do not need it.
const annotationNoConfig = "chatrelay/no-config"

// loadConfig loads the config, applies flag overrides and installs the
// logger.
func (a *app) loadConfig() error {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return err
	}
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}
	if a.flags.noColor {
		cfg.Log.NoColor = true
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return &usageError{err: err}
	}
	logger.Setup(a.err, level, cfg.Log.NoColor)
	config.SetGlobal(cfg)
	a.cfg = cfg
	return nil
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	return execute(ctx, NewRootCommand(), args)
}

func execute(ctx context.Context, root *cobra.Command, args []string) int {
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		var ue *usageError
		if errors.As(err, &ue) {
			return ExitUsage
		}
		slog.Debug("COMMAND_FAILED", logger.Err(err))
		return ExitError
	}
	return ExitOK
}
