// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package service runs long-lived components side by side. The first one to
// fail stops the rest.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/sourcegraph/conc"

	"github.com/jeranaias/chatrelay/internal/logger"
)

// Service is a component that runs until ctx is cancelled.
type Service interface {
	Name() string
	Run(context.Context) error
}

// Func adapts a function to Service.
type Func struct {
	ServiceName string
	Fn          func(context.Context) error
}

// Name implements Service.
func (f Func) Name() string { return f.ServiceName }

// Run implements Service.
func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }

// Group runs every Service concurrently.
type Group []Service

// Run starts every service and blocks until all have returned. When one
// fails, or panics, the shared context is cancelled so the others wind
// down. Errors are combined with go-multierror, each prefixed by the
// service name.
func (g Group) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(g))
	wg := conc.NewWaitGroup()
	for _, s := range g {
		wg.Go(func() {
			// RELIABILITY: cancel before a panic propagates to conc so the
			// siblings do not wait forever on runCtx.
			defer func() {
				if r := recover(); r != nil {
					cancel()
					panic(r)
				}
			}()
			slog.Debug("SERVICE_START", "service", s.Name())
			if err := s.Run(runCtx); err != nil {
				slog.Error("SERVICE_FAILED", "service", s.Name(), logger.Err(err))
				errCh <- fmt.Errorf("%s: %w", s.Name(), err)
				cancel()
				return
			}
			slog.Debug("SERVICE_STOP", "service", s.Name())
		})
	}

	var err error
	if recovered := wg.WaitAndRecover(); recovered != nil {
		err = multierror.Append(err, fmt.Errorf("panic: %w", recovered.AsError()))
	}
	close(errCh)
	for srvErr := range errCh {
		err = multierror.Append(err, srvErr)
	}
	return err
}
