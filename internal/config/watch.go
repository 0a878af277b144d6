// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads the config file at path whenever it is written or
// recreated and hands each valid result to onChange. Invalid edits are
// logged and ignored so the running config stays in effect. Watch blocks
// until ctx is done.
//
// The parent directory is watched rather than the file, since many editors
// replace the file on save.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(*Config)) error {
	path = ResolvePath(path)
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	slog.Info("CONFIG_WATCH", "path", abs)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("CONFIG_WATCH_ERROR", "err", err)

		case <-timer.C:
			cfg, err := Load(abs)
			if err != nil {
				slog.Warn("CONFIG_RELOAD_FAILED", "path", abs, "err", err)
				continue
			}
			slog.Info("CONFIG_RELOADED", "path", abs)
			onChange(cfg)
		}
	}
}
