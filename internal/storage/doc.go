// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage implements chat.Store for the configured backend.
//
// # Backends
//
//   - sqlite (default): modernc.org/sqlite, a single file, no cgo
//   - postgres: github.com/uptrace/bun/driver/pgdriver
//   - mysql: github.com/go-sql-driver/mysql
//   - redis: github.com/redis/go-redis/v9
//
// The three SQL backends share one implementation (SQL) and differ only in
// placeholder style and column types. Their schema is managed by
// github.com/rubenv/sql-migrate and applied on Open or by "chatrelay migrate".
//
// # Usage
//
//	store, err := storage.Open(ctx, cfg.Storage)
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
// # Timestamps
//
// Times are stored as Unix microseconds. The process clock never hands out
// the same value twice, so messages written in the same microsecond still
// sort in write order.
package storage
