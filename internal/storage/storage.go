// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/chatrelay/internal/chat"
	"github.com/jeranaias/chatrelay/internal/config"
)

// Open connects to the backend named by cfg.Driver. SQL backends are
// migrated to the latest schema before Open returns.
func Open(ctx context.Context, cfg config.StorageConfig) (chat.Store, error) {
	var (
		store chat.Store
		err   error
	)
	switch cfg.Driver {
	case config.DriverSQLite, "":
		store, err = nilIfErr(OpenSQLite(ctx, cfg.Path))
	case config.DriverPostgres:
		store, err = nilIfErr(OpenPostgres(ctx, cfg.DSN))
	case config.DriverMySQL:
		store, err = nilIfErr(OpenMySQL(ctx, cfg.DSN))
	case config.DriverRedis:
		var r *Redis
		r, err = OpenRedis(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err == nil {
			store = r
		}
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// OpenSQLStore opens one of the SQL backends without migrating it, for
// commands that drive the migrations themselves.
func OpenSQLStore(ctx context.Context, cfg config.StorageConfig) (*SQL, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return openSQLite(ctx, cfg.Path, false)
	case config.DriverPostgres:
		return openPostgres(ctx, cfg.DSN, false)
	case config.DriverMySQL:
		return openMySQL(ctx, cfg.DSN, false)
	default:
		return nil, fmt.Errorf("storage: driver %q has no SQL schema", cfg.Driver)
	}
}

// nilIfErr keeps a failed open from yielding a non-nil interface.
func nilIfErr(s *SQL, err error) (chat.Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// =============================================================================
// IDS AND CLOCK
// =============================================================================

func newID() string {
	return uuid.NewString()
}

// clock hands out strictly increasing Unix-microsecond timestamps.
type clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func newClock() *clock {
	return &clock{now: time.Now}
}

func (c *clock) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UnixMicro()
	if t <= c.last {
		t = c.last + 1
	}
	c.last = t
	return t
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
