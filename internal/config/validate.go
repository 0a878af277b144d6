// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and returns all problems as ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// ==========================================================================
	// Server
	// ==========================================================================

	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 {
		add("server", "timeouts must not be negative")
	}
	if c.Server.MaxBodyBytes < 0 {
		add("server.max_body_bytes", "must not be negative")
	}
	if c.Server.RateLimitRPS < 0 {
		add("server.rate_limit_rps", "must not be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		add("server.rate_limit_burst", "must be at least 1 when rate limiting is enabled")
	}

	// ==========================================================================
	// Storage
	// ==========================================================================

	switch strings.ToLower(c.Storage.Driver) {
	case DriverSQLite:
		if c.Storage.Path == "" {
			add("storage.path", "required for the sqlite driver")
		}
	case DriverPostgres, DriverMySQL:
		if c.Storage.DSN == "" {
			add("storage.dsn", "required for the %s driver", c.Storage.Driver)
		}
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			add("storage.redis_addr", "required for the redis driver")
		}
		if c.Storage.RedisDB < 0 {
			add("storage.redis_db", "must not be negative")
		}
	default:
		add("storage.driver", "invalid driver '%s', must be one of: sqlite, postgres, mysql, redis", c.Storage.Driver)
	}

	// ==========================================================================
	// Providers
	// ==========================================================================

	for name, p := range map[string]ProviderConfig{
		"local":       c.Providers.Local,
		"openai":      c.Providers.OpenAI,
		"groq":        c.Providers.Groq,
		"anthropic":   c.Providers.Anthropic.ProviderConfig,
		"huggingface": c.Providers.HuggingFace.ProviderConfig,
	} {
		if p.BaseURL == "" {
			continue
		}
		u, err := url.Parse(p.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("providers."+name+".base_url", "invalid URL '%s'", p.BaseURL)
		}
	}
	if c.Providers.Anthropic.MaxTokens < 0 {
		add("providers.anthropic.max_tokens", "must not be negative")
	}

	// ==========================================================================
	// Chat
	// ==========================================================================

	if c.Chat.CallTimeout < 0 {
		add("chat.call_timeout", "must not be negative")
	}
	if c.Chat.TitleLength < 1 {
		add("chat.title_length", "must be at least 1")
	}

	// ==========================================================================
	// Auth
	// ==========================================================================

	for i, tok := range c.Auth.Tokens {
		field := fmt.Sprintf("auth.tokens[%d]", i)
		if tok.Owner == "" {
			add(field+".owner", "must not be empty")
		}
		if !strings.HasPrefix(tok.Hash, "$2") {
			add(field+".hash", "must be a bcrypt hash (see chatrelay hash-token)")
		}
	}

	// ==========================================================================
	// Log
	// ==========================================================================

	if _, err := ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid level '%s', must be one of: debug, info, warn, error", s)
	}
	return level, nil
}
