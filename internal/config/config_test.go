// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatrelay.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// =============================================================================
// LOAD TESTS
// =============================================================================

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, DriverSQLite, cfg.Storage.Driver)
	require.Equal(t, 2*time.Minute, cfg.Chat.CallTimeout)
	require.Equal(t, "New Chat", cfg.Chat.DefaultTitle)
	require.Equal(t, "03:04 PM", cfg.Chat.TimestampLayout)
	require.True(t, cfg.Chat.MaskUpstreamFailures)
	require.Equal(t, "llama2", cfg.Providers.Local.DefaultModel)
	require.Equal(t, 50*time.Millisecond, cfg.Providers.HuggingFace.WordDelay)
}

func TestLoad_TOMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = "127.0.0.1:9000"
rate_limit_rps = 0

[chat]
call_timeout = "45s"
mask_upstream_failures = false
apology_message = "Oops."

[providers.groq]
api_key = "gsk-file"
models = ["llama3-8b-8192"]

[providers.anthropic]
max_tokens = 2048

[[auth.tokens]]
owner = "alice"
email = "alice@example.com"
hash = "$2a$10$abcdefghijklmnopqrstuuJ1r7yTt9H9j5sQ9t9w8pY4Qm0oQvV1S"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	require.Zero(t, cfg.Server.RateLimitRPS)
	require.Equal(t, 45*time.Second, cfg.Chat.CallTimeout)
	require.False(t, cfg.Chat.MaskUpstreamFailures)
	require.Equal(t, "Oops.", cfg.Chat.ApologyMessage)
	require.Equal(t, "gsk-file", cfg.Providers.Groq.APIKey)
	require.Equal(t, []string{"llama3-8b-8192"}, cfg.Providers.Groq.Models)
	require.Equal(t, "https://api.groq.com/openai/v1", cfg.Providers.Groq.BaseURL)
	require.Equal(t, 2048, cfg.Providers.Anthropic.MaxTokens)
	require.Len(t, cfg.Auth.Tokens, 1)
	require.Equal(t, "alice", cfg.Auth.Tokens[0].Owner)
}

func TestLoad_TightensPermissions(t *testing.T) {
	path := writeConfig(t, "[log]\nlevel = \"debug\"\n")

	_, err := Load(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "[providers.openai]\napi_key = \"from-file\"\n")

	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("HUGGINGFACE_WORD_DELAY", "5ms")
	t.Setenv("CHATRELAY_SERVER_ADDR", ":7000")
	t.Setenv("CHATRELAY_CHAT_CALL_TIMEOUT", "10s")
	t.Setenv("CHATRELAY_STORAGE_DRIVER", "redis")
	t.Setenv("CHATRELAY_SERVER_CORS_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Providers.OpenAI.APIKey)
	require.Equal(t, "sk-ant", cfg.Providers.Anthropic.APIKey)
	require.Equal(t, 5*time.Millisecond, cfg.Providers.HuggingFace.WordDelay)
	require.Equal(t, ":7000", cfg.Server.Addr)
	require.Equal(t, 10*time.Second, cfg.Chat.CallTimeout)
	require.Equal(t, DriverRedis, cfg.Storage.Driver)
	require.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeConfig(t, "[server\naddr = ")
	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "chatrelay.toml")
	cfg := Default()
	cfg.Chat.ApologyMessage = "Try again later."

	require.NoError(t, SaveTOML(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "Try again later.", loaded.Chat.ApologyMessage)
	require.Equal(t, cfg.Chat.CallTimeout, loaded.Chat.CallTimeout)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad driver", func(c *Config) { c.Storage.Driver = "oracle" }, "storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = DriverPostgres }, "storage.dsn"},
		{"bad base url", func(c *Config) { c.Providers.OpenAI.BaseURL = "ftp://x" }, "providers.openai.base_url"},
		{"negative timeout", func(c *Config) { c.Chat.CallTimeout = -time.Second }, "chat.call_timeout"},
		{"zero title length", func(c *Config) { c.Chat.TitleLength = 0 }, "chat.title_length"},
		{"plain token", func(c *Config) { c.Auth.Tokens = []TokenConfig{{Owner: "a", Hash: "secret"}} }, "auth.tokens[0].hash"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"burst without rps", func(c *Config) { c.Server.RateLimitBurst = 0 }, "server.rate_limit_burst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs), "Validate() = %v", err)

			found := false
			for _, v := range verrs {
				if v.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want an error on %s", err, tt.field)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

func TestString_RedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Providers.OpenAI.APIKey = "sk-live-123"
	cfg.Storage.DSN = "postgres://user:pw@db/chat"
	cfg.Auth.Tokens = []TokenConfig{{Owner: "a", Hash: "$2a$10$hash"}}

	s := cfg.String()
	for _, secret := range []string{"sk-live-123", "user:pw", "$2a$10$hash"} {
		if strings.Contains(s, secret) {
			t.Errorf("String() leaks %q", secret)
		}
	}
	require.Equal(t, "sk-live-123", cfg.Providers.OpenAI.APIKey, "String() must not mutate the config")
}

// =============================================================================
// GLOBAL TESTS
// =============================================================================

// TestConfig_ConcurrentAccess tests that Global() and SetGlobal() can be
// safely called concurrently.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	t.Setenv(PathEnv, filepath.Join(t.TempDir(), "none.toml"))
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetGlobal(Default())
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

// =============================================================================
// WATCH TESTS
// =============================================================================

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "[chat]\napology_message = \"first\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("[chat]\napology_message = \"second\"\n"), 0o600))

	select {
	case cfg := <-changes:
		require.Equal(t, "second", cfg.Chat.ApologyMessage)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	require.NoError(t, <-done)
}
