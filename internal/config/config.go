// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"

	"github.com/jeranaias/chatrelay/internal/util"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "chatrelay.toml"

// PathEnv names the environment variable that overrides DefaultPath.
const PathEnv = "CHATRELAY_CONFIG"

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the root configuration for chatrelay.
type Config struct {
	Server    ServerConfig    `toml:"server" json:"server" envPrefix:"CHATRELAY_SERVER_"`
	Storage   StorageConfig   `toml:"storage" json:"storage" envPrefix:"CHATRELAY_STORAGE_"`
	Providers ProvidersConfig `toml:"providers" json:"providers"`
	Chat      ChatConfig      `toml:"chat" json:"chat" envPrefix:"CHATRELAY_CHAT_"`
	Auth      AuthConfig      `toml:"auth" json:"auth" envPrefix:"CHATRELAY_AUTH_"`
	Log       LogConfig       `toml:"log" json:"log" envPrefix:"CHATRELAY_LOG_"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `toml:"addr" json:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `toml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `toml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `toml:"idle_timeout" json:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64 `toml:"max_body_bytes" json:"max_body_bytes" env:"MAX_BODY_BYTES"`

	// RateLimitRPS is the sustained per-client request rate. Zero disables
	// rate limiting.
	RateLimitRPS   float64 `toml:"rate_limit_rps" json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `toml:"rate_limit_burst" json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	CORSOrigins    []string `toml:"cors_origins" json:"cors_origins" env:"CORS_ORIGINS"`
	TrustedProxies []string `toml:"trusted_proxies" json:"trusted_proxies" env:"TRUSTED_PROXIES"`
}

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
)

// StorageConfig selects and configures the persistence gateway.
type StorageConfig struct {
	Driver string `toml:"driver" json:"driver" env:"DRIVER"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" env:"PATH"`

	// DSN is the Postgres or MySQL connection string.
	DSN string `toml:"dsn" json:"dsn" env:"DSN"`

	RedisAddr     string `toml:"redis_addr" json:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `toml:"redis_password" json:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `toml:"redis_db" json:"redis_db" env:"REDIS_DB"`
	RedisPrefix   string `toml:"redis_prefix" json:"redis_prefix" env:"REDIS_PREFIX"`
}

// ProvidersConfig holds one section per provider key. Hosted providers read
// their keys from the conventional OPENAI_API_KEY style variables.
type ProvidersConfig struct {
	Local       ProviderConfig    `toml:"local" json:"local" envPrefix:"CHATRELAY_LOCAL_"`
	OpenAI      ProviderConfig    `toml:"openai" json:"openai" envPrefix:"OPENAI_"`
	Groq        ProviderConfig    `toml:"groq" json:"groq" envPrefix:"GROQ_"`
	Anthropic   AnthropicConfig   `toml:"anthropic" json:"anthropic" envPrefix:"ANTHROPIC_"`
	HuggingFace HuggingFaceConfig `toml:"huggingface" json:"huggingface" envPrefix:"HUGGINGFACE_"`
}

// ProviderConfig is the common provider section.
type ProviderConfig struct {
	APIKey       string   `toml:"api_key" json:"api_key" env:"API_KEY"`
	BaseURL      string   `toml:"base_url" json:"base_url" env:"BASE_URL"`
	DefaultModel string   `toml:"default_model" json:"default_model" env:"DEFAULT_MODEL"`
	Models       []string `toml:"models" json:"models" env:"MODELS"`
}

// AnthropicConfig adds the reply length cap.
type AnthropicConfig struct {
	ProviderConfig
	MaxTokens int `toml:"max_tokens" json:"max_tokens" env:"MAX_TOKENS"`
}

// HuggingFaceConfig adds the simulated stream pacing.
type HuggingFaceConfig struct {
	ProviderConfig
	WordDelay time.Duration `toml:"word_delay" json:"word_delay" env:"WORD_DELAY"`
}

// ChatConfig configures the streaming aggregator.
type ChatConfig struct {
	// CallTimeout bounds one upstream call. Zero disables the limit.
	CallTimeout time.Duration `toml:"call_timeout" json:"call_timeout" env:"CALL_TIMEOUT"`

	TitleLength  int    `toml:"title_length" json:"title_length" env:"TITLE_LENGTH"`
	DefaultTitle string `toml:"default_title" json:"default_title" env:"DEFAULT_TITLE"`

	// MaskUpstreamFailures replaces a failed reply with ApologyMessage.
	MaskUpstreamFailures bool   `toml:"mask_upstream_failures" json:"mask_upstream_failures" env:"MASK_UPSTREAM_FAILURES"`
	ApologyMessage       string `toml:"apology_message" json:"apology_message" env:"APOLOGY_MESSAGE"`

	TimestampLayout string `toml:"timestamp_layout" json:"timestamp_layout" env:"TIMESTAMP_LAYOUT"`
	DateLayout      string `toml:"date_layout" json:"date_layout" env:"DATE_LAYOUT"`
}

// AuthConfig lists the bearer tokens accepted by the API.
type AuthConfig struct {
	// AnonymousOwner, when set, is the principal used for requests that carry
	// no token. Intended for local development only.
	AnonymousOwner string `toml:"anonymous_owner" json:"anonymous_owner" env:"ANONYMOUS_OWNER"`

	Tokens []TokenConfig `toml:"tokens" json:"tokens"`
}

// TokenConfig maps one bcrypt token hash to an owner.
type TokenConfig struct {
	Owner string `toml:"owner" json:"owner"`
	Email string `toml:"email" json:"email"`
	Hash  string `toml:"hash" json:"hash"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level   string `toml:"level" json:"level" env:"LEVEL"`
	NoColor bool   `toml:"no_color" json:"no_color" env:"NO_COLOR"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with every setting at its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // SSE responses outlive any fixed write deadline
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateLimitRPS:    5,
			RateLimitBurst:  20,
		},
		Storage: StorageConfig{
			Driver:      DriverSQLite,
			Path:        "chatrelay.db",
			RedisAddr:   "127.0.0.1:6379",
			RedisPrefix: "chatrelay",
		},
		Providers: ProvidersConfig{
			Local: ProviderConfig{
				BaseURL:      "http://127.0.0.1:11434",
				DefaultModel: "llama2",
			},
			OpenAI: ProviderConfig{
				BaseURL:      "https://api.openai.com/v1",
				DefaultModel: "gpt-3.5-turbo",
			},
			Groq: ProviderConfig{
				BaseURL:      "https://api.groq.com/openai/v1",
				DefaultModel: "llama3-70b-8192",
			},
			Anthropic: AnthropicConfig{
				ProviderConfig: ProviderConfig{
					BaseURL:      "https://api.anthropic.com",
					DefaultModel: "claude-3-5-sonnet-20241022",
				},
				MaxTokens: 1024,
			},
			HuggingFace: HuggingFaceConfig{
				ProviderConfig: ProviderConfig{
					BaseURL:      "https://api-inference.huggingface.co",
					DefaultModel: "HuggingFaceH4/zephyr-7b-beta",
				},
				WordDelay: 50 * time.Millisecond,
			},
		},
		Chat: ChatConfig{
			CallTimeout:          2 * time.Minute,
			TitleLength:          30,
			DefaultTitle:         "New Chat",
			MaskUpstreamFailures: true,
			ApologyMessage:       "Sorry, I could not generate a response.",
			TimestampLayout:      "03:04 PM",
			DateLayout:           "Jan 2, 2006",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	// Server
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaults.Server.IdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = defaults.Server.MaxBodyBytes
	}

	// Storage
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaults.Storage.Driver
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaults.Storage.Path
	}
	if cfg.Storage.RedisPrefix == "" {
		cfg.Storage.RedisPrefix = defaults.Storage.RedisPrefix
	}

	// Providers
	fillProvider(&cfg.Providers.Local, defaults.Providers.Local)
	fillProvider(&cfg.Providers.OpenAI, defaults.Providers.OpenAI)
	fillProvider(&cfg.Providers.Groq, defaults.Providers.Groq)
	fillProvider(&cfg.Providers.Anthropic.ProviderConfig, defaults.Providers.Anthropic.ProviderConfig)
	fillProvider(&cfg.Providers.HuggingFace.ProviderConfig, defaults.Providers.HuggingFace.ProviderConfig)
	if cfg.Providers.Anthropic.MaxTokens == 0 {
		cfg.Providers.Anthropic.MaxTokens = defaults.Providers.Anthropic.MaxTokens
	}

	// Chat
	if cfg.Chat.TitleLength == 0 {
		cfg.Chat.TitleLength = defaults.Chat.TitleLength
	}
	if cfg.Chat.DefaultTitle == "" {
		cfg.Chat.DefaultTitle = defaults.Chat.DefaultTitle
	}
	if cfg.Chat.ApologyMessage == "" {
		cfg.Chat.ApologyMessage = defaults.Chat.ApologyMessage
	}
	if cfg.Chat.TimestampLayout == "" {
		cfg.Chat.TimestampLayout = defaults.Chat.TimestampLayout
	}
	if cfg.Chat.DateLayout == "" {
		cfg.Chat.DateLayout = defaults.Chat.DateLayout
	}

	// Log
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}

func fillProvider(p *ProviderConfig, d ProviderConfig) {
	if p.BaseURL == "" {
		p.BaseURL = d.BaseURL
	}
	if p.DefaultModel == "" {
		p.DefaultModel = d.DefaultModel
	}
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// ResolvePath returns path, or $CHATRELAY_CONFIG, or DefaultPath.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return DefaultPath
}

// Load builds the configuration in precedence order: defaults, the TOML
// file at path (optional), a .env file in the working directory
// (optional), then environment variables. The result is validated.
func Load(path string) (*Config, error) {
	// A missing .env is the normal case; real variables always win over it.
	_ = godotenv.Load()

	cfg := Default()
	path = ResolvePath(path)
	if err := LoadTOML(cfg, path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the TOML file at path over cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		// Permissions might not be fixable on all systems.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %v\n", path, undecoded)
	}
	return nil
}

// ApplyEnvOverrides overlays environment variables onto c. Only variables
// that are set change a value.
//
// Provider keys use their conventional names (OPENAI_API_KEY, GROQ_API_KEY,
// ANTHROPIC_API_KEY, HUGGINGFACE_API_KEY). Everything else is prefixed
// CHATRELAY_, e.g. CHATRELAY_SERVER_ADDR or CHATRELAY_CHAT_CALL_TIMEOUT.
func (c *Config) ApplyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parsing env config: %w", err)
	}
	return nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to protect API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0o600 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes cfg to path with 0600 permissions.
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# chatrelay configuration file\n")
	buf.WriteString("# Provider API keys may be left blank and supplied via environment.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// REDACTION
// =============================================================================

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	clone.Server.TrustedProxies = append([]string(nil), c.Server.TrustedProxies...)
	clone.Auth.Tokens = append([]TokenConfig(nil), c.Auth.Tokens...)
	clone.Providers.Local.Models = append([]string(nil), c.Providers.Local.Models...)
	clone.Providers.OpenAI.Models = append([]string(nil), c.Providers.OpenAI.Models...)
	clone.Providers.Groq.Models = append([]string(nil), c.Providers.Groq.Models...)
	clone.Providers.Anthropic.Models = append([]string(nil), c.Providers.Anthropic.Models...)
	clone.Providers.HuggingFace.Models = append([]string(nil), c.Providers.HuggingFace.Models...)
	return &clone
}

// String returns a JSON rendering of the config for debugging.
// SECURITY: API keys, passwords and token hashes are redacted.
func (c *Config) String() string {
	safe := c.Clone()

	redact := func(s *string) {
		if *s != "" {
			*s = "[REDACTED]"
		}
	}
	redact(&safe.Providers.OpenAI.APIKey)
	redact(&safe.Providers.Groq.APIKey)
	redact(&safe.Providers.Anthropic.APIKey)
	redact(&safe.Providers.HuggingFace.APIKey)
	redact(&safe.Storage.RedisPassword)
	redact(&safe.Storage.DSN)
	for i := range safe.Auth.Tokens {
		redact(&safe.Auth.Tokens[i].Hash)
	}

	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
