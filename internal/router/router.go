// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jeranaias/chatrelay/internal/cloud"
	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/llm"
	"github.com/jeranaias/chatrelay/internal/ollama"
)

// FallbackKey is the provider used for unknown or empty keys.
const FallbackKey = llm.ProviderLocal

// ProviderInfo describes one registered provider.
type ProviderInfo struct {
	Key          string   `json:"key"`
	DefaultModel string   `json:"defaultModel"`
	Models       []string `json:"models"`
	Configured   bool     `json:"configured"`
}

// configurable is implemented by adapters that need credentials.
type configurable interface {
	IsConfigured() bool
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps provider keys to adapters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]llm.Adapter
	models   map[string][]string
}

// New builds the five standard adapters from cfg.
func New(cfg config.ProvidersConfig) *Registry {
	r := NewWith(
		ollama.NewClientWithConfig(&ollama.ClientConfig{
			BaseURL:      cfg.Local.BaseURL,
			DefaultModel: cfg.Local.DefaultModel,
		}),
		cloud.NewOpenAI(cloudConfig(cfg.OpenAI)),
		cloud.NewGroq(cloudConfig(cfg.Groq)),
		cloud.NewAnthropic(cloudConfig(cfg.Anthropic.ProviderConfig), cfg.Anthropic.MaxTokens),
		cloud.NewHuggingFace(cloudConfig(cfg.HuggingFace.ProviderConfig), cfg.HuggingFace.WordDelay),
	)

	r.setModels(llm.ProviderLocal, cfg.Local.Models, []string{"llama2", "mistral", "llama3"})
	r.setModels(llm.ProviderOpenAI, cfg.OpenAI.Models, cloud.OpenAIModels)
	r.setModels(llm.ProviderGroq, cfg.Groq.Models, cloud.GroqModels)
	r.setModels(llm.ProviderAnthropic, cfg.Anthropic.Models, cloud.AnthropicModels)
	r.setModels(llm.ProviderHuggingFace, cfg.HuggingFace.Models, cloud.HuggingFaceModels)
	return r
}

// NewWith builds a registry from explicit adapters, keyed by Name().
func NewWith(adapters ...llm.Adapter) *Registry {
	r := &Registry{
		adapters: make(map[string]llm.Adapter, len(adapters)),
		models:   make(map[string][]string, len(adapters)),
	}
	for _, a := range adapters {
		r.adapters[NormalizeKey(a.Name())] = a
	}
	return r
}

func cloudConfig(p config.ProviderConfig) cloud.Config {
	return cloud.Config{
		APIKey:       p.APIKey,
		BaseURL:      p.BaseURL,
		DefaultModel: p.DefaultModel,
	}
}

func (r *Registry) setModels(key string, configured, fallback []string) {
	if len(configured) > 0 {
		r.models[key] = configured
		return
	}
	r.models[key] = fallback
}

// NormalizeKey lower-cases and trims a provider key.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Lookup returns the adapter registered under key, if any.
func (r *Registry) Lookup(key string) (llm.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[NormalizeKey(key)]
	return a, ok
}

// Resolve returns the adapter for key, or the local adapter when key is
// empty or unknown. It returns nil only if no local adapter is registered.
func (r *Registry) Resolve(key string) llm.Adapter {
	if a, ok := r.Lookup(key); ok {
		return a
	}
	if k := NormalizeKey(key); k != "" {
		slog.Debug("PROVIDER_FALLBACK", "requested", k, "using", FallbackKey)
	}
	a, _ := r.Lookup(FallbackKey)
	return a
}

// Keys lists the registered provider keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Models describes every registered provider, sorted by key.
func (r *Registry) Models() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ProviderInfo, 0, len(r.adapters))
	for key, a := range r.adapters {
		info := ProviderInfo{
			Key:          key,
			DefaultModel: a.DefaultModel(),
			Models:       append([]string(nil), r.models[key]...),
			Configured:   true,
		}
		if c, ok := a.(configurable); ok {
			info.Configured = c.IsConfigured()
		}
		if len(info.Models) == 0 {
			info.Models = []string{info.DefaultModel}
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// Replace atomically swaps in the adapters of next. In-flight streams keep
// the adapter they resolved.
func (r *Registry) Replace(next *Registry) {
	next.mu.RLock()
	adapters := make(map[string]llm.Adapter, len(next.adapters))
	for k, v := range next.adapters {
		adapters[k] = v
	}
	models := make(map[string][]string, len(next.models))
	for k, v := range next.models {
		models[k] = v
	}
	next.mu.RUnlock()

	r.mu.Lock()
	r.adapters = adapters
	r.models = models
	r.mu.Unlock()
}
