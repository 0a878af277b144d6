// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router maps provider keys to adapters.
//
// A request names its provider with a free-form key ("openai", " Groq ",
// ""). Resolve normalizes the key and returns the matching adapter; any key
// it does not know routes to the local adapter, so a request always has
// somewhere to go.
//
// # Key Types
//
//   - Registry: concurrency-safe key -> adapter table
//   - ProviderInfo: what GET /api/providers reports for one key
//
// # Usage
//
//	reg := router.New(cfg.Providers)
//	adapter := reg.Resolve(req.SelectedAPI)
//
// On config reload, build a fresh registry and swap it in with Replace.
package router
