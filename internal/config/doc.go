// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatrelay.
//
// # Key Types
//
//   - Config: root configuration
//   - ProvidersConfig: one section per provider key
//   - ChatConfig: aggregator timeouts, titles and failure masking
//   - ValidateErrors: every problem found by Validate
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (OPENAI_API_KEY style keys, CHATRELAY_* for the rest)
//   - A .env file in the working directory
//   - chatrelay.toml (or the file named by CHATRELAY_CONFIG)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go config.Watch(ctx, "", 0, func(next *config.Config) { ... })
package config
