// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the local-inference adapter for an Ollama server.
//
// The adapter posts to /api/generate with streaming enabled and reads the
// response as JSON lines. Each line's "response" field is a fragment; the
// first line with "done": true ends the stream.
//
// # Key Types
//
//   - Client: llm.Adapter for the "local" provider key
//   - GenerateRequest: body of a /api/generate call
//   - GenerateResponse: one decoded stream line
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    BaseURL: "http://127.0.0.1:11434",
//	})
//	text, err := client.Stream(ctx, llm.Request{Message: "Hello"}, func(frag, acc string) error {
//	    fmt.Print(frag)
//	    return nil
//	})
package ollama
