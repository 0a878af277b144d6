// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat service over HTTP.
//
// # Endpoints
//
//   - POST   /api/messages          - Send a message, reply streamed as SSE
//   - GET    /api/chats             - List the caller's chats
//   - POST   /api/chats             - Create a chat
//   - GET    /api/chats/{chatId}    - Chat with its messages
//   - PATCH  /api/chats/{chatId}    - Rename a chat
//   - DELETE /api/chats/{chatId}    - Delete a chat and its messages
//   - GET    /api/providers         - Provider keys and suggested models
//   - GET    /health                - Liveness and storage driver
//   - GET    /stats                 - Stream counters per provider
//
// POST /api/messages answers with text/event-stream frames of the form
// "data: <json>\n\n", one per chat.Event. Adding ?stream=false collapses
// the stream into a single JSON body.
//
// # Middleware
//
//   - Panic recovery
//   - Request ids and access logging
//   - Security headers
//   - CORS for configured origins
//   - Per-client rate limiting (golang.org/x/time/rate)
//
// # Usage
//
//	srv := server.New(cfg.Server, svc, registry, auth)
//	if err := srv.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
package server
