// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat runs one conversational turn across the provider adapters
// and keeps the chat history in a Store.
//
// # Turn lifecycle
//
// Service.Send checks the principal and the request, verifies chat
// ownership and stores the user message. Only then does it return a
// channel. A goroutine streams the reply into that channel as chunk events
// and finishes with either:
//
//   - complete: the assistant reply (or the apology, see OutcomePolicy)
//     was stored; the event carries both messages.
//   - error: the reply could not be produced or stored.
//
// If the caller's context ends first, the goroutine stops without storing
// or sending anything else. The channel is always closed exactly once.
//
// After the first exchange of a chat still carrying the default title, the
// title is replaced by the start of the user's first message.
package chat
