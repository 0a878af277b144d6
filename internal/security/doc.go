// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security resolves the caller of an API request.
//
// Callers authenticate with "Authorization: Bearer <token>". Configured
// tokens are stored only as bcrypt hashes (see HashToken and the hash-token
// command). Any failure resolves to no principal, so handlers fail closed.
//
// For local development auth.anonymous_owner may name a principal used when
// the request carries no Authorization header at all.
package security
