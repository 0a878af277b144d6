// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/chatrelay/internal/config"
)

// =============================================================================
// PRINCIPAL
// =============================================================================

// Principal is the authenticated caller. Chats are owned by Principal.ID.
type Principal struct {
	ID    string
	Email string
}

// Resolver yields the principal for a request, or nil when the request is
// not authenticated. A non-nil error means the check itself failed.
type Resolver interface {
	ResolvePrincipal(r *http.Request) (*Principal, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(r *http.Request) (*Principal, error)

// ResolvePrincipal implements Resolver.
func (f ResolverFunc) ResolvePrincipal(r *http.Request) (*Principal, error) {
	return f(r)
}

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// BearerPrefix is the Authorization scheme accepted by the API.
	BearerPrefix = "Bearer "

	// MinTokenLength rejects trivially short tokens before hashing them.
	MinTokenLength = 16

	// HashCost is the bcrypt cost used by HashToken.
	HashCost = bcrypt.DefaultCost
)

// ErrTokenTooShort is returned by HashToken for tokens under MinTokenLength.
var ErrTokenTooShort = fmt.Errorf("token must be at least %d characters", MinTokenLength)

// =============================================================================
// TOKEN AUTHENTICATOR
// =============================================================================

// TokenAuthenticator checks "Authorization: Bearer <token>" against the
// bcrypt hashes in config. Tokens that verified once are remembered by their
// SHA-256 digest so bcrypt only runs on the first request per token.
type TokenAuthenticator struct {
	mu        sync.RWMutex
	anonymous string
	entries   []config.TokenConfig

	// verified maps hex(sha256(token)) to *Principal.
	verified sync.Map
}

var _ Resolver = (*TokenAuthenticator)(nil)

// NewTokenAuthenticator builds an authenticator from the auth config section.
func NewTokenAuthenticator(cfg config.AuthConfig) *TokenAuthenticator {
	a := &TokenAuthenticator{}
	a.Reload(cfg)
	return a
}

// Reload swaps the accepted tokens and drops the verification cache.
func (a *TokenAuthenticator) Reload(cfg config.AuthConfig) {
	a.mu.Lock()
	a.anonymous = strings.TrimSpace(cfg.AnonymousOwner)
	a.entries = append([]config.TokenConfig(nil), cfg.Tokens...)
	a.mu.Unlock()

	a.verified.Range(func(key, _ any) bool {
		a.verified.Delete(key)
		return true
	})
}

// ResolvePrincipal implements Resolver. It never returns an error for a bad
// token: the request simply has no principal.
func (a *TokenAuthenticator) ResolvePrincipal(r *http.Request) (*Principal, error) {
	token, present := bearerToken(r)

	a.mu.RLock()
	anonymous := a.anonymous
	entries := a.entries
	a.mu.RUnlock()

	if !present {
		if anonymous != "" {
			return &Principal{ID: anonymous}, nil
		}
		return nil, nil
	}
	if len(token) < MinTokenLength {
		return nil, nil
	}

	digest := tokenDigest(token)
	if cached, ok := a.verified.Load(digest); ok {
		p := cached.(*Principal)
		return &Principal{ID: p.ID, Email: p.Email}, nil
	}

	for _, entry := range entries {
		err := bcrypt.CompareHashAndPassword([]byte(entry.Hash), []byte(token))
		if err == nil {
			p := &Principal{ID: entry.Owner, Email: entry.Email}
			a.verified.Store(digest, p)
			return &Principal{ID: p.ID, Email: p.Email}, nil
		}
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			slog.Warn("AUTH_BAD_HASH", "owner", entry.Owner, "err", err)
		}
	}

	// SECURITY: log only the digest prefix, never the token.
	slog.Info("AUTH_REJECTED", "token", digest[:8], "remote", r.RemoteAddr)
	return nil, nil
}

// bearerToken extracts the token from the Authorization header. present
// reports whether the header was sent at all.
func bearerToken(r *http.Request) (token string, present bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	if len(header) < len(BearerPrefix) ||
		subtle.ConstantTimeCompare([]byte(strings.ToLower(header[:len(BearerPrefix)])), []byte(strings.ToLower(BearerPrefix))) != 1 {
		return "", true
	}
	return strings.TrimSpace(header[len(BearerPrefix):]), true
}

// tokenDigest returns hex(sha256(token)).
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// HASHING
// =============================================================================

// HashToken returns the bcrypt hash to place in auth.tokens[].hash.
func HashToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if len(token) < MinTokenLength {
		return "", ErrTokenTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), HashCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}
