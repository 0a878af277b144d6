// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatrelay/internal/logger"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// =============================================================================
// RATE LIMITER TESTS
// =============================================================================

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d denied within burst", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst allowed")
	}
	if got := rl.Remaining("10.0.0.1"); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}

	// Other clients have their own bucket.
	if !rl.Allow("10.0.0.2") {
		t.Error("second client denied")
	}

	now = now.Add(time.Second)
	if !rl.Allow("10.0.0.1") {
		t.Error("request denied after refill")
	}
}

func TestRateLimiter_DefaultBurst(t *testing.T) {
	rl := NewRateLimiter(2.5, 0)
	if rl.burst != 3 {
		t.Errorf("burst = %d, want 3", rl.burst)
	}
	if got := rl.Remaining("new"); got != 3 {
		t.Errorf("Remaining for unseen client = %d, want 3", got)
	}
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.Allow("10.0.0.1")
	now = now.Add(limiterIdleTTL + time.Second)
	rl.Allow("10.0.0.2")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["10.0.0.1"]; ok {
		t.Error("idle client not swept")
	}
	if _, ok := rl.visitors["10.0.0.2"]; !ok {
		t.Error("active client missing")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	h := RateLimitMiddleware(rl, NewProxyList(nil))(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:4000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Errorf("X-RateLimit-Limit = %q, want 1", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	if retry < 1 {
		t.Errorf("Retry-After = %d, want >= 1", retry)
	}
	require.JSONEq(t, `{"error":"Too many requests"}`, rec.Body.String())
}

// =============================================================================
// CLIENT IP TESTS
// =============================================================================

func TestProxyList_ClientIP(t *testing.T) {
	tests := []struct {
		name       string
		proxies    []string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"direct", nil, "203.0.113.9:1234", "", "", "203.0.113.9"},
		{"untrusted peer spoofing", nil, "203.0.113.9:1234", "1.2.3.4", "", "203.0.113.9"},
		{"trusted peer xff", nil, "127.0.0.1:1234", "198.51.100.7, 10.0.0.1", "", "198.51.100.7"},
		{"trusted peer x-real-ip", nil, "10.1.2.3:1234", "", "198.51.100.8", "198.51.100.8"},
		{"invalid xff falls back", nil, "127.0.0.1:1234", "<script>", "", "127.0.0.1"},
		{"custom proxy bare ip", []string{"203.0.113.9"}, "203.0.113.9:1234", "198.51.100.7", "", "198.51.100.7"},
		{"custom list excludes loopback", []string{"192.0.2.0/24"}, "127.0.0.1:1234", "198.51.100.7", "", "127.0.0.1"},
		{"ipv6 loopback", nil, "[::1]:1234", "2001:db8::1", "", "2001:db8::1"},
		{"no port", nil, "203.0.113.9", "", "", "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := NewProxyList(tt.proxies).ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewProxyList_SkipsInvalid(t *testing.T) {
	p := NewProxyList([]string{"not-an-ip", "10.0.0.0/33", "192.0.2.1"})
	if len(p.nets) != 1 {
		t.Errorf("parsed %d networks, want 1", len(p.nets))
	}
}

// =============================================================================
// CORS TESTS
// =============================================================================

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		origins   []string
		origin    string
		wantAllow string
		wantCreds string
	}{
		{"exact", []string{"http://localhost:3000"}, "http://localhost:3000", "http://localhost:3000", "true"},
		{"not listed", []string{"http://localhost:3000"}, "http://evil.test", "", ""},
		{"wildcard", []string{"*"}, "http://anything.test", "*", ""},
		{"subdomain", []string{"*.example.com"}, "https://app.example.com", "https://app.example.com", "true"},
		{"no origin", []string{"http://localhost:3000"}, "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORSMiddleware(NewCORSConfig(tt.origins))(okHandler)
			req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCreds)
			}
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	h := CORSMiddleware(NewCORSConfig([]string{"http://localhost:3000"}))(next)

	req := httptest.NewRequest(http.MethodOptions, "/api/chats/1", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if called {
		t.Error("preflight reached the handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PATCH, DELETE, OPTIONS" {
		t.Errorf("Allow-Methods = %q", got)
	}
}

// =============================================================================
// LOGGING, RECOVERY AND HEADERS
// =============================================================================

func TestRequestIDMiddleware(t *testing.T) {
	var seen int64
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := logger.RequestIDFromContext(r.Context())
		if !ok {
			t.Error("request id missing from context")
		}
		seen = id
	})

	rec := httptest.NewRecorder()
	RequestIDMiddleware()(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rec.Header().Get("X-Request-Id"); got != strconv.FormatInt(seen, 10) {
		t.Errorf("X-Request-Id = %q, want %d", got, seen)
	}
}

func TestResponseWriter_FlushAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	n, err := rw.Write([]byte("data: {}\n\n"))
	require.NoError(t, err)
	rw.Flush()

	if rw.statusCode != http.StatusTeapot {
		t.Errorf("statusCode = %d, want %d", rw.statusCode, http.StatusTeapot)
	}
	if rw.written != int64(n) {
		t.Errorf("written = %d, want %d", rw.written, n)
	}
	if !rec.Flushed {
		t.Error("Flush did not reach the underlying writer")
	}

	var _ http.Flusher = rw
}

func TestLoggingMiddleware_KeepsFlusher(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			t.Error("wrapped writer lost http.Flusher")
		}
	})
	LoggingMiddleware()(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestRecoveryMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	RecoveryMiddleware()(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	require.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware()(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'",
		"Referrer-Policy":         "no-referrer",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	Chain(mark("a"), mark("b"), mark("c"))(okHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestWriteFailure_HidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	writeFailure(rec, req, context.DeadlineExceeded)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	require.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}
