// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jeranaias/chatrelay/internal/chat"
	"github.com/jeranaias/chatrelay/internal/logger"
)

// ============================================================================
// SERVER-SENT EVENTS
// ============================================================================

// setSSEHeaders marks the response as an unbuffered event stream.
func setSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// writeFrame writes one "data: <json>\n\n" frame and flushes it.
func writeFrame(w http.ResponseWriter, flusher http.Flusher, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// streamEvents relays every event as an SSE frame until the channel closes.
// If the client goes away the handler returns, which cancels the request
// context and stops the producer.
func streamEvents(w http.ResponseWriter, r *http.Request, events <-chan chat.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		// RELIABILITY: without a flusher frames would sit in a buffer until the
		// turn ends, so fall back to the single-body reply.
		slog.WarnContext(r.Context(), "SSE_UNSUPPORTED", "path", r.URL.Path)
		collectEvents(w, events)
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		if err := writeFrame(w, flusher, ev); err != nil {
			slog.DebugContext(r.Context(), "SSE_WRITE_FAILED", "event", string(ev.Type), logger.Err(err))
			return
		}
	}
}
