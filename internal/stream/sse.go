// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "strings"

// =============================================================================
// SSE FRAMES
// =============================================================================

// DoneMarker is the payload OpenAI-compatible streams send last.
const DoneMarker = "[DONE]"

// SSEData extracts the payload of an SSE "data:" line. One optional space
// after the colon is removed. Any other field (event:, id:, retry:),
// comment or blank line reports ok=false.
func SSEData(line string) (payload string, ok bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	payload = line[len("data:"):]
	payload = strings.TrimPrefix(payload, " ")
	return payload, true
}

// IsDone reports whether payload is the end-of-stream marker.
func IsDone(payload string) bool {
	return strings.TrimSpace(payload) == DoneMarker
}
