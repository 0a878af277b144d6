// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "strings"

// UNICODE: Every helper here counts runes, never bytes, so a cut can not
// land inside a multi-byte character.

// HeadRunes returns the first maxRunes runes of s and whether anything was
// cut off.
func HeadRunes(s string, maxRunes int) (string, bool) {
	if maxRunes <= 0 {
		return "", s != ""
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i], true
		}
		n++
	}
	return s, false
}

// TruncateRunes truncates s to maxRunes runes, replacing the tail with
// "..." when it is cut.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if RuneLen(s) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		head, _ := HeadRunes(s, maxRunes)
		return head
	}
	head, _ := HeadRunes(s, maxRunes-3)
	return head + "..."
}

// Preview flattens s onto one line and truncates it for log output.
func Preview(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	return TruncateRunes(s, maxRunes)
}

// RuneLen returns the number of runes (characters) in a string.
func RuneLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
