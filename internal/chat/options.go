// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/util"
)

// =============================================================================
// OPTIONS
// =============================================================================

// OutcomePolicy decides what a caller sees when the upstream call fails.
type OutcomePolicy struct {
	// MaskUpstreamFailureAsMessage stores ApologyMessage as the assistant
	// reply and reports the turn as complete.
	MaskUpstreamFailureAsMessage bool
	ApologyMessage               string
}

// Options tune the aggregator. They can be swapped at runtime with
// Service.SetOptions.
type Options struct {
	// CallTimeout bounds one upstream call. Zero disables it.
	CallTimeout time.Duration

	TitleLength  int
	DefaultTitle string

	Policy OutcomePolicy

	TimestampLayout string
	DateLayout      string
}

// DefaultOptions mirrors config.Default().Chat.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Chat)
}

// OptionsFromConfig converts the [chat] config section.
func OptionsFromConfig(c config.ChatConfig) Options {
	return Options{
		CallTimeout:  c.CallTimeout,
		TitleLength:  c.TitleLength,
		DefaultTitle: c.DefaultTitle,
		Policy: OutcomePolicy{
			MaskUpstreamFailureAsMessage: c.MaskUpstreamFailures,
			ApologyMessage:               c.ApologyMessage,
		},
		TimestampLayout: c.TimestampLayout,
		DateLayout:      c.DateLayout,
	}
}

// withDefaults fills zero fields from DefaultOptions. CallTimeout and the
// policy flag are left alone since zero/false are meaningful.
func (o Options) withDefaults() Options {
	d := config.Default().Chat
	if o.TitleLength <= 0 {
		o.TitleLength = d.TitleLength
	}
	if o.DefaultTitle == "" {
		o.DefaultTitle = d.DefaultTitle
	}
	if o.Policy.ApologyMessage == "" {
		o.Policy.ApologyMessage = d.ApologyMessage
	}
	if o.TimestampLayout == "" {
		o.TimestampLayout = d.TimestampLayout
	}
	if o.DateLayout == "" {
		o.DateLayout = d.DateLayout
	}
	return o
}

// =============================================================================
// TITLES
// =============================================================================

// DeriveTitle builds a chat title from the first user message: the first n
// runes of its NFC form, with "..." appended when anything was cut.
func DeriveTitle(message string, n int) string {
	// UNICODE: normalize first so a combining mark is never split from its base.
	head, cut := util.HeadRunes(norm.NFC.String(message), n)
	if cut {
		return head + "..."
	}
	return head
}
