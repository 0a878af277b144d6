// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns a provider response body into complete protocol lines.
//
// Network reads rarely line up with frame boundaries, so Lines keeps a
// carry-over buffer: every read is appended, the buffer is split on '\n',
// all but the last segment are released as complete lines and the last
// segment waits for the next read. When the body ends, whatever is left in
// the buffer is dropped rather than parsed.
//
// Decode drives Lines with a per-protocol FrameDecoder, so JSON-lines and
// SSE providers share one buffering implementation.
package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultReadSize is the size of each read from the upstream body.
const DefaultReadSize = 4 * 1024

// MaxLineSize caps the carry-over buffer so a peer that never sends a
// newline cannot grow it without bound.
const MaxLineSize = 1024 * 1024

// ErrLineTooLong is returned when the carry-over exceeds MaxLineSize.
var ErrLineTooLong = errors.New("stream: line exceeds maximum size")

// ErrStop may be returned by a FrameDecoder to end decoding successfully.
var ErrStop = errors.New("stream: stop")

// =============================================================================
// LINES
// =============================================================================

// Lines is a lazy, single-use sequence of complete lines read from r.
type Lines struct {
	r       io.Reader
	buf     []byte
	carry   []byte
	pending [][]byte
	eof     bool
}

// NewLines wraps r with the default read size.
func NewLines(r io.Reader) *Lines {
	return NewLinesSize(r, DefaultReadSize)
}

// NewLinesSize wraps r reading at most size bytes per call.
func NewLinesSize(r io.Reader, size int) *Lines {
	if size <= 0 {
		size = DefaultReadSize
	}
	return &Lines{r: r, buf: make([]byte, size)}
}

// Next returns the next complete line without its terminator (a trailing
// '\r' is also removed). It returns io.EOF once the body is exhausted; any
// unterminated remainder is discarded at that point.
func (l *Lines) Next(ctx context.Context) (string, error) {
	for {
		if len(l.pending) > 0 {
			line := l.pending[0]
			l.pending = l.pending[1:]
			return string(bytes.TrimSuffix(line, []byte("\r"))), nil
		}
		if l.eof {
			l.carry = nil
			return "", io.EOF
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := l.r.Read(l.buf)
		if n > 0 {
			l.feed(l.buf[:n])
			if len(l.carry) > MaxLineSize {
				return "", ErrLineTooLong
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				l.eof = true
				continue
			}
			// Reads on a cancelled request surface as transport errors;
			// report the cancellation instead.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", err
		}
	}
}

// feed appends data to the carry-over and moves complete lines to pending.
func (l *Lines) feed(data []byte) {
	l.carry = append(l.carry, data...)
	parts := bytes.Split(l.carry, []byte("\n"))
	for _, p := range parts[:len(parts)-1] {
		l.pending = append(l.pending, append([]byte(nil), p...))
	}
	l.carry = append(l.carry[:0], parts[len(parts)-1]...)
}

// Collect reads every complete line from r. Intended for tests and small
// bodies.
func Collect(ctx context.Context, r io.Reader) ([]string, error) {
	lines := NewLines(r)
	var out []string
	for {
		line, err := lines.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, line)
	}
}

// =============================================================================
// DECODE
// =============================================================================

// FrameDecoder handles one complete line. Returning ErrStop ends decoding
// without error; any other error aborts it.
type FrameDecoder func(line string) error

// Decode feeds every complete line from r to decode until the body ends,
// the decoder stops, or ctx is done.
func Decode(ctx context.Context, r io.Reader, decode FrameDecoder) error {
	lines := NewLines(r)
	for {
		line, err := lines.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := decode(line); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}
