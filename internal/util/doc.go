// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared across chatrelay packages:
// rune-safe string cutting for titles and log previews, and atomic file
// writes for generated configuration.
package util
