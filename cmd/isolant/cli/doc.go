// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command-tree framework behind the isolant
// binary: named subcommands, per-command pflag sets, generated help,
// and typo suggestions for unknown commands and flags.
package cli
