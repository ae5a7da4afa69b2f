// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the Isolant
// supervisor.
//
// Configuration is loaded from a single file specified by either the
// ISOLANT_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no discovery and no file search. Files
// ending in .json or .jsonc are read as JSON with comments and
// trailing commas; anything else is YAML.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${ISOLANT_ROOT}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// Durations are Go duration strings ("250ms", "2s").
//
// Key exports:
//
//   - [Config] -- master struct with Worker, Channel, Supervisor, Log
//   - [Default] -- returns a Config with the built-in defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
package config
