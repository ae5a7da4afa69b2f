// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package logsink builds the structured loggers used by Isolant
// binaries and redirects a worker's diagnostics to a file.
//
// A worker's stdout and stderr are not read by the supervisor, so a
// worker that wants its diagnostics kept calls [SetFile] before it
// logs anything. The file is opened in append mode, so several worker
// generations can share one file.
//
// Handler selection follows the usual CLI rule: text when the
// destination is a terminal, JSON otherwise.
package logsink
