// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Isolant-worker serves built-in commands on an inherited control
// channel. It is started by an isolant supervisor, which passes the
// channel as descriptor 3:
//
//	isolant-worker --channel-fd=3 [--log-file PATH] [--log-level LEVEL]
package main

import (
	"os"

	"github.com/isolant-project/isolant/lib/worker"
)

func main() {
	os.Exit(worker.Main(os.Args[1:]))
}
