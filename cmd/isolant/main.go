// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/isolant-project/isolant/cmd/isolant/cli"
	"github.com/isolant-project/isolant/lib/process"
)

func main() {
	process.Exit(root().Execute(os.Args[1:]))
}

func root() *cli.Command {
	return &cli.Command{
		Name:    "isolant",
		Summary: "Supervise isolated worker processes",
		Description: `Isolant runs untrusted device-control code in separate worker
processes and talks to each one over a Unix SOCK_SEQPACKET channel that
carries command payloads together with open file descriptors.`,
		Subcommands: []*cli.Command{
			selftestCommand(),
			runCommand(),
			versionCommand(),
		},
	}
}
