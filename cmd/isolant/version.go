// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/isolant-project/isolant/cmd/isolant/cli"
	"github.com/isolant-project/isolant/lib/version"
)

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			version.Print(os.Stdout, "isolant")
			return nil
		},
	}
}
