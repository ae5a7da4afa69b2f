// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/isolant-project/isolant/lib/binhash"
)

// Set with -ldflags -X at link time.
var (
	Version  = "0.1.0-dev"
	Commit   = ""
	Modified = ""
	Built    = ""
)

// Build describes the running binary.
type Build struct {
	Version  string
	Commit   string
	Modified bool
	Built    string
	Go       string
}

// Current returns the build description. Linker-injected values win;
// missing ones fall back to the VCS stamp the go command records.
func Current() Build {
	build := Build{
		Version:  Version,
		Commit:   Commit,
		Modified: Modified == "true",
		Built:    Built,
		Go:       runtime.Version(),
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		build.fillFromSettings(info.Settings)
	}
	if build.Commit == "" {
		build.Commit = "unknown"
	}
	if build.Built == "" {
		build.Built = "unknown"
	}
	return build
}

func (b *Build) fillFromSettings(settings []debug.BuildSetting) {
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			if b.Commit == "" {
				b.Commit = setting.Value
				if len(b.Commit) > 12 {
					b.Commit = b.Commit[:12]
				}
			}
		case "vcs.time":
			if b.Built == "" {
				b.Built = setting.Value
			}
		case "vcs.modified":
			if Modified == "" {
				b.Modified = setting.Value == "true"
			}
		}
	}
}

// String formats the build as "0.1.0-dev (abc1234-dirty, 2026-10-16T09:00:00Z)".
func (b Build) String() string {
	commit := b.Commit
	if b.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", b.Version, commit, b.Built)
}

// Info is Current().String().
func Info() string {
	return Current().String()
}

// Print writes the binary name, build description, and toolchain to w.
func Print(w io.Writer, binary string) {
	build := Current()
	fmt.Fprintf(w, "%s %s\n  go: %s %s/%s\n", binary, build, build.Go, runtime.GOOS, runtime.GOARCH)
}

// SelfDigest returns the hex BLAKE3 digest of the running executable.
func SelfDigest() (string, error) {
	path, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolving executable: %w", err)
	}
	digest, err := binhash.HashFile(path)
	if err != nil {
		return "", err
	}
	return binhash.FormatDigest(digest), nil
}
