// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"os"
	"testing"
)

// HelperModeEnv names the environment variable that switches a test
// binary into helper mode.
const HelperModeEnv = "ISOLANT_TEST_HELPER_MODE"

// RunHelper is called first thing in TestMain. When the process was
// started by [HelperCommand] it runs the selected mode and exits with
// its return value; otherwise it returns and the tests run normally.
//
//	func TestMain(m *testing.M) {
//		testutil.RunHelper(map[string]func() int{"echo": echoMain})
//		os.Exit(m.Run())
//	}
func RunHelper(modes map[string]func() int) {
	mode := os.Getenv(HelperModeEnv)
	if mode == "" {
		return
	}
	run, ok := modes[mode]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown helper mode %q\n", mode)
		os.Exit(2)
	}
	os.Exit(run())
}

// HelperCommand returns the path and environment to start the running
// test binary in the named helper mode. The environment is the
// caller's plus HelperModeEnv and any extra entries.
func HelperCommand(t *testing.T, mode string, extraEnv ...string) (path string, env []string) {
	t.Helper()
	executable, err := os.Executable()
	if err != nil {
		t.Fatalf("resolving test executable: %v", err)
	}
	env = append(os.Environ(), HelperModeEnv+"="+mode)
	env = append(env, extraEnv...)
	return executable, env
}

// LogDir creates a temporary directory under /tmp that is removed when
// the test completes. Helper processes write their log files here and
// the test reads them back after the child exits.
func LogDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "isolant-test-*")
	if err != nil {
		t.Fatalf("creating log directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}
