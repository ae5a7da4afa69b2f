// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"io"
	"os"
	"testing"
)

// TempFileWithContent returns an open file in the test's temporary
// directory holding content, positioned at its start. Tests hand these
// to channel sends as descriptors with known contents.
func TempFileWithContent(t *testing.T, content string) *os.File {
	t.Helper()
	file, err := os.CreateTemp(t.TempDir(), "content-*")
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	t.Cleanup(func() { file.Close() })
	if _, err := file.WriteString(content); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("rewinding temp file: %v", err)
	}
	return file
}
