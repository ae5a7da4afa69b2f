// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"testing"
	"time"
)

func TestHelperCommandSetsMode(t *testing.T) {
	path, env := HelperCommand(t, "echo", "EXTRA=1")
	if path == "" {
		t.Fatal("HelperCommand returned empty path")
	}
	var sawMode, sawExtra bool
	for _, entry := range env {
		sawMode = sawMode || entry == HelperModeEnv+"=echo"
		sawExtra = sawExtra || entry == "EXTRA=1"
	}
	if !sawMode || !sawExtra {
		t.Fatalf("env missing entries: mode=%v extra=%v", sawMode, sawExtra)
	}
}

func TestLogDirExists(t *testing.T) {
	directory := LogDir(t)
	info, err := os.Stat(directory)
	if err != nil {
		t.Fatalf("stat %s: %v", directory, err)
	}
	if !info.IsDir() {
		t.Fatalf("%s is not a directory", directory)
	}
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 5
	if got := RequireReceive(t, ch, time.Second, "value %d", 5); got != 5 {
		t.Fatalf("RequireReceive = %d, want 5", got)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		context []any
		want    string
	}{
		{nil, "no context"},
		{[]any{"worker exit"}, "worker exit"},
		{[]any{"loop %d", 3}, "loop 3"},
		{[]any{42}, "42"},
	}
	for _, test := range tests {
		if got := describe(test.context); got != test.want {
			t.Errorf("describe(%v) = %q, want %q", test.context, got, test.want)
		}
	}
}

func TestTempFileWithContent(t *testing.T) {
	file := TempFileWithContent(t, "Foo")
	buffer := make([]byte, 8)
	count, err := file.Read(buffer)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buffer[:count]) != "Foo" {
		t.Errorf("content = %q, want Foo", buffer[:count])
	}
}
