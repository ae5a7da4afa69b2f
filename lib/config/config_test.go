// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Worker.Binary != WorkerBinaryName {
		t.Errorf("worker.binary = %q, want %q", cfg.Worker.Binary, WorkerBinaryName)
	}
	if cfg.Supervisor.StopTimeout != 2*time.Second || cfg.Supervisor.KillTimeout != time.Second {
		t.Errorf("supervisor timeouts = %v/%v, want 2s/1s", cfg.Supervisor.StopTimeout, cfg.Supervisor.KillTimeout)
	}
	if cfg.Channel.SendTimeout != 5*time.Second {
		t.Errorf("channel.send_timeout = %v, want 5s", cfg.Channel.SendTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad_RequiresIsolantConfig(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when ISOLANT_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "ISOLANT_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "isolant.yaml", `
root: /srv/isolant
worker:
  binary: ${ISOLANT_ROOT}/bin/isolant-worker
  args: ["--verbose"]
  log_file: ${ISOLANT_ROOT}/log/worker.log
  log_level: debug
channel:
  call_timeout: 250ms
supervisor:
  stop_timeout: 3s
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.Binary != "/srv/isolant/bin/isolant-worker" {
		t.Errorf("worker.binary = %q", cfg.Worker.Binary)
	}
	if cfg.Worker.LogFile != "/srv/isolant/log/worker.log" {
		t.Errorf("worker.log_file = %q", cfg.Worker.LogFile)
	}
	if len(cfg.Worker.Args) != 1 || cfg.Worker.Args[0] != "--verbose" {
		t.Errorf("worker.args = %v", cfg.Worker.Args)
	}
	if cfg.Channel.CallTimeout != 250*time.Millisecond {
		t.Errorf("channel.call_timeout = %v, want 250ms", cfg.Channel.CallTimeout)
	}
	// Unset fields keep their defaults.
	if cfg.Channel.SendTimeout != 5*time.Second {
		t.Errorf("channel.send_timeout = %v, want default 5s", cfg.Channel.SendTimeout)
	}
	if cfg.Supervisor.StopTimeout != 3*time.Second || cfg.Supervisor.KillTimeout != time.Second {
		t.Errorf("supervisor = %+v", cfg.Supervisor)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	path := writeConfig(t, "isolant.jsonc", `{
  // Comments and trailing commas are allowed.
  "worker": {
    "binary": "/opt/isolant-worker",
    "log_level": "warn",
  },
  "supervisor": {"kill_timeout": "500ms"},
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Worker.Binary != "/opt/isolant-worker" || cfg.Worker.LogLevel != "warn" {
		t.Errorf("worker = %+v", cfg.Worker)
	}
	if cfg.Supervisor.KillTimeout != 500*time.Millisecond {
		t.Errorf("supervisor.kill_timeout = %v, want 500ms", cfg.Supervisor.KillTimeout)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadFile succeeded for a missing file")
	}
}

func TestLoadFile_BadDuration(t *testing.T) {
	path := writeConfig(t, "isolant.yaml", "supervisor:\n  stop_timeout: soon\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile accepted an invalid duration")
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("ISOLANT_TEST_VAR", "from-env")
	vars := map[string]string{"HOME": "/home/worker", "ISOLANT_ROOT": "/srv/isolant"}

	tests := []struct {
		input string
		want  string
	}{
		{"${HOME}/logs", "/home/worker/logs"},
		{"${ISOLANT_ROOT}/bin", "/srv/isolant/bin"},
		{"${ISOLANT_TEST_VAR}", "from-env"},
		{"${ISOLANT_TEST_UNSET:-fallback}", "fallback"},
		{"${ISOLANT_TEST_UNSET}", ""},
		{"plain", "plain"},
	}
	for _, test := range tests {
		if got := expandVars(test.input, vars); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Worker.Binary = ""
	cfg.Log.Level = "loud"
	cfg.Supervisor.KillTimeout = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, want := range []string{"worker.binary", "log.level", "supervisor.kill_timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate error missing %q: %v", want, err)
		}
	}
}

func TestWorkerBinaryPath(t *testing.T) {
	directory := t.TempDir()
	binary := filepath.Join(directory, "custom-worker")
	if err := os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.Worker.Binary = binary
	path, err := cfg.WorkerBinaryPath()
	if err != nil || path != binary {
		t.Fatalf("WorkerBinaryPath = %q, %v; want %q", path, err, binary)
	}

	cfg.Worker.Binary = filepath.Join(directory, "missing-worker")
	if _, err := cfg.WorkerBinaryPath(); err == nil {
		t.Error("WorkerBinaryPath succeeded for a missing path")
	}

	t.Setenv("PATH", directory)
	cfg.Worker.Binary = "custom-worker"
	path, err = cfg.WorkerBinaryPath()
	if err != nil || path != binary {
		t.Fatalf("WorkerBinaryPath via PATH = %q, %v; want %q", path, err, binary)
	}
}
