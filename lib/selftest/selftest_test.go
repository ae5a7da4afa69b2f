// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package selftest

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/isolant-project/isolant/lib/fault"
	"github.com/isolant-project/isolant/lib/supervisor"
	"github.com/isolant-project/isolant/lib/testutil"
	"github.com/isolant-project/isolant/lib/worker"
)

func TestMain(m *testing.M) {
	testutil.RunHelper(map[string]func() int{
		"worker":  func() int { return worker.Main(os.Args[1:]) },
		"exit-42": func() int { return 42 },
	})
	os.Exit(m.Run())
}

func helperConfig(t *testing.T, mode string) Config {
	t.Helper()
	path, env := testutil.HelperCommand(t, mode)
	return Config{
		WorkerPath: path,
		Supervisor: supervisor.Config{Env: env},
	}
}

func TestBatteryPassesAgainstWorker(t *testing.T) {
	report, err := Run(helperConfig(t, "worker"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Results) != len(Checks()) {
		t.Fatalf("ran %d checks, want %d", len(report.Results), len(Checks()))
	}
	for _, result := range report.Results {
		if result.Err != nil {
			t.Errorf("check %s: %v", result.Name, result.Err)
		}
	}
	if !report.Exit.Success() || report.Escalated {
		t.Errorf("worker exit = %v (escalated %v), want clean exit", report.Exit, report.Escalated)
	}
	if err := report.Err(); err != nil {
		t.Errorf("report.Err = %v", err)
	}
}

func TestBatteryReportsDeadWorker(t *testing.T) {
	config := helperConfig(t, "exit-42")
	config.CallTimeout = 2 * time.Second
	report, err := Run(config)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Failed()) != len(Checks()) {
		t.Errorf("%d checks failed, want all %d", len(report.Failed()), len(Checks()))
	}
	if report.Exit.Kind != supervisor.NormalExit || report.Exit.Code != 42 {
		t.Errorf("worker exit = %v, want exit 42", report.Exit)
	}
	if !errors.Is(report.Err(), fault.ErrProcess) {
		t.Errorf("report.Err = %v, want ErrProcess", report.Err())
	}
}

func TestCustomChecks(t *testing.T) {
	config := helperConfig(t, "worker")
	ran := 0
	config.Checks = []Check{
		{Name: "reverse", Run: checkReverse},
		{Name: "counted", Run: func(*Session) error { ran++; return nil }},
		{Name: "broken", Run: func(*Session) error { return fault.ErrIO }},
	}
	report, err := Run(config)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ran != 1 {
		t.Errorf("custom check ran %d times, want 1", ran)
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Name != "broken" {
		t.Fatalf("failed = %+v, want only broken", failed)
	}
	if !errors.Is(report.Err(), fault.ErrIO) {
		t.Errorf("report.Err = %v, want ErrIO", report.Err())
	}
}

func TestRunRequiresWorkerPath(t *testing.T) {
	if _, err := Run(Config{}); !errors.Is(err, fault.ErrArgument) {
		t.Errorf("Run without worker = %v, want ErrArgument", err)
	}
}
