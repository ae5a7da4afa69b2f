// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/isolant-project/isolant/lib/logsink"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "ISOLANT_CONFIG"

// WorkerBinaryName is the executable looked up when worker.binary is
// not an existing path.
const WorkerBinaryName = "isolant-worker"

// Config is the master configuration for the supervisor.
type Config struct {
	// Root is the base directory for Isolant data, available to
	// other paths as ${ISOLANT_ROOT}.
	Root string `yaml:"root"`

	Worker     WorkerConfig     `yaml:"worker"`
	Channel    ChannelConfig    `yaml:"channel"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Log        LogConfig        `yaml:"log"`
}

// WorkerConfig describes the worker process to spawn.
type WorkerConfig struct {
	// Binary is the worker executable, either a path or a name looked
	// up next to the running binary and then in PATH.
	Binary string `yaml:"binary"`

	// Args are passed after the channel descriptor flag.
	Args []string `yaml:"args"`

	// LogFile, when set, is where the worker writes its diagnostics.
	LogFile string `yaml:"log_file"`

	// LogLevel is the worker's log level.
	LogLevel string `yaml:"log_level"`
}

// ChannelConfig configures the control channel.
type ChannelConfig struct {
	// CallTimeout bounds each request/response call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// SendTimeout bounds the wait for a full socket buffer.
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// SupervisorConfig configures worker shutdown.
type SupervisorConfig struct {
	// StopTimeout is how long a worker has to exit after the shutdown
	// command before it is sent SIGTERM.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// KillTimeout is how long a worker has to exit after SIGTERM
	// before it is sent SIGKILL.
	KillTimeout time.Duration `yaml:"kill_timeout"`
}

// LogConfig configures the supervisor's own logging.
type LogConfig struct {
	Level string `yaml:"level"`

	// File, when set, receives the log instead of stderr.
	File string `yaml:"file"`
}

// Default returns the built-in configuration. Loaded files are merged
// over it.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Root: filepath.Join(homeDir, ".cache", "isolant"),
		Worker: WorkerConfig{
			Binary:   WorkerBinaryName,
			LogLevel: "info",
		},
		Channel: ChannelConfig{
			CallTimeout: 2 * time.Second,
			SendTimeout: 5 * time.Second,
		},
		Supervisor: SupervisorConfig{
			StopTimeout: 2 * time.Second,
			KillTimeout: 1 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the file named by ISOLANT_CONFIG.
// There is no fallback: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your isolant.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over the defaults, then
// expands path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

// loadFile decodes one file into c. JSONC is reduced to plain JSON,
// which the YAML decoder accepts, so both formats share one set of
// struct tags and duration handling.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Root = expandVars(c.Root, vars)
	vars["ISOLANT_ROOT"] = c.Root

	c.Worker.Binary = expandVars(c.Worker.Binary, vars)
	c.Worker.LogFile = expandVars(c.Worker.LogFile, vars)
	for index, arg := range c.Worker.Args {
		c.Worker.Args[index] = expandVars(arg, vars)
	}
	c.Log.File = expandVars(c.Log.File, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Provided vars first, then the environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Worker.Binary == "" {
		errs = append(errs, errors.New("worker.binary is required"))
	}
	if _, err := logsink.ParseLevel(c.Worker.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("worker.log_level: %w", err))
	}
	if _, err := logsink.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"channel.call_timeout", c.Channel.CallTimeout},
		{"channel.send_timeout", c.Channel.SendTimeout},
		{"supervisor.stop_timeout", c.Supervisor.StopTimeout},
		{"supervisor.kill_timeout", c.Supervisor.KillTimeout},
	}
	for _, duration := range durations {
		if duration.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", duration.name, duration.value))
		}
	}

	return errors.Join(errs...)
}

// WorkerBinaryPath resolves Worker.Binary. A value containing a slash
// is used as a path. A bare name is looked for next to the running
// executable first, then in PATH.
func (c *Config) WorkerBinaryPath() (string, error) {
	name := c.Worker.Binary
	if strings.Contains(name, "/") {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("worker binary: %w", err)
		}
		return name, nil
	}

	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), name)
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found next to this binary or in PATH", name)
	}
	return path, nil
}
