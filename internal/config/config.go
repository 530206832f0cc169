// Package config loads the run configuration from a YAML file and the
// environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values. File values are overridden by
// JOBBREAK_* environment variables.
type Config struct {
	// Job source: exactly one of the two must be set.
	GeneratorCommand string `yaml:"generator_command"`
	JobFile          string `yaml:"job_file"`

	// Routing
	Queue       string `yaml:"queue"`
	ResultQueue string `yaml:"result_queue"`

	// Preamble merged into every task.
	Preamble map[string]any `yaml:"preamble"`

	// Replication
	Repeat     int    `yaml:"repeat"`
	RepeatMode string `yaml:"repeat_mode"` // "", "inline" or "collection"

	// AWS / behavior
	AWSRegion string `yaml:"aws_region"`
	DryRun    bool   `yaml:"dry_run"`

	// Retry policy for queue submits and file uploads.
	RetryAttempts        int `yaml:"retry_attempts"`
	RetryIntervalSeconds int `yaml:"retry_interval_seconds"`

	// Logging
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// Load reads the config file at path (skipped when empty), then applies
// environment overrides and defaults.
func Load(path string) (Config, error) {
	cfg := Config{
		RetryAttempts:        3,
		RetryIntervalSeconds: 5,
		LogFile:              "/tmp/jobbreak.log",
		LogLevel:             "INFO",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.GeneratorCommand = getEnv("JOBBREAK_GENERATOR_COMMAND", cfg.GeneratorCommand)
	cfg.JobFile = getEnv("JOBBREAK_JOB_FILE", cfg.JobFile)
	cfg.Queue = getEnv("JOBBREAK_QUEUE", cfg.Queue)
	cfg.ResultQueue = getEnv("JOBBREAK_RESULT_QUEUE", cfg.ResultQueue)
	cfg.AWSRegion = getEnv("JOBBREAK_AWS_REGION", cfg.AWSRegion)
	cfg.LogFile = getEnv("JOBBREAK_LOG_FILE", cfg.LogFile)
	cfg.LogLevel = getEnv("JOBBREAK_LOG_LEVEL", cfg.LogLevel)
	if getEnv("JOBBREAK_DRY_RUN", "") == "true" {
		cfg.DryRun = true
	}

	return cfg, nil
}

// Validate checks the configuration before any work starts.
func (c Config) Validate() error {
	if c.Queue == "" {
		return fmt.Errorf("queue is required")
	}
	if (c.GeneratorCommand == "") == (c.JobFile == "") {
		return fmt.Errorf("exactly one of generator_command or job_file must be set")
	}
	switch c.RepeatMode {
	case "", "inline", "collection":
	default:
		return fmt.Errorf("repeat_mode must be empty, \"inline\" or \"collection\", got %q", c.RepeatMode)
	}
	if c.Repeat < 0 {
		return fmt.Errorf("repeat must be >= 0, got %d", c.Repeat)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be >= 1, got %d", c.RetryAttempts)
	}
	return nil
}

// RunPreamble builds the preamble applied to the whole run: the configured
// preamble block with the result queue folded in.
func (c Config) RunPreamble() map[string]any {
	pre := make(map[string]any, len(c.Preamble)+1)
	for k, v := range c.Preamble {
		pre[k] = v
	}
	if c.ResultQueue != "" {
		pre["result_queue"] = c.ResultQueue
	}
	return pre
}

// RetryInterval returns the configured wait between retry attempts.
func (c Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}

// Level parses the configured log level.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
