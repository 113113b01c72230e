// Package config loads engine configuration by precedence flags >
// environment > .env file > defaults, mirroring the teacher's
// config.Loader pattern and original_source/ship's Config.load().
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kronael/shipyard/internal/judge"
)

// yamlConfig is the optional `.shipyard.yaml` file layer, grounded on
// the teacher's config/config.go YAML-file config pattern. It sits
// below env vars and above hardcoded defaults in the precedence chain.
type yamlConfig struct {
	DataDir     string `yaml:"data_dir"`
	MaxWorkers  int    `yaml:"max_workers"`
	TaskTimeout string `yaml:"task_timeout"`
	Model       string `yaml:"model"`
	MetricsAddr string `yaml:"metrics_addr"`
	Limits      struct {
		MaxRetries      int `yaml:"max_retries"`
		MaxRefineRounds int `yaml:"max_refine_rounds"`
		MaxReplanRounds int `yaml:"max_replan_rounds"`
		MaxAdvRounds    int `yaml:"max_adv_rounds"`
		MaxAdvAttempts  int `yaml:"max_adv_attempts"`
	} `yaml:"limits"`
}

// loadYAML reads path if it exists; a missing file is not an error,
// since the layer is optional.
func loadYAML(path string) (yamlConfig, error) {
	var y yamlConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return y, nil
		}
		return y, err
	}
	if err := yaml.Unmarshal(data, &y); err != nil {
		return y, err
	}
	return y, nil
}

// Defaults for engine-wide settings. The round-counter bounds live in
// judge.DefaultLimits.
const (
	DefaultMaxWorkers  = 4
	DefaultTaskTimeout = 20 * time.Minute
	DefaultMaxTurns    = 0 // 0 = unbounded
	DefaultModel       = "claude-sonnet-4-5"
)

// Config bundles every engine-wide setting, set by Load and overridden
// by cobra flags in cmd/shipyard.
type Config struct {
	DataDir        string
	Fresh          bool
	CheckOnly      bool
	SkipValidation bool
	MaxWorkers     int
	TaskTimeout    time.Duration
	MaxTurns       int
	Verbosity      int
	UseCodex       bool
	OverridePrompt string
	MetricsAddr    string

	Model      string
	Limits     judge.Limits
}

// Load reads, in increasing precedence, a `.shipyard.yaml` file, a
// .env file, then environment variables, into Config defaults. Flags,
// applied by the caller afterward, always win.
func Load(envFile string) Config {
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile) // optional; absence is not an error

	y, _ := loadYAML(".shipyard.yaml") // optional; absence or parse error leaves y zero-valued

	limits := judge.DefaultLimits()
	if y.Limits.MaxRetries > 0 {
		limits.MaxRetries = y.Limits.MaxRetries
	}
	if y.Limits.MaxRefineRounds > 0 {
		limits.MaxRefineRounds = y.Limits.MaxRefineRounds
	}
	if y.Limits.MaxReplanRounds > 0 {
		limits.MaxReplanRounds = y.Limits.MaxReplanRounds
	}
	if y.Limits.MaxAdvRounds > 0 {
		limits.MaxAdvRounds = y.Limits.MaxAdvRounds
	}
	if y.Limits.MaxAdvAttempts > 0 {
		limits.MaxAdvAttempts = y.Limits.MaxAdvAttempts
	}

	yamlTaskTimeout := DefaultTaskTimeout
	if y.TaskTimeout != "" {
		if d, err := time.ParseDuration(y.TaskTimeout); err == nil {
			yamlTaskTimeout = d
		}
	}

	cfg := Config{
		DataDir:     envOr("SHIPYARD_DATA_DIR", orDefault(y.DataDir, ".shipyard")),
		MaxWorkers:  envIntOr("SHIPYARD_MAX_WORKERS", orDefaultInt(y.MaxWorkers, DefaultMaxWorkers)),
		TaskTimeout: envDurationOr("SHIPYARD_TASK_TIMEOUT", yamlTaskTimeout),
		MaxTurns:    envIntOr("SHIPYARD_MAX_TURNS", DefaultMaxTurns),
		Model:       envOr("SHIPYARD_MODEL", orDefault(y.Model, DefaultModel)),
		MetricsAddr: envOr("SHIPYARD_METRICS_ADDR", y.MetricsAddr),
		Limits:      limits,
	}
	cfg.Limits.MaxRetries = envIntOr("SHIPYARD_MAX_RETRIES", cfg.Limits.MaxRetries)
	cfg.Limits.MaxRefineRounds = envIntOr("SHIPYARD_MAX_REFINE_ROUNDS", cfg.Limits.MaxRefineRounds)
	cfg.Limits.MaxReplanRounds = envIntOr("SHIPYARD_MAX_REPLAN_ROUNDS", cfg.Limits.MaxReplanRounds)
	cfg.Limits.MaxAdvRounds = envIntOr("SHIPYARD_MAX_ADV_ROUNDS", cfg.Limits.MaxAdvRounds)
	cfg.Limits.MaxAdvAttempts = envIntOr("SHIPYARD_MAX_ADV_ATTEMPTS", cfg.Limits.MaxAdvAttempts)
	return cfg
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
