package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenEnvAbsent(t *testing.T) {
	cfg := Load("/nonexistent/.env")
	if cfg.MaxWorkers != DefaultMaxWorkers {
		t.Fatalf("expected default max workers, got %d", cfg.MaxWorkers)
	}
	if cfg.TaskTimeout != DefaultTaskTimeout {
		t.Fatalf("expected default task timeout, got %v", cfg.TaskTimeout)
	}
	if cfg.Model != DefaultModel {
		t.Fatalf("expected default model, got %q", cfg.Model)
	}
	if cfg.Limits.MaxRetries != 10 {
		t.Fatalf("expected default max retries 10, got %d", cfg.Limits.MaxRetries)
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("SHIPYARD_MAX_WORKERS", "8")
	t.Setenv("SHIPYARD_TASK_TIMEOUT", "5m")
	t.Setenv("SHIPYARD_MAX_RETRIES", "2")

	cfg := Load("/nonexistent/.env")
	if cfg.MaxWorkers != 8 {
		t.Fatalf("expected overridden max workers 8, got %d", cfg.MaxWorkers)
	}
	if cfg.TaskTimeout != 5*time.Minute {
		t.Fatalf("expected overridden timeout 5m, got %v", cfg.TaskTimeout)
	}
	if cfg.Limits.MaxRetries != 2 {
		t.Fatalf("expected overridden max retries 2, got %d", cfg.Limits.MaxRetries)
	}
}

func TestLoad_YAMLFileLayerBelowEnv(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, ".shipyard.yaml")
	contents := "data_dir: /from/yaml\nmax_workers: 6\nlimits:\n  max_retries: 4\n"
	if err := os.WriteFile(yamlPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })

	cfg := Load("/nonexistent/.env")
	if cfg.DataDir != "/from/yaml" {
		t.Fatalf("expected yaml data dir, got %q", cfg.DataDir)
	}
	if cfg.MaxWorkers != 6 {
		t.Fatalf("expected yaml max workers 6, got %d", cfg.MaxWorkers)
	}
	if cfg.Limits.MaxRetries != 4 {
		t.Fatalf("expected yaml max retries 4, got %d", cfg.Limits.MaxRetries)
	}

	t.Setenv("SHIPYARD_MAX_WORKERS", "9")
	cfg2 := Load("/nonexistent/.env")
	if cfg2.MaxWorkers != 9 {
		t.Fatalf("expected env to override yaml, got %d", cfg2.MaxWorkers)
	}
}

func TestEnvIntOr_InvalidValueFallsBackToDefault(t *testing.T) {
	t.Setenv("SHIPYARD_MAX_TURNS", "not-a-number")
	cfg := Load("/nonexistent/.env")
	if cfg.MaxTurns != DefaultMaxTurns {
		t.Fatalf("expected fallback to default on unparseable env value, got %d", cfg.MaxTurns)
	}
}
