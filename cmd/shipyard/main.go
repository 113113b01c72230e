// Package main implements the shipyard CLI - an autonomous coding agent
// orchestration engine. Grounded on cmd/semspec/main.go's cobra/signal
// shape and _examples/original_source/ship/__main__.py's flag surface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kronael/shipyard/internal/config"
	"github.com/kronael/shipyard/internal/engine"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		fresh          bool
		checkOnly      bool
		skipValidation bool
		maxWorkers     int
		timeoutSecs    int
		maxTurns       int
		verboseCount   int
		quiet          bool
		useCodex       bool
		overridePrompt string
		continueFlag   bool
		metricsAddr    string
		dataDir        string
	)

	rootCmd := &cobra.Command{
		Use:     "shipyard [context...]",
		Short:   "Autonomous coding agent orchestration engine",
		Version: Version,
		Long: `shipyard plans, dispatches, and judges autonomous coding work.

Discovers SPEC.md by default, or pass spec files/directories/inline context as arguments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			verbosity := 1 + verboseCount
			if quiet {
				verbosity = 0
			}
			if verbosity > 3 {
				verbosity = 3
			}

			cfg := config.Load(".env")
			cfg.Fresh = fresh
			cfg.CheckOnly = checkOnly
			cfg.SkipValidation = skipValidation
			cfg.UseCodex = useCodex
			cfg.Verbosity = verbosity
			cfg.OverridePrompt = overridePrompt
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if maxWorkers > 0 {
				cfg.MaxWorkers = maxWorkers
			}
			if timeoutSecs > 0 {
				cfg.TaskTimeout = time.Duration(timeoutSecs) * time.Second
			}
			if maxTurns > 0 {
				cfg.MaxTurns = maxTurns
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			_ = continueFlag // deprecated alias for default (state-resuming) behavior

			logger, closeLog, err := newLogger(cfg.DataDir, verbosity)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer closeLog()

			code := engine.Run(cmd.Context(), engine.Options{
				ContextArgs: args,
				Config:      cfg,
				Logger:      logger,
			})
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	flags := rootCmd.Flags()
	flags.BoolVarP(&fresh, "fresh", "f", false, "wipe the data directory before starting")
	flags.BoolVarP(&checkOnly, "check", "k", false, "validate only; exit 0 if accepted")
	flags.BoolVarP(&skipValidation, "skip-validation", "s", false, "bypass validator; mark spec hash as validated")
	flags.IntVarP(&maxWorkers, "max-workers", "n", 0, "override worker count")
	flags.IntVarP(&timeoutSecs, "timeout", "t", 0, "per-task timeout in seconds")
	flags.IntVarP(&maxTurns, "max-turns", "m", 0, "per-task LLM turn bound")
	flags.CountVarP(&verboseCount, "verbose", "v", "increase verbosity (-v, -vv)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "errors only")
	flags.BoolVarP(&useCodex, "codex", "x", false, "enable Refiner (default: off)")
	flags.StringVarP(&overridePrompt, "prompt", "p", "", "override instructions prepended to all LLM calls")
	flags.BoolVarP(&continueFlag, "continue", "c", false, "deprecated alias for default behavior")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "optional host:port to expose Prometheus /metrics")
	flags.StringVar(&dataDir, "data-dir", "", "override the state directory (default .shipyard)")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newLogger(dataDir string, verbosity int) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, func() {}, err
	}
	f, err := os.OpenFile(filepath.Join(dataDir, "engine.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, func() {}, err
	}
	level := slog.LevelInfo
	switch {
	case verbosity == 0:
		level = slog.LevelError
	case verbosity >= 3:
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { f.Close() }, nil
}
