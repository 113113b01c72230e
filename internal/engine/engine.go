// Package engine is the entry-point supervisor: spec discovery, change
// detection, validator/planner invocation, and worker-pool/judge
// lifecycle management. Grounded on
// _examples/original_source/ship/__main__.py's _main, restructured
// around goroutines/channels and a dependency-gated dispatcher per
// spec.md §5's ordering guarantee (the original enqueues every pending
// task unconditionally and never gates on depends_on; this corrects
// that per the explicit invariant).
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kronael/shipyard/internal/config"
	"github.com/kronael/shipyard/internal/graph"
	"github.com/kronael/shipyard/internal/judge"
	"github.com/kronael/shipyard/internal/llmclient"
	"github.com/kronael/shipyard/internal/metrics"
	"github.com/kronael/shipyard/internal/planner"
	"github.com/kronael/shipyard/internal/queue"
	"github.com/kronael/shipyard/internal/refiner"
	"github.com/kronael/shipyard/internal/replanner"
	"github.com/kronael/shipyard/internal/state"
	"github.com/kronael/shipyard/internal/task"
	"github.com/kronael/shipyard/internal/validator"
	"github.com/kronael/shipyard/internal/verifier"
	"github.com/kronael/shipyard/internal/worker"
)

// SpecCandidates mirrors the original's SPEC_CANDIDATES probing order.
var SpecCandidates = []string{"SPEC.md", "spec.md"}

// DiscoverSpec resolves the positional context arguments to spec files
// per spec.md §6 "Spec discovery".
func DiscoverSpec(contextArgs []string) ([]string, error) {
	if len(contextArgs) > 0 {
		if len(contextArgs) == 1 {
			info, err := os.Stat(contextArgs[0])
			if err == nil {
				if info.IsDir() {
					matches, _ := filepath.Glob(filepath.Join(contextArgs[0], "*.md"))
					sort.Strings(matches)
					return matches, nil
				}
				return []string{contextArgs[0]}, nil
			}
		}
		return nil, nil
	}

	var found []string
	for _, candidate := range SpecCandidates {
		if _, err := os.Stat(candidate); err == nil {
			found = append(found, candidate)
		}
	}
	if matches, err := filepath.Glob("specs/*.md"); err == nil {
		sort.Strings(matches)
		found = append(found, matches...)
	}
	return found, nil
}

// SpecHash returns the SHA-256 hex digest of goalText.
func SpecHash(goalText string) string {
	sum := sha256.Sum256([]byte(goalText))
	return hex.EncodeToString(sum[:])
}

// Options bundles the resolved CLI invocation for Run.
type Options struct {
	ContextArgs []string
	Config      config.Config
	Logger      *slog.Logger
}

// Run executes one full engine lifecycle and returns the process exit
// code.
func Run(ctx context.Context, opts Options) int {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config

	if cfg.Fresh {
		if err := os.RemoveAll(cfg.DataDir); err != nil {
			logger.Error("failed to wipe data dir", "error", err)
			return 1
		}
	}

	if cfg.CheckOnly {
		return runCheckOnly(ctx, opts, logger)
	}

	store, err := state.Open(cfg.DataDir, logger)
	if err != nil {
		if errors.Is(err, state.ErrLocked) {
			logger.Error("data directory is locked by another instance", "dir", cfg.DataDir)
		} else {
			logger.Error("failed to open state store", "error", err)
		}
		return 1
	}
	defer store.Close()

	limiter := llmclient.NewLimiter(30, 60)
	tracer := llmclient.NewTracer(filepath.Join(cfg.DataDir, "trace.jl"))

	newClient := func(role string, opts ...llmclient.Option) *llmclient.Client {
		base := []llmclient.Option{
			llmclient.WithLogger(logger),
			llmclient.WithLimiter(limiter),
			llmclient.WithTracer(tracer),
			llmclient.WithMaxTurns(cfg.MaxTurns),
		}
		return llmclient.New(cfg.Model, role, append(base, opts...)...)
	}

	if err := prepareRun(ctx, store, cfg, opts.ContextArgs, newClient, logger); err != nil {
		logger.Error("setup failed", "error", err)
		return 1
	}

	work := store.GetWorkState()
	if work == nil || work.IsComplete {
		if work != nil && work.IsComplete {
			logger.Info("goal already satisfied")
			return 0
		}
		logger.Error("no work state after setup")
		return 1
	}

	allTasks := store.GetAllTasks()
	if len(allTasks) == 0 {
		logger.Error("no tasks generated from design")
		return 1
	}
	total := len(allTasks)
	completedAtStart := countStatus(allTasks, task.Completed)

	depGraph := graph.New(allTasks)

	maxWorkers := cfg.MaxWorkers
	pendingCount := countStatus(allTasks, task.Pending)
	if maxWorkers > pendingCount && pendingCount > 0 {
		maxWorkers = pendingCount
	}
	if work.ExecutionMode == task.ModeSequential {
		maxWorkers = 1
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	q := queue.New(64)
	for i := 0; i < maxWorkers; i++ {
		q.RegisterWorker(fmt.Sprintf("w%d", i), 8)
	}

	var mtx *metrics.Metrics
	if cfg.MetricsAddr != "" {
		mtx = metrics.New()
	}

	jdg := judge.New(
		store, q,
		newClient("judge"),
		refiner.New(refinerClient(cfg, newClient), store, work.ProjectContext, cfg.DataDir, mtx),
		replanner.New(newClient("replanner"), store, work.ProjectContext, cfg.DataDir, mtx),
		verifier.New(newClient("verifier"), mtx),
		judge.Config{
			ProjectContext: work.ProjectContext,
			DataDir:        cfg.DataDir,
			Verbosity:      cfg.Verbosity,
			UseCodex:       cfg.UseCodex,
			Limits:         cfg.Limits,
			Metrics:        mtx,
		},
		logger,
	)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	for i := 0; i < maxWorkers; i++ {
		id := fmt.Sprintf("w%d", i)
		wrk := worker.New(id, newClient("worker-"+id), store, jdg, workerConfig(cfg, work, mtx), logger)
		g.Go(func() error {
			wrk.Run(gctx, q.Pinned(id), q.Shared())
			return nil
		})
	}

	g.Go(func() error {
		runDispatcher(gctx, depGraph, store, q, mtx, logger)
		return nil
	})

	if mtx != nil {
		g.Go(func() error {
			pollMetrics(gctx, store, mtx)
			return nil
		})
		g.Go(func() error {
			mtx.Serve(gctx, cfg.MetricsAddr, logger)
			return nil
		})
	}

	g.Go(func() error {
		jdg.Run(gctx)
		return nil
	})

	<-gctx.Done()
	_ = g.Wait()

	if runCtx.Err() != nil && ctx.Err() == nil {
		logger.Error("interrupted")
		return 130
	}

	final := store.GetAllTasks()
	completed := countStatus(final, task.Completed)
	failed := countStatus(final, task.Failed)
	_ = completedAtStart

	summary := fmt.Sprintf("done. %d/%d completed", completed, total)
	if failed > 0 {
		summary += fmt.Sprintf(", %d failed", failed)
	}
	logger.Info(summary)
	return 0
}

func countStatus(tasks []task.Task, status task.Status) int {
	n := 0
	for _, t := range tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}

func refinerClient(cfg config.Config, newClient func(string, ...llmclient.Option) *llmclient.Client) *llmclient.Client {
	if cfg.UseCodex {
		return newClient("refiner", llmclient.WithBinary("codex"))
	}
	return newClient("refiner")
}

func workerConfig(cfg config.Config, work *task.WorkState, mtx *metrics.Metrics) worker.Config {
	return worker.Config{
		ProjectContext: work.ProjectContext,
		OverridePrompt: cfg.OverridePrompt,
		SpecFiles:      nil,
		DataDir:        cfg.DataDir,
		TaskTimeout:    cfg.TaskTimeout,
		Verbosity:      cfg.Verbosity,
		Metrics:        mtx,
	}
}

// prepareRun resolves the existing-state / change-detection / fresh-run
// branches of spec.md §6 "Change detection", mutating store as needed.
func prepareRun(ctx context.Context, store *state.Store, cfg config.Config, contextArgs []string, newClient func(string, ...llmclient.Option) *llmclient.Client, logger *slog.Logger) error {
	specFiles, err := DiscoverSpec(contextArgs)
	if err != nil {
		return err
	}

	goalText, specLabel, err := readGoal(specFiles, contextArgs)
	if err != nil {
		return err
	}

	existing := store.GetWorkState()
	hash := SpecHash(goalText)

	if existing != nil && !existing.IsComplete {
		if existing.SpecHash == hash {
			logger.Info("continuing: unchanged spec", "design", existing.DesignFile)
			return store.ResetInterruptedTasks()
		}
		decision := decideKeepOrReplan(ctx, newClient("change-detect"), existing.GoalText, goalText, logger)
		if decision == "keep" {
			logger.Info("spec changed; keeping existing plan")
			return store.ResetInterruptedTasks()
		}
		logger.Info("spec changed; replanning")
		if err := store.ClearTasks(); err != nil {
			return err
		}
	} else if existing != nil && existing.IsComplete && existing.SpecHash == hash {
		return nil
	}

	return runValidatorAndPlanner(ctx, store, cfg, goalText, specLabel, hash, newClient, logger)
}

func readGoal(specFiles, contextArgs []string) (goalText, specLabel string, err error) {
	if len(specFiles) > 0 {
		var parts []string
		for _, f := range specFiles {
			data, err := os.ReadFile(f)
			if err != nil {
				return "", "", fmt.Errorf("cannot read spec %s: %w", f, err)
			}
			parts = append(parts, string(data))
		}
		goalText = strings.TrimSpace(strings.Join(parts, "\n\n"))
		if goalText == "" {
			return "", "", fmt.Errorf("spec files are empty")
		}
		specLabel = strings.Join(specFiles, ", ")
		return goalText, specLabel, nil
	}
	if len(contextArgs) > 0 {
		return strings.Join(contextArgs, " "), "<inline>", nil
	}
	return "", "", fmt.Errorf("no spec found (try SPEC.md, specs/*.md, or pass context)")
}

func decideKeepOrReplan(ctx context.Context, client *llmclient.Client, oldGoal, newGoal string, logger *slog.Logger) string {
	prompt := fmt.Sprintf("The original goal was:\n%s\n\nThe spec has changed to:\n%s\n\n"+
		"Respond with <decision>keep</decision> if the existing plan still applies, or "+
		"<decision>replan</decision> if it should be redone from scratch.", oldGoal, newGoal)

	for attempt := 0; attempt < 2; attempt++ {
		text, _, err := client.Execute(ctx, prompt, 60*time.Second, nil)
		if err != nil {
			logger.Warn("keep/replan decision call failed", "attempt", attempt, "error", err)
			continue
		}
		if strings.Contains(strings.ToLower(text), "keep") {
			return "keep"
		}
		return "replan"
	}
	return "replan"
}

func runValidatorAndPlanner(ctx context.Context, store *state.Store, cfg config.Config, goalText, specLabel, hash string, newClient func(string, ...llmclient.Option) *llmclient.Client, logger *slog.Logger) error {
	dataDir := cfg.DataDir

	if cfg.SkipValidation {
		if err := store.MarkValidated(hash); err != nil {
			return err
		}
	} else if store.LastValidatedHash() != hash {
		v := validator.New(newClient("validator"), logger)
		result, err := v.Validate(ctx, goalText, nil, cfg.OverridePrompt)
		if err != nil {
			return fmt.Errorf("validator call failed: %w", err)
		}
		if !result.Accept {
			gapsText := "- (no details provided)"
			if len(result.Gaps) > 0 {
				gapsText = "- " + strings.Join(result.Gaps, "\n- ")
			}
			rejection := fmt.Sprintf("# REJECTION\n\nThe design is not specific enough to execute. Please address these gaps:\n\n%s\n", gapsText)
			if err := os.WriteFile(filepath.Join(dataDir, "REJECTION.md"), []byte(rejection), 0o644); err != nil {
				return err
			}
			return fmt.Errorf("design rejected (see REJECTION.md)")
		}
		if result.ProjectMD != "" {
			if err := os.WriteFile(filepath.Join(dataDir, "PROJECT.md"), []byte(strings.TrimSpace(result.ProjectMD)+"\n"), 0o644); err != nil {
				return err
			}
			goalText = goalText + "\n\n---\n\n# PROJECT\n\n" + strings.TrimSpace(result.ProjectMD) + "\n"
		}
		if err := store.MarkValidated(hash); err != nil {
			return err
		}
	}

	if err := store.InitWork(specLabel, goalText, hash, cfg.OverridePrompt); err != nil {
		return err
	}

	p := planner.New(newClient("planner"), store, dataDir, logger)
	tasks, err := p.PlanOnce(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("no tasks generated from design")
	}
	logger.Info("generated tasks", "count", len(tasks))
	return nil
}

func runCheckOnly(ctx context.Context, opts Options, logger *slog.Logger) int {
	specFiles, err := DiscoverSpec(opts.ContextArgs)
	if err != nil {
		logger.Error("spec discovery failed", "error", err)
		return 1
	}
	goalText, _, err := readGoal(specFiles, opts.ContextArgs)
	if err != nil {
		logger.Error("cannot resolve spec", "error", err)
		return 1
	}
	client := llmclient.New(opts.Config.Model, "validator", llmclient.WithLogger(logger))
	v := validator.New(client, logger)
	result, err := v.Validate(ctx, goalText, nil, opts.Config.OverridePrompt)
	if err != nil {
		logger.Error("validator call failed", "error", err)
		return 1
	}
	if !result.Accept {
		logger.Error("design rejected", "gaps", result.Gaps)
		return 1
	}
	logger.Info("design accepted")
	return 0
}

// runDispatcher gates enqueue on dependency completion per spec.md §5's
// ordering guarantee: "a task never starts before all its depends_on
// are completed". It watches the store for newly-completed tasks,
// advances depGraph, and enqueues whatever becomes ready.
func runDispatcher(ctx context.Context, depGraph *graph.DependencyGraph, store *state.Store, q *queue.Queue, mtx *metrics.Metrics, logger *slog.Logger) {
	dispatched := map[string]bool{}
	seenDone := map[string]bool{}

	dispatchReady := func(ids []string, byID map[string]task.Task) {
		for _, id := range ids {
			if dispatched[id] {
				continue
			}
			t, ok := byID[id]
			if !ok || t.Status != task.Pending {
				continue
			}
			dispatched[id] = true
			q.Put(t)
			if mtx != nil {
				mtx.TasksDispatched.Inc()
			}
		}
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	tick := func() {
		all := store.GetAllTasks()
		byID := make(map[string]task.Task, len(all))
		for _, t := range all {
			byID[t.ID] = t
		}
		for _, t := range all {
			if t.Status == task.Completed && !seenDone[t.ID] {
				seenDone[t.ID] = true
				newly := depGraph.MarkCompleted(t.ID)
				dispatchReady(newly, byID)
			}
		}
		dispatchReady(depGraph.Ready(), byID)
	}

	tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// pollMetrics diffs terminal-status counts on a fixed interval and adds
// the deltas to the corresponding counters, since the Store has no
// built-in change notification to hook counters onto directly.
func pollMetrics(ctx context.Context, store *state.Store, mtx *metrics.Metrics) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var lastCompleted, lastFailed, lastRetried, lastCascaded int

	sample := func() {
		all := store.GetAllTasks()
		completed, failed, retried, cascaded := 0, 0, 0, 0
		for _, t := range all {
			if t.Status == task.Completed {
				completed++
			}
			if t.Status == task.Failed {
				failed++
				if strings.HasPrefix(t.Error, task.CascadePrefix) {
					cascaded++
				}
			}
			retried += t.Retries
		}
		if d := completed - lastCompleted; d > 0 {
			mtx.TasksCompleted.Add(float64(d))
		}
		if d := failed - lastFailed; d > 0 {
			mtx.TasksFailed.Add(float64(d))
		}
		if d := retried - lastRetried; d > 0 {
			mtx.TasksRetried.Add(float64(d))
		}
		if d := cascaded - lastCascaded; d > 0 {
			mtx.TasksCascaded.Add(float64(d))
		}
		lastCompleted, lastFailed, lastRetried, lastCascaded = completed, failed, retried, cascaded
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}
