// Package judge implements the heart of the scheduling core: the
// single long-lived actor that retries/cascades failures and escalates
// through the refine/replan/adversarial corrective ladder until the
// goal is judged satisfied. Grounded on original_source/ship/judge.py,
// ported close to line-for-line in control flow.
package judge

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kronael/shipyard/internal/llmclient"
	"github.com/kronael/shipyard/internal/metrics"
	"github.com/kronael/shipyard/internal/queue"
	"github.com/kronael/shipyard/internal/refiner"
	"github.com/kronael/shipyard/internal/replanner"
	"github.com/kronael/shipyard/internal/state"
	"github.com/kronael/shipyard/internal/task"
	"github.com/kronael/shipyard/internal/verifier"
)

// CascadePrefix mirrors task.CascadePrefix; kept local for readability
// at call sites that check it directly.
const CascadePrefix = task.CascadePrefix

// FatalPrefix mirrors task.FatalPrefix.
const FatalPrefix = task.FatalPrefix

// Limits bundles the round-counter bounds spec.md §9 asks to be made
// configurable rather than hardcoded.
type Limits struct {
	MaxRetries      int
	MaxRefineRounds int
	MaxReplanRounds int
	MaxAdvRounds    int
	MaxAdvAttempts  int
}

// DefaultLimits matches the magic numbers spec.md §9 names.
func DefaultLimits() Limits {
	return Limits{
		MaxRetries:      10,
		MaxRefineRounds: 10,
		MaxReplanRounds: 1,
		MaxAdvRounds:    3,
		MaxAdvAttempts:  3,
	}
}

// Judge is the single scheduling actor.
type Judge struct {
	store          *state.Store
	queue          *queue.Queue
	projectContext string
	dataDir        string
	verbosity      int
	useCodex       bool
	tickInterval   time.Duration
	limits         Limits

	claude    *llmclient.Client
	refiner   *refiner.Refiner
	replanner *replanner.Replanner
	verifier  *verifier.Verifier
	logger    *slog.Logger
	mtx       *metrics.Metrics

	mu             sync.Mutex
	workerTasks    map[string]string
	completedQueue []task.Task

	refineCount  int
	replanCount  int
	advRound     int
	advTaskIDs   map[string]struct{}
	advAttempts  int
	seenChallenges map[string]struct{}
}

// Config bundles Judge construction parameters.
type Config struct {
	ProjectContext string
	DataDir        string
	Verbosity      int
	UseCodex       bool
	TickInterval   time.Duration
	Limits         Limits
	Metrics        *metrics.Metrics
}

// New constructs a Judge.
func New(store *state.Store, q *queue.Queue, claude *llmclient.Client, ref *refiner.Refiner, replan *replanner.Replanner, verify *verifier.Verifier, cfg Config, logger *slog.Logger) *Judge {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	return &Judge{
		store:          store,
		queue:          q,
		projectContext: cfg.ProjectContext,
		dataDir:        cfg.DataDir,
		verbosity:      cfg.Verbosity,
		useCodex:       cfg.UseCodex,
		tickInterval:   cfg.TickInterval,
		limits:         cfg.Limits,
		claude:         claude,
		refiner:        ref,
		replanner:      replan,
		verifier:       verify,
		logger:         logger,
		mtx:            cfg.Metrics,
		workerTasks:    map[string]string{},
		advTaskIDs:     map[string]struct{}{},
		seenChallenges: map[string]struct{}{},
	}
}

// SetWorkerTask records which task a worker is currently running, for
// diagnostics only.
func (j *Judge) SetWorkerTask(workerID, description string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.workerTasks[workerID] = description
}

// ClearWorkerTask removes a worker's current-task record.
func (j *Judge) ClearWorkerTask(workerID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.workerTasks, workerID)
}

// NotifyCompleted enqueues t for narrow per-task verification on the
// next tick.
func (j *Judge) NotifyCompleted(t task.Task) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.completedQueue = append(j.completedQueue, t)
}

func (j *Judge) appendProgress(line string) {
	f, err := os.OpenFile(filepath.Join(j.dataDir, "PROGRESS.md"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, line)
}

// judgeTask issues the narrow per-task verification call. It never
// changes task status; LLM failures are logged and skipped.
func (j *Judge) judgeTask(ctx context.Context, t task.Task) {
	result := t.Result
	if len(result) > 500 {
		result = result[:500]
	}
	prompt := fmt.Sprintf("Did the following work actually complete the stated task?\n\nTask: %s\n\nResult:\n%s", t.Description, result)

	callCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()

	start := time.Now()
	verdict, _, err := j.claude.Execute(callCtx, prompt, 45*time.Second, nil)
	j.mtx.ObserveLLMCall("judge", time.Since(start).Seconds())
	if err != nil {
		j.logger.Warn("judge task call failed", "error", err)
		j.appendProgress(fmt.Sprintf("judge skip: %s", truncate(t.Description, 40)))
		return
	}
	j.appendProgress(fmt.Sprintf("judged: %s -> %s", truncate(t.Description, 50), truncate(strings.TrimSpace(verdict), 200)))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func isCascadeError(err string) bool {
	return strings.HasPrefix(err, CascadePrefix)
}

func isFatalError(err string) bool {
	return strings.HasPrefix(err, FatalPrefix)
}

// Run is the main 5-second-tick loop implementing the full Judge state
// machine. It returns when the goal is judged satisfied or ctx is
// cancelled.
func (j *Judge) Run(ctx context.Context) {
	j.logger.Info("judge starting")
	ticker := time.NewTicker(j.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("judge stopping")
			return
		case <-ticker.C:
		}

		j.mu.Lock()
		drained := j.completedQueue
		j.completedQueue = nil
		j.mu.Unlock()
		for _, t := range drained {
			j.judgeTask(ctx, t)
		}

		allTasks := j.store.GetAllTasks()

		j.mu.Lock()
		advIDs := make(map[string]struct{}, len(j.advTaskIDs))
		for id := range j.advTaskIDs {
			advIDs[id] = struct{}{}
		}
		j.mu.Unlock()

		for _, t := range allTasks {
			if t.Status != task.Failed {
				continue
			}
			if _, isAdv := advIDs[t.ID]; isAdv {
				continue
			}
			if isCascadeError(t.Error) {
				continue
			}
			if isFatalError(t.Error) || t.Retries >= j.limits.MaxRetries {
				cascaded, err := j.store.CascadeFailure(t.ID)
				if err != nil {
					j.logger.Error("cascade failure", "error", err)
					continue
				}
				if len(cascaded) > 0 {
					j.appendProgress(fmt.Sprintf("cascade: %s -> %d tasks", truncate(t.ID, 8), len(cascaded)))
				}
				continue
			}
			if err := j.store.RetryTask(t.ID); err != nil {
				j.logger.Error("retry task", "error", err)
				continue
			}
			j.queue.Put(t)
			j.appendProgress(fmt.Sprintf("retry: %s (%d/%d)", truncate(t.Description, 50), t.Retries+1, j.limits.MaxRetries))
		}

		if len(advIDs) > 0 {
			outcome := j.checkAdvBatch(advIDs)
			switch outcome {
			case "pending":
				continue
			case "fail":
				j.appendProgress("adv fail: resetting")
				j.mu.Lock()
				j.advTaskIDs = map[string]struct{}{}
				j.seenChallenges = map[string]struct{}{}
				j.advRound = 0
				j.refineCount = 0
				j.replanCount = 0
				j.mu.Unlock()
				continue
			default: // "pass"
				j.mu.Lock()
				j.advRound++
				j.advTaskIDs = map[string]struct{}{}
				round := j.advRound
				j.mu.Unlock()
				j.appendProgress(fmt.Sprintf("adversarial round %d/%d passed", round, j.limits.MaxAdvRounds))
				if round >= j.limits.MaxAdvRounds {
					j.logger.Info("goal satisfied")
					_ = j.store.MarkComplete()
					return
				}
				continue
			}
		}

		if !j.store.IsComplete() {
			continue
		}

		if j.useCodex {
			j.mu.Lock()
			canRefine := j.refineCount < j.limits.MaxRefineRounds
			j.mu.Unlock()
			if canRefine {
				j.mu.Lock()
				j.refineCount++
				round := j.refineCount
				j.mu.Unlock()
				j.appendProgress(fmt.Sprintf("refining (%d/%d)...", round, j.limits.MaxRefineRounds))
				newTasks, err := j.refiner.Refine(ctx)
				if err != nil {
					j.logger.Warn("refiner failed", "error", err)
				} else if len(newTasks) > 0 {
					j.appendProgress(fmt.Sprintf("+%d from refiner", len(newTasks)))
					for _, t := range newTasks {
						j.queue.Put(t)
					}
					continue
				}
			}
		}

		j.mu.Lock()
		canReplan := j.replanCount < j.limits.MaxReplanRounds
		j.mu.Unlock()
		if canReplan {
			j.mu.Lock()
			j.replanCount++
			round := j.replanCount
			j.mu.Unlock()
			j.appendProgress(fmt.Sprintf("replanning (%d/%d)...", round, j.limits.MaxReplanRounds))
			newTasks, err := j.replanner.Replan(ctx)
			if err != nil {
				j.logger.Warn("replanner failed", "error", err)
			} else if len(newTasks) > 0 {
				j.appendProgress(fmt.Sprintf("+%d replanned tasks", len(newTasks)))
				for _, t := range newTasks {
					j.queue.Put(t)
				}
				continue
			}
		}

		gaveUp := j.runAdversarialRound(ctx)
		if gaveUp {
			j.logger.Info("goal satisfied (adv exhausted)")
			_ = j.store.MarkComplete()
			return
		}
	}
}

func (j *Judge) checkAdvBatch(advIDs map[string]struct{}) string {
	all := j.store.GetAllTasks()
	byID := make(map[string]task.Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}

	found := 0
	anyPending := false
	anyFailed := false
	for id := range advIDs {
		t, ok := byID[id]
		if !ok {
			continue
		}
		found++
		if t.Status == task.Pending || t.Status == task.Running {
			anyPending = true
		}
		if t.Status == task.Failed {
			anyFailed = true
		}
	}
	if found != len(advIDs) || anyPending {
		return "pending"
	}
	if anyFailed {
		return "fail"
	}
	return "pass"
}

// runAdversarialRound issues one Verifier call, samples up to two novel
// challenges, and enqueues them as adversarial tasks. It returns true
// when MaxAdvAttempts consecutive calls have ended without finding
// anything novel to challenge.
func (j *Judge) runAdversarialRound(ctx context.Context) bool {
	j.mu.Lock()
	j.advAttempts++
	attempts := j.advAttempts
	j.mu.Unlock()
	if attempts > j.limits.MaxAdvAttempts {
		j.logger.Warn("adversarial max attempts reached")
		return true
	}

	work := j.store.GetWorkState()
	if work == nil {
		return true
	}

	j.appendProgress(fmt.Sprintf("adversarial round %d/%d...", j.advRound+1, j.limits.MaxAdvRounds))

	challenges, err := j.verifier.Challenges(ctx, work.GoalText, j.projectContext)
	if err != nil {
		j.logger.Warn("verifier failed", "error", err)
		return false
	}
	if len(challenges) == 0 {
		j.logger.Warn("verifier returned no challenges")
		return false
	}

	j.mu.Lock()
	var novel []string
	for _, c := range challenges {
		if _, seen := j.seenChallenges[c]; !seen {
			novel = append(novel, c)
		}
	}
	j.mu.Unlock()
	if len(novel) == 0 {
		j.logger.Warn("all challenges already seen")
		return false
	}

	picked := sampleN(novel, 2)

	j.mu.Lock()
	for _, c := range picked {
		j.seenChallenges[c] = struct{}{}
	}
	j.advTaskIDs = map[string]struct{}{}
	j.advAttempts = 0
	j.mu.Unlock()

	for _, desc := range picked {
		t := task.Task{
			ID:          uuid.NewString(),
			Description: desc,
			Files:       []string{},
			Status:      task.Pending,
			Worker:      task.AutoWorker,
		}
		if _, err := j.store.AddTask(t); err != nil {
			j.logger.Error("add adversarial task", "error", err)
			continue
		}
		j.queue.Put(t)
		j.mu.Lock()
		j.advTaskIDs[t.ID] = struct{}{}
		j.mu.Unlock()
		j.appendProgress(fmt.Sprintf("adv challenge: %s", truncate(desc, 50)))
	}

	return false
}

func sampleN(items []string, n int) []string {
	if n >= len(items) {
		out := append([]string(nil), items...)
		rand.Shuffle(len(out), func(i, k int) { out[i], out[k] = out[k], out[i] })
		return out
	}
	shuffled := append([]string(nil), items...)
	rand.Shuffle(len(shuffled), func(i, k int) { shuffled[i], shuffled[k] = shuffled[k], shuffled[i] })
	return shuffled[:n]
}
