// Package worker implements the long-lived actor that pulls tasks off
// the queue and executes them via the LLM Client, grounded on
// original_source/ship/worker.py.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kronael/shipyard/internal/llmclient"
	"github.com/kronael/shipyard/internal/metrics"
	"github.com/kronael/shipyard/internal/state"
	"github.com/kronael/shipyard/internal/tagscan"
	"github.com/kronael/shipyard/internal/task"
)

// JudgeNotifier is the subset of Judge a Worker needs, kept as an
// interface so this package never imports judge.
type JudgeNotifier interface {
	SetWorkerTask(workerID, description string)
	ClearWorkerTask(workerID string)
	NotifyCompleted(t task.Task)
}

// Worker is bound to one LLM Client instance and a human-readable id
// such as "w0", "w1"...
type Worker struct {
	ID             string
	client         *llmclient.Client
	store          *state.Store
	projectContext string
	overridePrompt string
	judge          JudgeNotifier
	specFiles      []string
	dataDir        string
	taskTimeout    time.Duration
	verbosity      int
	logger         *slog.Logger
	mtx            *metrics.Metrics
}

// Config bundles the construction parameters that rarely vary per worker.
type Config struct {
	ProjectContext string
	OverridePrompt string
	SpecFiles      []string
	DataDir        string
	TaskTimeout    time.Duration
	Verbosity      int
	Metrics        *metrics.Metrics
}

// New constructs a Worker.
func New(id string, client *llmclient.Client, store *state.Store, judge JudgeNotifier, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		ID:             id,
		client:         client,
		store:          store,
		projectContext: cfg.ProjectContext,
		overridePrompt: cfg.OverridePrompt,
		judge:          judge,
		specFiles:      cfg.SpecFiles,
		dataDir:        cfg.DataDir,
		taskTimeout:    cfg.TaskTimeout,
		verbosity:      cfg.Verbosity,
		logger:         logger,
		mtx:            cfg.Metrics,
	}
}

// Run blocks pulling tasks from pinned (worker-specific) and shared
// channels until ctx is cancelled, executing each in turn.
func (w *Worker) Run(ctx context.Context, pinned, shared <-chan task.Task) {
	w.logger.Info("worker starting", "worker", w.ID)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping", "worker", w.ID)
			return
		case t := <-pinned:
			w.execute(ctx, t)
		case t := <-shared:
			w.execute(ctx, t)
		}
	}
}

func (w *Worker) execute(ctx context.Context, t task.Task) {
	if w.judge != nil {
		w.judge.SetWorkerTask(w.ID, t.Description)
		defer w.judge.ClearWorkerTask(w.ID)
	}

	if err := w.store.UpdateTask(t.ID, task.Running, state.UpdateFields{}); err != nil {
		w.logger.Error("failed to mark task running", "error", err)
		return
	}

	var progressLog []string
	headBefore := gitHead(ctx)

	prompt := w.buildPrompt(t)
	onProgress := func(msg string) {
		progressLog = append(progressLog, msg)
	}

	start := time.Now()
	result, sessionID, err := w.client.ExecuteRetry(ctx, prompt, w.taskTimeout, onProgress, llmclient.DefaultRetryConfig())
	w.mtx.ObserveLLMCall("worker", time.Since(start).Seconds())
	if err != nil {
		w.handleError(t, err, progressLog)
		return
	}

	status, followups, summary := parseOutput(result)

	if status == "partial" {
		_ = w.store.UpdateTask(t.ID, task.Failed, state.UpdateFields{
			Error:     "worker reported partial",
			Result:    result,
			Followups: followups,
		})
		appendLogLine(w.dataDir, fmt.Sprintf("partial: %s", truncate(t.Description, 60)))
		w.logger.Warn("worker partial", "worker", w.ID, "task", t.Description)
		return
	}

	if err := w.store.UpdateTask(t.ID, task.Completed, state.UpdateFields{
		Result:    result,
		Summary:   summary,
		SessionID: sessionID,
	}); err != nil {
		w.logger.Error("failed to mark task completed", "error", err)
		return
	}

	if w.judge != nil {
		done := t
		done.Status = task.Completed
		done.Result = result
		w.judge.NotifyCompleted(done)
	}

	gitSummary := gitDiffStat(ctx, headBefore)
	suffix := ""
	if gitSummary != "" {
		suffix = fmt.Sprintf(" (%s)", gitSummary)
	}
	label := summary
	if label == "" {
		label = truncate(t.Description, 60)
	}
	appendLogLine(w.dataDir, fmt.Sprintf("done: %s%s", label, suffix))
	w.logger.Info("worker completed", "worker", w.ID, "task", t.Description)
}

func (w *Worker) handleError(t task.Task, err error, progressLog []string) {
	var llmErr *llmclient.Error
	message := err.Error()
	partial := ""
	if errors.As(err, &llmErr) {
		message = llmErr.Message
		partial = llmErr.Partial
	}
	if llmclient.IsFatal(err) {
		message = task.FatalPrefix + message
	}

	summary := partial
	if summary == "" && len(progressLog) > 0 {
		n := len(progressLog)
		start := n - 10
		if start < 0 {
			start = 0
		}
		var b strings.Builder
		b.WriteString("progress before failure:\n")
		for _, p := range progressLog[start:] {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		summary = b.String()
	}
	resultText := summary
	if resultText == "" {
		resultText = message
	}
	status, followups, _ := parseOutput(resultText)
	_ = status

	_ = w.store.UpdateTask(t.ID, task.Failed, state.UpdateFields{
		Error:     message,
		Result:    resultText,
		Followups: followups,
	})

	if llmErr != nil && strings.Contains(strings.ToLower(message), "timeout") {
		w.logger.Warn("worker timeout", "worker", w.ID, "task", t.Description, "timeout", w.taskTimeout)
	} else {
		w.logger.Error("worker failed", "worker", w.ID, "task", t.Description, "error", message)
	}
}

func (w *Worker) buildPrompt(t task.Task) string {
	var b strings.Builder
	if w.overridePrompt != "" {
		fmt.Fprintf(&b, "Override instructions: %s\n\n", w.overridePrompt)
	}
	if w.projectContext != "" {
		fmt.Fprintf(&b, "Project: %s\n\n", w.projectContext)
	}
	fmt.Fprintf(&b, "Task: %s\n\n", t.Description)
	fmt.Fprintf(&b, "Plan: %s\nProject: %s\nLog: %s\nTimeout: %d minutes\n\n",
		filepath.Join(w.dataDir, "PLAN.md"),
		filepath.Join(w.dataDir, "PROJECT.md"),
		filepath.Join(w.dataDir, "LOG.md"),
		int(w.taskTimeout/time.Minute))
	b.WriteString(w.readSpec())
	b.WriteString("\n\nReport back with <status>done</status> or <status>partial</status>, " +
		"an optional <summary>…</summary> (3-5 words), and zero or more " +
		"<followups><task>…</task></followups> for follow-on work. Emit <progress>…</progress> " +
		"markers as you go.")
	return b.String()
}

func (w *Worker) readSpec() string {
	if len(w.specFiles) == 0 {
		return "(no spec provided)"
	}
	parts := make([]string, 0, len(w.specFiles))
	for _, name := range w.specFiles {
		data, err := os.ReadFile(name)
		if err != nil {
			parts = append(parts, fmt.Sprintf("(could not read %s)", name))
			continue
		}
		parts = append(parts, strings.TrimSpace(string(data)))
	}
	return strings.Join(parts, "\n\n")
}

var statusRe = regexp.MustCompile(`<status>(done|partial)</status>`)

func parseOutput(text string) (status string, followups []string, summary string) {
	status = "done"
	if m := statusRe.FindStringSubmatch(text); m != nil {
		status = m[1]
	}
	if block, ok := tagscan.Block(text, "followups"); ok {
		followups = tagscan.All(block, "task")
	}
	summary, _ = tagscan.First(text, "summary")
	return status, followups, summary
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func appendLogLine(dataDir, line string) {
	f, err := os.OpenFile(filepath.Join(dataDir, "LOG.md"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, line)
}

func gitHead(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, "git", "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

var (
	filesRe = regexp.MustCompile(`(\d+) file`)
	insRe   = regexp.MustCompile(`(\d+) insertion`)
	delRe   = regexp.MustCompile(`(\d+) deletion`)
)

func gitDiffStat(ctx context.Context, oldHead string) string {
	if oldHead == "" {
		return ""
	}
	out, err := exec.CommandContext(ctx, "git", "diff", "--shortstat", oldHead).Output()
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(string(out))
	if text == "" {
		return ""
	}
	f, i, d := "0", "0", "0"
	if m := filesRe.FindStringSubmatch(text); m != nil {
		f = m[1]
	}
	if m := insRe.FindStringSubmatch(text); m != nil {
		i = m[1]
	}
	if m := delRe.FindStringSubmatch(text); m != nil {
		d = m[1]
	}
	return fmt.Sprintf("%s files, +%s/-%s", f, i, d)
}
