// Package refiner implements the "medium" corrective loop: local
// patch-up tasks generated from a summary of completed/failed work and
// the live PROGRESS.md log. Grounded on original_source/ship/refiner.py,
// which invokes a Codex CLI client rather than Claude; the caller
// (internal/engine) keeps that choice by constructing the
// llmclient.Client it passes to New with llmclient.WithBinary("codex")
// when --codex is set.
package refiner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kronael/shipyard/internal/llmclient"
	"github.com/kronael/shipyard/internal/metrics"
	"github.com/kronael/shipyard/internal/state"
	"github.com/kronael/shipyard/internal/tagscan"
	"github.com/kronael/shipyard/internal/task"
)

const callTimeout = 300 * time.Second

// Refiner issues one LLM call per invocation asking for follow-up tasks.
type Refiner struct {
	client         *llmclient.Client
	store          *state.Store
	projectContext string
	dataDir        string
	mtx            *metrics.Metrics
}

// New constructs a Refiner. mtx may be nil (metrics disabled).
func New(client *llmclient.Client, store *state.Store, projectContext, dataDir string, mtx *metrics.Metrics) *Refiner {
	return &Refiner{client: client, store: store, projectContext: projectContext, dataDir: dataDir, mtx: mtx}
}

// Refine reads the current task set and PROGRESS.md, asks for follow-up
// tasks, inserts and returns them. An empty result (no completed or
// failed tasks yet) short-circuits without an LLM call. Errors
// propagate so the Judge can log and skip per its fail-open rule.
func (r *Refiner) Refine(ctx context.Context) ([]task.Task, error) {
	all := r.store.GetAllTasks()
	var completed, failed []task.Task
	for _, t := range all {
		switch t.Status {
		case task.Completed:
			completed = append(completed, t)
		case task.Failed:
			failed = append(failed, t)
		}
	}
	if len(completed) == 0 && len(failed) == 0 {
		return nil, nil
	}

	progress, _ := os.ReadFile(filepath.Join(r.dataDir, "PROGRESS.md"))

	completedSummary := "None"
	if n := len(completed); n > 0 {
		start := n - 10
		if start < 0 {
			start = 0
		}
		var lines []string
		for _, t := range completed[start:] {
			lines = append(lines, fmt.Sprintf("- [DONE] %s", t.Description))
		}
		completedSummary = strings.Join(lines, "\n")
	}

	failedSummary := "None"
	if n := len(failed); n > 0 {
		start := n - 5
		if start < 0 {
			start = 0
		}
		var lines []string
		for _, t := range failed[start:] {
			line := fmt.Sprintf("- [FAIL] %s: %s", t.Description, t.Error)
			if len(t.Followups) > 0 {
				line += fmt.Sprintf("  (followups: %v)", t.Followups)
			}
			lines = append(lines, line)
		}
		failedSummary = strings.Join(lines, "\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n\n", r.projectContext)
	if len(progress) > 0 {
		fmt.Fprintf(&b, "PROGRESS.md (includes judge verdicts):\n%s\n\n", string(progress))
	}
	fmt.Fprintf(&b, "Completed:\n%s\n\nFailed:\n%s\n\n", completedSummary, failedSummary)
	b.WriteString("Propose any local follow-up tasks needed to finish the work, each as " +
		"<task>description</task>. If nothing remains, respond with no task tags.")

	start := time.Now()
	result, _, err := r.client.Execute(ctx, b.String(), callTimeout, nil)
	r.mtx.ObserveLLMCall("refiner", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("refiner call failed: %w", err)
	}

	newTasks := parseTasks(result)
	for _, t := range newTasks {
		if _, err := r.store.AddTask(t); err != nil {
			return nil, err
		}
	}
	return newTasks, nil
}

func parseTasks(text string) []task.Task {
	var tasks []task.Task
	for _, desc := range tagscan.All(text, "task") {
		if len(desc) <= 5 {
			continue
		}
		tasks = append(tasks, task.Task{
			ID:          uuid.NewString(),
			Description: desc,
			Files:       []string{},
			Status:      task.Pending,
			Worker:      task.AutoWorker,
		})
	}
	return tasks
}
