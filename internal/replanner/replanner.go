// Package replanner implements the "wide" corrective loop: a full
// reassessment against the original goal, PLAN.md and PROGRESS.md.
// Grounded on original_source/ship/replanner.py.
package replanner

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

const callTimeout = 90 * time.Second

// Replanner issues one LLM call asking for a full-run reassessment.
type Replanner struct {
	client         *llmclient.Client
	store          *state.Store
	projectContext string
	dataDir        string
	mtx            *metrics.Metrics
}

// New constructs a Replanner. mtx may be nil (metrics disabled).
func New(client *llmclient.Client, store *state.Store, projectContext, dataDir string, mtx *metrics.Metrics) *Replanner {
	return &Replanner{client: client, store: store, projectContext: projectContext, dataDir: dataDir, mtx: mtx}
}

// Replan asks whether the goal has been met and, if not, returns
// follow-up tasks. An empty result means the goal was judged met.
// Errors propagate so the Judge can log and skip.
func (r *Replanner) Replan(ctx context.Context) ([]task.Task, error) {
	work := r.store.GetWorkState()
	if work == nil {
		return nil, nil
	}

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

	completedSummary := summarize(completed, 15, func(t task.Task) string {
		return fmt.Sprintf("- %s", t.Description)
	})
	failedSummary := summarize(failed, 5, func(t task.Task) string {
		return fmt.Sprintf("- %s: %s", t.Description, t.Error)
	})

	progress, _ := os.ReadFile(filepath.Join(r.dataDir, "PROGRESS.md"))
	plan, _ := os.ReadFile(filepath.Join(r.dataDir, "PLAN.md"))

	goalText := work.GoalText
	if len(goalText) > 2000 {
		goalText = goalText[:2000]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n\nGoal:\n%s\n\n", r.projectContext, goalText)
	if len(plan) > 0 {
		limit := min(len(plan), 1000)
		fmt.Fprintf(&b, "PLAN.md:\n%s\n\n", string(plan[:limit]))
	}
	if len(progress) > 0 {
		limit := min(len(progress), 1500)
		fmt.Fprintf(&b, "PROGRESS.md (includes per-task judgments):\n%s\n\n", string(progress[:limit]))
	}
	fmt.Fprintf(&b, "Completed:\n%s\n\nFailed:\n%s\n\n", completedSummary, failedSummary)
	b.WriteString("Assess whether the goal has been met. If not, propose follow-up tasks, each as " +
		"<task>description</task>. If the goal is met, respond with no task tags.")

	start := time.Now()
	result, _, err := r.client.Execute(ctx, b.String(), callTimeout, nil)
	r.mtx.ObserveLLMCall("replanner", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("replanner call failed: %w", err)
	}

	newTasks := parseTasks(result)
	for _, t := range newTasks {
		if _, err := r.store.AddTask(t); err != nil {
			return nil, err
		}
	}
	return newTasks, nil
}

func summarize(tasks []task.Task, n int, format func(task.Task) string) string {
	if len(tasks) == 0 {
		return "None"
	}
	start := len(tasks) - n
	if start < 0 {
		start = 0
	}
	var lines []string
	for _, t := range tasks[start:] {
		lines = append(lines, format(t))
	}
	return strings.Join(lines, "\n")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
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
