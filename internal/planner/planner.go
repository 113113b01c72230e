// Package planner turns accepted goal text into a dependency graph of
// tasks, grounded on original_source/ship/planner.py.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kronael/shipyard/internal/graph"
	"github.com/kronael/shipyard/internal/llmclient"
	"github.com/kronael/shipyard/internal/state"
	"github.com/kronael/shipyard/internal/tagscan"
	"github.com/kronael/shipyard/internal/task"
)

const callTimeout = 180 * time.Second

// Planner issues the single LLM call that decomposes a goal into tasks
// and seeds the State Store with them.
type Planner struct {
	client  *llmclient.Client
	store   *state.Store
	dataDir string
	logger  *slog.Logger
}

// New constructs a Planner bound to its own "planner"-role LLM Client.
func New(client *llmclient.Client, store *state.Store, dataDir string, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{client: client, store: store, dataDir: dataDir, logger: logger}
}

// PlanOnce runs the planner call against the current WorkState's goal
// text, persists project_context/execution_mode/tasks, writes PLAN.md,
// and returns the created tasks. An empty slice (with nil error) means
// the LLM call failed or produced nothing usable; the caller treats a
// zero-task result as a fatal setup error per spec.md §7.
func (p *Planner) PlanOnce(ctx context.Context) ([]task.Task, error) {
	work := p.store.GetWorkState()
	if work == nil {
		return nil, nil
	}

	context_, tasks, mode, err := p.parseDesign(ctx, work.GoalText, work.OverridePrompt)
	if err != nil {
		p.logger.Warn("planner call failed", "error", err)
		return nil, nil
	}

	if context_ != "" {
		if err := p.store.SetProjectContext(context_); err != nil {
			return nil, err
		}
	}
	if err := p.store.SetExecutionMode(mode); err != nil {
		return nil, err
	}

	for _, t := range tasks {
		if _, err := p.store.AddTask(t); err != nil {
			return nil, err
		}
		p.logger.Info("created task", "description", t.Description)
	}

	if err := p.writePlanMD(tasks, context_, mode); err != nil {
		p.logger.Warn("failed to write PLAN.md", "error", err)
	}

	return tasks, nil
}

func (p *Planner) parseDesign(ctx context.Context, goal, overridePrompt string) (string, []task.Task, string, error) {
	planPath := filepath.Join(p.dataDir, "PLAN.md")
	var b strings.Builder
	if overridePrompt != "" {
		fmt.Fprintf(&b, "Override instructions: %s\n\n", overridePrompt)
	}
	fmt.Fprintf(&b, "Break the following goal into a dependency-ordered list of coding tasks. "+
		"Write a human-readable plan to %s. Goal:\n\n%s\n\n"+
		"Respond with <context>…</context>, <mode>parallel|sequential</mode>, and "+
		"zero or more <task worker=\"auto|wN\" depends=\"1,2\">description</task> elements, "+
		"where depends indices are 1-based positions among the tasks you emit.", planPath, goal)

	text, _, err := p.client.Execute(ctx, b.String(), callTimeout, nil)
	if err != nil {
		return "", nil, task.ModeParallel, err
	}
	return parseXML(text)
}

func parseXML(text string) (string, []task.Task, string, error) {
	context_, _ := tagscan.First(text, "context")

	mode, _ := tagscan.First(text, "mode")
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode != task.ModeParallel && mode != task.ModeSequential {
		mode = task.ModeParallel
	}

	matches := tagscan.Tasks(text)
	tasks := make([]task.Task, 0, len(matches))
	depIndices := make([][]int, 0, len(matches))

	for _, m := range matches {
		desc := m.Description
		if len(desc) <= 5 {
			continue
		}

		worker := task.AutoWorker
		if w, ok := tagscan.Attr(m.Attrs, "worker"); ok && w != "" {
			worker = w
		}

		var indices []int
		if depStr, ok := tagscan.Attr(m.Attrs, "depends"); ok {
			for _, part := range strings.Split(depStr, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				if n, err := strconv.Atoi(part); err == nil {
					indices = append(indices, n)
				}
			}
		}

		tasks = append(tasks, task.Task{
			ID:          uuid.NewString(),
			Description: desc,
			Files:       []string{},
			Status:      task.Pending,
			Worker:      worker,
		})
		depIndices = append(depIndices, indices)
	}

	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	for i, indices := range depIndices {
		tasks[i].DependsOn = graph.ResolveDependsOn(i, indices, ids)
	}

	return context_, tasks, mode, nil
}

func (p *Planner) writePlanMD(tasks []task.Task, context_, mode string) error {
	var b strings.Builder
	b.WriteString("# Plan\n\n")
	if context_ != "" {
		fmt.Fprintf(&b, "%s\n\n", context_)
	}
	fmt.Fprintf(&b, "Execution mode: %s\n\n", mode)
	for i, t := range tasks {
		fmt.Fprintf(&b, "%d. %s", i+1, t.Description)
		if len(t.DependsOn) > 0 {
			fmt.Fprintf(&b, " (depends on %d dep(s))", len(t.DependsOn))
		}
		b.WriteString("\n")
	}
	return os.WriteFile(filepath.Join(p.dataDir, "PLAN.md"), []byte(b.String()), 0o644)
}
