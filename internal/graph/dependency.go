// Package graph provides the dependency-aware readiness graph shared by
// the Planner (to resolve 1-based indices to ids) and the dispatch
// queue (to know which pending tasks are unblocked). It is adapted from
// the teacher's processor/task-dispatcher/dependencies.go DependencyGraph,
// generalized from its NATS-delivered workflow.Task to this engine's
// task.Task and simplified: no cycle detection is needed here because
// depends_on only ever references earlier planner indices (spec.md §9).
package graph

import (
	"sync"

	"github.com/kronael/shipyard/internal/task"
)

// DependencyGraph tracks, for a fixed task set, how many incomplete
// dependencies each task has left and who depends on whom.
type DependencyGraph struct {
	mu sync.Mutex

	tasks      map[string]*task.Task
	inDegree   map[string]int
	dependents map[string][]string
}

// New builds a DependencyGraph over tasks. Tasks already completed do
// not count toward any dependent's in-degree.
func New(tasks []task.Task) *DependencyGraph {
	g := &DependencyGraph{
		tasks:      make(map[string]*task.Task, len(tasks)),
		inDegree:   make(map[string]int, len(tasks)),
		dependents: make(map[string][]string),
	}
	for i := range tasks {
		t := tasks[i]
		g.tasks[t.ID] = &t
	}
	for _, t := range g.tasks {
		degree := 0
		for _, depID := range t.DependsOn {
			dep, ok := g.tasks[depID]
			if !ok {
				continue
			}
			if dep.Status == task.Completed {
				continue
			}
			degree++
			g.dependents[depID] = append(g.dependents[depID], t.ID)
		}
		g.inDegree[t.ID] = degree
	}
	return g
}

// Ready returns the ids of every task with zero remaining dependencies
// that has not yet been marked completed by MarkCompleted.
func (g *DependencyGraph) Ready() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ready []string
	for id, degree := range g.inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	return ready
}

// MarkCompleted records that id finished, decrementing every dependent's
// in-degree, and returns the ids that just became newly ready. Marking
// an id that is no longer tracked is a no-op.
func (g *DependencyGraph) MarkCompleted(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, tracked := g.inDegree[id]; !tracked {
		return nil
	}
	delete(g.inDegree, id)

	var newlyReady []string
	for _, dependentID := range g.dependents[id] {
		if _, stillTracked := g.inDegree[dependentID]; !stillTracked {
			continue
		}
		g.inDegree[dependentID]--
		if g.inDegree[dependentID] == 0 {
			newlyReady = append(newlyReady, dependentID)
		}
	}
	return newlyReady
}

// IsEmpty reports whether every task has been marked completed.
func (g *DependencyGraph) IsEmpty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inDegree) == 0
}

// ResolveDependsOn converts the Planner's 1-based `depends="i,j"` indices
// into task ids, dropping out-of-range indices and self-references, per
// spec.md §4.4 and the end-to-end scenarios of §8.
func ResolveDependsOn(taskIndex int, indices []int, ids []string) []string {
	var out []string
	for _, idx := range indices {
		if idx < 1 || idx > len(ids) {
			continue
		}
		if idx-1 == taskIndex {
			continue
		}
		out = append(out, ids[idx-1])
	}
	return out
}
