package replanner

import (
	"testing"

	"github.com/kronael/shipyard/internal/task"
)

func TestParseTasks_FiltersShortDescriptions(t *testing.T) {
	text := "<task>ok</task><task>reassess the integration boundary</task>"
	tasks := parseTasks(text)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task after filtering, got %d", len(tasks))
	}
}

func TestSummarize_EmptyReturnsNone(t *testing.T) {
	if got := summarize(nil, 5, func(t task.Task) string { return t.Description }); got != "None" {
		t.Fatalf("expected None, got %q", got)
	}
}

func TestSummarize_TailLimit(t *testing.T) {
	tasks := []task.Task{{Description: "a"}, {Description: "b"}, {Description: "c"}}
	got := summarize(tasks, 2, func(t task.Task) string { return t.Description })
	want := "b\nc"
	if got != want {
		t.Fatalf("expected last 2 joined, got %q want %q", got, want)
	}
}
