package refiner

import "testing"

func TestParseTasks_FiltersShortDescriptions(t *testing.T) {
	text := "<task>hi</task><task>add missing error handling</task>"
	tasks := parseTasks(text)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task after filtering, got %d", len(tasks))
	}
	if tasks[0].Description != "add missing error handling" {
		t.Fatalf("unexpected description: %q", tasks[0].Description)
	}
}

func TestParseTasks_Empty(t *testing.T) {
	if tasks := parseTasks("no tags here"); len(tasks) != 0 {
		t.Fatalf("expected no tasks, got %v", tasks)
	}
}
