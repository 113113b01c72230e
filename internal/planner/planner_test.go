package planner

import "testing"

func TestParseXML_NoDependencies(t *testing.T) {
	text := `<context>web</context><mode>parallel</mode>` +
		`<task>Create server.go</task><task>Add HTTP handler</task>`

	context_, tasks, mode, err := parseXML(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if context_ != "web" {
		t.Fatalf("expected context 'web', got %q", context_)
	}
	if mode != "parallel" {
		t.Fatalf("expected mode 'parallel', got %q", mode)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	for _, tk := range tasks {
		if len(tk.DependsOn) != 0 {
			t.Fatalf("expected no dependencies, got %v", tk.DependsOn)
		}
	}
}

func TestParseXML_DependencyResolution(t *testing.T) {
	text := `<task depends="">first</task><task depends="1">second</task><task depends="1,2">third</task>`

	_, tasks, _, err := parseXML(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	if len(tasks[0].DependsOn) != 0 {
		t.Fatalf("expected task 1 to have no dependencies, got %v", tasks[0].DependsOn)
	}
	if len(tasks[1].DependsOn) != 1 || tasks[1].DependsOn[0] != tasks[0].ID {
		t.Fatalf("expected task 2 to depend on task 1, got %v", tasks[1].DependsOn)
	}
	if len(tasks[2].DependsOn) != 2 || tasks[2].DependsOn[0] != tasks[0].ID || tasks[2].DependsOn[1] != tasks[1].ID {
		t.Fatalf("expected task 3 to depend on [task1, task2] in order, got %v", tasks[2].DependsOn)
	}
}

func TestParseXML_InvalidModeNormalizesToParallel(t *testing.T) {
	_, _, mode, err := parseXML(`<mode>bogus</mode><task>do a thing</task>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mode != "parallel" {
		t.Fatalf("expected normalization to parallel, got %q", mode)
	}
}

func TestParseXML_ShortDescriptionsDropped(t *testing.T) {
	_, tasks, _, err := parseXML(`<task>hi</task><task>a real task description</task>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected short description dropped, got %d tasks", len(tasks))
	}
}

func TestParseXML_WorkerPin(t *testing.T) {
	_, tasks, _, err := parseXML(`<task worker="w3">pinned task description</task>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Worker != "w3" {
		t.Fatalf("expected worker pin w3, got %+v", tasks)
	}
}
