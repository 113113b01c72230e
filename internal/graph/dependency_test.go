package graph

import (
	"testing"

	"github.com/kronael/shipyard/internal/task"
)

func TestNew_NoDependencies(t *testing.T) {
	tasks := []task.Task{
		{ID: "1", Description: "first"},
		{ID: "2", Description: "second"},
	}
	g := New(tasks)
	ready := g.Ready()
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready tasks, got %d", len(ready))
	}
}

func TestNew_LinearDependencies(t *testing.T) {
	tasks := []task.Task{
		{ID: "1", Description: "first"},
		{ID: "2", Description: "second", DependsOn: []string{"1"}},
		{ID: "3", Description: "third", DependsOn: []string{"2"}},
	}
	g := New(tasks)

	ready := g.Ready()
	if len(ready) != 1 || ready[0] != "1" {
		t.Fatalf("expected only task 1 ready, got %v", ready)
	}

	newly := g.MarkCompleted("1")
	if len(newly) != 1 || newly[0] != "2" {
		t.Fatalf("expected task 2 newly ready, got %v", newly)
	}

	newly = g.MarkCompleted("2")
	if len(newly) != 1 || newly[0] != "3" {
		t.Fatalf("expected task 3 newly ready, got %v", newly)
	}

	g.MarkCompleted("3")
	if !g.IsEmpty() {
		t.Error("expected graph to be empty")
	}
}

func TestNew_MultipleDependencies(t *testing.T) {
	tasks := []task.Task{
		{ID: "1"},
		{ID: "2"},
		{ID: "3", DependsOn: []string{"1", "2"}},
	}
	g := New(tasks)

	newly := g.MarkCompleted("1")
	if len(newly) != 0 {
		t.Fatalf("expected 0 newly ready, got %v", newly)
	}
	newly = g.MarkCompleted("2")
	if len(newly) != 1 || newly[0] != "3" {
		t.Fatalf("expected task 3 newly ready, got %v", newly)
	}
}

func TestMarkCompleted_Idempotent(t *testing.T) {
	tasks := []task.Task{
		{ID: "1"},
		{ID: "2", DependsOn: []string{"1"}},
	}
	g := New(tasks)

	newly := g.MarkCompleted("1")
	if len(newly) != 1 {
		t.Fatalf("expected 1 newly ready, got %d", len(newly))
	}
	newly = g.MarkCompleted("1")
	if len(newly) != 0 {
		t.Fatalf("expected repeat MarkCompleted to be a no-op, got %v", newly)
	}
}

func TestResolveDependsOn_OutOfRangeDropped(t *testing.T) {
	ids := []string{"a", "b", "c"}
	out := ResolveDependsOn(2, []int{99}, ids)
	if len(out) != 0 {
		t.Fatalf("expected out-of-range index dropped, got %v", out)
	}
}

func TestResolveDependsOn_SelfReferenceDropped(t *testing.T) {
	ids := []string{"a", "b", "c"}
	out := ResolveDependsOn(0, []int{1}, ids)
	if len(out) != 0 {
		t.Fatalf("expected self-reference dropped, got %v", out)
	}
}

func TestResolveDependsOn_OrderPreserved(t *testing.T) {
	ids := []string{"a", "b", "c"}
	out := ResolveDependsOn(2, []int{1, 2}, ids)
	if len(out) != 2 || out[0] != "a" || out[1] != "b" {
		t.Fatalf("expected [a b] in order, got %v", out)
	}
}
