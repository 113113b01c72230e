package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSpecHash_Deterministic(t *testing.T) {
	a := SpecHash("goal text")
	b := SpecHash("goal text")
	if a != b {
		t.Fatalf("expected deterministic hash, got %q vs %q", a, b)
	}
	if a == SpecHash("different text") {
		t.Fatal("expected different text to hash differently")
	}
}

func TestDiscoverSpec_SingleFileArg(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "my-design.md")
	if err := os.WriteFile(f, []byte("design"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	found, err := DiscoverSpec([]string{f})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 1 || found[0] != f {
		t.Fatalf("expected single file match, got %v", found)
	}
}

func TestDiscoverSpec_DirArgGlobsMarkdown(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.md", "b.md", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	found, err := DiscoverSpec([]string{dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 markdown files, got %v", found)
	}
}

func TestDiscoverSpec_MultipleContextArgsReturnsNil(t *testing.T) {
	found, err := DiscoverSpec([]string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != nil {
		t.Fatalf("expected nil for multi-arg inline context, got %v", found)
	}
}

func TestReadGoal_FromSpecFiles(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "SPEC.md")
	if err := os.WriteFile(f, []byte("  build a thing  "), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	goal, label, err := readGoal([]string{f}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if goal != "build a thing" {
		t.Fatalf("expected trimmed goal text, got %q", goal)
	}
	if label != f {
		t.Fatalf("expected label to be the file path, got %q", label)
	}
}

func TestReadGoal_FromInlineContext(t *testing.T) {
	goal, label, err := readGoal(nil, []string{"build", "a", "thing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if goal != "build a thing" {
		t.Fatalf("expected joined inline context, got %q", goal)
	}
	if label != "<inline>" {
		t.Fatalf("expected <inline> label, got %q", label)
	}
}

func TestReadGoal_NoneFoundErrors(t *testing.T) {
	if _, _, err := readGoal(nil, nil); err == nil {
		t.Fatal("expected error when no spec and no context given")
	}
}
