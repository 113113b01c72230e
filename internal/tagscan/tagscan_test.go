package tagscan

import "testing"

func TestFirst(t *testing.T) {
	text := "prefix <decision>accept</decision> suffix"
	got, ok := First(text, "decision")
	if !ok || got != "accept" {
		t.Fatalf("expected accept, got %q ok=%v", got, ok)
	}
}

func TestFirst_Missing(t *testing.T) {
	_, ok := First("nothing here", "decision")
	if ok {
		t.Fatal("expected not found")
	}
}

func TestAll(t *testing.T) {
	text := "<gap>missing auth</gap><gap>missing tests</gap>"
	got := All(text, "gap")
	if len(got) != 2 || got[0] != "missing auth" || got[1] != "missing tests" {
		t.Fatalf("unexpected gaps: %v", got)
	}
}

func TestBlock(t *testing.T) {
	text := "<followups><task>a</task><task>b</task></followups>"
	block, ok := Block(text, "followups")
	if !ok {
		t.Fatal("expected block found")
	}
	tasks := All(block, "task")
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
}

func TestTasks_WithAttrs(t *testing.T) {
	text := `<task worker="w1" depends="1,2">do the thing</task>`
	matches := Tasks(text)
	if len(matches) != 1 {
		t.Fatalf("expected 1 task match, got %d", len(matches))
	}
	if matches[0].Description != "do the thing" {
		t.Fatalf("unexpected description: %q", matches[0].Description)
	}
	worker, ok := Attr(matches[0].Attrs, "worker")
	if !ok || worker != "w1" {
		t.Fatalf("expected worker=w1, got %q ok=%v", worker, ok)
	}
	depends, ok := Attr(matches[0].Attrs, "depends")
	if !ok || depends != "1,2" {
		t.Fatalf("expected depends=1,2, got %q ok=%v", depends, ok)
	}
}

func TestTasks_NoAttrs(t *testing.T) {
	text := "<task>plain description</task>"
	matches := Tasks(text)
	if len(matches) != 1 || matches[0].Description != "plain description" {
		t.Fatalf("unexpected matches: %+v", matches)
	}
	if _, ok := Attr(matches[0].Attrs, "worker"); ok {
		t.Fatal("expected no worker attr")
	}
}
