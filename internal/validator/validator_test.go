package validator

import "testing"

func TestParse_Accept(t *testing.T) {
	text := "<decision>accept</decision><project>a concise enriched description</project>"
	r := parse(text)
	if !r.Accept {
		t.Fatal("expected accept")
	}
	if r.ProjectMD != "a concise enriched description" {
		t.Fatalf("unexpected project md: %q", r.ProjectMD)
	}
	if len(r.Gaps) != 0 {
		t.Fatalf("expected no gaps, got %v", r.Gaps)
	}
}

func TestParse_RejectWithGaps(t *testing.T) {
	text := "<decision>reject</decision><gap>no auth strategy</gap><gap>no error handling plan</gap>"
	r := parse(text)
	if r.Accept {
		t.Fatal("expected reject")
	}
	if len(r.Gaps) != 2 {
		t.Fatalf("expected 2 gaps, got %v", r.Gaps)
	}
}

func TestParse_CaseInsensitiveDecision(t *testing.T) {
	r := parse("<decision>Accept</decision>")
	if !r.Accept {
		t.Fatal("expected accept despite mixed case")
	}
}

func TestParse_MissingDecisionDefaultsReject(t *testing.T) {
	r := parse("no tags at all")
	if r.Accept {
		t.Fatal("expected reject when no decision tag present")
	}
}
