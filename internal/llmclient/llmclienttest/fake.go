// Package llmclienttest provides a fake LLM CLI binary for worker/judge
// tests, mirroring the teacher's llm/testutil/mock.go: rather than
// mocking the Go type, it builds a tiny real executable so Execute's
// subprocess-handling code path (process groups, JSON event scanning,
// timeouts) is exercised end to end without ever talking to a real
// model.
package llmclienttest

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Script is a fake CLI program. It ignores its arguments and prints
// Events (each already JSON-line formatted) to stdout, optionally
// sleeping first to exercise timeout handling.
type Script struct {
	Events []string
	Sleep  string // e.g. "2s"; empty means no sleep
	Exit   int
}

// Build compiles Script into a standalone executable under dir and
// returns its path. It shells out to `go build` against a tiny
// generated source file, so it needs a Go toolchain at test time.
func (s Script) Build(dir, name string) (string, error) {
	src := filepath.Join(dir, name+".go")
	if err := os.WriteFile(src, []byte(s.source()), 0o644); err != nil {
		return "", err
	}
	out := filepath.Join(dir, name)
	if runtime.GOOS == "windows" {
		out += ".exe"
	}
	cmd := exec.Command("go", "build", "-o", out, src)
	cmd.Dir = dir
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("build fake cli: %w: %s", err, output)
	}
	return out, nil
}

func (s Script) source() string {
	src := "package main\n\nimport (\n\t\"fmt\"\n\t\"time\"\n\t\"os\"\n)\n\nfunc main() {\n"
	if s.Sleep != "" {
		src += fmt.Sprintf("\td, _ := time.ParseDuration(%q)\n\ttime.Sleep(d)\n", s.Sleep)
	}
	for _, e := range s.Events {
		src += fmt.Sprintf("\tfmt.Println(%q)\n", e)
	}
	src += fmt.Sprintf("\tos.Exit(%d)\n}\n", s.Exit)
	return src
}

// ResultEvent builds the JSON-line "result" terminal event a real
// Execute call expects to see last.
func ResultEvent(result, sessionID, subtype string) string {
	return fmt.Sprintf(`{"type":"result","result":%q,"session_id":%q,"subtype":%q}`, result, sessionID, subtype)
}

// AssistantEvent builds an "assistant" event carrying one text block,
// useful for exercising <progress> marker scanning.
func AssistantEvent(text string) string {
	return fmt.Sprintf(`{"type":"assistant","message":{"content":[{"type":"text","text":%q}]}}`, text)
}
