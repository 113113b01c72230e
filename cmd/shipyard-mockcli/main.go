// Command shipyard-mockcli is a fixture-driven stand-in for the real
// "claude"/"codex" CLI binary internal/llmclient shells out to. Point
// internal/llmclient.WithBinary at it (or symlink it as "claude" on
// $PATH) to dry-run the full engine against canned responses instead of
// a live model, for manual end-to-end smoke testing.
//
// Routing is by recognizable substrings in the -p prompt text, since
// every role currently shares one --model value: the prompt text itself
// is the only signal that distinguishes a validator call from a worker
// call. Adapted from the teacher's cmd/mock-llm, which routed HTTP
// chat-completion requests by model name and supported numbered
// sequential fixtures (mock-reviewer.1.json, .2.json, ...) for testing
// reject/revise/approve loops; this keeps that fixture-sequencing
// scheme but emits the stream-json NDJSON events the CLI contract
// expects instead of an OpenAI-shaped HTTP response. The per-role call
// counter lives in process memory and every CLI invocation is a new
// process, so each call is answered with the first entry of its role's
// sequence; later entries are not reached across invocations.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// markers maps a role name to a substring unique to that role's prompt
// template, so a prompt can be routed without a distinguishing --model.
var markers = []struct {
	role      string
	substring string
}{
	{"validator", "specific enough to execute autonomously"},
	{"planner", "dependency-ordered list of coding tasks"},
	{"judge", "Did the following work actually complete the stated task"},
	{"verifier", "adversarial challenges"},
	{"refiner", "Propose any local follow-up tasks needed to finish the work"},
	{"replanner", "Assess whether the goal has been met"},
	{"worker", "Report back with <status>"},
}

func routeRole(prompt string) string {
	for _, m := range markers {
		if strings.Contains(prompt, m.substring) {
			return m.role
		}
	}
	return "default"
}

// numberedFileRe matches fixture files like "worker.1.json", "worker.2.json".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// loadFixtures reads dir for role.json and role.N.json files, returning
// an ordered sequence per role: numbered fixtures first in numeric
// order, then the base file as a repeating fallback.
func loadFixtures(dir string) (map[string][]string, error) {
	base := map[string]string{}
	numbered := map[string]map[int]string{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read fixture dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		if m := numberedFileRe.FindStringSubmatch(e.Name()); m != nil {
			idx, _ := strconv.Atoi(m[2])
			if numbered[m[1]] == nil {
				numbered[m[1]] = map[int]string{}
			}
			numbered[m[1]][idx] = string(data)
			continue
		}
		base[strings.TrimSuffix(e.Name(), ".json")] = string(data)
	}

	roles := map[string]bool{}
	for r := range base {
		roles[r] = true
	}
	for r := range numbered {
		roles[r] = true
	}

	fixtures := map[string][]string{}
	for role := range roles {
		var seq []string
		if nums, ok := numbered[role]; ok {
			indices := make([]int, 0, len(nums))
			for i := range nums {
				indices = append(indices, i)
			}
			sort.Ints(indices)
			for _, i := range indices {
				seq = append(seq, nums[i])
			}
		}
		if b, ok := base[role]; ok {
			seq = append(seq, b)
		}
		if len(seq) > 0 {
			fixtures[role] = seq
		}
	}
	return fixtures, nil
}

var (
	callCountersMu sync.Mutex
	callCounters   = map[string]*atomic.Int64{}
)

func nextCallIndex(role string) int {
	callCountersMu.Lock()
	c, ok := callCounters[role]
	if !ok {
		c = &atomic.Int64{}
		callCounters[role] = c
	}
	callCountersMu.Unlock()
	return int(c.Add(1) - 1)
}

func resultFor(seq []string, callIndex int) string {
	if callIndex < len(seq) {
		return seq[callIndex]
	}
	return seq[len(seq)-1]
}

func main() {
	var prompt string
	flag.StringVar(&prompt, "p", "", "prompt text")
	flag.String("model", "", "ignored; routing is by prompt content")
	flag.String("permission-mode", "", "ignored")
	flag.String("output-format", "", "ignored, always stream-json")
	flag.Int("max-turns", 0, "ignored")
	flag.String("allowedTools", "", "ignored")
	flag.Parse()

	fixtureDir := os.Getenv("SHIPYARD_MOCK_FIXTURES")
	if fixtureDir == "" {
		fixtureDir = "fixtures"
	}
	fixtures, err := loadFixtures(fixtureDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shipyard-mockcli: %v\n", err)
		os.Exit(1)
	}

	role := routeRole(prompt)
	seq, ok := fixtures[role]
	if !ok {
		seq, ok = fixtures["default"]
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "shipyard-mockcli: no fixture for role %q or \"default\" in %s\n", role, fixtureDir)
		os.Exit(1)
	}

	callIndex := nextCallIndex(role)
	result := resultFor(seq, callIndex)

	sessionID := fmt.Sprintf("mock-%s-%d", role, callIndex+1)
	fmt.Printf(`{"type":"assistant","message":{"content":[{"type":"text","text":%s}]}}`+"\n", jsonString(result))
	fmt.Printf(`{"type":"result","result":%s,"session_id":%s,"subtype":"success"}`+"\n",
		jsonString(result), jsonString(sessionID))
}

func jsonString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
