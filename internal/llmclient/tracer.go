package llmclient

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Tracer appends one JSON-line record per LLM invocation to trace.jl.
// Trace failures are swallowed, per spec.md §4.2: tracing is diagnostic,
// never load-bearing.
type Tracer struct {
	mu   sync.Mutex
	path string
}

// NewTracer returns a Tracer for the trace file at path. The file is
// opened (and created if needed) on each write, not here.
func NewTracer(path string) *Tracer {
	return &Tracer{path: path}
}

type traceRecord struct {
	Timestamp    time.Time `json:"ts"`
	Role         string    `json:"role"`
	Model        string    `json:"model"`
	PromptLen    int       `json:"prompt_len"`
	ResponseLen  int       `json:"response_len"`
	TimeoutSecs  float64   `json:"timeout"`
	OK           bool      `json:"ok"`
}

func (t *Tracer) write(rec traceRecord) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = f.Write(data)
}

func (c *Client) trace(start time.Time, prompt, response string, timeout time.Duration, ok bool) {
	if c.tracer == nil {
		return
	}
	c.tracer.write(traceRecord{
		Timestamp:   start,
		Role:        c.role,
		Model:       c.model,
		PromptLen:   len(prompt),
		ResponseLen: len(response),
		TimeoutSecs: timeout.Seconds(),
		OK:          ok,
	})
}
