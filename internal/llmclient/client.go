// Package llmclient wraps one invocation of the external LLM CLI (the
// "claude" or "codex" coding-assistant binary). It is grounded on
// original_source/ship/claude_code.py's subprocess shape, generalized to
// the converged, tuple-returning form spec.md §9's Open Question
// resolves in favor of, plus spec.md §4.2's JSON-event streaming and
// process-group kill sequence that claude_code.py's sampled snapshot
// predates. The functional-options constructor and retry/backoff/trace
// shape follow the teacher's llm/client.go.
package llmclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/kronael/shipyard/internal/tagscan"
)

// DefaultAllowedTools mirrors claude_code.py's DEFAULT_ALLOWED_TOOLS: a
// conservative allowlist of shell commands plus the editing tools every
// worker/planner/validator role needs.
var DefaultAllowedTools = []string{
	"Bash(make:*)", "Bash(go:*)", "Bash(npm:*)", "Bash(npx:*)", "Bash(node:*)",
	"Bash(python:*)", "Bash(python3:*)", "Bash(uv:*)", "Bash(pytest:*)",
	"Bash(cargo:*)", "Bash(rustc:*)", "Bash(grep:*)", "Bash(sed:*)", "Bash(awk:*)",
	"Bash(find:*)", "Bash(cat:*)", "Bash(head:*)", "Bash(tail:*)", "Bash(ls:*)",
	"Bash(mkdir:*)", "Bash(rm:*)", "Bash(cp:*)", "Bash(mv:*)", "Bash(chmod:*)",
	"Bash(git:*)", "Bash(curl:*)", "Bash(tar:*)", "Bash(unzip:*)",
	"Read", "Write", "Edit", "Glob", "Grep",
}

// Client spawns one external LLM CLI subprocess per Execute call.
type Client struct {
	binary        string
	model         string
	role          string
	cwd           string
	permissionMode string
	maxTurns      int
	allowedTools  []string

	logger  *slog.Logger
	limiter *Limiter
	tracer  *Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithCWD sets the working directory the subprocess runs in (default ".").
func WithCWD(dir string) Option { return func(c *Client) { c.cwd = dir } }

// WithMaxTurns bounds the agentic turn count (0 = unset, unlimited).
func WithMaxTurns(n int) Option { return func(c *Client) { c.maxTurns = n } }

// WithAllowedTools overrides DefaultAllowedTools.
func WithAllowedTools(tools []string) Option {
	return func(c *Client) { c.allowedTools = tools }
}

// WithPermissionMode overrides the default fully-elevated permission mode.
func WithPermissionMode(mode string) Option {
	return func(c *Client) { c.permissionMode = mode }
}

// WithLogger attaches structured logging.
func WithLogger(logger *slog.Logger) Option { return func(c *Client) { c.logger = logger } }

// WithLimiter attaches a process-local rate limiter shared across clients.
func WithLimiter(l *Limiter) Option { return func(c *Client) { c.limiter = l } }

// WithTracer attaches the per-call NDJSON trace writer.
func WithTracer(t *Tracer) Option { return func(c *Client) { c.tracer = t } }

// WithBinary overrides the CLI binary name (default "claude"); used to
// switch to "codex" for the Refiner, or to a fake binary in tests.
func WithBinary(bin string) Option { return func(c *Client) { c.binary = bin } }

// New constructs a Client bound to model and a role used only for
// logging/tracing (e.g. "worker-w0", "judge", "validator"), mirroring
// the converged ClaudeCodeClient(model=..., role=...) constructor shape.
func New(model, role string, opts ...Option) *Client {
	c := &Client{
		binary:         "claude",
		model:          model,
		role:           role,
		cwd:            ".",
		permissionMode: "bypassPermissions",
		allowedTools:   DefaultAllowedTools,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) buildArgs(prompt string) []string {
	args := []string{"-p", prompt, "--model", c.model, "--permission-mode", c.permissionMode, "--output-format", "stream-json"}
	if c.maxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", c.maxTurns))
	}
	if len(c.allowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(c.allowedTools, " "))
	}
	return args
}

// event is the line-delimited JSON shape emitted by the CLI in
// --output-format stream-json mode.
type event struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Message *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
}

// Execute spawns the CLI, streams its JSON events, and returns the
// final result text plus session id, or a *TransientError/*FatalError
// wrapping a typed *Error that carries any partial output and the last
// known session id.
func (c *Client) Execute(ctx context.Context, prompt string, timeout time.Duration, onProgress func(string)) (string, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", "", NewFatalError(NewError("rate limiter wait: "+err.Error(), "", ""))
		}
	}

	start := time.Now()
	args := c.buildArgs(prompt)
	cmd := exec.Command(c.binary, args...)
	cmd.Dir = c.cwd
	cmd.Stdin = nil
	cmd.SysProcAttr = newProcessGroupAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", NewTransientError(NewError("spawn failed: "+err.Error(), "", ""))
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return "", "", NewTransientError(NewError("spawn failed: "+err.Error(), "", ""))
	}

	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu        sync.Mutex
		partial   string
		sessionID string
		subtype   string
		gotResult bool
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			var ev event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "assistant":
				if ev.Message == nil {
					continue
				}
				for _, block := range ev.Message.Content {
					if block.Type != "text" || block.Text == "" {
						continue
					}
					mu.Lock()
					partial = block.Text
					mu.Unlock()
					for _, p := range progressMarkers(block.Text) {
						if onProgress != nil {
							onProgress(p)
						}
					}
				}
			case "result":
				mu.Lock()
				if ev.Result != "" {
					partial = ev.Result
				}
				sessionID = ev.SessionID
				subtype = ev.Subtype
				gotResult = true
				mu.Unlock()
			}
		}
	}()

	var killErr error
	select {
	case <-done:
		_ = cmd.Wait()
	case <-readCtx.Done():
		killErr = killProcessGroup(cmd)
		<-done
		_ = cmd.Wait()
	}

	mu.Lock()
	result, sid, sub, ok := partial, sessionID, subtype, gotResult
	mu.Unlock()

	c.trace(start, prompt, result, timeout, killErr == nil && ctx.Err() == nil && cmd.ProcessState != nil && cmd.ProcessState.Success())

	if readCtx.Err() != nil && ctx.Err() == nil {
		return "", "", NewTransientError(NewError(fmt.Sprintf("timeout after %s", timeout), result, sid))
	}
	if ctx.Err() != nil {
		return "", "", NewFatalError(NewError("cancelled", result, sid))
	}
	if cmd.ProcessState != nil && !cmd.ProcessState.Success() {
		if c.limiter != nil {
			c.limiter.Observe(looksRateLimited(result))
		}
		return "", "", NewTransientError(NewError(fmt.Sprintf("cli failed (exit %d)", cmd.ProcessState.ExitCode()), result, sid))
	}
	if sub == "error_max_turns" {
		return "", "", NewFatalError(NewError("reached max turns", result, sid))
	}
	if !ok || strings.TrimSpace(result) == "" {
		return "", "", NewTransientError(NewError("empty output", result, sid))
	}

	if c.limiter != nil {
		c.limiter.Observe(false)
	}
	return result, sid, nil
}

// looksRateLimited reports whether the CLI's surfaced output looks like
// an upstream 429/quota rejection rather than an ordinary tool failure,
// the signal the Limiter uses to back off its budget.
func looksRateLimited(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "quota")
}

func progressMarkers(text string) []string {
	return tagscan.All(text, "progress")
}
