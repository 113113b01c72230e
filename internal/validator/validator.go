// Package validator implements the one-shot design-quality gate,
// grounded on original_source/ship/validator.py.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kronael/shipyard/internal/llmclient"
	"github.com/kronael/shipyard/internal/tagscan"
)

const callTimeout = 180 * time.Second

// Result is the parsed verdict of one validation call.
type Result struct {
	Accept     bool
	Gaps       []string
	ProjectMD  string
}

// Validator asks the LLM whether a design is specific enough to execute.
type Validator struct {
	client *llmclient.Client
	logger *slog.Logger
}

// New constructs a Validator bound to its own "validator"-role LLM Client.
func New(client *llmclient.Client, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{client: client, logger: logger}
}

// Validate wraps designText (plus optional extra context lines and an
// operator override prompt) in the validator template and parses the
// reply. If the model rejects without giving any gaps, the call is
// retried up to twice before synthesizing a single placeholder gap.
func (v *Validator) Validate(ctx context.Context, designText string, extraContext []string, overridePrompt string) (Result, error) {
	prompt := buildPrompt(designText, extraContext, overridePrompt)

	var (
		result Result
		err    error
	)
	for attempt := 0; attempt < 3; attempt++ {
		var text, sessionID string
		text, sessionID, err = v.client.Execute(ctx, prompt, callTimeout, nil)
		if err != nil {
			return Result{}, fmt.Errorf("validator call failed: %w", err)
		}
		_ = sessionID
		result = parse(text)
		if result.Accept || len(result.Gaps) > 0 {
			return result, nil
		}
	}
	result.Gaps = []string{"rejected without explanation"}
	return result, nil
}

func buildPrompt(designText string, extraContext []string, overridePrompt string) string {
	var b strings.Builder
	if overridePrompt != "" {
		fmt.Fprintf(&b, "Override instructions: %s\n\n", overridePrompt)
	}
	b.WriteString("Evaluate whether the following design is specific enough to execute autonomously.\n\n")
	b.WriteString(designText)
	if len(extraContext) > 0 {
		b.WriteString("\n\nAdditional context:\n")
		for _, c := range extraContext {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	b.WriteString("\n\nRespond with <decision>accept</decision> or <decision>reject</decision>, " +
		"zero or more <gap>…</gap> lines explaining what is missing, and on accept an optional " +
		"<project>…</project> block with a concise enriched description for the workers.")
	return b.String()
}

func parse(text string) Result {
	decision, _ := tagscan.First(text, "decision")
	accept := strings.EqualFold(strings.TrimSpace(decision), "accept")

	gaps := tagscan.All(text, "gap")
	projectMD, _ := tagscan.First(text, "project")

	return Result{Accept: accept, Gaps: gaps, ProjectMD: projectMD}
}
