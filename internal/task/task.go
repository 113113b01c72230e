// Package task defines the Task and WorkState entities shared by every
// component of the orchestration engine.
package task

import "time"

// Status is one of the four states a Task may occupy.
type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
)

// AutoWorker marks a task as eligible for dispatch to any idle worker.
const AutoWorker = "auto"

// MaxRetries bounds how many times a failed task is retried before it
// cascades its failure to dependents. See DESIGN.md for the Open
// Question this resolves.
const MaxRetries = 10

// Task is the unit of work executed by a Worker via the LLM Client.
type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Files       []string  `json:"files"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Retries     int       `json:"retries"`
	Error       string    `json:"error"`
	Result      string    `json:"result"`
	Summary     string    `json:"summary"`
	SessionID   string    `json:"session_id"`
	DependsOn   []string  `json:"depends_on"`
	Followups   []string  `json:"followups"`
	Worker      string    `json:"worker"`
}

// Clone returns a deep-enough copy safe for callers to mutate without
// aliasing the store's internal record.
func (t Task) Clone() Task {
	c := t
	c.Files = append([]string(nil), t.Files...)
	c.DependsOn = append([]string(nil), t.DependsOn...)
	c.Followups = append([]string(nil), t.Followups...)
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}

// CascadePrefix marks errors set by cascade_failure; such tasks are never
// retried by the Judge.
const CascadePrefix = "cascade:"

// FatalPrefix marks a failure the Worker classified as non-retryable
// (llmclient.IsFatal). The Judge cascades these immediately instead of
// spending retry budget on them.
const FatalPrefix = "fatal:"

// WorkState is the singleton run-level record.
type WorkState struct {
	DesignFile     string    `json:"design_file"`
	GoalText       string    `json:"goal_text"`
	SpecHash       string    `json:"spec_hash"`
	ProjectContext string    `json:"project_context"`
	ExecutionMode  string    `json:"execution_mode"`
	OverridePrompt string    `json:"override_prompt"`
	IsComplete     bool      `json:"is_complete"`
	StartedAt      time.Time `json:"started_at"`
	LastUpdatedAt  time.Time `json:"last_updated_at"`
}

const (
	ModeParallel   = "parallel"
	ModeSequential = "sequential"
)
