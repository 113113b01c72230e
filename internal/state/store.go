// Package state implements the durable, concurrency-safe Task and
// WorkState store. It is grounded on original_source/ship/state.py,
// translated from asyncio.Lock + per-call json.dump into a sync.Mutex
// guarding two JSON files, with the write-to-tmp-then-rename atomicity
// the original lacks (see DESIGN.md, "Durable state across crashes").
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/kronael/shipyard/internal/task"
)

const (
	tasksFileName     = "tasks.json"
	workFileName      = "work.json"
	validatedFileName = "validated"
	lockFileName      = "ship.lock"
)

// ErrLocked is returned by Open when another process already holds the
// advisory lock on dataDir.
var ErrLocked = fmt.Errorf("data directory is locked by another process")

// Store is the single owner of all Task and WorkState records. All
// accessors return copies; callers never observe internal aliasing.
type Store struct {
	mu sync.Mutex

	dataDir string
	logger  *slog.Logger

	lockFile *os.File

	tasks map[string]*task.Task
	work  *task.WorkState
}

// Open creates dataDir if needed, acquires the advisory lock, and loads
// any persisted tasks/work state.
func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lf, err := os.OpenFile(filepath.Join(dataDir, lockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lf.Close()
		return nil, ErrLocked
	}

	s := &Store{
		dataDir:  dataDir,
		logger:   logger,
		lockFile: lf,
		tasks:    map[string]*task.Task{},
	}
	if err := s.load(); err != nil {
		lf.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the advisory lock. It does not delete any files.
func (s *Store) Close() error {
	if s.lockFile == nil {
		return nil
	}
	_ = syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN)
	return s.lockFile.Close()
}

func (s *Store) tasksPath() string     { return filepath.Join(s.dataDir, tasksFileName) }
func (s *Store) workPath() string      { return filepath.Join(s.dataDir, workFileName) }
func (s *Store) validatedPath() string { return filepath.Join(s.dataDir, validatedFileName) }

func (s *Store) load() error {
	if data, err := os.ReadFile(s.tasksPath()); err == nil && len(data) > 0 {
		var rows []*task.Task
		if err := json.Unmarshal(data, &rows); err != nil {
			return fmt.Errorf("failed to load tasks: %w", err)
		}
		for _, t := range rows {
			s.tasks[t.ID] = t
		}
	} else if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	if data, err := os.ReadFile(s.workPath()); err == nil && len(data) > 0 {
		var w task.WorkState
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("failed to load work state: %w", err)
		}
		s.work = &w
	} else if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load work state: %w", err)
	}
	return nil
}

// atomicWriteJSON writes v to path via a temp file in the same
// directory followed by a rename, so a crash mid-write never leaves a
// truncated tasks.json/work.json on disk.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *Store) saveTasksLocked() error {
	rows := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		rows = append(rows, t)
	}
	if err := atomicWriteJSON(s.tasksPath(), rows); err != nil {
		return fmt.Errorf("failed to save tasks: %w", err)
	}
	return nil
}

func (s *Store) saveWorkLocked() error {
	if s.work == nil {
		return nil
	}
	if err := atomicWriteJSON(s.workPath(), s.work); err != nil {
		return fmt.Errorf("failed to save work state: %w", err)
	}
	return nil
}

// InitWork creates the singleton WorkState for a new run.
func (s *Store) InitWork(designFile, goalText, specHash, overridePrompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.work = &task.WorkState{
		DesignFile:     designFile,
		GoalText:       goalText,
		SpecHash:       specHash,
		OverridePrompt: overridePrompt,
		ExecutionMode:  task.ModeParallel,
		StartedAt:      now,
		LastUpdatedAt:  now,
	}
	return s.saveWorkLocked()
}

// SetProjectContext records the Planner's short project description.
func (s *Store) SetProjectContext(ctx string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.work == nil {
		return nil
	}
	s.work.ProjectContext = ctx
	s.work.LastUpdatedAt = time.Now()
	return s.saveWorkLocked()
}

// SetExecutionMode records the Planner's chosen parallel/sequential mode.
func (s *Store) SetExecutionMode(mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.work == nil {
		return nil
	}
	s.work.ExecutionMode = mode
	s.work.LastUpdatedAt = time.Now()
	return s.saveWorkLocked()
}

// AddTask inserts t if its id is not already present, returning whether
// it was inserted.
func (s *Store) AddTask(t task.Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return false, nil
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Worker == "" {
		t.Worker = task.AutoWorker
	}
	copied := t.Clone()
	s.tasks[t.ID] = &copied
	if err := s.saveTasksLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateFields carries the optional fields update_task may set.
type UpdateFields struct {
	Error     string
	Result    string
	Summary   string
	SessionID string
	Followups []string
}

// UpdateTask transitions task_id to status, stamping started_at on the
// first transition into running and completed_at on either terminal
// state, and applies any non-empty optional fields.
func (s *Store) UpdateTask(id string, status task.Status, fields UpdateFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		s.logger.Warn("attempted to update non-existent task", "task_id", id)
		return nil
	}

	oldStatus := t.Status
	t.Status = status

	if fields.Error != "" {
		t.Error = fields.Error
	}
	if fields.Result != "" {
		t.Result = fields.Result
	}
	if fields.Summary != "" {
		t.Summary = fields.Summary
	}
	if fields.SessionID != "" {
		t.SessionID = fields.SessionID
	}
	if len(fields.Followups) > 0 {
		t.Followups = fields.Followups
	}

	now := time.Now()
	if oldStatus != task.Running && status == task.Running {
		t.StartedAt = &now
	}
	if status == task.Completed || status == task.Failed {
		t.CompletedAt = &now
	}

	return s.saveTasksLocked()
}

// MarkComplete sets work.is_complete.
func (s *Store) MarkComplete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.work == nil {
		return nil
	}
	s.work.IsComplete = true
	s.work.LastUpdatedAt = time.Now()
	return s.saveWorkLocked()
}

// GetPendingTasks returns a snapshot copy of every pending task.
func (s *Store) GetPendingTasks() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, 0)
	for _, t := range s.tasks {
		if t.Status == task.Pending {
			out = append(out, t.Clone())
		}
	}
	return out
}

// GetAllTasks returns a snapshot copy of every task.
func (s *Store) GetAllTasks() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	return out
}

// IsComplete reports whether work.is_complete is set, or (as a fallback)
// whether at least one task exists and none remain pending/running.
func (s *Store) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.work == nil {
		return false
	}
	if s.work.IsComplete {
		return true
	}
	if len(s.tasks) == 0 {
		return false
	}
	for _, t := range s.tasks {
		if t.Status == task.Pending || t.Status == task.Running {
			return false
		}
	}
	return true
}

// RetryTask resets a failed task to pending, bumping its retry count and
// clearing error/timestamps.
func (s *Store) RetryTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	t.Retries++
	t.Status = task.Pending
	t.Error = ""
	t.StartedAt = nil
	t.CompletedAt = nil
	return s.saveTasksLocked()
}

// CascadeFailure marks every pending/running task that transitively
// depends on id as failed, BFS over the reverse dependency graph, and
// returns the cascaded ids. Already-completed tasks are untouched.
func (s *Store) CascadeFailure(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cascaded []string
	queue := []string{id}
	now := time.Now()
	for len(queue) > 0 {
		failedID := queue[0]
		queue = queue[1:]
		for _, t := range s.tasks {
			if !containsID(t.DependsOn, failedID) {
				continue
			}
			if t.Status != task.Pending && t.Status != task.Running {
				continue
			}
			t.Status = task.Failed
			shortID := failedID
			if len(shortID) > 8 {
				shortID = shortID[:8]
			}
			t.Error = fmt.Sprintf("%s dependency %s failed", task.CascadePrefix, shortID)
			t.CompletedAt = &now
			cascaded = append(cascaded, t.ID)
			queue = append(queue, t.ID)
		}
	}
	if len(cascaded) > 0 {
		if err := s.saveTasksLocked(); err != nil {
			return nil, err
		}
	}
	return cascaded, nil
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// ResetInterruptedTasks promotes running and failed tasks back to
// pending on startup/continuation, zeroing their retry count.
func (s *Store) ResetInterruptedTasks() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.Status == task.Running || t.Status == task.Failed {
			t.Status = task.Pending
			t.Retries = 0
			t.Error = ""
			t.StartedAt = nil
			t.CompletedAt = nil
		}
	}
	return s.saveTasksLocked()
}

// ClearTasks discards every task record, for the replan-on-spec-change
// path (§6 "Change detection"). WorkState itself is left for the
// caller to re-init via InitWork.
func (s *Store) ClearTasks() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = map[string]*task.Task{}
	return s.saveTasksLocked()
}

// GetWorkState returns the current WorkState, or nil if none has been
// initialized yet.
func (s *Store) GetWorkState() *task.WorkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.work == nil {
		return nil
	}
	w := *s.work
	return &w
}

// LastValidatedHash reads the spec hash recorded by MarkValidated, or ""
// if none has been recorded.
func (s *Store) LastValidatedHash() string {
	data, err := os.ReadFile(s.validatedPath())
	if err != nil {
		return ""
	}
	return string(data)
}

// MarkValidated records specHash as validated so a subsequent run with
// an identical spec can skip the Validator entirely.
func (s *Store) MarkValidated(specHash string) error {
	return os.WriteFile(s.validatedPath(), []byte(specHash), 0o644)
}
