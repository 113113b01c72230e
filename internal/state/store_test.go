package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kronael/shipyard/internal/task"
)

func TestOpen_LocksAgainstSecondInstance(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir, nil)
	require.NoError(t, err)
	defer s1.Close()

	_, err = Open(dir, nil)
	require.ErrorIs(t, err, ErrLocked)
}

func TestAddTask_UpdateTask_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	tk := task.Task{ID: "t1", Description: "do the thing", Status: task.Pending}
	inserted, err := s.AddTask(tk)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = s.AddTask(tk)
	require.NoError(t, err)
	require.False(t, inserted, "duplicate insert should be a no-op")

	require.NoError(t, s.UpdateTask("t1", task.Running, UpdateFields{}))
	all := s.GetAllTasks()
	require.Len(t, all, 1)
	require.NotNil(t, all[0].StartedAt)

	require.NoError(t, s.UpdateTask("t1", task.Completed, UpdateFields{Summary: "done"}))
	all = s.GetAllTasks()
	require.NotNil(t, all[0].CompletedAt)
	require.Equal(t, "done", all[0].Summary)

	// Reload from disk and confirm persistence.
	_, err = Open(dir, nil)
	require.ErrorIs(t, err, ErrLocked, "lock should still be held while s is open")
	s.Close()

	s2, err := Open(dir, nil)
	require.NoError(t, err)
	defer s2.Close()
	reloaded := s2.GetAllTasks()
	require.Len(t, reloaded, 1)
	require.Equal(t, task.Completed, reloaded[0].Status)
}

func TestCascadeFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	a := task.Task{ID: "a", Status: task.Failed}
	b := task.Task{ID: "b", Status: task.Pending, DependsOn: []string{"a"}}
	c := task.Task{ID: "c", Status: task.Pending, DependsOn: []string{"b"}}
	d := task.Task{ID: "d", Status: task.Completed, DependsOn: []string{"a"}}
	for _, tk := range []task.Task{a, b, c, d} {
		_, err := s.AddTask(tk)
		require.NoError(t, err)
	}

	cascaded, err := s.CascadeFailure("a")
	require.NoError(t, err)
	require.Len(t, cascaded, 2)

	byID := byTaskID(s.GetAllTasks())
	require.Equal(t, task.Failed, byID["b"].Status)
	require.Equal(t, task.Failed, byID["c"].Status)
	require.Equal(t, task.Completed, byID["d"].Status, "unrelated completed task must be untouched")
	require.Contains(t, byID["b"].Error, task.CascadePrefix)
}

func TestRetryBound_CascadeOnExhaustion(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	tk := task.Task{ID: "a", Status: task.Failed, Retries: task.MaxRetries}
	_, err = s.AddTask(tk)
	require.NoError(t, err)

	cascaded, err := s.CascadeFailure("a")
	require.NoError(t, err)
	require.Empty(t, cascaded)
}

func TestResetInterruptedTasks(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	running := task.Task{ID: "r", Status: task.Running, Retries: 3}
	failed := task.Task{ID: "f", Status: task.Failed, Retries: 5}
	completed := task.Task{ID: "c", Status: task.Completed}
	for _, tk := range []task.Task{running, failed, completed} {
		_, err := s.AddTask(tk)
		require.NoError(t, err)
	}

	require.NoError(t, s.ResetInterruptedTasks())

	byID := byTaskID(s.GetAllTasks())
	require.Equal(t, task.Pending, byID["r"].Status)
	require.Equal(t, 0, byID["r"].Retries)
	require.Equal(t, task.Pending, byID["f"].Status)
	require.Equal(t, 0, byID["f"].Retries)
	require.Equal(t, task.Completed, byID["c"].Status)
}

func TestMarkValidated_LastValidatedHash(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	require.Empty(t, s.LastValidatedHash())
	require.NoError(t, s.MarkValidated("deadbeef"))
	require.Equal(t, "deadbeef", s.LastValidatedHash())
}

func TestAtomicWriteJSON_NoPartialFileOnDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	require.NoError(t, atomicWriteJSON(path, []task.Task{{ID: "x"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rows []task.Task
	require.NoError(t, json.Unmarshal(data, &rows))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		isTemp := filepath.Ext(e.Name()) == ".tmp" || (e.Name()[0] == '.' && e.Name() != "tasks.json")
		require.Falsef(t, isTemp, "unexpected leftover temp file: %s", e.Name())
	}
}

func byTaskID(tasks []task.Task) map[string]task.Task {
	out := make(map[string]task.Task, len(tasks))
	for _, tk := range tasks {
		out[tk.ID] = tk
	}
	return out
}
