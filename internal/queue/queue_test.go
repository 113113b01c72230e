package queue

import (
	"testing"
	"time"

	"github.com/kronael/shipyard/internal/task"
)

func TestPut_AutoGoesToShared(t *testing.T) {
	q := New(4)
	q.Put(task.Task{ID: "1", Worker: task.AutoWorker})

	select {
	case tk := <-q.Shared():
		if tk.ID != "1" {
			t.Fatalf("unexpected task on shared channel: %+v", tk)
		}
	case <-time.After(time.Second):
		t.Fatal("expected task on shared channel")
	}
}

func TestPut_PinnedGoesToWorkerChannel(t *testing.T) {
	q := New(4)
	q.RegisterWorker("w0", 4)
	q.Put(task.Task{ID: "1", Worker: "w0"})

	select {
	case tk := <-q.Pinned("w0"):
		if tk.ID != "1" {
			t.Fatalf("unexpected task on pinned channel: %+v", tk)
		}
	case <-time.After(time.Second):
		t.Fatal("expected task on pinned channel")
	}

	select {
	case tk := <-q.Shared():
		t.Fatalf("did not expect task on shared channel, got %+v", tk)
	default:
	}
}

func TestPut_PinnedToUnregisteredWorkerFallsBackToShared(t *testing.T) {
	q := New(4)
	q.Put(task.Task{ID: "1", Worker: "w9"})

	select {
	case tk := <-q.Shared():
		if tk.ID != "1" {
			t.Fatalf("unexpected task on shared channel: %+v", tk)
		}
	case <-time.After(time.Second):
		t.Fatal("expected task to fall back to shared channel")
	}
}
