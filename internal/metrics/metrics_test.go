package metrics

import (
	"context"
	"testing"
	"time"
)

func TestNew_RegistersAllCounters(t *testing.T) {
	m := New()
	m.TasksDispatched.Inc()
	m.TasksCompleted.Inc()
	m.TasksFailed.Inc()
	m.TasksRetried.Inc()
	m.TasksCascaded.Inc()
	m.LLMCallSeconds.WithLabelValues("worker").Observe(1.5)
}

func TestObserveLLMCall_RecordsAgainstHistogram(t *testing.T) {
	m := New()
	m.ObserveLLMCall("worker", 2.5)
}

func TestObserveLLMCall_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveLLMCall("worker", 2.5)
}

func TestServe_EmptyAddrIsNoop(t *testing.T) {
	m := New()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.Serve(ctx, "", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Serve with empty addr to return immediately")
	}
}
