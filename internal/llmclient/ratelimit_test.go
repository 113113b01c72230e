package llmclient

import "testing"

func TestLimiter_ObserveBackoffHalves(t *testing.T) {
	l := NewLimiter(100, 200)
	before := l.current
	l.Observe(true)
	if l.current >= before {
		t.Fatalf("expected backoff to lower current budget, got %v -> %v", before, l.current)
	}
	if l.current < l.min {
		t.Fatalf("backoff must not drop below min: got %v, min %v", l.current, l.min)
	}
}

func TestLimiter_ObserveProbeGrowsTowardMax(t *testing.T) {
	l := NewLimiter(100, 110)
	before := l.current
	l.Observe(false)
	if l.current <= before {
		t.Fatalf("expected probe to raise current budget, got %v -> %v", before, l.current)
	}
	if l.current > l.max {
		t.Fatalf("probe must not exceed max: got %v, max %v", l.current, l.max)
	}
}

func TestLimiter_ProbeCapsAtMax(t *testing.T) {
	l := NewLimiter(100, 105)
	for i := 0; i < 10; i++ {
		l.Observe(false)
	}
	if l.current != l.max {
		t.Fatalf("expected probe to cap at max %v, got %v", l.max, l.current)
	}
}

func TestLimiter_BackoffFloorsAtMin(t *testing.T) {
	l := NewLimiter(100, 100)
	for i := 0; i < 10; i++ {
		l.Observe(true)
	}
	if l.current != l.min {
		t.Fatalf("expected backoff to floor at min %v, got %v", l.min, l.current)
	}
}
