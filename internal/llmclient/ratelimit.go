package llmclient

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter bounds how often LLM CLI subprocesses may be spawned (a
// token bucket refilled per minute) and smooths bursts of invocations
// across workers, the judge, and the corrective-loop actors that all
// share one process. It does not limit how many run at once.
//
// Adapted from the AIMD token-bucket core of an adaptive rate limiter
// built for a different, distributed client; this one is deliberately
// process-local (no cluster coordination) since the engine is a single
// process by design.
type Limiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	current float64
	min     float64
	max     float64
	step    float64
}

// NewLimiter builds a Limiter with an initial and maximum number of
// concurrent-equivalent permits per minute. A permit roughly stands in
// for one LLM CLI invocation.
func NewLimiter(initialPerMin, maxPerMin float64) *Limiter {
	if initialPerMin <= 0 {
		initialPerMin = 30
	}
	if maxPerMin <= 0 || maxPerMin < initialPerMin {
		maxPerMin = initialPerMin
	}
	min := initialPerMin * 0.1
	if min < 1 {
		min = 1
	}
	step := initialPerMin * 0.05
	if step < 1 {
		step = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(initialPerMin/60.0), int(initialPerMin)),
		current: initialPerMin,
		min:     min,
		max:     maxPerMin,
		step:    step,
	}
}

// Wait blocks until a permit is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Observe adjusts the budget in response to the outcome of an
// invocation: backoff on rate-limit-shaped failures, probe upward on
// success.
func (l *Limiter) Observe(rateLimited bool) {
	if rateLimited {
		l.backoff()
		return
	}
	l.probe()
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.current * 0.5
	if next < l.min {
		next = l.min
	}
	l.set(next)
}

func (l *Limiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.current + l.step
	if next > l.max {
		next = l.max
	}
	l.set(next)
}

func (l *Limiter) set(perMin float64) {
	if perMin == l.current {
		return
	}
	l.current = perMin
	l.limiter.SetLimit(rate.Limit(perMin / 60.0))
	l.limiter.SetBurst(int(perMin))
}
