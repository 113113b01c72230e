package llmclient

import (
	"context"
	"time"
)

// RetryConfig bounds how many Execute calls ExecuteRetry makes in total
// (MaxAttempts, the first call included) and how its backoff grows
// between attempts. Adapted
// from the teacher's llm.RetryConfig/DefaultRetryConfig, which declared
// the same shape but never wired it to a call site.
type RetryConfig struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultRetryConfig matches the teacher's defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// ExecuteRetry calls Execute, retrying failures Execute classified
// transient (spawn failures, CLI timeout, non-zero exit, empty output;
// see errors.go), calling Execute at most cfg.MaxAttempts times in all
// with exponential backoff between calls.
// Fatal failures (max-turns, ctx cancellation, rate-limiter wait)
// return immediately.
func (c *Client) ExecuteRetry(ctx context.Context, prompt string, timeout time.Duration, onProgress func(string), cfg RetryConfig) (string, string, error) {
	backoff := cfg.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, sessionID, err := c.Execute(ctx, prompt, timeout, onProgress)
		if err == nil {
			return result, sessionID, nil
		}
		lastErr = err
		if attempt == cfg.MaxAttempts || !IsTransient(err) {
			return result, sessionID, err
		}

		select {
		case <-ctx.Done():
			return result, sessionID, err
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return "", "", lastErr
}
