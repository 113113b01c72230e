package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/kronael/shipyard/internal/llmclient/llmclienttest"
)

func TestExecuteRetry_ExhaustsAttemptsOnPersistentFailure(t *testing.T) {
	bin := buildFake(t, llmclienttest.Script{Exit: 1})
	c := New("test-model", "worker-test", WithBinary(bin))

	cfg := RetryConfig{MaxAttempts: 2, BackoffBase: time.Millisecond, BackoffMultiplier: 1, MaxBackoff: time.Millisecond}
	_, _, err := c.ExecuteRetry(context.Background(), "do the thing", 5*time.Second, nil, cfg)
	if err == nil {
		t.Fatal("expected error after exhausting retry attempts")
	}
}

func TestExecuteRetry_SucceedsFirstTryNoRetryNeeded(t *testing.T) {
	bin := buildFake(t, llmclienttest.Script{
		Events: []string{llmclienttest.ResultEvent("ok", "sess-1", "success")},
	})
	c := New("test-model", "worker-test", WithBinary(bin))

	cfg := DefaultRetryConfig()
	result, _, err := c.ExecuteRetry(context.Background(), "do the thing", 5*time.Second, nil, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(NewTransientError(NewError("cli failed: exit 1", "", ""))) {
		t.Fatal("expected a wrapped transient error to report transient")
	}
	if IsTransient(NewFatalError(NewError("reached max turns", "partial", "sess"))) {
		t.Fatal("expected a wrapped fatal error to not report transient")
	}
}
