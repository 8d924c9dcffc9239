package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptableProvider fails a fixed number of times before succeeding.
type scriptableProvider struct {
	failures int
	failWith error
	calls    int
}

func (p *scriptableProvider) Name() string { return "scripted" }

func (p *scriptableProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, p.failWith
	}
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		events <- Event{Type: EventTextDelta, Text: "done"}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	inner := &scriptableProvider{failures: 2, failWith: errors.New("API error (status 429): rate limit")}
	p := WrapWithRetry(inner, fastRetryConfig(4))

	s, err := p.Stream(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events, err := collectEvents(t, s)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}

	var retries int
	for _, ev := range events {
		if ev.Type == EventRetry {
			retries++
			if ev.RetryAttempt == 0 || ev.RetryWaitSecs <= 0 {
				t.Errorf("retry event missing detail: %+v", ev)
			}
		}
	}
	if retries != 2 {
		t.Errorf("retries = %d, want 2", retries)
	}
	if inner.calls != 3 {
		t.Errorf("inner calls = %d, want 3", inner.calls)
	}
	if got := textOf(events); got != "done" {
		t.Errorf("text = %q", got)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	failErr := errors.New("503 service unavailable")
	inner := &scriptableProvider{failures: 10, failWith: failErr}
	p := WrapWithRetry(inner, fastRetryConfig(3))

	s, err := p.Stream(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	_, err = collectEvents(t, s)
	if !errors.Is(err, failErr) {
		t.Errorf("err = %v, want the last failure", err)
	}
	if inner.calls != 3 {
		t.Errorf("inner calls = %d, want 3", inner.calls)
	}
}

func TestNoRetryOnPermanentError(t *testing.T) {
	inner := &scriptableProvider{failures: 10, failWith: errors.New("API error (status 401): invalid api key")}
	p := WrapWithRetry(inner, fastRetryConfig(4))

	s, err := p.Stream(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := collectEvents(t, s); err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
}

// partialProvider delivers output and then fails with a retryable error.
type partialProvider struct {
	calls int
}

func (p *partialProvider) Name() string { return "partial" }

func (p *partialProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.calls++
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		events <- Event{Type: EventTextDelta, Text: "half an ans"}
		return errors.New("connection reset")
	}), nil
}

func TestNoReplayAfterPartialOutput(t *testing.T) {
	inner := &partialProvider{}
	p := WrapWithRetry(inner, fastRetryConfig(4))

	s, err := p.Stream(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events, err := collectEvents(t, s)
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1: delivered output must not be replayed", inner.calls)
	}
	if got := textOf(events); got != "half an ans" {
		t.Errorf("text = %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("status 429"), true},
		{errors.New("Too Many Requests"), true},
		{errors.New("502 bad gateway"), true},
		{errors.New("connection refused"), true},
		{errors.New("invalid api key"), false},
		{errors.New("no messages provided"), false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
