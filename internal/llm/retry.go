package llm

import (
	"context"
	"io"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig configures retry behavior for transient provider failures.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig returns sensible defaults for rate limit retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// RetryProvider wraps a provider with automatic retry on transient errors.
// Retries only happen before any event has been forwarded: once output has
// reached the consumer the request is not silently replayed.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

func WrapWithRetry(p Provider, config RetryConfig) Provider {
	return &RetryProvider{inner: p, config: config}
}

func (r *RetryProvider) Name() string {
	return r.inner.Name()
}

func (r *RetryProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		var lastErr error

		for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
			stream, err := r.inner.Stream(ctx, req)
			if err == nil {
				var forwarded bool
				forwarded, err = r.forwardEvents(ctx, stream, events)
				if err == nil {
					return nil
				}
				if forwarded {
					// Partial output already delivered; replaying would
					// duplicate it.
					return err
				}
			}
			if !isRetryable(err) {
				return err
			}
			lastErr = err

			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt >= r.config.MaxAttempts {
				break
			}

			wait := r.backoff(attempt)
			events <- Event{
				Type:          EventRetry,
				RetryAttempt:  attempt,
				RetryWaitSecs: wait.Seconds(),
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		return lastErr
	}), nil
}

// forwardEvents relays inner stream events, reporting whether any event was
// delivered before failure.
func (r *RetryProvider) forwardEvents(ctx context.Context, stream Stream, events chan<- Event) (bool, error) {
	defer stream.Close()

	forwarded := false
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			return forwarded, nil
		}
		if err != nil {
			return forwarded, err
		}
		if event.Type == EventError && event.Err != nil {
			return forwarded, event.Err
		}

		select {
		case events <- event:
			forwarded = true
		case <-ctx.Done():
			return forwarded, ctx.Err()
		}
	}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "too many requests",
		"502", "bad gateway",
		"503", "service unavailable", "overloaded",
		"connection refused", "connection reset",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// backoff computes exponential backoff with +/-25% jitter.
func (r *RetryProvider) backoff(attempt int) time.Duration {
	wait := float64(r.config.BaseBackoff) * math.Pow(2, float64(attempt-1))
	wait += (rand.Float64() - 0.5) * 0.5 * wait
	if wait > float64(r.config.MaxBackoff) {
		wait = float64(r.config.MaxBackoff)
	}
	return time.Duration(wait)
}
