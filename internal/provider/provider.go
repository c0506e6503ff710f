// Package provider defines the uniform upstream adapter contract and the
// shared HTTP core: pooled connections, a retry loop with exponential
// backoff and jitter, and error wrapping that surfaces the upstream's own
// message. Each vendor adapter normalizes its wire format to the
// OpenAI-compatible shape.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/frugalroute/frugalroute/internal/domain"
)

// Result is a completed (non-streaming) upstream call.
type Result struct {
	Response     *domain.ChatResponse
	LatencyMs    int64
	Attempt      int
	Status       int
	InputTokens  int
	OutputTokens int
}

// StreamResult is a live upstream stream. Chunks closes on stream end;
// Usage returns the token counts once the stream has finished, when the
// upstream reports them.
type StreamResult struct {
	Chunks    <-chan domain.StreamChunk
	Errs      <-chan error
	LatencyMs int64
	Attempt   int
	Status    int
	Usage     func() *domain.Usage
	Cancel    func()
}

// Provider is one upstream vendor.
type Provider interface {
	ID() string
	ChatCompletion(ctx context.Context, req domain.ChatRequest) (*Result, error)
	ChatCompletionStream(ctx context.Context, req domain.ChatRequest) (*StreamResult, error)
}

// Error wraps an upstream failure with routing-relevant context.
type Error struct {
	Provider string
	Status   int
	Message  string
	TimedOut bool
	Attempt  int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: status=%d attempt=%d: %s", e.Provider, e.Status, e.Attempt, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a provider error if err carries one.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

const (
	baseBackoff = time.Second
	maxBackoff  = 10 * time.Second
	maxAttempts = 3
)

// retryable reports whether a response status justifies another attempt:
// 429, any 5xx, or a transport failure (status 0). Other 4xx never retry.
func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

// backoffDelay is exponential with up to 50% jitter.
func backoffDelay(attempt int) time.Duration {
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d + jitter
}

// sleepOrDone waits for the backoff delay or context cancellation.
func sleepOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// upstreamMessage extracts the provider's own error message, supporting
// both {"error":{"message":...}} and [{"error":{"message":...}}] shapes.
func upstreamMessage(body []byte) string {
	type envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	var single envelope
	if err := json.Unmarshal(body, &single); err == nil && single.Error.Message != "" {
		return single.Error.Message
	}

	var many []envelope
	if err := json.Unmarshal(body, &many); err == nil && len(many) > 0 && many[0].Error.Message != "" {
		return many[0].Error.Message
	}

	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}

// isTimeout reports whether the error chain contains a deadline or
// timeout condition. Timeouts feed breaker accounting separately from
// other failures.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
