package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Client is the HTTP core shared by all adapters: one pooled client per
// provider, a bounded retry loop, and typed error wrapping.
type Client struct {
	Provider string
	BaseURL  string
	HTTP     *http.Client
	SetAuth  func(*http.Request)
}

// PostJSON sends one JSON request with retries and returns the response
// body of the first successful attempt.
func (c *Client) PostJSON(ctx context.Context, path string, payload any) (body []byte, status, attempt int, err error) {
	resp, status, attempt, err := c.post(ctx, path, payload, false)
	if err != nil {
		return nil, status, attempt, err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, status, attempt, &Error{
			Provider: c.Provider,
			Status:   status,
			Message:  readErr.Error(),
			TimedOut: isTimeout(readErr),
			Attempt:  attempt,
			Err:      readErr,
		}
	}
	return body, status, attempt, nil
}

// PostStream sends one JSON request with retries and hands back the open
// response for SSE consumption. The caller owns resp.Body.
func (c *Client) PostStream(ctx context.Context, path string, payload any) (resp *http.Response, status, attempt int, err error) {
	return c.post(ctx, path, payload, true)
}

func (c *Client) post(ctx context.Context, path string, payload any, stream bool) (*http.Response, int, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr *Error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, 0, attempt, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if stream {
			req.Header.Set("Accept", "text/event-stream")
		}
		if c.SetAuth != nil {
			c.SetAuth(req)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			lastErr = &Error{
				Provider: c.Provider,
				Status:   0,
				Message:  err.Error(),
				TimedOut: isTimeout(err),
				Attempt:  attempt,
				Err:      err,
			}
			if attempt < maxAttempts {
				if werr := sleepOrDone(ctx, backoffDelay(attempt)); werr != nil {
					return nil, 0, attempt, lastErr
				}
				continue
			}
			return nil, 0, attempt, lastErr
		}

		if resp.StatusCode == http.StatusOK {
			return resp, resp.StatusCode, attempt, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		lastErr = &Error{
			Provider: c.Provider,
			Status:   resp.StatusCode,
			Message:  upstreamMessage(body),
			Attempt:  attempt,
		}
		if retryable(resp.StatusCode) && attempt < maxAttempts {
			if werr := sleepOrDone(ctx, backoffDelay(attempt)); werr != nil {
				return nil, resp.StatusCode, attempt, lastErr
			}
			continue
		}
		return nil, resp.StatusCode, attempt, lastErr
	}
	return nil, lastErr.Status, lastErr.Attempt, lastErr
}
