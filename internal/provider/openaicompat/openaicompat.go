// Package openaicompat serves every upstream that already speaks the
// OpenAI chat-completion wire format natively or through a compatibility
// endpoint: OpenAI itself, Groq, Gemini, and Cohere. Payloads are
// forwarded as-is; only auth and base URL differ per vendor.
package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/frugalroute/frugalroute/internal/domain"
	"github.com/frugalroute/frugalroute/internal/httputil"
	"github.com/frugalroute/frugalroute/internal/provider"
)

// Endpoint is a vendor's compatibility surface.
type Endpoint struct {
	ID      string
	BaseURL string
	Timeout time.Duration
}

// The four OpenAI-compatible upstreams. Gemini and Cohere route through
// their compatibility endpoints.
var (
	OpenAI = Endpoint{ID: "openai", BaseURL: "https://api.openai.com/v1", Timeout: 120 * time.Second}
	Groq   = Endpoint{ID: "groq", BaseURL: "https://api.groq.com/openai/v1", Timeout: 60 * time.Second}
	Gemini = Endpoint{ID: "gemini", BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai", Timeout: 120 * time.Second}
	Cohere = Endpoint{ID: "cohere", BaseURL: "https://api.cohere.ai/compatibility/v1", Timeout: 90 * time.Second}
)

type Provider struct {
	endpoint Endpoint
	client   *provider.Client
}

func New(endpoint Endpoint, apiKey string) *Provider {
	cfg := httputil.DefaultConfig()
	cfg.Timeout = endpoint.Timeout

	return &Provider{
		endpoint: endpoint,
		client: &provider.Client{
			Provider: endpoint.ID,
			BaseURL:  endpoint.BaseURL,
			HTTP:     httputil.NewClient(cfg),
			SetAuth: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+apiKey)
			},
		},
	}
}

func (p *Provider) ID() string {
	return p.endpoint.ID
}

func (p *Provider) ChatCompletion(ctx context.Context, req domain.ChatRequest) (*provider.Result, error) {
	start := time.Now()

	body, status, attempt, err := p.client.PostJSON(ctx, "/chat/completions", req)
	if err != nil {
		return nil, err
	}

	var resp domain.ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &provider.Error{
			Provider: p.endpoint.ID,
			Status:   status,
			Message:  "decode response: " + err.Error(),
			Attempt:  attempt,
			Err:      err,
		}
	}

	return &provider.Result{
		Response:     &resp,
		LatencyMs:    time.Since(start).Milliseconds(),
		Attempt:      attempt,
		Status:       status,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (p *Provider) ChatCompletionStream(ctx context.Context, req domain.ChatRequest) (*provider.StreamResult, error) {
	start := time.Now()

	req.Stream = true
	resp, status, attempt, err := p.client.PostStream(ctx, "/chat/completions", req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)

	var usage *domain.Usage
	streamCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(chunks)
		defer close(errs)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var chunk domain.StreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}

			select {
			case chunks <- chunk:
			case <-streamCtx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- &provider.Error{
				Provider: p.endpoint.ID,
				Status:   status,
				Message:  "stream read: " + err.Error(),
				TimedOut: false,
				Attempt:  attempt,
				Err:      err,
			}
		}
	}()

	return &provider.StreamResult{
		Chunks:    chunks,
		Errs:      errs,
		LatencyMs: time.Since(start).Milliseconds(),
		Attempt:   attempt,
		Status:    status,
		Usage:     func() *domain.Usage { return usage },
		Cancel:    cancel,
	}, nil
}
