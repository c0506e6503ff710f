// Package anthropic adapts the Anthropic Messages API to the
// OpenAI-compatible shape. It is the only translating adapter: system
// messages move into the request's system field, responses are rebuilt as
// chat completions, and the SSE stream is translated event by event.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/frugalroute/frugalroute/internal/domain"
	"github.com/frugalroute/frugalroute/internal/httputil"
	"github.com/frugalroute/frugalroute/internal/provider"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

type Provider struct {
	client *provider.Client
}

func New(apiKey string) *Provider {
	cfg := httputil.DefaultConfig()
	cfg.Timeout = 120 * time.Second

	return &Provider{
		client: &provider.Client{
			Provider: "anthropic",
			BaseURL:  defaultBaseURL,
			HTTP:     httputil.NewClient(cfg),
			SetAuth: func(r *http.Request) {
				r.Header.Set("x-api-key", apiKey)
				r.Header.Set("anthropic-version", anthropicVersion)
			},
		},
	}
}

func (p *Provider) ID() string {
	return "anthropic"
}

func (p *Provider) ChatCompletion(ctx context.Context, req domain.ChatRequest) (*provider.Result, error) {
	start := time.Now()

	body, status, attempt, err := p.client.PostJSON(ctx, "/messages", toAnthropicRequest(req))
	if err != nil {
		return nil, err
	}

	var aresp anthropicResponse
	if err := json.Unmarshal(body, &aresp); err != nil {
		return nil, &provider.Error{
			Provider: "anthropic",
			Status:   status,
			Message:  "decode response: " + err.Error(),
			Attempt:  attempt,
			Err:      err,
		}
	}

	resp := toChatResponse(aresp, req.Model)
	return &provider.Result{
		Response:     resp,
		LatencyMs:    time.Since(start).Milliseconds(),
		Attempt:      attempt,
		Status:       status,
		InputTokens:  aresp.Usage.InputTokens,
		OutputTokens: aresp.Usage.OutputTokens,
	}, nil
}

func (p *Provider) ChatCompletionStream(ctx context.Context, req domain.ChatRequest) (*provider.StreamResult, error) {
	start := time.Now()

	areq := toAnthropicRequest(req)
	areq.Stream = true

	resp, status, attempt, err := p.client.PostStream(ctx, "/messages", areq)
	if err != nil {
		return nil, err
	}

	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)
	translator := NewTranslator(req.Model)
	streamCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(chunks)
		defer close(errs)
		defer resp.Body.Close()

		buf := make([]byte, 32*1024)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				out, done := translator.Feed(buf[:n])
				for _, c := range out {
					select {
					case chunks <- c:
					case <-streamCtx.Done():
						return
					}
				}
				if done {
					return
				}
			}
			if readErr != nil {
				if streamCtx.Err() == nil && !errors.Is(readErr, io.EOF) {
					errs <- &provider.Error{
						Provider: "anthropic",
						Status:   status,
						Message:  "stream read: " + readErr.Error(),
						Attempt:  attempt,
						Err:      readErr,
					}
				}
				return
			}
		}
	}()

	return &provider.StreamResult{
		Chunks:    chunks,
		Errs:      errs,
		LatencyMs: time.Since(start).Milliseconds(),
		Attempt:   attempt,
		Status:    status,
		Usage:     translator.Usage,
		Cancel:    cancel,
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func toAnthropicRequest(req domain.ChatRequest) anthropicRequest {
	var systemPrompt string
	messages := make([]anthropicMessage, 0, len(req.Messages))

	for _, m := range req.Messages {
		if m.Role == "system" {
			systemPrompt = m.Content
			continue
		}
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	return anthropicRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		System:      systemPrompt,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
}

func toChatResponse(resp anthropicResponse, model string) *domain.ChatResponse {
	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &domain.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []domain.Choice{
			{
				Index:        0,
				Message:      &domain.Message{Role: "assistant", Content: content},
				FinishReason: mapStopReason(resp.StopReason),
			},
		},
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
