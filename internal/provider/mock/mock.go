// Package mock is the upstream used when no provider API key is
// configured. It returns a canned completion with token counts estimated
// from prompt length, so the full pipeline can run without credentials.
package mock

import (
	"context"
	"fmt"
	"time"

	"github.com/frugalroute/frugalroute/internal/domain"
	"github.com/frugalroute/frugalroute/internal/provider"
)

const cannedReply = "This is a mock completion from the gateway. Configure a provider API key to reach a real model."

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) ID() string {
	return "mock"
}

// estimateTokens approximates tokens as characters over four. Only the
// mock path estimates; real adapters always report provider counts.
func estimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}

func (p *Provider) ChatCompletion(_ context.Context, req domain.ChatRequest) (*provider.Result, error) {
	promptLen := 0
	for _, m := range req.Messages {
		promptLen += len(m.Content)
	}
	inputTokens := promptLen / 4
	if inputTokens == 0 {
		inputTokens = 1
	}
	outputTokens := estimateTokens(cannedReply)

	resp := &domain.ChatResponse{
		ID:      fmt.Sprintf("chatcmpl-mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []domain.Choice{
			{
				Index:        0,
				Message:      &domain.Message{Role: "assistant", Content: cannedReply},
				FinishReason: "stop",
			},
		},
		Usage: domain.Usage{
			PromptTokens:     inputTokens,
			CompletionTokens: outputTokens,
			TotalTokens:      inputTokens + outputTokens,
		},
	}

	return &provider.Result{
		Response:     resp,
		LatencyMs:    1,
		Attempt:      1,
		Status:       200,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}, nil
}

func (p *Provider) ChatCompletionStream(ctx context.Context, req domain.ChatRequest) (*provider.StreamResult, error) {
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)

	var prompt string
	for _, m := range req.Messages {
		prompt += m.Content
	}
	usage := &domain.Usage{
		PromptTokens:     estimateTokens(prompt),
		CompletionTokens: estimateTokens(cannedReply),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	streamCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(chunks)
		defer close(errs)

		id := fmt.Sprintf("chatcmpl-mock-%d", time.Now().UnixNano())
		created := time.Now().Unix()

		words := []string{"This ", "is ", "a ", "mock ", "streamed ", "completion."}
		for _, w := range words {
			select {
			case chunks <- domain.StreamChunk{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   req.Model,
				Choices: []domain.Choice{{Index: 0, Delta: &domain.Delta{Content: w}}},
			}:
			case <-streamCtx.Done():
				return
			}
		}

		select {
		case chunks <- domain.StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []domain.Choice{{Index: 0, Delta: &domain.Delta{}, FinishReason: "stop"}},
			Usage:   usage,
		}:
		case <-streamCtx.Done():
		}
	}()

	return &provider.StreamResult{
		Chunks:    chunks,
		Errs:      errs,
		LatencyMs: 1,
		Attempt:   1,
		Status:    200,
		Usage:     func() *domain.Usage { return usage },
		Cancel:    cancel,
	}, nil
}
