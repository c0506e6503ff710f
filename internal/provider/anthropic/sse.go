package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/frugalroute/frugalroute/internal/domain"
)

// Translator turns raw Anthropic SSE bytes into canonical chat-completion
// chunks. It is a pure, per-stream transform: bytes go in, chunks come
// out, and a private buffer carries incomplete trailing lines between
// feeds. Only complete lines are parsed.
//
// Event mapping:
//   - message_start        -> captures input_tokens
//   - content_block_delta  -> one canonical chunk carrying delta content
//   - message_delta        -> captures output_tokens, emits the terminal
//     chunk with finish_reason "stop" and a usage summary
//   - message_stop         -> signals the [DONE] sentinel
type Translator struct {
	buf          string
	model        string
	id           string
	created      int64
	inputTokens  int
	outputTokens int
	sawUsage     bool
}

func NewTranslator(model string) *Translator {
	return &Translator{
		model:   model,
		id:      fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
		created: time.Now().Unix(),
	}
}

type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		ID    string `json:"id"`
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

// Feed processes one read's worth of bytes. It returns the canonical
// chunks produced by the complete lines seen so far and whether the
// stream has ended (message_stop).
func (t *Translator) Feed(p []byte) (chunks []domain.StreamChunk, done bool) {
	t.buf += string(p)

	for {
		idx := strings.IndexByte(t.buf, '\n')
		if idx < 0 {
			return chunks, false
		}
		line := strings.TrimRight(t.buf[:idx], "\r")
		t.buf = t.buf[idx+1:]

		chunk, stop := t.processLine(line)
		if chunk != nil {
			chunks = append(chunks, *chunk)
		}
		if stop {
			return chunks, true
		}
	}
}

func (t *Translator) processLine(line string) (*domain.StreamChunk, bool) {
	if !strings.HasPrefix(line, "data: ") {
		return nil, false
	}
	data := strings.TrimPrefix(line, "data: ")

	var event streamEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, false
	}

	switch event.Type {
	case "message_start":
		if event.Message != nil {
			if event.Message.ID != "" {
				t.id = event.Message.ID
			}
			t.inputTokens = event.Message.Usage.InputTokens
		}
		return nil, false

	case "content_block_delta":
		if event.Delta == nil || event.Delta.Text == "" {
			return nil, false
		}
		return &domain.StreamChunk{
			ID:      t.id,
			Object:  "chat.completion.chunk",
			Created: t.created,
			Model:   t.model,
			Choices: []domain.Choice{
				{Index: 0, Delta: &domain.Delta{Content: event.Delta.Text}},
			},
		}, false

	case "message_delta":
		if event.Usage != nil {
			t.outputTokens = event.Usage.OutputTokens
			t.sawUsage = true
		}
		return &domain.StreamChunk{
			ID:      t.id,
			Object:  "chat.completion.chunk",
			Created: t.created,
			Model:   t.model,
			Choices: []domain.Choice{
				{Index: 0, Delta: &domain.Delta{}, FinishReason: "stop"},
			},
			Usage: t.usageSummary(),
		}, false

	case "message_stop":
		return nil, true
	}
	return nil, false
}

// Usage returns the token counts captured from the stream, or nil when
// the upstream never reported them.
func (t *Translator) Usage() *domain.Usage {
	if !t.sawUsage && t.inputTokens == 0 {
		return nil
	}
	return t.usageSummary()
}

func (t *Translator) usageSummary() *domain.Usage {
	return &domain.Usage{
		PromptTokens:     t.inputTokens,
		CompletionTokens: t.outputTokens,
		TotalTokens:      t.inputTokens + t.outputTokens,
	}
}
