package domain

import "time"

type Tenant struct {
	ID                 string
	Name               string
	APIKeyHash         string
	Strategy           string
	AllowedModels      []string
	BudgetLimitMonthly *float64
	RateLimitRPM       int
	RateLimitTPM       int
	UsageThisMonth     float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AllowsModel reports whether the tenant may use the given model.
// A nil allowlist means every model is allowed.
func (t *Tenant) AllowsModel(model string) bool {
	if t.AllowedModels == nil {
		return true
	}
	for _, m := range t.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// BudgetExceeded reports whether the tenant's monthly usage has reached
// its budget limit. Tenants without a limit never exceed it.
func (t *Tenant) BudgetExceeded() bool {
	return t.BudgetLimitMonthly != nil && t.UsageThisMonth >= *t.BudgetLimitMonthly
}

type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Strategy    string    `json:"strategy,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
	Routing *Routing `json:"_routing,omitempty"`
}

type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	Delta        *Delta   `json:"delta,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type StreamChunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Routing is the gateway metadata block attached to completion responses.
type Routing struct {
	RequestID        string             `json:"requestId"`
	ModelSelected    string             `json:"modelSelected"`
	Provider         string             `json:"provider"`
	Strategy         string             `json:"strategy"`
	Complexity       string             `json:"complexity"`
	ComplexityScore  float64            `json:"complexityScore"`
	Confidence       float64            `json:"confidence"`
	Intent           string             `json:"intent"`
	RoutingScore     float64            `json:"routingScore"`
	ScoreBreakdown   map[string]float64 `json:"scoreBreakdown"`
	LatencyMs        int64              `json:"latencyMs"`
	Cost             float64            `json:"cost"`
	EnergyIntensity  float64            `json:"energyIntensity"`
	ClassifierMethod string             `json:"classifierMethod"`
}

type Model struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	OwnedBy  string `json:"owned_by"`
	Provider string `json:"provider,omitempty"`
}

type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// RequestLog is one append-only row per completed request.
type RequestLog struct {
	RequestID        string
	TenantID         string
	PromptPreview    string
	Complexity       string
	ComplexityScore  float64
	Confidence       float64
	Intent           string
	Model            string
	Provider         string
	Strategy         string
	InputTokens      int
	OutputTokens     int
	Cost             float64
	Energy           float64
	LatencyMs        int64
	ProviderStatus   int
	CacheHit         bool
	RoutingReasoning string
	Timestamp        time.Time
}

// Feedback is a reward signal for a routed request, either recorded
// implicitly on completion or submitted explicitly via the API.
type Feedback struct {
	RequestID    string
	ModelID      string
	TenantID     string
	QualityScore *float64
	LatencyMs    *float64
	Cost         *float64
	Success      *bool
	Timestamp    time.Time
}
