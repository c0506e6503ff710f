// Package orchestrator drives the completion pipeline: cache, classifier,
// router, breaker gate, provider dispatch with fallback, then the
// post-response bookkeeping (cost, cache store, log queue, bandit
// feedback, tenant usage).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/frugalroute/frugalroute/internal/bandit"
	"github.com/frugalroute/frugalroute/internal/benchmark"
	"github.com/frugalroute/frugalroute/internal/budget"
	"github.com/frugalroute/frugalroute/internal/cache"
	"github.com/frugalroute/frugalroute/internal/catalog"
	"github.com/frugalroute/frugalroute/internal/circuitbreaker"
	"github.com/frugalroute/frugalroute/internal/classifier"
	"github.com/frugalroute/frugalroute/internal/cost"
	"github.com/frugalroute/frugalroute/internal/domain"
	"github.com/frugalroute/frugalroute/internal/metrics"
	"github.com/frugalroute/frugalroute/internal/provider"
	"github.com/frugalroute/frugalroute/internal/router"
	"github.com/frugalroute/frugalroute/internal/store"
	"github.com/frugalroute/frugalroute/internal/telemetry"
	"github.com/frugalroute/frugalroute/internal/tenant"
)

const (
	defaultStrategy  = router.StrategyCostFirst
	promptPreviewLen = 100
)

// FeedbackSink persists feedback rows for the bandit recompute.
type FeedbackSink interface {
	InsertFeedback(ctx context.Context, fb domain.Feedback) error
}

type Orchestrator struct {
	Providers  map[string]provider.Provider
	Classifier *classifier.Classifier
	Breakers   *circuitbreaker.Manager
	Cache      cache.ResponseCache
	Bandit     *bandit.Engine
	Bench      *benchmark.Tracker
	Queue      *store.WriteQueue
	Tenants    *tenant.Manager
	Budget     *budget.Monitor
	Feedback   FeedbackSink
	Models     []catalog.Entry
}

// userPrompt concatenates the user-role message contents.
func userPrompt(req domain.ChatRequest) string {
	var parts []string
	for _, m := range req.Messages {
		if m.Role == "user" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func preview(prompt string) string {
	if len(prompt) > promptPreviewLen {
		return prompt[:promptPreviewLen]
	}
	return prompt
}

// resolveStrategy applies the precedence tenant default > request body >
// cost-first.
func resolveStrategy(req domain.ChatRequest, ten *domain.Tenant) string {
	if ten != nil && router.ValidStrategy(ten.Strategy) {
		return ten.Strategy
	}
	if router.ValidStrategy(req.Strategy) {
		return req.Strategy
	}
	return defaultStrategy
}

// Complete runs the non-streaming pipeline for one request.
func (o *Orchestrator) Complete(ctx context.Context, req domain.ChatRequest, ten *domain.Tenant, requestID string) (*domain.ChatResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.complete")
	defer span.End()

	start := time.Now()

	prompt := userPrompt(req)
	if prompt == "" {
		return nil, fmt.Errorf("%w: no user message", domain.ErrInvalidRequest)
	}
	strategy := resolveStrategy(req, ten)
	tenantID := ""
	if ten != nil {
		tenantID = ten.ID
	}

	// Only the exact layer is reachable inline: no embedding is computed
	// on the hot path.
	hash := cache.HashPrompt(prompt)
	if hit := o.Cache.Lookup(ctx, hash, nil); hit.Hit {
		telemetry.AddCacheAttribute(span, true)
		metrics.RecordCacheHit(hit.Source)
		return o.finishCacheHit(ten, requestID, strategy, prompt, hit, time.Since(start)), nil
	}
	metrics.RecordCacheMiss()

	cls := o.Classifier.Classify(prompt)

	decision, err := o.route(cls, strategy, ten)
	if err != nil {
		return nil, err
	}
	telemetry.AddRoutingAttributes(span, tenantID, decision.Selected.Model.Provider,
		decision.Selected.Model.ID, strategy, string(cls.Tier))

	result, used, err := o.dispatch(ctx, req, decision)
	if err != nil {
		return nil, err
	}

	usage := result.Response.Usage
	requestCost := cost.Calculate(used.Model.ID, usage)
	energy := cost.Energy(used.Model.ID, usage)
	latency := time.Since(start).Milliseconds()

	telemetry.AddTokenAttributes(span, usage.PromptTokens, usage.CompletionTokens)
	telemetry.AddCostAttribute(span, requestCost)

	if err := o.Cache.Store(ctx, hash, result.Response, used.Model.ID, nil); err != nil {
		slog.Warn("cache store failed", "request_id", requestID, "error", err)
	}

	o.record(ctx, recordArgs{
		requestID: requestID,
		tenantID:  tenantID,
		ten:       ten,
		prompt:    prompt,
		cls:       cls,
		model:     used.Model,
		strategy:  strategy,
		usage:     usage,
		cost:      requestCost,
		energy:    energy,
		latencyMs: latency,
		status:    result.Status,
		reasoning: decision.Reasoning,
		success:   true,
	})

	resp := *result.Response
	resp.Routing = &domain.Routing{
		RequestID:        requestID,
		ModelSelected:    used.Model.ID,
		Provider:         used.Model.Provider,
		Strategy:         strategy,
		Complexity:       string(cls.Tier),
		ComplexityScore:  cls.Score,
		Confidence:       cls.Confidence,
		Intent:           string(cls.Intent),
		RoutingScore:     used.Score,
		ScoreBreakdown:   used.Breakdown,
		LatencyMs:        latency,
		Cost:             requestCost,
		EnergyIntensity:  used.Model.EnergyIntensity,
		ClassifierMethod: cls.Method,
	}
	return &resp, nil
}

func (o *Orchestrator) route(cls classifier.Classification, strategy string, ten *domain.Tenant) (router.Decision, error) {
	modelIDs := make([]string, len(o.Models))
	for i, m := range o.Models {
		modelIDs[i] = m.ID
	}

	tenantID := ""
	var allowed []string
	if ten != nil {
		tenantID = ten.ID
		allowed = ten.AllowedModels
	}

	return router.Route(cls, strategy, o.Models, router.Options{
		RLScores:      o.Bandit.Scores(tenantID, modelIDs),
		Benchmarks:    o.Bench.All(),
		OpenProviders: o.Breakers.OpenProviders(),
		AllowedModels: allowed,
	})
}

// dispatch walks the scored candidate list: first viable provider wins,
// failures feed the breaker and benchmarker and the walk continues. Each
// provider is tried at most once per request.
func (o *Orchestrator) dispatch(ctx context.Context, req domain.ChatRequest, decision router.Decision) (*provider.Result, router.Scored, error) {
	tried := make(map[string]bool)
	var lastErr error

	for _, candidate := range decision.Candidates {
		providerID := candidate.Model.Provider
		if tried[providerID] {
			continue
		}

		p, ok := o.Providers[providerID]
		if !ok {
			continue
		}

		breaker := o.Breakers.Get(providerID)
		if allowed, reason := breaker.CanExecute(); !allowed {
			slog.Debug("breaker denied dispatch", "provider", providerID, "reason", reason)
			continue
		}
		tried[providerID] = true

		upstream := req
		upstream.Model = candidate.Model.ID
		upstream.Strategy = "" // internal field, never forwarded
		upstream.Stream = false

		callStart := time.Now()
		result, err := p.ChatCompletion(ctx, upstream)
		callLatency := float64(time.Since(callStart).Milliseconds())

		if err != nil {
			timedOut := false
			if pe, ok := provider.AsError(err); ok {
				timedOut = pe.TimedOut
				metrics.RecordProviderError(providerID, errorType(pe))
			}
			breaker.RecordFailure(callLatency, timedOut)
			o.Bench.Record(candidate.Model.ID, callLatency, false, timedOut)
			metrics.SetCircuitBreakerState(providerID, int(breaker.State()))

			slog.Warn("provider failed, trying fallback",
				"provider", providerID,
				"model", candidate.Model.ID,
				"error", err,
			)
			lastErr = err
			continue
		}

		breaker.RecordSuccess(callLatency)
		o.Bench.Record(candidate.Model.ID, callLatency, true, false)
		metrics.SetCircuitBreakerState(providerID, int(breaker.State()))
		return result, candidate, nil
	}

	if lastErr == nil {
		lastErr = domain.ErrCircuitBreakerOpen
	}
	return nil, router.Scored{}, lastErr
}

func errorType(pe *provider.Error) string {
	switch {
	case pe.TimedOut:
		return "timeout"
	case pe.Status == 429:
		return "rate_limited"
	case pe.Status >= 500:
		return "server_error"
	case pe.Status == 0:
		return "network"
	default:
		return "client_error"
	}
}

// finishCacheHit builds the response for a cache hit and enqueues its
// non-critical log row.
func (o *Orchestrator) finishCacheHit(ten *domain.Tenant, requestID, strategy, prompt string, hit cache.Result, elapsed time.Duration) *domain.ChatResponse {
	tenantID := ""
	if ten != nil {
		tenantID = ten.ID
	}
	latency := elapsed.Milliseconds()

	resp := *hit.Response
	resp.Routing = &domain.Routing{
		RequestID:     requestID,
		ModelSelected: "cache",
		Provider:      "cache",
		Strategy:      strategy,
		LatencyMs:     latency,
		Cost:          0,
	}

	o.Queue.Enqueue(domain.RequestLog{
		RequestID:     requestID,
		TenantID:      tenantID,
		PromptPreview: preview(prompt),
		Model:         hit.Model,
		Provider:      "cache",
		Strategy:      strategy,
		Cost:          0,
		LatencyMs:     latency,
		CacheHit:      true,
		Timestamp:     time.Now().UTC(),
	}, false)
	metrics.SetWriteQueue(o.Queue.Depth(), o.Queue.Degraded())
	metrics.RecordRequest(tenantID, "cache", hit.Model, "200", elapsed.Seconds())

	slog.Info("cache hit",
		"request_id", requestID,
		"tenant_id", tenantID,
		"source", hit.Source,
		"latency_ms", latency,
	)
	return &resp
}

type recordArgs struct {
	requestID string
	tenantID  string
	ten       *domain.Tenant
	prompt    string
	cls       classifier.Classification
	model     catalog.Entry
	strategy  string
	usage     domain.Usage
	cost      float64
	energy    float64
	latencyMs int64
	status    int
	reasoning string
	success   bool
}

// record performs the post-response bookkeeping shared by the streaming
// and non-streaming paths: breaker and benchmarker observations are
// already in; here the log row is queued, feedback is stored, the bandit
// is updated, and tenant usage accrues. None of it can fail the request.
func (o *Orchestrator) record(ctx context.Context, a recordArgs) {
	o.Queue.Enqueue(domain.RequestLog{
		RequestID:        a.requestID,
		TenantID:         a.tenantID,
		PromptPreview:    preview(a.prompt),
		Complexity:       string(a.cls.Tier),
		ComplexityScore:  a.cls.Score,
		Confidence:       a.cls.Confidence,
		Intent:           string(a.cls.Intent),
		Model:            a.model.ID,
		Provider:         a.model.Provider,
		Strategy:         a.strategy,
		InputTokens:      a.usage.PromptTokens,
		OutputTokens:     a.usage.CompletionTokens,
		Cost:             a.cost,
		Energy:           a.energy,
		LatencyMs:        a.latencyMs,
		ProviderStatus:   a.status,
		RoutingReasoning: a.reasoning,
		Timestamp:        time.Now().UTC(),
	}, true)
	metrics.SetWriteQueue(o.Queue.Depth(), o.Queue.Degraded())

	latencyMs := float64(a.latencyMs)
	success := a.success
	fb := domain.Feedback{
		RequestID: a.requestID,
		ModelID:   a.model.ID,
		TenantID:  a.tenantID,
		LatencyMs: &latencyMs,
		Cost:      &a.cost,
		Success:   &success,
		Timestamp: time.Now().UTC(),
	}
	o.Bandit.Update(a.tenantID, a.model.ID, bandit.Reward(fb))
	if o.Feedback != nil {
		if err := o.Feedback.InsertFeedback(ctx, fb); err != nil {
			slog.Warn("feedback insert failed", "request_id", a.requestID, "error", err)
		}
	}

	metrics.RecordRequest(a.tenantID, a.model.Provider, a.model.ID, fmt.Sprintf("%d", a.status), latencyMs/1000)
	metrics.RecordTokens(a.tenantID, a.model.Provider, a.model.ID, a.usage.PromptTokens, a.usage.CompletionTokens)
	metrics.RecordCost(a.tenantID, a.model.Provider, a.model.ID, a.cost)

	if a.ten != nil && a.cost > 0 {
		if err := o.Tenants.RecordUsage(ctx, a.ten.ID, a.cost); err != nil {
			slog.Warn("tenant usage update failed", "tenant_id", a.ten.ID, "error", err)
		} else if o.Budget != nil {
			updated := *a.ten
			updated.UsageThisMonth += a.cost
			o.Budget.Check(&updated)
		}
	}

	slog.Info("request completed",
		"request_id", a.requestID,
		"tenant_id", a.tenantID,
		"provider", a.model.Provider,
		"model", a.model.ID,
		"strategy", a.strategy,
		"tier", a.cls.Tier,
		"latency_ms", a.latencyMs,
		"cost", a.cost,
	)
}
