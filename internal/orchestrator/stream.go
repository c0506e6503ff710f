package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/frugalroute/frugalroute/internal/classifier"
	"github.com/frugalroute/frugalroute/internal/cost"
	"github.com/frugalroute/frugalroute/internal/domain"
	"github.com/frugalroute/frugalroute/internal/provider"
	"github.com/frugalroute/frugalroute/internal/router"
)

// StreamOutcome says how a streaming completion ended: cleanly, with a
// provider-side stream error, or with the client going away.
type StreamOutcome int

const (
	StreamCompleted StreamOutcome = iota
	StreamProviderError
	StreamDisconnected
)

// StreamSession is one live streaming completion. The HTTP layer pipes
// chunks to the client and calls Finish exactly once when the stream
// ends, errors, or the client disconnects; Finish is guarded so double
// calls are harmless.
type StreamSession struct {
	Result   *provider.StreamResult
	Selected router.Scored
	Cls      classifier.Classification
	Strategy string

	orch      *Orchestrator
	ten       *domain.Tenant
	requestID string
	prompt    string
	reasoning string
	start     time.Time
	finish    sync.Once
}

// StartStream runs the pipeline up to the first provider byte. The cache
// is not consulted: streamed responses are never served from cache.
func (o *Orchestrator) StartStream(ctx context.Context, req domain.ChatRequest, ten *domain.Tenant, requestID string) (*StreamSession, error) {
	start := time.Now()

	prompt := userPrompt(req)
	if prompt == "" {
		return nil, fmt.Errorf("%w: no user message", domain.ErrInvalidRequest)
	}
	strategy := resolveStrategy(req, ten)

	cls := o.Classifier.Classify(prompt)

	decision, err := o.route(cls, strategy, ten)
	if err != nil {
		return nil, err
	}

	selected := decision.Selected
	providerID := selected.Model.Provider

	p, ok := o.Providers[providerID]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}

	breaker := o.Breakers.Get(providerID)
	if allowed, _ := breaker.CanExecute(); !allowed {
		return nil, domain.ErrCircuitBreakerOpen
	}

	upstream := req
	upstream.Model = selected.Model.ID
	upstream.Strategy = ""

	result, err := p.ChatCompletionStream(ctx, upstream)
	if err != nil {
		latency := float64(time.Since(start).Milliseconds())
		timedOut := false
		if pe, ok := provider.AsError(err); ok {
			timedOut = pe.TimedOut
		}
		breaker.RecordFailure(latency, timedOut)
		o.Bench.Record(selected.Model.ID, latency, false, timedOut)
		return nil, err
	}

	return &StreamSession{
		Result:    result,
		Selected:  selected,
		Cls:       cls,
		Strategy:  strategy,
		orch:      o,
		ten:       ten,
		requestID: requestID,
		prompt:    prompt,
		reasoning: decision.Reasoning,
		start:     start,
	}, nil
}

// Finish records the stream outcome: breaker and benchmarker observations
// first, then the log row, bandit feedback, and tenant usage. A provider
// stream error counts as a breaker failure (timeout detected from the
// wrapped error); a client disconnect is not the provider's fault and
// records a breaker success, but the log and feedback rows still carry
// the latency accrued at disconnect and success=false.
func (s *StreamSession) Finish(ctx context.Context, outcome StreamOutcome, streamErr error) {
	s.finish.Do(func() {
		o := s.orch
		latency := time.Since(s.start).Milliseconds()

		var usage domain.Usage
		if u := s.Result.Usage(); u != nil {
			usage = *u
		}

		breaker := o.Breakers.Get(s.Selected.Model.Provider)
		if outcome == StreamProviderError {
			timedOut := false
			if pe, ok := provider.AsError(streamErr); ok {
				timedOut = pe.TimedOut
			}
			breaker.RecordFailure(float64(latency), timedOut)
			o.Bench.Record(s.Selected.Model.ID, float64(latency), false, timedOut)
		} else {
			breaker.RecordSuccess(float64(latency))
			o.Bench.Record(s.Selected.Model.ID, float64(latency), true, false)
		}

		tenantID := ""
		if s.ten != nil {
			tenantID = s.ten.ID
		}

		o.record(ctx, recordArgs{
			requestID: s.requestID,
			tenantID:  tenantID,
			ten:       s.ten,
			prompt:    s.prompt,
			cls:       s.Cls,
			model:     s.Selected.Model,
			strategy:  s.Strategy,
			usage:     usage,
			cost:      cost.Calculate(s.Selected.Model.ID, usage),
			energy:    cost.Energy(s.Selected.Model.ID, usage),
			latencyMs: latency,
			status:    s.Result.Status,
			reasoning: s.reasoning,
			success:   outcome == StreamCompleted,
		})
	})
}
