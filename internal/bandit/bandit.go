// Package bandit maintains Thompson-sampling posteriors over models.
// Each model carries a Beta(alpha, beta) posterior per tenant plus a
// global one; sampling uses a cheap normal approximation around the Beta
// mean. Posteriors live in memory; the global set is rebuilt periodically
// from stored feedback.
package bandit

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/frugalroute/frugalroute/internal/domain"
)

const globalScope = "global"

// Posterior is a Beta distribution over a model's reward.
type Posterior struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Mean returns the posterior mean alpha/(alpha+beta).
func (p Posterior) Mean() float64 {
	return p.Alpha / (p.Alpha + p.Beta)
}

// Config tunes sampling and posterior maintenance.
type Config struct {
	WindowSize        float64       // Clamp on alpha+beta, rescaled proportionally
	ExplorationFloor  float64       // Minimum sampled score for any model
	LearningRate      float64       // Per-feedback posterior increment scale
	RecomputeInterval time.Duration // Global posterior rebuild cadence
	RecomputeRows     int           // Feedback rows per model per rebuild
}

func DefaultConfig() Config {
	return Config{
		WindowSize:        200,
		ExplorationFloor:  0.05,
		LearningRate:      0.1,
		RecomputeInterval: 5 * time.Minute,
		RecomputeRows:     200,
	}
}

// FeedbackSource supplies stored feedback for the periodic recompute.
type FeedbackSource interface {
	RecentFeedback(ctx context.Context, modelID string, limit int) ([]domain.Feedback, error)
}

// Engine owns all posterior state. Safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	config Config
	// scope ("global" or a tenant id) -> model id -> posterior
	posteriors map[string]map[string]*Posterior
	rng        *rand.Rand
	source     FeedbackSource
	models     []string
}

// New creates an engine over the given model ids. The feedback source may
// be nil, which disables the periodic recompute.
func New(cfg Config, models []string, source FeedbackSource) *Engine {
	return &Engine{
		config:     cfg,
		posteriors: map[string]map[string]*Posterior{globalScope: {}},
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		source:     source,
		models:     models,
	}
}

// Scores samples one value per model for the given tenant. Posteriors are
// lazily initialized at the uniform prior Beta(1,1). The exploration floor
// guarantees no model is ever zeroed out.
func (e *Engine) Scores(tenantID string, models []string) map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	scope := globalScope
	if tenantID != "" {
		scope = tenantID
	}

	out := make(map[string]float64, len(models))
	for _, m := range models {
		p := e.posterior(scope, m)
		s := e.sample(p)
		if s < e.config.ExplorationFloor {
			s = e.config.ExplorationFloor
		}
		out[m] = s
	}
	return out
}

// sample draws mean + z*std with Box-Muller noise, clamped to [0,1].
// Caller holds the lock.
func (e *Engine) sample(p *Posterior) float64 {
	mean := p.Alpha / (p.Alpha + p.Beta)
	total := p.Alpha + p.Beta
	std := math.Sqrt(p.Alpha * p.Beta / (total * total * (total + 1)))

	u1 := e.rng.Float64()
	u2 := e.rng.Float64()
	if u1 < 1e-12 {
		u1 = 1e-12
	}
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

	s := mean + z*std
	return math.Min(1, math.Max(0, s))
}

// Update applies one reward observation to the tenant posterior (when a
// tenant is present) and to the global posterior.
func (e *Engine) Update(tenantID, modelID string, reward float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.apply(globalScope, modelID, reward)
	if tenantID != "" {
		e.apply(tenantID, modelID, reward)
	}
}

func (e *Engine) apply(scope, modelID string, reward float64) {
	p := e.posterior(scope, modelID)
	p.Alpha += e.config.LearningRate * reward
	p.Beta += e.config.LearningRate * (1 - reward)

	if total := p.Alpha + p.Beta; total > e.config.WindowSize {
		scale := e.config.WindowSize / total
		p.Alpha *= scale
		p.Beta *= scale
	}
}

func (e *Engine) posterior(scope, modelID string) *Posterior {
	byModel, ok := e.posteriors[scope]
	if !ok {
		byModel = make(map[string]*Posterior)
		e.posteriors[scope] = byModel
	}
	p, ok := byModel[modelID]
	if !ok {
		p = &Posterior{Alpha: 1, Beta: 1}
		byModel[modelID] = p
	}
	return p
}

// Reward folds a feedback record into a scalar in [0,1]. Each factor
// contributes its weight times the factor value when present, or times a
// neutral 0.5 when absent.
func Reward(fb domain.Feedback) float64 {
	r := 0.0

	if fb.Success != nil {
		if *fb.Success {
			r += 0.4
		}
	} else {
		r += 0.4 * 0.5
	}

	if fb.QualityScore != nil {
		r += 0.3 * math.Min(1, math.Max(0, *fb.QualityScore/10))
	} else {
		r += 0.3 * 0.5
	}

	if fb.LatencyMs != nil {
		r += 0.2 * math.Min(1, math.Max(0, 1-*fb.LatencyMs/30000))
	} else {
		r += 0.2 * 0.5
	}

	if fb.Cost != nil {
		r += 0.1 * math.Min(1, math.Max(0, 1-*fb.Cost/0.01))
	} else {
		r += 0.1 * 0.5
	}

	// Round away float accumulation error so exact weights land exactly
	// (e.g. a perfect record scores 1, an empty one 0.5).
	return math.Round(math.Min(1, math.Max(0, r))*1e9) / 1e9
}

// Recompute rebuilds the global posteriors from the prior using the most
// recent stored feedback. Tenant posteriors keep their in-memory state.
func (e *Engine) Recompute(ctx context.Context) error {
	if e.source == nil {
		return nil
	}

	rebuilt := make(map[string]*Posterior, len(e.models))
	for _, m := range e.models {
		rows, err := e.source.RecentFeedback(ctx, m, e.config.RecomputeRows)
		if err != nil {
			return err
		}
		p := &Posterior{Alpha: 1, Beta: 1}
		for _, fb := range rows {
			reward := Reward(fb)
			p.Alpha += e.config.LearningRate * reward
			p.Beta += e.config.LearningRate * (1 - reward)
			if total := p.Alpha + p.Beta; total > e.config.WindowSize {
				scale := e.config.WindowSize / total
				p.Alpha *= scale
				p.Beta *= scale
			}
		}
		rebuilt[m] = p
	}

	e.mu.Lock()
	e.posteriors[globalScope] = rebuilt
	e.mu.Unlock()
	return nil
}

// Run recomputes on a timer until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.config.RecomputeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.Recompute(ctx); err != nil {
				slog.Warn("bandit recompute failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Snapshot exposes posterior means for the stats endpoint.
func (e *Engine) Snapshot() map[string]map[string]Posterior {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]map[string]Posterior, len(e.posteriors))
	for scope, byModel := range e.posteriors {
		cp := make(map[string]Posterior, len(byModel))
		for m, p := range byModel {
			cp[m] = *p
		}
		out[scope] = cp
	}
	return out
}
