// Package router scores every viable model along six axes (cost, quality,
// latency, energy, reliability, learned preference) and selects one. The
// candidate list survives in score order so the orchestrator can fall back
// down it.
package router

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/frugalroute/frugalroute/internal/benchmark"
	"github.com/frugalroute/frugalroute/internal/catalog"
	"github.com/frugalroute/frugalroute/internal/classifier"
)

const (
	StrategyCostFirst        = "cost-first"
	StrategyGreenFirst       = "green-first"
	StrategyPerformanceFirst = "performance-first"
	StrategyBalanced         = "balanced"
)

// Weights is a strategy profile. The six weights sum to 1.
type Weights struct {
	Cost        float64 `json:"cost"`
	Quality     float64 `json:"quality"`
	Latency     float64 `json:"latency"`
	Energy      float64 `json:"energy"`
	Reliability float64 `json:"reliability"`
	RL          float64 `json:"rl"`
}

var strategyWeights = map[string]Weights{
	StrategyCostFirst:        {Cost: 0.35, Quality: 0.20, Latency: 0.10, Energy: 0.10, Reliability: 0.10, RL: 0.15},
	StrategyGreenFirst:       {Cost: 0.10, Quality: 0.15, Latency: 0.10, Energy: 0.35, Reliability: 0.10, RL: 0.20},
	StrategyPerformanceFirst: {Cost: 0.05, Quality: 0.35, Latency: 0.20, Energy: 0.05, Reliability: 0.20, RL: 0.15},
	StrategyBalanced:         {Cost: 0.20, Quality: 0.20, Latency: 0.15, Energy: 0.15, Reliability: 0.15, RL: 0.15},
}

// Strategies returns the known strategy profiles.
func Strategies() map[string]Weights {
	out := make(map[string]Weights, len(strategyWeights))
	for k, v := range strategyWeights {
		out[k] = v
	}
	return out
}

// ValidStrategy reports whether the name maps to a weight profile.
func ValidStrategy(name string) bool {
	_, ok := strategyWeights[name]
	return ok
}

// Minimum model quality demanded per complexity tier.
var tierMinQuality = map[classifier.Tier]float64{
	classifier.TierTrivial:  0,
	classifier.TierSimple:   0,
	classifier.TierModerate: 60,
	classifier.TierComplex:  80,
	classifier.TierExpert:   90,
}

const (
	lowConfidence        = 0.5
	lowConfidenceQuality = 15
	maxMinQuality        = 95
	benchBlendSamples    = 20
	neutralRLScore       = 0.5
)

// Options carries the live signals consulted during scoring.
type Options struct {
	RLScores      map[string]float64
	Benchmarks    map[string]benchmark.Metrics
	OpenProviders map[string]bool
	AllowedModels []string // nil allows every model
}

// Scored is one candidate with its component breakdown.
type Scored struct {
	Model     catalog.Entry      `json:"model"`
	Score     float64            `json:"score"`
	Breakdown map[string]float64 `json:"breakdown"`
}

// Decision is the routing outcome: the selection plus the full ordered
// candidate list for fallback.
type Decision struct {
	Selected         Scored   `json:"selected"`
	Candidates       []Scored `json:"candidates"`
	Strategy         string   `json:"strategy"`
	Weights          Weights  `json:"weights"`
	Reasoning        string   `json:"reasoning"`
	UltimateFallback bool     `json:"ultimate_fallback"`
}

// Route filters and scores the candidates for one classified request.
// The returned candidate set is never empty as long as models is not:
// when every filter empties it, all models are reinstated.
func Route(cls classifier.Classification, strategy string, models []catalog.Entry, opts Options) (Decision, error) {
	if len(models) == 0 {
		return Decision{}, fmt.Errorf("no models configured")
	}

	weights, ok := strategyWeights[strategy]
	if !ok {
		strategy = StrategyCostFirst
		weights = strategyWeights[strategy]
	}

	candidates, ultimate := filterCandidates(cls, models, opts)
	if ultimate {
		slog.Warn("all candidates filtered out, reinstating full catalog",
			"tier", cls.Tier, "intent", cls.Intent)
	}

	scored := scoreCandidates(cls, weights, candidates, opts)
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	selected := scored[0]
	return Decision{
		Selected:         selected,
		Candidates:       scored,
		Strategy:         strategy,
		Weights:          weights,
		Reasoning:        reasoning(cls, strategy, selected, ultimate),
		UltimateFallback: ultimate,
	}, nil
}

// filterCandidates applies, in order: tenant allowlist, open-circuit
// exclusion, and the tier quality floor (raised when classifier confidence
// is low). Each quality step backs off rather than emptying the set; the
// ultimate fallback reinstates every model.
func filterCandidates(cls classifier.Classification, models []catalog.Entry, opts Options) ([]catalog.Entry, bool) {
	candidates := models

	if opts.AllowedModels != nil {
		allowed := make(map[string]bool, len(opts.AllowedModels))
		for _, m := range opts.AllowedModels {
			allowed[m] = true
		}
		candidates = keep(candidates, func(e catalog.Entry) bool { return allowed[e.ID] })
	}

	if len(opts.OpenProviders) > 0 {
		candidates = keep(candidates, func(e catalog.Entry) bool { return !opts.OpenProviders[e.Provider] })
	}

	preQuality := candidates

	minQuality := tierMinQuality[cls.Tier]
	filtered := keep(candidates, func(e catalog.Entry) bool { return e.QualityScore >= minQuality })
	if len(filtered) > 0 {
		candidates = filtered
	} else {
		candidates = preQuality
	}

	if cls.Confidence < lowConfidence {
		raised := math.Min(minQuality+lowConfidenceQuality, maxMinQuality)
		safer := keep(candidates, func(e catalog.Entry) bool { return e.QualityScore >= raised })
		if len(safer) > 0 {
			candidates = safer
		}
	}

	if len(candidates) == 0 {
		return models, true
	}
	return candidates, false
}

func scoreCandidates(cls classifier.Classification, weights Weights, candidates []catalog.Entry, opts Options) []Scored {
	costs := make([]float64, len(candidates))
	latencies := make([]float64, len(candidates))
	energies := make([]float64, len(candidates))
	reliabilities := make([]float64, len(candidates))

	for i, e := range candidates {
		costs[i] = e.AvgCostPer1M()
		latencies[i], reliabilities[i] = blendObserved(e, opts.Benchmarks)
		energies[i] = e.EnergyIntensity
	}

	costMin, costMax := minMax(costs)
	latMin, latMax := minMax(latencies)
	enMin, enMax := minMax(energies)

	required := classifier.RequiredStrengths(cls.Intent)

	out := make([]Scored, len(candidates))
	for i, e := range candidates {
		costScore := 1 - normalize(costs[i], costMin, costMax)
		latencyScore := 1 - normalize(latencies[i], latMin, latMax)
		energyScore := 1 - normalize(energies[i], enMin, enMax)
		quality := qualityMatch(e, required)

		rl := neutralRLScore
		if s, ok := opts.RLScores[e.ID]; ok {
			rl = s
		}

		score := weights.Cost*costScore +
			weights.Quality*quality +
			weights.Latency*latencyScore +
			weights.Energy*energyScore +
			weights.Reliability*reliabilities[i] +
			weights.RL*rl

		out[i] = Scored{
			Model: e,
			Score: round3(score),
			Breakdown: map[string]float64{
				"cost":        round3(costScore),
				"quality":     round3(quality),
				"latency":     round3(latencyScore),
				"energy":      round3(energyScore),
				"reliability": round3(reliabilities[i]),
				"rl":          round3(rl),
			},
		}
	}
	return out
}

// blendObserved mixes live benchmark figures into the static baseline.
// Below benchBlendSamples observations the baseline dominates.
func blendObserved(e catalog.Entry, benchmarks map[string]benchmark.Metrics) (latency, reliability float64) {
	latency = e.AvgLatencyMs
	reliability = e.Reliability

	m, ok := benchmarks[e.ID]
	if !ok || m.SampleCount == 0 {
		return latency, reliability
	}

	w := math.Min(float64(m.SampleCount)/benchBlendSamples, 1)
	latency = w*m.MeanLatency + (1-w)*e.AvgLatencyMs
	reliability = w*(1-m.ErrorRate) + (1-w)*e.Reliability
	return latency, reliability
}

// qualityMatch combines intrinsic quality with a bonus for matching the
// intent's required strengths.
func qualityMatch(e catalog.Entry, required []string) float64 {
	base := e.QualityScore / 100
	if len(required) == 0 {
		return math.Min(1, base)
	}

	matches := 0
	for _, tag := range required {
		if e.HasStrength(tag) {
			matches++
		}
	}
	bonus := 0.2 * float64(matches) / float64(len(required))
	return math.Min(1, base+bonus)
}

func reasoning(cls classifier.Classification, strategy string, sel Scored, ultimate bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s prompt (score %.0f, %s intent) routed via %s to %s/%s (score %.3f)",
		cls.Tier, cls.Score, cls.Intent, strategy, sel.Model.Provider, sel.Model.ID, sel.Score)
	if cls.Confidence < lowConfidence {
		b.WriteString("; low classifier confidence raised the quality floor")
	}
	if ultimate {
		b.WriteString("; ultimate fallback reinstated all models")
	}
	return b.String()
}

func keep(entries []catalog.Entry, pred func(catalog.Entry) bool) []catalog.Entry {
	var out []catalog.Entry
	for _, e := range entries {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

func minMax(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// normalize min-max scales v into [0,1]; a degenerate range yields 0.5.
func normalize(v, lo, hi float64) float64 {
	if hi == lo {
		return 0.5
	}
	return (v - lo) / (hi - lo)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
