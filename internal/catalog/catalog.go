// Package catalog holds the static model catalog: every model the gateway
// can route to, with its pricing, baseline performance, and strengths.
// Entries are immutable at runtime.
package catalog

type Entry struct {
	ID              string   `json:"id"`
	Provider        string   `json:"provider"`
	InputCostPer1M  float64  `json:"input_cost_per_1m"`
	OutputCostPer1M float64  `json:"output_cost_per_1m"`
	AvgLatencyMs    float64  `json:"avg_latency_ms"`
	Reliability     float64  `json:"reliability"`
	EnergyIntensity float64  `json:"energy_intensity"`
	QualityScore    float64  `json:"quality_score"`
	Strengths       []string `json:"strengths"`
}

// HasStrength reports whether the entry carries the given strength tag.
func (e Entry) HasStrength(tag string) bool {
	for _, s := range e.Strengths {
		if s == tag {
			return true
		}
	}
	return false
}

// AvgCostPer1M is the averaged input/output cost used by the router.
func (e Entry) AvgCostPer1M() float64 {
	return (e.InputCostPer1M + e.OutputCostPer1M) / 2
}

var entries = []Entry{
	{
		ID: "gpt-4o", Provider: "openai",
		InputCostPer1M: 2.50, OutputCostPer1M: 10.00,
		AvgLatencyMs: 1200, Reliability: 0.99, EnergyIntensity: 0.9,
		QualityScore: 92, Strengths: []string{"code", "reasoning", "analysis", "qa"},
	},
	{
		ID: "gpt-4o-mini", Provider: "openai",
		InputCostPer1M: 0.15, OutputCostPer1M: 0.60,
		AvgLatencyMs: 700, Reliability: 0.99, EnergyIntensity: 0.3,
		QualityScore: 78, Strengths: []string{"qa", "summarization", "translation"},
	},
	{
		ID: "claude-3-5-sonnet-20241022", Provider: "anthropic",
		InputCostPer1M: 3.00, OutputCostPer1M: 15.00,
		AvgLatencyMs: 1500, Reliability: 0.99, EnergyIntensity: 0.8,
		QualityScore: 94, Strengths: []string{"code", "reasoning", "analysis", "creative"},
	},
	{
		ID: "claude-3-5-haiku-20241022", Provider: "anthropic",
		InputCostPer1M: 0.80, OutputCostPer1M: 4.00,
		AvgLatencyMs: 600, Reliability: 0.99, EnergyIntensity: 0.35,
		QualityScore: 80, Strengths: []string{"qa", "summarization", "code"},
	},
	{
		ID: "gemini-1.5-pro", Provider: "gemini",
		InputCostPer1M: 1.25, OutputCostPer1M: 5.00,
		AvgLatencyMs: 1400, Reliability: 0.98, EnergyIntensity: 0.7,
		QualityScore: 90, Strengths: []string{"analysis", "reasoning", "math", "translation"},
	},
	{
		ID: "gemini-1.5-flash", Provider: "gemini",
		InputCostPer1M: 0.075, OutputCostPer1M: 0.30,
		AvgLatencyMs: 500, Reliability: 0.98, EnergyIntensity: 0.2,
		QualityScore: 74, Strengths: []string{"qa", "summarization", "translation"},
	},
	{
		ID: "llama-3.3-70b-versatile", Provider: "groq",
		InputCostPer1M: 0.59, OutputCostPer1M: 0.79,
		AvgLatencyMs: 350, Reliability: 0.96, EnergyIntensity: 0.45,
		QualityScore: 82, Strengths: []string{"code", "qa", "creative"},
	},
	{
		ID: "llama-3.1-8b-instant", Provider: "groq",
		InputCostPer1M: 0.05, OutputCostPer1M: 0.08,
		AvgLatencyMs: 200, Reliability: 0.96, EnergyIntensity: 0.1,
		QualityScore: 62, Strengths: []string{"qa", "summarization"},
	},
	{
		ID: "command-r-plus", Provider: "cohere",
		InputCostPer1M: 2.50, OutputCostPer1M: 10.00,
		AvgLatencyMs: 1100, Reliability: 0.97, EnergyIntensity: 0.65,
		QualityScore: 85, Strengths: []string{"analysis", "qa", "summarization"},
	},
	{
		ID: "command-r", Provider: "cohere",
		InputCostPer1M: 0.15, OutputCostPer1M: 0.60,
		AvgLatencyMs: 800, Reliability: 0.97, EnergyIntensity: 0.3,
		QualityScore: 72, Strengths: []string{"qa", "summarization", "translation"},
	},
	{
		ID: "mock-model", Provider: "mock",
		InputCostPer1M: 0, OutputCostPer1M: 0,
		AvgLatencyMs: 50, Reliability: 1.0, EnergyIntensity: 0,
		QualityScore: 50, Strengths: []string{"qa"},
	},
}

// All returns the full catalog in declaration order. The returned slice
// is a copy; callers may not mutate catalog state.
func All() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Get returns the entry for a model id.
func Get(id string) (Entry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// ForProviders returns the entries whose provider is in the given set.
func ForProviders(providers map[string]bool) []Entry {
	var out []Entry
	for _, e := range entries {
		if providers[e.Provider] {
			out = append(out, e)
		}
	}
	return out
}

// Providers returns the distinct provider names in the catalog.
func Providers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		if !seen[e.Provider] {
			seen[e.Provider] = true
			out = append(out, e.Provider)
		}
	}
	return out
}
