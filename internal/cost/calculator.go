// Package cost turns provider token counts into dollar cost and energy
// figures using the static catalog pricing. In real mode the token counts
// always come from the provider response, never from prompt-length
// estimates.
package cost

import (
	"github.com/frugalroute/frugalroute/internal/catalog"
	"github.com/frugalroute/frugalroute/internal/domain"
)

// Calculate returns the dollar cost of a completion.
func Calculate(model string, usage domain.Usage) float64 {
	e, ok := catalog.Get(model)
	if !ok {
		return 0
	}

	inputCost := float64(usage.PromptTokens) / 1e6 * e.InputCostPer1M
	outputCost := float64(usage.CompletionTokens) / 1e6 * e.OutputCostPer1M
	return inputCost + outputCost
}

// Energy returns the energy figure for a completion: the model's intensity
// scaled by total tokens in thousands.
func Energy(model string, usage domain.Usage) float64 {
	e, ok := catalog.Get(model)
	if !ok {
		return 0
	}
	return e.EnergyIntensity * float64(usage.TotalTokens) / 1000
}
