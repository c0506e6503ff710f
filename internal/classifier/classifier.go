// Package classifier derives a complexity tier and an intent from a prompt.
// The heuristic path is a fixed weighted sum over 15 normalized features;
// when a learned model is configured it replaces the tier computation and
// the heuristic remains the fallback.
package classifier

type Tier string

const (
	TierTrivial  Tier = "trivial"
	TierSimple   Tier = "simple"
	TierModerate Tier = "moderate"
	TierComplex  Tier = "complex"
	TierExpert   Tier = "expert"
)

// Tiers in ascending difficulty order; index matches the learned model's
// class order.
var Tiers = []Tier{TierTrivial, TierSimple, TierModerate, TierComplex, TierExpert}

const (
	MethodHeuristic = "heuristic"
	MethodML        = "ml"
)

// heuristicConfidence is the fixed confidence reported by the weighted-sum path.
const heuristicConfidence = 0.65

// featureWeights must stay byte-for-byte stable: routing tests depend on
// the exact weighted sum.
var featureWeights = [15]float64{
	0.10, // charCount
	0.08, // wordCount
	0.05, // sentenceCount
	0.05, // avgWordLength
	0.05, // avgSentenceLength
	0.03, // typeTokenRatio
	0.15, // codeIndicator
	0.08, // questionDepth
	0.06, // structuralComplexity
	0.12, // techDensity
	0.10, // reasoningDensity
	0.05, // specificity
	0.02, // priorReference
	0.03, // numericalDensity
	0.03, // largeNumbers
}

// Model is a learned 5-way tier classifier over the 15-feature vector.
// Implementations must be safe for concurrent use.
type Model interface {
	// Predict returns one probability per tier, in Tiers order.
	Predict(features [15]float64) ([5]float64, error)
}

type Classification struct {
	Tier             Tier
	Score            float64
	Confidence       float64
	Intent           Intent
	IntentConfidence float64
	Features         Features
	Method           string
}

type Classifier struct {
	model Model
}

// New returns a classifier. A nil model selects the heuristic path.
func New(model Model) *Classifier {
	return &Classifier{model: model}
}

// Classify never fails: if the learned model errors the heuristic result
// is returned instead.
func (c *Classifier) Classify(prompt string) Classification {
	features := ExtractFeatures(prompt)
	intent, intentConf := DetectIntent(prompt)

	out := Classification{
		Intent:           intent,
		IntentConfidence: intentConf,
		Features:         features,
	}

	if c.model != nil {
		if probs, err := c.model.Predict(features.Vector()); err == nil {
			best, bestProb := 0, probs[0]
			for i, p := range probs {
				if p > bestProb {
					best, bestProb = i, p
				}
			}
			out.Tier = Tiers[best]
			out.Score = roundTo(bestProb*100, 0)
			out.Confidence = bestProb
			out.Method = MethodML
			return out
		}
	}

	score := heuristicScore(features)
	out.Tier = tierForScore(score)
	out.Score = score
	out.Confidence = heuristicConfidence
	out.Method = MethodHeuristic
	return out
}

func heuristicScore(f Features) float64 {
	vec := f.Vector()
	sum := 0.0
	for i, w := range featureWeights {
		sum += vec[i] * w
	}
	return sum * 100
}

func tierForScore(score float64) Tier {
	switch {
	case score <= 10:
		return TierTrivial
	case score <= 25:
		return TierSimple
	case score <= 50:
		return TierModerate
	case score <= 75:
		return TierComplex
	default:
		return TierExpert
	}
}

func roundTo(v float64, places int) float64 {
	scale := 1.0
	for i := 0; i < places; i++ {
		scale *= 10
	}
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
