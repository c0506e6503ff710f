package classifier

import (
	"regexp"
	"strings"
)

type Intent string

const (
	IntentCode        Intent = "code"
	IntentMath        Intent = "math"
	IntentAnalysis    Intent = "analysis"
	IntentCreative    Intent = "creative"
	IntentTranslation Intent = "translation"
	IntentQA          Intent = "qa"
	IntentGeneral     Intent = "general"
)

type intentProfile struct {
	intent   Intent
	keywords []string
	patterns []*regexp.Regexp
}

// Regex hits count double: a pattern match is a stronger signal than a
// keyword occurrence.
var intentProfiles = []intentProfile{
	{
		intent: IntentCode,
		keywords: []string{
			"code", "function", "debug", "compile", "implement", "refactor",
			"bug", "api", "class", "script", "library", "syntax",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile("```"),
			regexp.MustCompile(`\b(def|func|var|const|import|return)\b`),
			regexp.MustCompile(`(?i)\bwrite (a|some|the)? ?(code|program|function|script)\b`),
		},
	},
	{
		intent: IntentMath,
		keywords: []string{
			"calculate", "solve", "equation", "derivative", "integral",
			"probability", "theorem", "matrix", "statistics", "variance",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\d+\s*[+\-*/^=]\s*\d+`),
			regexp.MustCompile(`(?i)\b(prove|derive|compute)\b`),
		},
	},
	{
		intent: IntentAnalysis,
		keywords: []string{
			"analyze", "evaluate", "assess", "compare", "tradeoff",
			"implications", "pros and cons", "review", "critique",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bwhat are the (implications|tradeoffs|risks)\b`),
			regexp.MustCompile(`(?i)\bcompare and contrast\b`),
		},
	},
	{
		intent: IntentCreative,
		keywords: []string{
			"write a story", "poem", "creative", "fiction", "imagine",
			"brainstorm", "slogan", "lyrics", "narrative",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bwrite (a|an)\s+(story|poem|song|essay|tale)\b`),
		},
	},
	{
		intent: IntentTranslation,
		keywords: []string{
			"translate", "translation", "in french", "in spanish", "in german",
			"in japanese", "in portuguese", "into english",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\btranslate .+ (to|into)\b`),
		},
	},
	{
		intent: IntentQA,
		keywords: []string{
			"what is", "who is", "when did", "where is", "how does",
			"define", "explain", "summarize", "tell me about",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^(what|who|when|where|why|how)\b`),
		},
	},
}

// DetectIntent scores each non-general intent as keyword hits plus twice
// the regex hits and picks the argmax; on a tie the intent listed first in
// intentProfiles wins, and an all-zero score resolves to general. The
// confidence is the winner's share of the total score.
func DetectIntent(prompt string) (Intent, float64) {
	lower := strings.ToLower(prompt)

	best := IntentGeneral
	bestScore, total := 0, 0
	for _, p := range intentProfiles {
		score := 0
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		for _, re := range p.patterns {
			if re.MatchString(prompt) {
				score += 2
			}
		}
		total += score
		if score > bestScore {
			best, bestScore = p.intent, score
		}
	}

	if bestScore == 0 {
		return IntentGeneral, 0
	}
	return best, float64(bestScore) / float64(total)
}

// RequiredStrengths maps an intent to the model strength tags the router
// rewards when computing quality match.
func RequiredStrengths(intent Intent) []string {
	switch intent {
	case IntentCode:
		return []string{"code", "reasoning"}
	case IntentMath:
		return []string{"math", "reasoning"}
	case IntentAnalysis:
		return []string{"analysis", "reasoning"}
	case IntentCreative:
		return []string{"creative"}
	case IntentTranslation:
		return []string{"translation"}
	case IntentQA:
		return []string{"qa", "summarization"}
	default:
		return nil
	}
}
