package classifier

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Features is the 15-value vector extracted from a prompt. Every value is
// normalized to [0,1] before it reaches the weighted sum or the learned
// model.
type Features struct {
	CharCount            float64
	WordCount            float64
	SentenceCount        float64
	AvgWordLength        float64
	AvgSentenceLength    float64
	TypeTokenRatio       float64
	CodeIndicator        float64
	QuestionDepth        float64
	StructuralComplexity float64
	TechDensity          float64
	ReasoningDensity     float64
	Specificity          float64
	PriorReference       float64
	NumericalDensity     float64
	LargeNumbers         float64
}

// Vector returns the features in their canonical order.
func (f Features) Vector() [15]float64 {
	return [15]float64{
		f.CharCount, f.WordCount, f.SentenceCount, f.AvgWordLength,
		f.AvgSentenceLength, f.TypeTokenRatio, f.CodeIndicator,
		f.QuestionDepth, f.StructuralComplexity, f.TechDensity,
		f.ReasoningDensity, f.Specificity, f.PriorReference,
		f.NumericalDensity, f.LargeNumbers,
	}
}

var techTerms = []string{
	"algorithm", "architecture", "implementation", "optimization",
	"performance", "scalability", "concurrency", "asynchronous", "middleware",
	"microservice", "database", "schema", "encryption", "authentication",
	"authorization", "infrastructure", "deployment", "configuration",
	"abstraction", "inheritance", "polymorphism", "encapsulation",
	"normalization", "denormalization", "serialization", "deserialization",
}

var reasoningPhrases = []string{
	"step-by-step", "explain why", "reason through", "think about",
	"consider", "analyze", "evaluate", "compare and contrast",
	"what are the implications", "how would you approach", "design a system",
}

var constraintWords = []string{
	"must", "should", "exactly", "precisely", "no more than", "at least", "between",
}

var formatWords = []string{
	"json", "xml", "csv", "markdown", "table", "list", "bullet", "format as", "output as",
}

var priorRefWords = []string{
	"above", "previous", "earlier", "you said", "you mentioned", "as i said",
}

var digitRunRe = regexp.MustCompile(`\d+`)

// ExtractFeatures computes the normalized feature vector for a prompt.
func ExtractFeatures(prompt string) Features {
	words := strings.Fields(prompt)
	sentences := splitSentences(prompt)
	lower := strings.ToLower(prompt)

	var f Features

	f.CharCount = capAt(float64(len(prompt))/5000, 1)
	f.WordCount = capAt(float64(len(words))/1000, 1)
	f.SentenceCount = capAt(float64(len(sentences))/50, 1)

	totalLen := 0
	for _, w := range words {
		totalLen += len(w)
	}
	f.AvgWordLength = capAt(float64(totalLen)/float64(maxInt(len(words), 1))/12, 1)
	f.AvgSentenceLength = capAt(float64(len(words))/float64(maxInt(len(sentences), 1))/40, 1)

	unique := make(map[string]bool, len(words))
	for _, w := range words {
		unique[strings.ToLower(w)] = true
	}
	f.TypeTokenRatio = float64(len(unique)) / float64(maxInt(len(words), 1))

	fencedBlocks := strings.Count(prompt, "```") / 2
	switch {
	case fencedBlocks > 0:
		f.CodeIndicator = 1
	case strings.Count(prompt, "`") >= 2:
		f.CodeIndicator = 0.5
	}

	f.QuestionDepth = capAt(float64(strings.Count(prompt, "?"))/3, 1)

	bullets, numbered := 0, 0
	for _, line := range strings.Split(prompt, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "•") {
			bullets++
		} else if unicode.IsDigit(rune(trimmed[0])) {
			numbered++
		}
	}
	f.StructuralComplexity = capAt(float64(bullets+numbered)/5, 1)

	f.TechDensity = capAt(float64(countHits(lower, techTerms))/5, 1)
	f.ReasoningDensity = capAt(float64(countHits(lower, reasoningPhrases))/3, 1)

	if containsAny(lower, constraintWords) {
		f.Specificity += 0.5
	}
	if containsAny(lower, formatWords) {
		f.Specificity += 0.5
	}

	if containsAny(lower, priorRefWords) {
		f.PriorReference = 1
	}

	runs := digitRunRe.FindAllString(prompt, -1)
	f.NumericalDensity = capAt(float64(len(runs))/10, 1)
	for _, r := range runs {
		if n, err := strconv.Atoi(r); err == nil && n > 1000 {
			f.LargeNumbers = 1
			break
		}
	}

	return f
}

func splitSentences(prompt string) []string {
	replaced := strings.NewReplacer("!", ".", "?", ".").Replace(prompt)
	var out []string
	for _, s := range strings.Split(replaced, ".") {
		if strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func countHits(lower string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}

func containsAny(lower string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func capAt(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
