package classifier

import (
	"strings"
	"testing"
)

func TestClassify_ScoreAlwaysInRange(t *testing.T) {
	c := New(nil)

	prompts := []string{
		"",
		"Hi",
		"What is the capital of France?",
		"Write a function to reverse a linked list in Go with `O(1)` space",
		strings.Repeat("Explain the architecture of a scalable microservice deployment. ", 200),
	}

	for _, p := range prompts {
		got := c.Classify(p)
		if got.Score < 0 || got.Score > 100 {
			t.Errorf("Classify(%q).Score = %v, want in [0,100]", p[:min(len(p), 30)], got.Score)
		}
		valid := false
		for _, tier := range Tiers {
			if got.Tier == tier {
				valid = true
			}
		}
		if !valid {
			t.Errorf("Classify(%q).Tier = %q, not a known tier", p[:min(len(p), 30)], got.Tier)
		}
	}
}

func TestClassify_TrivialPrompt(t *testing.T) {
	c := New(nil)

	got := c.Classify("Hi")
	if got.Tier != TierTrivial {
		t.Errorf("expected trivial tier, got %q (score %v)", got.Tier, got.Score)
	}
	if got.Score > 10 {
		t.Errorf("expected score <= 10 for trivial prompt, got %v", got.Score)
	}
	if got.Method != MethodHeuristic {
		t.Errorf("expected heuristic method, got %q", got.Method)
	}
	if got.Confidence != 0.65 {
		t.Errorf("expected fixed heuristic confidence 0.65, got %v", got.Confidence)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := New(nil)
	prompt := "Design a system for processing 50000 events per second. Consider the implications of eventual consistency."

	first := c.Classify(prompt)
	for i := 0; i < 5; i++ {
		got := c.Classify(prompt)
		if got.Score != first.Score || got.Tier != first.Tier || got.Intent != first.Intent {
			t.Fatalf("classification not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestClassify_CodeRaisesScore(t *testing.T) {
	c := New(nil)

	plain := c.Classify("Please sort this list of numbers for me")
	code := c.Classify("Please sort this list of numbers for me\n```python\nnums.sort()\n```")

	if code.Score <= plain.Score {
		t.Errorf("fenced code should raise score: plain=%v code=%v", plain.Score, code.Score)
	}
}

func TestTierForScore_Thresholds(t *testing.T) {
	tests := []struct {
		score float64
		want  Tier
	}{
		{0, TierTrivial},
		{10, TierTrivial},
		{10.1, TierSimple},
		{25, TierSimple},
		{25.1, TierModerate},
		{50, TierModerate},
		{50.1, TierComplex},
		{75, TierComplex},
		{75.1, TierExpert},
		{100, TierExpert},
	}

	for _, tt := range tests {
		if got := tierForScore(tt.score); got != tt.want {
			t.Errorf("tierForScore(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

type stubModel struct {
	probs [5]float64
	err   error
}

func (m *stubModel) Predict([15]float64) ([5]float64, error) {
	return m.probs, m.err
}

func TestClassify_LearnedPath(t *testing.T) {
	c := New(&stubModel{probs: [5]float64{0.05, 0.05, 0.1, 0.2, 0.6}})

	got := c.Classify("Derive the asymptotic variance of the maximum-likelihood estimator for a Pareto distribution")
	if got.Tier != TierExpert {
		t.Errorf("expected expert tier from model argmax, got %q", got.Tier)
	}
	if got.Score != 60 {
		t.Errorf("expected score 60 (round of maxProb*100), got %v", got.Score)
	}
	if got.Confidence != 0.6 {
		t.Errorf("expected confidence 0.6, got %v", got.Confidence)
	}
	if got.Method != MethodML {
		t.Errorf("expected ml method, got %q", got.Method)
	}
}

func TestClassify_LearnedFailureFallsBack(t *testing.T) {
	c := New(&stubModel{err: errFake})

	got := c.Classify("Hi")
	if got.Method != MethodHeuristic {
		t.Errorf("expected silent fallback to heuristic, got method %q", got.Method)
	}
}

var errFake = &fakeErr{}

type fakeErr struct{}

func (*fakeErr) Error() string { return "model unavailable" }
