package bandit

import (
	"context"
	"testing"
	"time"

	"github.com/frugalroute/frugalroute/internal/domain"
)

func testEngine(models ...string) *Engine {
	return New(DefaultConfig(), models, nil)
}

func TestScores_AllModelsScored(t *testing.T) {
	e := testEngine("a", "b")

	scores := e.Scores("tenant-1", []string{"a", "b"})
	if len(scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(scores))
	}
	for model, s := range scores {
		if s < 0.05 || s > 1 {
			t.Errorf("score for %q = %v, want in [0.05,1]", model, s)
		}
	}
}

func TestScores_ExplorationFloor(t *testing.T) {
	e := testEngine("a")

	// Hammer the posterior with failures; the floor must still hold.
	for i := 0; i < 1000; i++ {
		e.Update("", "a", 0)
	}

	for i := 0; i < 100; i++ {
		scores := e.Scores("", []string{"a"})
		if scores["a"] < 0.05 {
			t.Fatalf("sampled score %v below exploration floor", scores["a"])
		}
	}
}

func TestUpdate_PosteriorBounds(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg, []string{"a"}, nil)

	for i := 0; i < 5000; i++ {
		e.Update("tenant-1", "a", 1)
	}

	for scope, byModel := range e.Snapshot() {
		for model, p := range byModel {
			if p.Alpha <= 0 || p.Beta <= 0 {
				t.Errorf("%s/%s posterior has non-positive parameter: %+v", scope, model, p)
			}
			if total := p.Alpha + p.Beta; total > cfg.WindowSize+1e-6 {
				t.Errorf("%s/%s alpha+beta = %v exceeds window %v", scope, model, total, cfg.WindowSize)
			}
		}
	}
}

func TestUpdate_PosteriorMeanMonotonic(t *testing.T) {
	e := testEngine("a")

	mean := 0.5
	for i := 0; i < 50; i++ {
		e.Update("", "a", 1)
		got := e.Snapshot()[globalScope]["a"].Mean()
		if got < mean-1e-9 {
			t.Fatalf("posterior mean decreased under positive feedback: %v -> %v", mean, got)
		}
		mean = got
	}
	if mean <= 0.5 {
		t.Errorf("posterior mean after 50 positive rewards = %v, want > 0.5", mean)
	}
}

func TestUpdate_TenantAndGlobalScopes(t *testing.T) {
	e := testEngine("a")

	e.Update("tenant-1", "a", 1)

	snap := e.Snapshot()
	if snap[globalScope]["a"].Alpha <= 1 {
		t.Errorf("global posterior should move on tenant feedback")
	}
	if snap["tenant-1"]["a"].Alpha <= 1 {
		t.Errorf("tenant posterior should move on tenant feedback")
	}
	if _, ok := snap["tenant-2"]; ok {
		t.Errorf("unrelated tenant scope should not exist")
	}
}

func TestReward_AllFactorsPresent(t *testing.T) {
	success := true
	quality := 10.0
	latency := 0.0
	cost := 0.0
	fb := domain.Feedback{
		Success:      &success,
		QualityScore: &quality,
		LatencyMs:    &latency,
		Cost:         &cost,
	}

	if got := Reward(fb); got != 1 {
		t.Errorf("perfect feedback reward = %v, want 1", got)
	}
}

func TestReward_AbsentFactorsNeutral(t *testing.T) {
	got := Reward(domain.Feedback{})
	if got != 0.5 {
		t.Errorf("all-absent feedback reward = %v, want neutral 0.5", got)
	}
}

func TestReward_FailureDragsReward(t *testing.T) {
	success := false
	failed := Reward(domain.Feedback{Success: &success})
	ok := true
	passed := Reward(domain.Feedback{Success: &ok})

	if failed >= passed {
		t.Errorf("failure reward %v should be below success reward %v", failed, passed)
	}
}

type fakeSource struct {
	rows map[string][]domain.Feedback
}

func (f *fakeSource) RecentFeedback(_ context.Context, modelID string, _ int) ([]domain.Feedback, error) {
	return f.rows[modelID], nil
}

func TestRecompute_RebuildsGlobalKeepsTenant(t *testing.T) {
	success := true
	source := &fakeSource{rows: map[string][]domain.Feedback{
		"a": {
			{ModelID: "a", Success: &success, Timestamp: time.Now()},
			{ModelID: "a", Success: &success, Timestamp: time.Now()},
		},
	}}
	e := New(DefaultConfig(), []string{"a"}, source)

	// Seed both scopes, then recompute.
	e.Update("tenant-1", "a", 0)
	tenantBefore := e.Snapshot()["tenant-1"]["a"]

	if err := e.Recompute(context.Background()); err != nil {
		t.Fatalf("Recompute returned error: %v", err)
	}

	snap := e.Snapshot()
	global := snap[globalScope]["a"]
	if global.Mean() <= 0.5 {
		t.Errorf("global mean after positive stored feedback = %v, want > 0.5", global.Mean())
	}
	if snap["tenant-1"]["a"] != tenantBefore {
		t.Errorf("tenant posterior must survive recompute unchanged")
	}
}
