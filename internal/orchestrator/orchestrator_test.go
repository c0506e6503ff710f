package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/frugalroute/frugalroute/internal/bandit"
	"github.com/frugalroute/frugalroute/internal/benchmark"
	"github.com/frugalroute/frugalroute/internal/cache"
	"github.com/frugalroute/frugalroute/internal/catalog"
	"github.com/frugalroute/frugalroute/internal/circuitbreaker"
	"github.com/frugalroute/frugalroute/internal/classifier"
	"github.com/frugalroute/frugalroute/internal/domain"
	"github.com/frugalroute/frugalroute/internal/provider"
	"github.com/frugalroute/frugalroute/internal/store"
	"github.com/frugalroute/frugalroute/internal/tenant"
)

// fakeProvider returns a canned completion or a fixed error.
type fakeProvider struct {
	id    string
	err   error
	calls int
}

func (p *fakeProvider) ID() string { return p.id }

func (p *fakeProvider) ChatCompletion(_ context.Context, req domain.ChatRequest) (*provider.Result, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &provider.Result{
		Response: &domain.ChatResponse{
			ID:     "chatcmpl-fake",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []domain.Choice{
				{Index: 0, Message: &domain.Message{Role: "assistant", Content: "ok"}, FinishReason: "stop"},
			},
			Usage: domain.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		},
		LatencyMs:    5,
		Attempt:      1,
		Status:       200,
		InputTokens:  10,
		OutputTokens: 20,
	}, nil
}

func (p *fakeProvider) ChatCompletionStream(context.Context, domain.ChatRequest) (*provider.StreamResult, error) {
	return nil, errors.New("not implemented")
}

func testModels() []catalog.Entry {
	return []catalog.Entry{
		{
			ID: "alpha-model", Provider: "alpha",
			InputCostPer1M: 0.1, OutputCostPer1M: 0.2,
			AvgLatencyMs: 100, Reliability: 0.99, EnergyIntensity: 0.1,
			QualityScore: 70, Strengths: []string{"qa"},
		},
		{
			ID: "beta-model", Provider: "beta",
			InputCostPer1M: 1.0, OutputCostPer1M: 2.0,
			AvgLatencyMs: 500, Reliability: 0.99, EnergyIntensity: 0.5,
			QualityScore: 90, Strengths: []string{"qa", "reasoning"},
		},
	}
}

func testOrchestrator(t *testing.T, providers map[string]provider.Provider) (*Orchestrator, *store.Store) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "orch.db"))
	if err != nil {
		t.Fatalf("store.Open returned error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	models := testModels()
	modelIDs := make([]string, len(models))
	for i, m := range models {
		modelIDs[i] = m.ID
	}

	return &Orchestrator{
		Providers:  providers,
		Classifier: classifier.New(nil),
		Breakers:   circuitbreaker.NewManager(circuitbreaker.DefaultConfig()),
		Cache:      cache.NewSemanticCache(cache.DefaultConfig()),
		Bandit:     bandit.New(bandit.DefaultConfig(), modelIDs, db),
		Bench:      benchmark.NewTracker(db, time.Hour),
		Queue:      store.NewWriteQueue(db, time.Hour, 1000),
		Tenants:    tenant.NewManager(db),
		Feedback:   db,
		Models:     models,
	}, db
}

func simpleRequest(content string) domain.ChatRequest {
	return domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: content}},
		Strategy: "cost-first",
	}
}

func TestComplete_AttachesRoutingMetadata(t *testing.T) {
	o, _ := testOrchestrator(t, map[string]provider.Provider{
		"alpha": &fakeProvider{id: "alpha"},
		"beta":  &fakeProvider{id: "beta"},
	})

	resp, err := o.Complete(context.Background(), simpleRequest("Hi"), nil, "req-1")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	r := resp.Routing
	if r == nil {
		t.Fatalf("expected _routing metadata")
	}
	if r.RequestID != "req-1" {
		t.Errorf("request id = %q", r.RequestID)
	}
	if r.Complexity != "trivial" {
		t.Errorf("complexity = %q, want trivial for Hi", r.Complexity)
	}
	if r.Strategy != "cost-first" {
		t.Errorf("strategy = %q", r.Strategy)
	}
	if r.ModelSelected == "" || r.Provider == "" {
		t.Errorf("routing block missing selection: %+v", r)
	}
	if len(r.ScoreBreakdown) != 6 {
		t.Errorf("score breakdown has %d components, want 6", len(r.ScoreBreakdown))
	}
}

func TestComplete_NoUserMessage(t *testing.T) {
	o, _ := testOrchestrator(t, map[string]provider.Provider{"alpha": &fakeProvider{id: "alpha"}})

	req := domain.ChatRequest{Messages: []domain.Message{{Role: "system", Content: "be terse"}}}
	_, err := o.Complete(context.Background(), req, nil, "req-1")
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("error = %v, want ErrInvalidRequest", err)
	}
}

func TestComplete_SecondIdenticalPromptHitsCache(t *testing.T) {
	alpha := &fakeProvider{id: "alpha"}
	o, db := testOrchestrator(t, map[string]provider.Provider{"alpha": alpha, "beta": &fakeProvider{id: "beta"}})
	ctx := context.Background()

	if _, err := o.Complete(ctx, simpleRequest("Hello world"), nil, "req-1"); err != nil {
		t.Fatalf("first Complete returned error: %v", err)
	}

	resp, err := o.Complete(ctx, simpleRequest("Hello world"), nil, "req-2")
	if err != nil {
		t.Fatalf("second Complete returned error: %v", err)
	}
	if resp.Routing.ModelSelected != "cache" {
		t.Errorf("second response model = %q, want cache", resp.Routing.ModelSelected)
	}
	if resp.Routing.Cost != 0 {
		t.Errorf("cache hit cost = %v, want 0", resp.Routing.Cost)
	}

	o.Queue.Flush(ctx)
	row, err := db.GetRequest(ctx, "req-2")
	if err != nil || row == nil {
		t.Fatalf("expected log row for cache hit, err=%v", err)
	}
	if !row.CacheHit || row.Cost != 0 {
		t.Errorf("cache-hit log row = %+v", row)
	}
}

func TestComplete_FallsBackOnProviderFailure(t *testing.T) {
	failing := &fakeProvider{id: "alpha", err: &provider.Error{Provider: "alpha", Status: 500, Message: "boom"}}
	healthy := &fakeProvider{id: "beta"}
	o, _ := testOrchestrator(t, map[string]provider.Provider{"alpha": failing, "beta": healthy})

	resp, err := o.Complete(context.Background(), simpleRequest("Hi"), nil, "req-1")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if resp.Routing.Provider != "beta" {
		t.Errorf("fallback provider = %q, want beta", resp.Routing.Provider)
	}
	if failing.calls != 1 || healthy.calls != 1 {
		t.Errorf("calls alpha=%d beta=%d, want 1 and 1", failing.calls, healthy.calls)
	}
}

func TestComplete_AllProvidersFail(t *testing.T) {
	o, _ := testOrchestrator(t, map[string]provider.Provider{
		"alpha": &fakeProvider{id: "alpha", err: &provider.Error{Provider: "alpha", Status: 502, Message: "down"}},
		"beta":  &fakeProvider{id: "beta", err: &provider.Error{Provider: "beta", Status: 502, Message: "down"}},
	})

	_, err := o.Complete(context.Background(), simpleRequest("Hi"), nil, "req-1")
	if err == nil {
		t.Fatalf("expected error when every provider fails")
	}
	if pe, ok := provider.AsError(err); !ok || pe.Status != 502 {
		t.Errorf("error = %v, want last provider error", err)
	}
}

func TestComplete_LogRowMatchesRouting(t *testing.T) {
	o, db := testOrchestrator(t, map[string]provider.Provider{
		"alpha": &fakeProvider{id: "alpha"},
		"beta":  &fakeProvider{id: "beta"},
	})
	ctx := context.Background()

	resp, err := o.Complete(ctx, simpleRequest("Compare and contrast the tradeoffs of the two designs"), nil, "req-rt")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	o.Queue.Flush(ctx)
	row, err := db.GetRequest(ctx, "req-rt")
	if err != nil || row == nil {
		t.Fatalf("expected log row, err=%v", err)
	}

	r := resp.Routing
	if row.Complexity != r.Complexity || row.Intent != r.Intent ||
		row.Strategy != r.Strategy || row.Model != r.ModelSelected {
		t.Errorf("log row %+v does not match routing block %+v", row, r)
	}
}

func TestComplete_RecordsFeedbackRow(t *testing.T) {
	o, db := testOrchestrator(t, map[string]provider.Provider{
		"alpha": &fakeProvider{id: "alpha"},
		"beta":  &fakeProvider{id: "beta"},
	})
	ctx := context.Background()

	resp, err := o.Complete(ctx, simpleRequest("Hi"), nil, "req-fb")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	rows, err := db.RecentFeedback(ctx, resp.Routing.ModelSelected, 10)
	if err != nil {
		t.Fatalf("RecentFeedback returned error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("feedback rows = %d, want exactly 1", len(rows))
	}
	if rows[0].Success == nil || !*rows[0].Success {
		t.Errorf("implicit feedback should mark success")
	}
}
