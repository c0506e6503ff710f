package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/frugalroute/frugalroute/internal/bandit"
	"github.com/frugalroute/frugalroute/internal/benchmark"
	"github.com/frugalroute/frugalroute/internal/budget"
	"github.com/frugalroute/frugalroute/internal/cache"
	"github.com/frugalroute/frugalroute/internal/catalog"
	"github.com/frugalroute/frugalroute/internal/circuitbreaker"
	"github.com/frugalroute/frugalroute/internal/classifier"
	"github.com/frugalroute/frugalroute/internal/domain"
	"github.com/frugalroute/frugalroute/internal/orchestrator"
	"github.com/frugalroute/frugalroute/internal/provider"
	"github.com/frugalroute/frugalroute/internal/provider/mock"
	"github.com/frugalroute/frugalroute/internal/ratelimit"
	"github.com/frugalroute/frugalroute/internal/store"
	"github.com/frugalroute/frugalroute/internal/tenant"
)

type testEnv struct {
	handler *Handler
	store   *store.Store
	tenants *tenant.Manager
	queue   *store.WriteQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("store.Open returned error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	models := catalog.ForProviders(map[string]bool{"mock": true})
	modelIDs := make([]string, len(models))
	for i, m := range models {
		modelIDs[i] = m.ID
	}

	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())
	bench := benchmark.NewTracker(db, time.Hour)
	queue := store.NewWriteQueue(db, time.Hour, 1000)
	tenants := tenant.NewManager(db)

	orch := &orchestrator.Orchestrator{
		Providers:  map[string]provider.Provider{"mock": mock.New()},
		Classifier: classifier.New(nil),
		Breakers:   breakers,
		Cache:      cache.NewSemanticCache(cache.DefaultConfig()),
		Bandit:     bandit.New(bandit.DefaultConfig(), modelIDs, db),
		Bench:      bench,
		Queue:      queue,
		Tenants:    tenants,
		Budget:     budget.NewMonitor(budget.DefaultThresholds()),
		Feedback:   db,
		Models:     models,
	}

	h := NewHandler(HandlerConfig{
		Orchestrator: orch,
		Tenants:      tenants,
		RateLimiter:  ratelimit.NewTokenBucketLimiter(),
		Concurrency:  ratelimit.NewConcurrencyLimiter(100),
		Breakers:     breakers,
		Bench:        bench,
		Store:        db,
		Queue:        queue,
	})

	return &testEnv{handler: h, store: db, tenants: tenants, queue: queue}
}

func completionBody(t *testing.T, content string) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: content}},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bytes.NewReader(body)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, rec.Body.String())
	}
	return envelope.Error.Type, envelope.Error.Message
}

func TestChatCompletions_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if errType, _ := decodeError(t, rec); errType != domain.ErrTypeInvalidRequest {
		t.Errorf("error type = %q, want invalid_request", errType)
	}
}

func TestChatCompletions_MissingMessages(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatCompletions_AnonymousSucceedsInMockMode(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", completionBody(t, "Hi"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	var resp domain.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Routing == nil {
		t.Fatalf("expected _routing block")
	}
	if resp.Routing.Provider != "mock" {
		t.Errorf("provider = %q, want mock", resp.Routing.Provider)
	}
}

func TestChatCompletions_VendorKeyPassesThrough(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", completionBody(t, "Hi"))
	req.Header.Set("Authorization", "Bearer sk-someupstreamkey")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for vendor-prefixed key", rec.Code)
	}
}

func TestChatCompletions_UnknownTenantKeyRejected(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", completionBody(t, "Hi"))
	req.Header.Set("x-api-key", "fra_doesnotexist")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if errType, _ := decodeError(t, rec); errType != domain.ErrTypeInvalidKey {
		t.Errorf("error type = %q, want invalid_api_key", errType)
	}
}

func TestChatCompletions_BudgetExceededRejectedBeforePipeline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	budgetLimit := 0.01
	created, key, err := env.tenants.Create(ctx, tenant.CreateParams{
		Name:               "overspent",
		BudgetLimitMonthly: &budgetLimit,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := env.tenants.RecordUsage(ctx, created.ID, 0.02); err != nil {
		t.Fatalf("RecordUsage returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", completionBody(t, "Hi"))
	req.Header.Set("Authorization", "Bearer "+key)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if errType, _ := decodeError(t, rec); errType != domain.ErrTypeBudgetExceeded {
		t.Errorf("error type = %q, want budget_exceeded", errType)
	}
}

func TestChatCompletions_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, key, err := env.tenants.Create(ctx, tenant.CreateParams{Name: "limited", RateLimitRPM: 1})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	first := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", completionBody(t, "Hi"))
	first.Header.Set("Authorization", "Bearer "+key)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", completionBody(t, "Hi again"))
	second.Header.Set("Authorization", "Bearer "+key)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, second)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if errType, _ := decodeError(t, rec); errType != domain.ErrTypeRateLimit {
		t.Errorf("error type = %q, want rate_limit_error", errType)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("remaining header = %q, want 0", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestChatCompletions_SecondRequestHitsCache(t *testing.T) {
	env := newTestEnv(t)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", completionBody(t, "Hello world"))
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusOK {
		t.Fatalf("second request status = %d", rec.Code)
	}

	var resp domain.ChatResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Routing == nil || resp.Routing.ModelSelected != "cache" {
		t.Errorf("second response routing = %+v, want cache", resp.Routing)
	}
	if resp.Routing.Cost != 0 {
		t.Errorf("cache hit cost = %v, want 0", resp.Routing.Cost)
	}
}

func TestChatCompletions_Streaming(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "stream please"}},
		Stream:   true,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}

	raw := rec.Body.String()
	if !strings.Contains(raw, `"object":"chat.completion.chunk"`) {
		t.Errorf("stream carries no canonical chunks: %s", raw)
	}
	if !strings.HasSuffix(strings.TrimSpace(raw), "data: [DONE]") {
		t.Errorf("stream must end with the [DONE] sentinel, got tail %q", raw[max(0, len(raw)-40):])
	}
}

func TestListModels(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp domain.ModelsResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Object != "list" || len(resp.Data) == 0 {
		t.Errorf("models response = %+v", resp)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "ready" {
		t.Errorf("health status = %v", resp["status"])
	}
	if _, ok := resp["queue_depth"]; !ok {
		t.Errorf("health response missing queue_depth")
	}
}

func TestCreateTenant_ReturnsKeyOnce(t *testing.T) {
	env := newTestEnv(t)

	body := `{"name":"acme","strategy":"balanced"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tenants", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var created struct {
		APIKey string `json:"api_key"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)
	if !strings.HasPrefix(created.APIKey, "fra_") {
		t.Errorf("api key = %q, want fra_ prefix", created.APIKey)
	}

	// The listing must never expose keys or hashes.
	listReq := httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	listRec := httptest.NewRecorder()
	env.handler.ServeHTTP(listRec, listReq)
	if strings.Contains(listRec.Body.String(), created.APIKey) {
		t.Errorf("tenant listing leaked the API key")
	}
	if strings.Contains(listRec.Body.String(), "api_key_hash") {
		t.Errorf("tenant listing exposed key hashes")
	}
}

func TestCreateTenant_UnknownStrategy(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/tenants", strings.NewReader(`{"name":"x","strategy":"warp"}`))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestFeedback_Validation(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/feedback", strings.NewReader(`{"model_id":"m"}`))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing request_id status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/feedback",
		strings.NewReader(`{"request_id":"r1","model_id":"mock-model","quality_score":8}`))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid feedback status = %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestStatsAndConfigEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/stats", "/api/config", "/api/benchmarks", "/api/requests"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d", path, rec.Code)
		}
	}
}
