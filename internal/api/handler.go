package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/frugalroute/frugalroute/internal/benchmark"
	"github.com/frugalroute/frugalroute/internal/circuitbreaker"
	"github.com/frugalroute/frugalroute/internal/domain"
	"github.com/frugalroute/frugalroute/internal/metrics"
	"github.com/frugalroute/frugalroute/internal/orchestrator"
	"github.com/frugalroute/frugalroute/internal/provider"
	"github.com/frugalroute/frugalroute/internal/ratelimit"
	"github.com/frugalroute/frugalroute/internal/store"
	"github.com/frugalroute/frugalroute/internal/tenant"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Key prefixes of upstream vendors: such keys pass through without tenant
// authentication.
var passthroughPrefixes = []string{"sk-", "ant-"}

const tenantKeyPrefix = "fra_"

type HandlerConfig struct {
	Orchestrator *orchestrator.Orchestrator
	Tenants      *tenant.Manager
	RateLimiter  ratelimit.RateLimiter
	Concurrency  *ratelimit.ConcurrencyLimiter
	Breakers     *circuitbreaker.Manager
	Bench        *benchmark.Tracker
	Store        *store.Store
	Queue        *store.WriteQueue
	AdminBcrypt  string
}

type Handler struct {
	orch        *orchestrator.Orchestrator
	tenants     *tenant.Manager
	rateLimiter ratelimit.RateLimiter
	concurrency *ratelimit.ConcurrencyLimiter
	breakers    *circuitbreaker.Manager
	bench       *benchmark.Tracker
	store       *store.Store
	queue       *store.WriteQueue
	adminBcrypt string
	mux         *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		orch:        cfg.Orchestrator,
		tenants:     cfg.Tenants,
		rateLimiter: cfg.RateLimiter,
		concurrency: cfg.Concurrency,
		breakers:    cfg.Breakers,
		bench:       cfg.Bench,
		store:       cfg.Store,
		queue:       cfg.Queue,
		adminBcrypt: cfg.AdminBcrypt,
		mux:         http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	h.mux.HandleFunc("GET /v1/models", h.handleListModels)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", h.handleHealthReady)
	h.mux.HandleFunc("GET /api/stats", h.handleStats)
	h.mux.HandleFunc("GET /api/config", h.handleConfig)
	h.mux.HandleFunc("GET /api/benchmarks", h.handleBenchmarks)
	h.mux.HandleFunc("GET /api/requests", h.handleRecentRequests)
	h.mux.HandleFunc("POST /api/tenants", h.adminGuard(h.handleCreateTenant))
	h.mux.HandleFunc("GET /api/tenants", h.handleListTenants)
	h.mux.HandleFunc("POST /api/feedback", h.handleFeedback)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)

	ten, ok := h.authenticate(w, r, requestID)
	if !ok {
		return
	}

	if ten != nil {
		if ten.BudgetExceeded() {
			writeError(w, http.StatusTooManyRequests, domain.ErrTypeBudgetExceeded,
				"monthly budget exceeded", requestID)
			return
		}

		allowed, remaining, resetAt, err := h.rateLimiter.Allow(ctx, ten.ID, ten.RateLimitRPM)
		if err != nil {
			slog.Error("rate limiter error", "error", err, "request_id", requestID)
			writeError(w, http.StatusInternalServerError, domain.ErrTypeInternal, "internal error", requestID)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(ten.RateLimitRPM))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", resetAt.Format(time.RFC3339))
		if !allowed {
			metrics.RecordRateLimitHit(ten.ID)
			writeError(w, http.StatusTooManyRequests, domain.ErrTypeRateLimit, "rate limit exceeded", requestID)
			return
		}
	}

	release, ok := h.concurrency.Acquire()
	if !ok {
		writeError(w, http.StatusTooManyRequests, domain.ErrTypeConcurrencyLimit,
			"too many concurrent requests", requestID)
		return
	}
	metrics.ActiveRequests.Set(float64(h.concurrency.Active()))
	defer func() {
		release()
		metrics.ActiveRequests.Set(float64(h.concurrency.Active()))
	}()

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrTypeInvalidRequest, "invalid request body", requestID)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, domain.ErrTypeInvalidRequest, "messages is required", requestID)
		return
	}

	if req.Stream {
		h.handleStreaming(w, r, req, ten, requestID)
		return
	}

	resp, err := h.orch.Complete(ctx, req, ten, requestID)
	if err != nil {
		h.writeCompletionError(w, err, requestID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)

	slog.Debug("request served",
		"request_id", requestID,
		"latency_ms", time.Since(start).Milliseconds(),
	)
}

func (h *Handler) handleStreaming(w http.ResponseWriter, r *http.Request, req domain.ChatRequest, ten *domain.Tenant, requestID string) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, domain.ErrTypeInternal, "streaming not supported", requestID)
		return
	}

	session, err := h.orch.StartStream(ctx, req, ten, requestID)
	if err != nil {
		h.writeCompletionError(w, err, requestID)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case chunk, ok := <-session.Result.Chunks:
			if !ok {
				w.Write([]byte("data: [DONE]\n\n"))
				flusher.Flush()
				session.Finish(context.WithoutCancel(ctx), orchestrator.StreamCompleted, nil)
				return
			}
			data, _ := json.Marshal(chunk)
			w.Write([]byte("data: " + string(data) + "\n\n"))
			flusher.Flush()

		case err, ok := <-session.Result.Errs:
			if ok && err != nil {
				slog.Error("streaming error", "error", err, "request_id", requestID)
				session.Finish(context.WithoutCancel(ctx), orchestrator.StreamProviderError, err)
				return
			}

		case <-ctx.Done():
			// Client went away: tear down the upstream stream but still
			// account for the work done so far.
			session.Result.Cancel()
			session.Finish(context.WithoutCancel(ctx), orchestrator.StreamDisconnected, nil)
			return
		}
	}
}

// authenticate resolves the API key to a tenant. Vendor-prefixed and
// unrecognized keys pass through anonymously; tenant-tagged keys must
// resolve. A false return means the response has been written.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, requestID string) (*domain.Tenant, bool) {
	key := extractAPIKey(r)
	if key == "" {
		return nil, true
	}

	for _, prefix := range passthroughPrefixes {
		if strings.HasPrefix(key, prefix) {
			return nil, true
		}
	}

	if !strings.HasPrefix(key, tenantKeyPrefix) {
		return nil, true
	}

	ten, err := h.tenants.Authenticate(r.Context(), key)
	if err != nil {
		slog.Warn("invalid API key", "request_id", requestID)
		writeError(w, http.StatusUnauthorized, domain.ErrTypeInvalidKey, "invalid API key", requestID)
		return nil, false
	}
	return ten, true
}

// writeCompletionError maps pipeline errors onto the wire taxonomy.
func (h *Handler) writeCompletionError(w http.ResponseWriter, err error, requestID string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, domain.ErrTypeInvalidRequest, err.Error(), requestID)
	case errors.Is(err, domain.ErrCircuitBreakerOpen):
		writeError(w, http.StatusServiceUnavailable, domain.ErrTypeServiceDown,
			"no healthy provider available", requestID)
	case errors.Is(err, domain.ErrProviderNotFound):
		writeError(w, http.StatusBadGateway, domain.ErrTypeProviderError, "no provider available", requestID)
	default:
		if pe, ok := provider.AsError(err); ok {
			status := pe.Status
			if status == 0 || status < 400 {
				status = http.StatusBadGateway
			}
			writeError(w, status, domain.ErrTypeProviderError, pe.Message, requestID)
			return
		}
		slog.Error("completion failed", "error", err, "request_id", requestID)
		writeError(w, http.StatusInternalServerError, domain.ErrTypeInternal, "internal error", requestID)
	}
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := make([]domain.Model, 0, len(h.orch.Models))
	for _, e := range h.orch.Models {
		models = append(models, domain.Model{
			ID:       e.ID,
			Object:   "model",
			OwnedBy:  e.Provider,
			Provider: e.Provider,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(domain.ModelsResponse{Object: "list", Data: models})
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("x-api-key")
}

func writeError(w http.ResponseWriter, status int, errType, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message":   message,
			"type":      errType,
			"code":      status,
			"requestId": requestID,
		},
	})
}
