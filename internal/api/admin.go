package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/frugalroute/frugalroute/internal/bandit"
	"github.com/frugalroute/frugalroute/internal/catalog"
	"github.com/frugalroute/frugalroute/internal/domain"
	"github.com/frugalroute/frugalroute/internal/router"
	"github.com/frugalroute/frugalroute/internal/tenant"
	"golang.org/x/crypto/bcrypt"
)

// adminGuard wraps tenant-mutating endpoints with a bearer-token check
// against the configured bcrypt hash. With no hash configured the guard
// is a no-op.
func (h *Handler) adminGuard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.adminBcrypt == "" {
			next(w, r)
			return
		}

		token := extractAPIKey(r)
		if token == "" || bcrypt.CompareHashAndPassword([]byte(h.adminBcrypt), []byte(token)) != nil {
			writeError(w, http.StatusUnauthorized, domain.ErrTypeAuthentication, "admin authentication required", "")
			return
		}
		next(w, r)
	}
}

type createTenantResponse struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	APIKey             string   `json:"api_key"`
	Strategy           string   `json:"strategy"`
	AllowedModels      []string `json:"allowed_models,omitempty"`
	BudgetLimitMonthly *float64 `json:"budget_limit_monthly,omitempty"`
	RateLimitRPM       int      `json:"rate_limit_rpm"`
	RateLimitTPM       int      `json:"rate_limit_tpm"`
}

func (h *Handler) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var params tenant.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrTypeInvalidRequest, "invalid request body", "")
		return
	}
	if params.Strategy != "" && !router.ValidStrategy(params.Strategy) {
		writeError(w, http.StatusBadRequest, domain.ErrTypeInvalidRequest, "unknown strategy", "")
		return
	}

	ten, key, err := h.tenants.Create(r.Context(), params)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, domain.ErrTypeInvalidRequest, err.Error(), "")
			return
		}
		slog.Error("tenant creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, domain.ErrTypeInternal, "internal error", "")
		return
	}

	slog.Info("tenant created", "tenant_id", ten.ID, "name", ten.Name)

	// The plaintext key appears in this response and nowhere else.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(createTenantResponse{
		ID:                 ten.ID,
		Name:               ten.Name,
		APIKey:             key,
		Strategy:           ten.Strategy,
		AllowedModels:      ten.AllowedModels,
		BudgetLimitMonthly: ten.BudgetLimitMonthly,
		RateLimitRPM:       ten.RateLimitRPM,
		RateLimitTPM:       ten.RateLimitTPM,
	})
}

type tenantView struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Strategy           string    `json:"strategy"`
	AllowedModels      []string  `json:"allowed_models,omitempty"`
	BudgetLimitMonthly *float64  `json:"budget_limit_monthly,omitempty"`
	RateLimitRPM       int       `json:"rate_limit_rpm"`
	RateLimitTPM       int       `json:"rate_limit_tpm"`
	UsageThisMonth     float64   `json:"usage_this_month"`
	CreatedAt          time.Time `json:"created_at"`
}

func (h *Handler) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenants.List(r.Context())
	if err != nil {
		slog.Error("tenant list failed", "error", err)
		writeError(w, http.StatusInternalServerError, domain.ErrTypeInternal, "internal error", "")
		return
	}

	views := make([]tenantView, 0, len(tenants))
	for _, t := range tenants {
		views = append(views, tenantView{
			ID:                 t.ID,
			Name:               t.Name,
			Strategy:           t.Strategy,
			AllowedModels:      t.AllowedModels,
			BudgetLimitMonthly: t.BudgetLimitMonthly,
			RateLimitRPM:       t.RateLimitRPM,
			RateLimitTPM:       t.RateLimitTPM,
			UsageThisMonth:     t.UsageThisMonth,
			CreatedAt:          t.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"tenants": views})
}

type feedbackRequest struct {
	RequestID    string   `json:"request_id"`
	ModelID      string   `json:"model_id"`
	TenantID     string   `json:"tenant_id,omitempty"`
	QualityScore *float64 `json:"quality_score,omitempty"`
	LatencyMs    *float64 `json:"latency_ms,omitempty"`
	Cost         *float64 `json:"cost,omitempty"`
	Success      *bool    `json:"success,omitempty"`
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrTypeInvalidRequest, "invalid request body", "")
		return
	}
	if req.RequestID == "" || req.ModelID == "" {
		writeError(w, http.StatusBadRequest, domain.ErrTypeInvalidRequest, "request_id and model_id are required", "")
		return
	}
	if req.QualityScore != nil && (*req.QualityScore < 0 || *req.QualityScore > 10) {
		writeError(w, http.StatusBadRequest, domain.ErrTypeInvalidRequest, "quality_score must be in [0,10]", "")
		return
	}

	fb := domain.Feedback{
		RequestID:    req.RequestID,
		ModelID:      req.ModelID,
		TenantID:     req.TenantID,
		QualityScore: req.QualityScore,
		LatencyMs:    req.LatencyMs,
		Cost:         req.Cost,
		Success:      req.Success,
		Timestamp:    time.Now().UTC(),
	}

	if err := h.store.InsertFeedback(r.Context(), fb); err != nil {
		slog.Error("feedback insert failed", "error", err)
		writeError(w, http.StatusInternalServerError, domain.ErrTypeInternal, "internal error", "")
		return
	}
	h.orch.Bandit.Update(req.TenantID, req.ModelID, bandit.Reward(fb))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "recorded"})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		slog.Error("stats query failed", "error", err)
		writeError(w, http.StatusInternalServerError, domain.ErrTypeInternal, "internal error", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"totals":      stats,
		"cache":       h.orch.Cache.Stats(),
		"bandit":      h.orch.Bandit.Snapshot(),
		"queue_depth": h.queue.Depth(),
		"degraded":    h.queue.Degraded(),
	})
}

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"strategies": router.Strategies(),
		"models":     catalog.All(),
	})
}

func (h *Handler) handleBenchmarks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"models":   h.bench.All(),
		"breakers": h.breakers.Snapshot(),
	})
}

func (h *Handler) handleRecentRequests(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	rows, err := h.store.RecentRequests(r.Context(), limit)
	if err != nil {
		slog.Error("recent requests query failed", "error", err)
		writeError(w, http.StatusInternalServerError, domain.ErrTypeInternal, "internal error", "")
		return
	}

	type requestView struct {
		RequestID     string    `json:"request_id"`
		TenantID      string    `json:"tenant_id,omitempty"`
		PromptPreview string    `json:"prompt_preview"`
		Complexity    string    `json:"complexity"`
		Intent        string    `json:"intent"`
		Model         string    `json:"model"`
		Provider      string    `json:"provider"`
		Strategy      string    `json:"strategy"`
		Cost          float64   `json:"cost"`
		LatencyMs     int64     `json:"latency_ms"`
		CacheHit      bool      `json:"cache_hit"`
		Timestamp     time.Time `json:"timestamp"`
	}

	views := make([]requestView, 0, len(rows))
	for _, row := range rows {
		views = append(views, requestView{
			RequestID:     row.RequestID,
			TenantID:      row.TenantID,
			PromptPreview: row.PromptPreview,
			Complexity:    row.Complexity,
			Intent:        row.Intent,
			Model:         row.Model,
			Provider:      row.Provider,
			Strategy:      row.Strategy,
			Cost:          row.Cost,
			LatencyMs:     row.LatencyMs,
			CacheHit:      row.CacheHit,
			Timestamp:     row.Timestamp,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"requests": views})
}
