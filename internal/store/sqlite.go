// Package store is the embedded persistence layer: a single SQLite file in
// WAL mode holding request logs, tenants, routing feedback, and model
// health. Writes are serialized through prepared statements; WAL keeps
// readers unblocked during writes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/frugalroute/frugalroute/internal/benchmark"
	"github.com/frugalroute/frugalroute/internal/domain"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	request_id        TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL DEFAULT '',
	prompt_preview    TEXT NOT NULL DEFAULT '',
	complexity        TEXT NOT NULL DEFAULT '',
	complexity_score  REAL NOT NULL DEFAULT 0,
	confidence        REAL NOT NULL DEFAULT 0,
	intent            TEXT NOT NULL DEFAULT '',
	model             TEXT NOT NULL DEFAULT '',
	provider          TEXT NOT NULL DEFAULT '',
	strategy          TEXT NOT NULL DEFAULT '',
	input_tokens      INTEGER NOT NULL DEFAULT 0,
	output_tokens     INTEGER NOT NULL DEFAULT 0,
	cost              REAL NOT NULL DEFAULT 0,
	energy            REAL NOT NULL DEFAULT 0,
	latency_ms        INTEGER NOT NULL DEFAULT 0,
	provider_status   INTEGER NOT NULL DEFAULT 0,
	cache_hit         INTEGER NOT NULL DEFAULT 0,
	routing_reasoning TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_tenant ON requests(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);

CREATE TABLE IF NOT EXISTS tenants (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	api_key_hash         TEXT NOT NULL UNIQUE,
	strategy             TEXT NOT NULL DEFAULT 'cost-first',
	allowed_models       TEXT,
	budget_limit_monthly REAL,
	rate_limit_rpm       INTEGER NOT NULL DEFAULT 60,
	rate_limit_tpm       INTEGER NOT NULL DEFAULT 100000,
	usage_this_month     REAL NOT NULL DEFAULT 0,
	created_at           TIMESTAMP NOT NULL,
	updated_at           TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS routing_feedback (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id    TEXT NOT NULL,
	model_id      TEXT NOT NULL,
	tenant_id     TEXT NOT NULL DEFAULT '',
	quality_score REAL,
	latency_ms    REAL,
	cost          REAL,
	success       INTEGER,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_model ON routing_feedback(model_id, created_at);

CREATE TABLE IF NOT EXISTS model_health (
	model_id        TEXT PRIMARY KEY,
	mean_latency_ms REAL NOT NULL DEFAULT 0,
	p50_latency_ms  REAL NOT NULL DEFAULT 0,
	p95_latency_ms  REAL NOT NULL DEFAULT 0,
	p99_latency_ms  REAL NOT NULL DEFAULT 0,
	error_rate      REAL NOT NULL DEFAULT 0,
	timeout_rate    REAL NOT NULL DEFAULT 0,
	sample_count    INTEGER NOT NULL DEFAULT 0,
	is_healthy      INTEGER NOT NULL DEFAULT 1,
	updated_at      TIMESTAMP NOT NULL
);
`

type Store struct {
	db             *sql.DB
	insertRequest  *sql.Stmt
	insertFeedback *sql.Stmt
}

// Open creates or opens the database file, applies WAL pragmas, and
// prepares the hot-path statements.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets readers proceed while the write queue flushes; the busy
	// timeout covers checkpoint stalls.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	s := &Store{db: db}

	s.insertRequest, err = db.Prepare(`
		INSERT OR REPLACE INTO requests (
			request_id, tenant_id, prompt_preview, complexity, complexity_score,
			confidence, intent, model, provider, strategy, input_tokens,
			output_tokens, cost, energy, latency_ms, provider_status, cache_hit,
			routing_reasoning, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert request: %w", err)
	}

	s.insertFeedback, err = db.Prepare(`
		INSERT INTO routing_feedback (
			request_id, model_id, tenant_id, quality_score, latency_ms, cost,
			success, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert feedback: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	if s.insertRequest != nil {
		s.insertRequest.Close()
	}
	if s.insertFeedback != nil {
		s.insertFeedback.Close()
	}
	return s.db.Close()
}

// InsertRequestBatch writes a batch of log rows in one transaction.
func (s *Store) InsertRequestBatch(ctx context.Context, rows []domain.RequestLog) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, s.insertRequest)
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.RequestID, r.TenantID, r.PromptPreview, r.Complexity,
			r.ComplexityScore, r.Confidence, r.Intent, r.Model, r.Provider,
			r.Strategy, r.InputTokens, r.OutputTokens, r.Cost, r.Energy,
			r.LatencyMs, r.ProviderStatus, boolToInt(r.CacheHit),
			r.RoutingReasoning, r.Timestamp,
		); err != nil {
			return fmt.Errorf("insert request %s: %w", r.RequestID, err)
		}
	}

	return tx.Commit()
}

// InsertFeedback appends one feedback record.
func (s *Store) InsertFeedback(ctx context.Context, fb domain.Feedback) error {
	var success any
	if fb.Success != nil {
		success = boolToInt(*fb.Success)
	}

	_, err := s.insertFeedback.ExecContext(ctx,
		fb.RequestID, fb.ModelID, fb.TenantID, fb.QualityScore, fb.LatencyMs,
		fb.Cost, success, fb.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// RecentFeedback returns the newest feedback rows for a model, newest first.
func (s *Store) RecentFeedback(ctx context.Context, modelID string, limit int) ([]domain.Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, model_id, tenant_id, quality_score, latency_ms, cost,
		       success, created_at
		FROM routing_feedback
		WHERE model_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, modelID, limit)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []domain.Feedback
	for rows.Next() {
		var fb domain.Feedback
		var success sql.NullInt64
		if err := rows.Scan(
			&fb.RequestID, &fb.ModelID, &fb.TenantID, &fb.QualityScore,
			&fb.LatencyMs, &fb.Cost, &success, &fb.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		if success.Valid {
			b := success.Int64 != 0
			fb.Success = &b
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

// UpsertModelHealth persists one benchmarker flush row.
func (s *Store) UpsertModelHealth(ctx context.Context, m benchmark.Metrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_health (
			model_id, mean_latency_ms, p50_latency_ms, p95_latency_ms,
			p99_latency_ms, error_rate, timeout_rate, sample_count, is_healthy,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET
			mean_latency_ms = excluded.mean_latency_ms,
			p50_latency_ms  = excluded.p50_latency_ms,
			p95_latency_ms  = excluded.p95_latency_ms,
			p99_latency_ms  = excluded.p99_latency_ms,
			error_rate      = excluded.error_rate,
			timeout_rate    = excluded.timeout_rate,
			sample_count    = excluded.sample_count,
			is_healthy      = excluded.is_healthy,
			updated_at      = excluded.updated_at`,
		m.ModelID, m.MeanLatency, m.P50Latency, m.P95Latency, m.P99Latency,
		m.ErrorRate, m.TimeoutRate, m.SampleCount, boolToInt(m.IsHealthy()),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert model health: %w", err)
	}
	return nil
}

// CreateTenant inserts a new tenant row.
func (s *Store) CreateTenant(ctx context.Context, t *domain.Tenant) error {
	allowed, err := marshalAllowed(t.AllowedModels)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenants (
			id, name, api_key_hash, strategy, allowed_models,
			budget_limit_monthly, rate_limit_rpm, rate_limit_tpm,
			usage_this_month, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.APIKeyHash, t.Strategy, allowed, t.BudgetLimitMonthly,
		t.RateLimitRPM, t.RateLimitTPM, t.UsageThisMonth, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

// GetTenantByKeyHash looks a tenant up by its API key hash.
func (s *Store) GetTenantByKeyHash(ctx context.Context, hash string) (*domain.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key_hash, strategy, allowed_models,
		       budget_limit_monthly, rate_limit_rpm, rate_limit_tpm,
		       usage_this_month, created_at, updated_at
		FROM tenants
		WHERE api_key_hash = ?`, hash)
	return scanTenant(row)
}

// ListTenants returns every tenant, newest first.
func (s *Store) ListTenants(ctx context.Context) ([]*domain.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, api_key_hash, strategy, allowed_models,
		       budget_limit_monthly, rate_limit_rpm, rate_limit_tpm,
		       usage_this_month, created_at, updated_at
		FROM tenants
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var out []*domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddTenantUsage accumulates cost onto a tenant's monthly counter.
func (s *Store) AddTenantUsage(ctx context.Context, tenantID string, cost float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenants
		SET usage_this_month = usage_this_month + ?, updated_at = ?
		WHERE id = ?`, cost, time.Now().UTC(), tenantID)
	if err != nil {
		return fmt.Errorf("update tenant usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

// RecentRequests returns the newest log rows for the dashboard backend.
func (s *Store) RecentRequests(ctx context.Context, limit int) ([]domain.RequestLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, tenant_id, prompt_preview, complexity,
		       complexity_score, confidence, intent, model, provider, strategy,
		       input_tokens, output_tokens, cost, energy, latency_ms,
		       provider_status, cache_hit, routing_reasoning, created_at
		FROM requests
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var out []domain.RequestLog
	for rows.Next() {
		var r domain.RequestLog
		var cacheHit int
		if err := rows.Scan(
			&r.RequestID, &r.TenantID, &r.PromptPreview, &r.Complexity,
			&r.ComplexityScore, &r.Confidence, &r.Intent, &r.Model, &r.Provider,
			&r.Strategy, &r.InputTokens, &r.OutputTokens, &r.Cost, &r.Energy,
			&r.LatencyMs, &r.ProviderStatus, &cacheHit, &r.RoutingReasoning,
			&r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		r.CacheHit = cacheHit != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRequest returns one log row by request id.
func (s *Store) GetRequest(ctx context.Context, requestID string) (*domain.RequestLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, tenant_id, prompt_preview, complexity,
		       complexity_score, confidence, intent, model, provider, strategy,
		       input_tokens, output_tokens, cost, energy, latency_ms,
		       provider_status, cache_hit, routing_reasoning, created_at
		FROM requests
		WHERE request_id = ?`, requestID)

	var r domain.RequestLog
	var cacheHit int
	err := row.Scan(
		&r.RequestID, &r.TenantID, &r.PromptPreview, &r.Complexity,
		&r.ComplexityScore, &r.Confidence, &r.Intent, &r.Model, &r.Provider,
		&r.Strategy, &r.InputTokens, &r.OutputTokens, &r.Cost, &r.Energy,
		&r.LatencyMs, &r.ProviderStatus, &cacheHit, &r.RoutingReasoning,
		&r.Timestamp,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}
	r.CacheHit = cacheHit != 0
	return &r, nil
}

// AggregateStats are the dashboard rollups served by /api/stats.
type AggregateStats struct {
	TotalRequests int64              `json:"total_requests"`
	TotalCost     float64            `json:"total_cost"`
	TotalEnergy   float64            `json:"total_energy"`
	CacheHits     int64              `json:"cache_hits"`
	AvgLatencyMs  float64            `json:"avg_latency_ms"`
	ByModel       map[string]int64   `json:"requests_by_model"`
	ByProvider    map[string]int64   `json:"requests_by_provider"`
	CostByModel   map[string]float64 `json:"cost_by_model"`
}

// Stats aggregates the request table.
func (s *Store) Stats(ctx context.Context) (*AggregateStats, error) {
	out := &AggregateStats{
		ByModel:     make(map[string]int64),
		ByProvider:  make(map[string]int64),
		CostByModel: make(map[string]float64),
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(cost), 0), COALESCE(SUM(energy), 0),
		       COALESCE(SUM(cache_hit), 0), COALESCE(AVG(latency_ms), 0)
		FROM requests`)
	if err := row.Scan(&out.TotalRequests, &out.TotalCost, &out.TotalEnergy,
		&out.CacheHits, &out.AvgLatencyMs); err != nil {
		return nil, fmt.Errorf("scan totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT model, provider, COUNT(*), COALESCE(SUM(cost), 0)
		FROM requests
		GROUP BY model, provider`)
	if err != nil {
		return nil, fmt.Errorf("query by model: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var model, provider string
		var count int64
		var cost float64
		if err := rows.Scan(&model, &provider, &count, &cost); err != nil {
			return nil, fmt.Errorf("scan by model: %w", err)
		}
		out.ByModel[model] += count
		out.ByProvider[provider] += count
		out.CostByModel[model] += cost
	}
	return out, rows.Err()
}

func scanTenant(row interface{ Scan(...any) error }) (*domain.Tenant, error) {
	var t domain.Tenant
	var allowed sql.NullString
	err := row.Scan(
		&t.ID, &t.Name, &t.APIKeyHash, &t.Strategy, &allowed,
		&t.BudgetLimitMonthly, &t.RateLimitRPM, &t.RateLimitTPM,
		&t.UsageThisMonth, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	if allowed.Valid {
		if err := json.Unmarshal([]byte(allowed.String), &t.AllowedModels); err != nil {
			return nil, fmt.Errorf("decode allowed models: %w", err)
		}
	}
	return &t, nil
}

func marshalAllowed(models []string) (any, error) {
	if models == nil {
		return nil, nil
	}
	data, err := json.Marshal(models)
	if err != nil {
		return nil, fmt.Errorf("encode allowed models: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
