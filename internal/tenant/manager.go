// Package tenant issues and authenticates tenants. Keys are generated
// once, returned in plaintext exactly once, and persisted only as hashes.
// Authenticated tenants are cached in-process by key hash and invalidated
// whenever usage changes.
package tenant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/frugalroute/frugalroute/internal/crypto"
	"github.com/frugalroute/frugalroute/internal/domain"
	"github.com/frugalroute/frugalroute/internal/store"
	"github.com/google/uuid"
)

// CreateParams are the admin-supplied fields for a new tenant.
type CreateParams struct {
	Name               string   `json:"name"`
	Strategy           string   `json:"strategy,omitempty"`
	AllowedModels      []string `json:"allowed_models,omitempty"`
	BudgetLimitMonthly *float64 `json:"budget_limit_monthly,omitempty"`
	RateLimitRPM       int      `json:"rate_limit_rpm,omitempty"`
	RateLimitTPM       int      `json:"rate_limit_tpm,omitempty"`
}

type Manager struct {
	store *store.Store

	mu    sync.RWMutex
	cache map[string]*domain.Tenant // key hash -> tenant
}

func NewManager(s *store.Store) *Manager {
	return &Manager{
		store: s,
		cache: make(map[string]*domain.Tenant),
	}
}

// Create issues a new tenant and returns it together with the plaintext
// API key. The key is never stored; this is the only time it is visible.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*domain.Tenant, string, error) {
	if p.Name == "" {
		return nil, "", fmt.Errorf("%w: name is required", domain.ErrInvalidRequest)
	}

	key, err := crypto.GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}

	strategy := p.Strategy
	if strategy == "" {
		strategy = "cost-first"
	}
	rpm := p.RateLimitRPM
	if rpm <= 0 {
		rpm = 60
	}
	tpm := p.RateLimitTPM
	if tpm <= 0 {
		tpm = 100000
	}

	now := time.Now().UTC()
	t := &domain.Tenant{
		ID:                 uuid.New().String(),
		Name:               p.Name,
		APIKeyHash:         crypto.HashAPIKey(key),
		Strategy:           strategy,
		AllowedModels:      p.AllowedModels,
		BudgetLimitMonthly: p.BudgetLimitMonthly,
		RateLimitRPM:       rpm,
		RateLimitTPM:       tpm,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := m.store.CreateTenant(ctx, t); err != nil {
		return nil, "", err
	}
	return t, key, nil
}

// Authenticate resolves an API key to its tenant, consulting the
// in-process cache first.
func (m *Manager) Authenticate(ctx context.Context, apiKey string) (*domain.Tenant, error) {
	hash := crypto.HashAPIKey(apiKey)

	m.mu.RLock()
	cached, ok := m.cache[hash]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	t, err := m.store.GetTenantByKeyHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[hash] = t
	m.mu.Unlock()
	return t, nil
}

// RecordUsage accumulates cost onto the tenant's monthly counter and
// invalidates the auth cache so the next request sees fresh usage.
func (m *Manager) RecordUsage(ctx context.Context, tenantID string, cost float64) error {
	if err := m.store.AddTenantUsage(ctx, tenantID, cost); err != nil {
		return err
	}

	m.mu.Lock()
	for hash, t := range m.cache {
		if t.ID == tenantID {
			delete(m.cache, hash)
		}
	}
	m.mu.Unlock()
	return nil
}

// List returns all tenants. Key hashes are blanked: not even the hash
// leaves this package through the listing path.
func (m *Manager) List(ctx context.Context) ([]*domain.Tenant, error) {
	tenants, err := m.store.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tenants {
		t.APIKeyHash = ""
	}
	return tenants, nil
}
