// Package budget watches per-tenant monthly spend against the configured
// limit and fires alerts at warning, critical, and exceeded thresholds.
// Alerts are deduplicated per tenant and level; the hard budget rejection
// itself happens at the authentication stage, not here.
package budget

import (
	"log/slog"
	"sync"
	"time"

	"github.com/frugalroute/frugalroute/internal/domain"
	"github.com/frugalroute/frugalroute/internal/metrics"
)

type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelExceeded AlertLevel = "exceeded"
)

type Alert struct {
	TenantID   string
	Level      AlertLevel
	Budget     float64
	CurrentUse float64
	Percentage float64
	Timestamp  time.Time
}

type AlertHandler func(alert Alert)

type Thresholds struct {
	Warning  float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:  0.8,
		Critical: 0.95,
	}
}

type Monitor struct {
	mu            sync.Mutex
	thresholds    Thresholds
	alertHandlers []AlertHandler
	lastAlerts    map[string]AlertLevel
}

func NewMonitor(thresholds Thresholds) *Monitor {
	return &Monitor{
		thresholds: thresholds,
		lastAlerts: make(map[string]AlertLevel),
	}
}

func (m *Monitor) OnAlert(handler AlertHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertHandlers = append(m.alertHandlers, handler)
}

// Check evaluates a tenant's usage ratio and fires at most one alert per
// level transition. Tenants without a budget are never alerted.
func (m *Monitor) Check(tenant *domain.Tenant) *Alert {
	if tenant.BudgetLimitMonthly == nil || *tenant.BudgetLimitMonthly <= 0 {
		return nil
	}

	ratio := tenant.UsageThisMonth / *tenant.BudgetLimitMonthly
	metrics.SetBudgetUsage(tenant.ID, ratio)

	var level AlertLevel
	switch {
	case ratio >= 1.0:
		level = AlertLevelExceeded
	case ratio >= m.thresholds.Critical:
		level = AlertLevelCritical
	case ratio >= m.thresholds.Warning:
		level = AlertLevelWarning
	default:
		m.mu.Lock()
		delete(m.lastAlerts, tenant.ID)
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	if last, ok := m.lastAlerts[tenant.ID]; ok && last == level {
		m.mu.Unlock()
		return nil
	}
	m.lastAlerts[tenant.ID] = level
	handlers := make([]AlertHandler, len(m.alertHandlers))
	copy(handlers, m.alertHandlers)
	m.mu.Unlock()

	alert := &Alert{
		TenantID:   tenant.ID,
		Level:      level,
		Budget:     *tenant.BudgetLimitMonthly,
		CurrentUse: tenant.UsageThisMonth,
		Percentage: ratio * 100,
		Timestamp:  time.Now(),
	}

	for _, handler := range handlers {
		handler(*alert)
	}
	return alert
}

func LogAlertHandler(alert Alert) {
	slog.Warn("budget alert",
		"tenant_id", alert.TenantID,
		"level", alert.Level,
		"budget", alert.Budget,
		"current_use", alert.CurrentUse,
		"percentage", alert.Percentage,
	)
}
