package budget

import (
	"testing"

	"github.com/frugalroute/frugalroute/internal/domain"
)

func tenantWithUsage(limit, usage float64) *domain.Tenant {
	return &domain.Tenant{
		ID:                 "tenant-1",
		BudgetLimitMonthly: &limit,
		UsageThisMonth:     usage,
	}
}

func TestCheck_NoBudgetNoAlert(t *testing.T) {
	m := NewMonitor(DefaultThresholds())

	if alert := m.Check(&domain.Tenant{ID: "t"}); alert != nil {
		t.Errorf("tenant without budget alerted: %+v", alert)
	}
}

func TestCheck_Levels(t *testing.T) {
	tests := []struct {
		usage float64
		want  AlertLevel
	}{
		{8.5, AlertLevelWarning},
		{9.6, AlertLevelCritical},
		{10.5, AlertLevelExceeded},
	}

	for _, tt := range tests {
		m := NewMonitor(DefaultThresholds())
		alert := m.Check(tenantWithUsage(10, tt.usage))
		if alert == nil {
			t.Fatalf("usage %v produced no alert", tt.usage)
		}
		if alert.Level != tt.want {
			t.Errorf("usage %v level = %q, want %q", tt.usage, alert.Level, tt.want)
		}
	}
}

func TestCheck_BelowWarningSilent(t *testing.T) {
	m := NewMonitor(DefaultThresholds())
	if alert := m.Check(tenantWithUsage(10, 5)); alert != nil {
		t.Errorf("usage at 50%% alerted: %+v", alert)
	}
}

func TestCheck_DeduplicatesPerLevel(t *testing.T) {
	m := NewMonitor(DefaultThresholds())

	fired := 0
	m.OnAlert(func(Alert) { fired++ })

	m.Check(tenantWithUsage(10, 8.5))
	m.Check(tenantWithUsage(10, 8.7))
	if fired != 1 {
		t.Errorf("repeated warning fired %d times, want 1", fired)
	}

	m.Check(tenantWithUsage(10, 9.8))
	if fired != 2 {
		t.Errorf("level escalation should fire again, got %d", fired)
	}
}

func TestCheck_ResetsWhenUsageDrops(t *testing.T) {
	m := NewMonitor(DefaultThresholds())

	fired := 0
	m.OnAlert(func(Alert) { fired++ })

	m.Check(tenantWithUsage(10, 8.5))
	m.Check(tenantWithUsage(10, 2))
	m.Check(tenantWithUsage(10, 8.5))

	if fired != 2 {
		t.Errorf("warning after reset fired %d times, want 2", fired)
	}
}
