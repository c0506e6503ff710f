package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.MaxConcurrent != 100 {
		t.Errorf("MaxConcurrent = %d, want 100", cfg.MaxConcurrent)
	}
	if cfg.CacheTTL != time.Hour {
		t.Errorf("CacheTTL = %v, want 1h", cfg.CacheTTL)
	}
	if cfg.QueueFlushInterval != 500*time.Millisecond {
		t.Errorf("QueueFlushInterval = %v, want 500ms", cfg.QueueFlushInterval)
	}
	if cfg.DegradedThreshold != 1000 {
		t.Errorf("DegradedThreshold = %d, want 1000", cfg.DegradedThreshold)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ADDR", ":9999")
	t.Setenv("MAX_CONCURRENT", "25")
	t.Setenv("CACHE_TTL", "10m")
	t.Setenv("SHUTDOWN_TIMEOUT", "5")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.MaxConcurrent != 25 {
		t.Errorf("MaxConcurrent = %d", cfg.MaxConcurrent)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v", cfg.CacheTTL)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("bare-integer duration = %v, want 5s", cfg.ShutdownTimeout)
	}
	if !cfg.HasAnyProviderKey() {
		t.Errorf("HasAnyProviderKey = false with OPENAI_API_KEY set")
	}
}

func TestHasAnyProviderKey_Empty(t *testing.T) {
	cfg := &Config{}
	if cfg.HasAnyProviderKey() {
		t.Errorf("HasAnyProviderKey = true with no keys")
	}
}
