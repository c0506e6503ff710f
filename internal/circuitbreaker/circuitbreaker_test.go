package circuitbreaker

import (
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Window:             60 * time.Second,
		MinSamples:         5,
		ErrorRateThreshold: 0.5,
		TimeoutRate:        0.3,
		P95LatencyMs:       30000,
		BaseCooldown:       10 * time.Second,
		MaxCooldown:        120 * time.Second,
	}
}

// fakeClock lets tests drive the breaker's notion of time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	b := New(cfg)
	b.now = clock.now
	return b, clock
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(testConfig())
	if b.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", b.State())
	}
}

func TestBreaker_OpensOnErrorRate(t *testing.T) {
	b, _ := newTestBreaker(testConfig())

	for i := 0; i < 5; i++ {
		b.RecordFailure(100, false)
	}

	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen after 5 consecutive failures, got %v", b.State())
	}
	m := b.Metrics()
	if !strings.Contains(m.LastOpenReason, "error rate") {
		t.Errorf("last open reason = %q, want it to mention error rate", m.LastOpenReason)
	}
}

func TestBreaker_StaysClosedBelowMinSamples(t *testing.T) {
	b, _ := newTestBreaker(testConfig())

	for i := 0; i < 4; i++ {
		b.RecordFailure(100, false)
	}

	if b.State() != StateOpen && b.State() != StateClosed {
		t.Fatalf("unexpected state %v", b.State())
	}
	if b.State() == StateOpen {
		t.Errorf("breaker opened with only 4 samples, want evaluation gated at 5")
	}
}

func TestBreaker_OpensOnTimeoutRate(t *testing.T) {
	b, _ := newTestBreaker(testConfig())

	// 2 timeouts in 6 events is above the 0.3 threshold only at 2/6=0.33.
	for i := 0; i < 4; i++ {
		b.RecordSuccess(100)
	}
	b.RecordFailure(100, true)
	b.RecordFailure(100, true)

	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen on timeout rate, got %v", b.State())
	}
	if !strings.Contains(b.Metrics().LastOpenReason, "timeout rate") {
		t.Errorf("last open reason = %q, want timeout rate", b.Metrics().LastOpenReason)
	}
}

func TestBreaker_OpensOnP95Latency(t *testing.T) {
	b, _ := newTestBreaker(testConfig())

	for i := 0; i < 5; i++ {
		b.RecordSuccess(100)
	}
	// One slow failure pushes p95 over the line without breaching the
	// error or timeout rates.
	b.RecordFailure(50000, false)

	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen on p95 latency, got %v", b.State())
	}
	if !strings.Contains(b.Metrics().LastOpenReason, "p95") {
		t.Errorf("last open reason = %q, want p95", b.Metrics().LastOpenReason)
	}
}

func TestBreaker_DeniesWhileOpen(t *testing.T) {
	b, _ := newTestBreaker(testConfig())
	for i := 0; i < 5; i++ {
		b.RecordFailure(100, false)
	}

	allowed, reason := b.CanExecute()
	if allowed {
		t.Errorf("expected denial while cooling down")
	}
	if !strings.Contains(reason, "cooling down") {
		t.Errorf("reason = %q, want cooling down", reason)
	}
}

func TestBreaker_SingleProbeAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(testConfig())
	for i := 0; i < 5; i++ {
		b.RecordFailure(100, false)
	}

	clock.advance(11 * time.Second)

	allowed, reason := b.CanExecute()
	if !allowed || reason != "probe" {
		t.Fatalf("expected probe admission, got allowed=%v reason=%q", allowed, reason)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State())
	}

	// Subsequent calls must wait for the probe result.
	allowed, reason = b.CanExecute()
	if allowed {
		t.Errorf("expected second call denied while probe in flight")
	}
	if reason != "waiting for probe result" {
		t.Errorf("reason = %q, want waiting for probe result", reason)
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(testConfig())
	for i := 0; i < 5; i++ {
		b.RecordFailure(100, false)
	}
	clock.advance(11 * time.Second)
	b.CanExecute()

	b.RecordSuccess(100)

	if b.State() != StateClosed {
		t.Fatalf("expected StateClosed after probe success, got %v", b.State())
	}
	if b.Metrics().CooldownMs != 10000 {
		t.Errorf("cooldown should reset to base, got %v ms", b.Metrics().CooldownMs)
	}
	if b.Metrics().ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures should reset, got %d", b.Metrics().ConsecutiveFailures)
	}
}

func TestBreaker_ProbeFailureDoublesCooldown(t *testing.T) {
	b, clock := newTestBreaker(testConfig())
	for i := 0; i < 5; i++ {
		b.RecordFailure(100, false)
	}

	cooldown := 10 * time.Second
	for _, wantMs := range []int64{20000, 40000, 80000, 120000, 120000} {
		clock.advance(cooldown + time.Second)
		if allowed, _ := b.CanExecute(); !allowed {
			t.Fatalf("expected probe admission before cooldown %d", wantMs)
		}
		b.RecordFailure(100, false)

		if b.State() != StateOpen {
			t.Fatalf("expected reopen after failed probe, got %v", b.State())
		}
		if got := b.Metrics().CooldownMs; got != wantMs {
			t.Fatalf("cooldown after failed probe = %v ms, want %v", got, wantMs)
		}
		cooldown = time.Duration(wantMs) * time.Millisecond
	}
}

func TestBreaker_WindowPruning(t *testing.T) {
	b, clock := newTestBreaker(testConfig())

	for i := 0; i < 4; i++ {
		b.RecordFailure(100, false)
	}
	clock.advance(2 * time.Minute)

	// Old failures are outside the window; one more failure should not
	// open the breaker.
	b.RecordFailure(100, false)
	if b.State() != StateClosed {
		t.Errorf("expected closed after pruning old events, got %v", b.State())
	}
	if got := b.Metrics().SampleCount; got != 1 {
		t.Errorf("expected 1 event in window, got %d", got)
	}
}

func TestManager_PerProviderIsolation(t *testing.T) {
	m := NewManager(testConfig())

	a := m.Get("alpha")
	for i := 0; i < 5; i++ {
		a.RecordFailure(100, false)
	}

	if m.Get("beta").State() != StateClosed {
		t.Errorf("failures on alpha should not affect beta")
	}

	open := m.OpenProviders()
	if !open["alpha"] || open["beta"] {
		t.Errorf("OpenProviders = %v, want only alpha", open)
	}
}

func TestPercentile_CeilIndex(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(values, 0.95); got != 10 {
		t.Errorf("p95 of 1..10 = %v, want 10", got)
	}
	if got := percentile(values, 0.5); got != 5 {
		t.Errorf("p50 of 1..10 = %v, want 5", got)
	}
	if got := percentile(nil, 0.95); got != 0 {
		t.Errorf("p95 of empty = %v, want 0", got)
	}
}
