// Package circuitbreaker implements the circuit breaker pattern for failure protection.
// It prevents cascading failures by failing fast when a provider is unhealthy.
//
// States:
//   - Closed: Normal operation, requests pass through
//   - Open: Provider unhealthy, requests fail immediately
//   - Half-Open: Testing recovery, a single probe request allowed
//
// Unlike a simple consecutive-failure counter, the breaker evaluates a
// sliding window of request outcomes: it opens on error rate, timeout
// rate, or p95 latency, and recovers through probes with an exponentially
// growing cooldown.
package circuitbreaker

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing fast
	StateHalfOpen              // Testing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config defines breaker thresholds and recovery behavior.
type Config struct {
	Window             time.Duration // Sliding window over request outcomes
	MinSamples         int           // Samples required before evaluation
	ErrorRateThreshold float64       // Open when error rate reaches this
	TimeoutRate        float64       // Open when timeout rate reaches this
	P95LatencyMs       float64       // Open when p95 latency reaches this
	BaseCooldown       time.Duration // Initial open-state cooldown
	MaxCooldown        time.Duration // Cooldown doubling cap
}

// DefaultConfig returns sensible defaults for most use cases.
func DefaultConfig() Config {
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

type event struct {
	at        time.Time
	success   bool
	latencyMs float64
	timedOut  bool
}

// Breaker guards dispatch to a single provider.
type Breaker struct {
	mu                  sync.Mutex
	config              Config
	state               State
	events              []event
	openedAt            time.Time
	cooldown            time.Duration
	consecutiveFailures int
	lastOpenReason      string
	probeInFlight       bool
	now                 func() time.Time
}

func New(cfg Config) *Breaker {
	return &Breaker{
		config:   cfg,
		state:    StateClosed,
		cooldown: cfg.BaseCooldown,
		now:      time.Now,
	}
}

// CanExecute reports whether a request may be dispatched. In the open
// state it admits exactly one probe once the cooldown has elapsed;
// further calls are rejected until the probe result is recorded.
func (b *Breaker) CanExecute() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune()

	switch b.state {
	case StateClosed:
		return true, ""
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			b.probeInFlight = true
			return true, "probe"
		}
		return false, fmt.Sprintf("cooling down (%s remaining)", (b.cooldown - b.now().Sub(b.openedAt)).Round(time.Millisecond))
	case StateHalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true, "probe"
		}
		return false, "waiting for probe result"
	}
	return false, "unknown state"
}

// RecordSuccess records a successful request. A successful probe closes
// the circuit and resets the cooldown to its base value.
func (b *Breaker) RecordSuccess(latencyMs float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event{at: b.now(), success: true, latencyMs: latencyMs})
	b.consecutiveFailures = 0

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.cooldown = b.config.BaseCooldown
		b.probeInFlight = false
	}
	b.prune()
}

// RecordFailure records a failed request. Timeouts are tracked separately
// from other failures. A failed probe reopens the circuit with a doubled
// cooldown; in the closed state the window is evaluated against the
// thresholds.
func (b *Breaker) RecordFailure(latencyMs float64, timedOut bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event{at: b.now(), latencyMs: latencyMs, timedOut: timedOut})
	b.consecutiveFailures++
	b.prune()

	switch b.state {
	case StateHalfOpen:
		b.cooldown = minDuration(2*b.cooldown, b.config.MaxCooldown)
		b.open("probe failed")
	case StateClosed:
		if reason, breached := b.evaluate(); breached {
			b.open(reason)
		}
	}
}

func (b *Breaker) open(reason string) {
	b.state = StateOpen
	b.openedAt = b.now()
	b.lastOpenReason = reason
	b.probeInFlight = false
}

// evaluate checks the window thresholds. Caller holds the lock.
func (b *Breaker) evaluate() (string, bool) {
	n := len(b.events)
	if n < b.config.MinSamples {
		return "", false
	}

	failures, timeouts := 0, 0
	latencies := make([]float64, 0, n)
	for _, e := range b.events {
		if !e.success {
			failures++
		}
		if e.timedOut {
			timeouts++
		}
		latencies = append(latencies, e.latencyMs)
	}

	errorRate := float64(failures) / float64(n)
	timeoutRate := float64(timeouts) / float64(n)
	p95 := percentile(latencies, 0.95)

	switch {
	case errorRate >= b.config.ErrorRateThreshold:
		return fmt.Sprintf("error rate %.2f >= %.2f", errorRate, b.config.ErrorRateThreshold), true
	case timeoutRate >= b.config.TimeoutRate:
		return fmt.Sprintf("timeout rate %.2f >= %.2f", timeoutRate, b.config.TimeoutRate), true
	case p95 >= b.config.P95LatencyMs:
		return fmt.Sprintf("p95 latency %.0fms >= %.0fms", p95, b.config.P95LatencyMs), true
	}
	return "", false
}

// prune drops events outside the sliding window. Caller holds the lock.
func (b *Breaker) prune() {
	cutoff := b.now().Add(-b.config.Window)
	i := 0
	for i < len(b.events) && b.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = append(b.events[:0], b.events[i:]...)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics is a point-in-time snapshot of a breaker.
type Metrics struct {
	State               string  `json:"state"`
	ErrorRate           float64 `json:"error_rate"`
	TimeoutRate         float64 `json:"timeout_rate"`
	P95LatencyMs        float64 `json:"p95_latency_ms"`
	SampleCount         int     `json:"sample_count"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	LastOpenReason      string  `json:"last_open_reason,omitempty"`
	CooldownMs          int64   `json:"cooldown_ms"`
}

func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune()

	n := len(b.events)
	failures, timeouts := 0, 0
	latencies := make([]float64, 0, n)
	for _, e := range b.events {
		if !e.success {
			failures++
		}
		if e.timedOut {
			timeouts++
		}
		latencies = append(latencies, e.latencyMs)
	}

	m := Metrics{
		State:               b.state.String(),
		SampleCount:         n,
		ConsecutiveFailures: b.consecutiveFailures,
		LastOpenReason:      b.lastOpenReason,
		CooldownMs:          b.cooldown.Milliseconds(),
	}
	if n > 0 {
		m.ErrorRate = float64(failures) / float64(n)
		m.TimeoutRate = float64(timeouts) / float64(n)
		m.P95LatencyMs = percentile(latencies, 0.95)
	}
	return m
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Manager manages one breaker per provider.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// Get returns the breaker for a provider, creating one if it doesn't exist.
func (m *Manager) Get(provider string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[provider]
	m.mu.RUnlock()

	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.breakers[provider]; ok {
		return existing
	}

	b = New(m.config)
	m.breakers[provider] = b
	return b
}

// States returns the current state string of every breaker.
func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]string)
	for id, b := range m.breakers {
		states[id] = b.State().String()
	}
	return states
}

// OpenProviders returns the set of providers whose circuit is open.
func (m *Manager) OpenProviders() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	open := make(map[string]bool)
	for id, b := range m.breakers {
		if b.State() == StateOpen {
			open[id] = true
		}
	}
	return open
}

// Snapshot returns per-provider metrics for the health endpoint.
func (m *Manager) Snapshot() map[string]Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Metrics)
	for id, b := range m.breakers {
		out[id] = b.Metrics()
	}
	return out
}
