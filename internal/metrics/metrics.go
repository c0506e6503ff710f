package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frugalroute_requests_total",
			Help: "Total number of completion requests processed",
		},
		[]string{"tenant_id", "provider", "model", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frugalroute_request_duration_seconds",
			Help:    "End-to-end request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frugalroute_tokens_total",
			Help: "Total number of tokens processed",
		},
		[]string{"tenant_id", "provider", "model", "type"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frugalroute_cost_usd_total",
			Help: "Total cost in USD",
		},
		[]string{"tenant_id", "provider", "model"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frugalroute_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"source"},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frugalroute_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "frugalroute_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frugalroute_provider_errors_total",
			Help: "Total number of provider errors",
		},
		[]string{"provider", "error_type"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frugalroute_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"tenant_id"},
	)

	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frugalroute_active_requests",
			Help: "Number of requests currently in flight",
		},
	)

	WriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frugalroute_write_queue_depth",
			Help: "Pending rows in the async log write queue",
		},
	)

	WriteQueueDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frugalroute_write_queue_degraded",
			Help: "Whether the write queue is shedding non-critical writes (0/1)",
		},
	)

	BudgetUsageRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "frugalroute_budget_usage_ratio",
			Help: "Current monthly budget usage ratio (0-1)",
		},
		[]string{"tenant_id"},
	)
)

func RecordRequest(tenantID, provider, model, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(tenantID, provider, model, status).Inc()
	RequestDuration.WithLabelValues(provider, model).Observe(durationSec)
}

func RecordTokens(tenantID, provider, model string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(tenantID, provider, model, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(tenantID, provider, model, "output").Add(float64(outputTokens))
}

func RecordCost(tenantID, provider, model string, costUSD float64) {
	CostTotal.WithLabelValues(tenantID, provider, model).Add(costUSD)
}

func RecordCacheHit(source string) {
	CacheHits.WithLabelValues(source).Inc()
}

func RecordCacheMiss() {
	CacheMisses.Inc()
}

func RecordProviderError(provider, errorType string) {
	ProviderErrors.WithLabelValues(provider, errorType).Inc()
}

func RecordRateLimitHit(tenantID string) {
	RateLimitHits.WithLabelValues(tenantID).Inc()
}

func SetCircuitBreakerState(provider string, state int) {
	CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

func SetBudgetUsage(tenantID string, ratio float64) {
	BudgetUsageRatio.WithLabelValues(tenantID).Set(ratio)
}

func SetWriteQueue(depth int, degraded bool) {
	WriteQueueDepth.Set(float64(depth))
	if degraded {
		WriteQueueDegraded.Set(1)
	} else {
		WriteQueueDegraded.Set(0)
	}
}
