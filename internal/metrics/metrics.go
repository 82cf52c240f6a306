package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Analysis run outcomes (bounded set)
	OutcomeCompleted = "completed"
	OutcomeDegraded  = "degraded"
	OutcomeFailed    = "failed"

	// Provider error categories (bounded set)
	ProviderErrorTimeout   = "timeout"
	ProviderErrorEmpty     = "empty"
	ProviderErrorProtocol  = "protocol"
	ProviderErrorQuota     = "quota"
	ProviderErrorCancelled = "cancelled"
	ProviderErrorOther     = "other"

	// Analyst fallback reasons (bounded set)
	FallbackBudgetExhausted = "budget_exhausted"
	FallbackDataUnavailable = "data_unavailable"
	FallbackModelError      = "model_error"
	FallbackCancelled       = "cancelled"
	FallbackOther           = "other"
)

// NormalizeProviderError maps arbitrary upstream errors to the bounded set
func NormalizeProviderError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ProviderErrorTimeout
	case strings.Contains(errStr, "empty") || strings.Contains(errStr, "no data"):
		return ProviderErrorEmpty
	case strings.Contains(errStr, "quota") || strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return ProviderErrorQuota
	case strings.Contains(errStr, "cancel"):
		return ProviderErrorCancelled
	case strings.Contains(errStr, "status") || strings.Contains(errStr, "decode") || strings.Contains(errStr, "parse"):
		return ProviderErrorProtocol
	default:
		return ProviderErrorOther
	}
}

// NormalizeFallbackReason maps arbitrary fallback causes to the bounded set
func NormalizeFallbackReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "budget") || strings.Contains(lower, "tool"):
		return FallbackBudgetExhausted
	case strings.Contains(lower, "unavailable") || strings.Contains(lower, "missing") || strings.Contains(lower, "no data"):
		return FallbackDataUnavailable
	case strings.Contains(lower, "cancel") || strings.Contains(lower, "deadline"):
		return FallbackCancelled
	case strings.Contains(lower, "model") || strings.Contains(lower, "llm") || strings.Contains(lower, "invoke"):
		return FallbackModelError
	default:
		return FallbackOther
	}
}

// Analysis Pipeline Metrics
var (
	// Analysis runs by session kind and outcome
	AnalysisRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_analysis_runs_total",
		Help: "Total number of analysis runs by session kind and outcome",
	}, []string{"session", "outcome"})

	// End-to-end analysis duration
	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketmind_analysis_duration_seconds",
		Help:    "End-to-end analysis run duration in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	}, []string{"session"})

	// Graph node executions
	GraphNodeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_graph_node_runs_total",
		Help: "Graph node executions by node and outcome",
	}, []string{"node", "outcome"})

	// Per-node wall time, tool dispatches included
	GraphNodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketmind_graph_node_duration_ms",
		Help:    "Graph node wall time in milliseconds, tool dispatches included",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000},
	}, []string{"node"})

	// Analyst node invocations
	AnalystInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_analyst_invocations_total",
		Help: "Total analyst node invocations (model rounds included)",
	}, []string{"analyst"})

	// Fallback artifacts emitted by analysts
	AnalystFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_analyst_fallbacks_total",
		Help: "Total fallback artifacts emitted, by analyst and reason",
	}, []string{"analyst", "reason"})

	// Artifact JSON extraction failures (raw content preserved)
	ArtifactParseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_artifact_parse_failures_total",
		Help: "Total analyst responses whose JSON artifact could not be extracted",
	}, []string{"analyst"})

	// Position fields stripped from non-strategy artifacts
	PositionFieldsStripped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_position_fields_stripped_total",
		Help: "Position-like fields removed from artifacts that must not carry them",
	}, []string{"analyst"})

	// Tool dispatches by the scheduler
	ToolDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_tool_dispatches_total",
		Help: "Total tool-call dispatches by tool name and status",
	}, []string{"tool", "status"})

	// Tool dispatch duration
	ToolDispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketmind_tool_dispatch_duration_ms",
		Help:    "Tool dispatch duration in milliseconds",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
	}, []string{"tool"})
)

// Data Provider Metrics
var (
	// Provider requests by provider, operation and status
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_provider_requests_total",
		Help: "Total market data provider requests by provider, operation and status",
	}, []string{"provider", "operation", "status"})

	// Provider request latency
	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketmind_provider_latency_ms",
		Help:    "Market data provider request latency in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 15000},
	}, []string{"provider", "operation"})

	// Facade operations that exhausted every source
	FacadeExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_facade_exhausted_total",
		Help: "Facade operations for which every configured source failed",
	}, []string{"operation"})

	// Facade degraded fallbacks (e.g. keyword-filtered news standing in for a feed)
	FacadeDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_facade_degraded_total",
		Help: "Facade operations served through an explicit degraded fallback path",
	}, []string{"operation"})
)

// Source Health Metrics
var (
	// Per-source healthy gauge (1=healthy, 0=cooling or probing)
	SourceHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marketmind_source_healthy",
		Help: "Source health state (1=healthy, 0=cooling/probing)",
	}, []string{"source"})

	// Per-source consecutive error count
	SourceConsecutiveErrors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marketmind_source_consecutive_errors",
		Help: "Consecutive error count per data source",
	}, []string{"source"})

	// Cooldown transitions
	SourceCooldowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_source_cooldowns_total",
		Help: "Times a source entered its cooldown window",
	}, []string{"source"})
)

// Cache Metrics
var (
	// Cache requests by tier and result
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_cache_requests_total",
		Help: "Cache requests by tier (memory, redis) and result (hit, miss, error)",
	}, []string{"tier", "result"})

	// Degraded-cache marker (1 when the persistent tier is unavailable)
	CacheDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketmind_cache_degraded",
		Help: "1 when the persistent cache tier is degraded to miss-only behavior",
	})

	// Calls coalesced by single-flight instead of computing independently
	SingleflightShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketmind_singleflight_shared_total",
		Help: "Cache computes coalesced onto an in-flight identical computation",
	})

	// Redis operations by type
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_redis_operations_total",
		Help: "Total number of Redis operations by type",
	}, []string{"operation"})
)

// Probe Metrics
var (
	// Probe verdicts by source and outcome (cache, api, unavailable)
	ProbeChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_probe_checks_total",
		Help: "Data source probe verdicts by source and outcome",
	}, []string{"source", "outcome"})

	// Whole-probe wall time
	ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketmind_probe_duration_ms",
		Help:    "Wall time of the full parallel data source probe in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
)

// LLM Metrics
var (
	// Chat completions by model and status
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_llm_requests_total",
		Help: "Total chat completion requests by model and status",
	}, []string{"model", "status"})

	// Token usage by model and kind (prompt, completion)
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_llm_tokens_total",
		Help: "Token usage by model and kind (prompt, completion)",
	}, []string{"model", "kind"})
)

// Snapshot and Event Metrics
var (
	// Snapshot builds by kind (morning, closing)
	SnapshotBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_snapshot_builds_total",
		Help: "Realtime snapshot builds by kind",
	}, []string{"kind"})

	// Anomaly events by kind (surge, drop)
	AnomaliesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_anomalies_detected_total",
		Help: "Anomaly events detected in snapshot scans by kind",
	}, []string{"kind"})

	// Events published to NATS
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_events_published_total",
		Help: "Total events published to the bus by subject suffix",
	}, []string{"event"})

	// Alerts delivered per channel
	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_alerts_sent_total",
		Help: "Alerts delivered by channel and severity",
	}, []string{"channel", "severity"})

	// Analysis runs persisted to the decision log
	RunsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketmind_runs_stored_total",
		Help: "Analysis runs persisted to the decision log",
	})

	// Decision log query duration
	StoreQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketmind_store_query_duration_ms",
		Help:    "Decision log query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"query_type"})
)

// HTTP Metrics
var (
	// HTTP requests
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketmind_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status_code"})

	// API request duration
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketmind_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"method", "path", "status_code"})
)

// Decision Log Gauges (maintained by the Updater)
var (
	// Runs recorded in the last 24 hours
	RunsLast24h = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketmind_runs_24h",
		Help: "Analysis runs recorded in the decision log over the last 24 hours",
	})

	// Mean final position over the last 24 hours
	AvgFinalPosition24h = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketmind_avg_final_position_24h",
		Help: "Mean final position across runs recorded over the last 24 hours",
	})

	// Degraded-run share over the last 24 hours
	DegradedShare24h = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketmind_degraded_share_24h",
		Help: "Share of degraded runs over the last 24 hours (0.0 to 1.0)",
	})
)

// Database Pool Gauges
var (
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketmind_db_connections_active",
		Help: "Number of acquired database connections",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketmind_db_connections_idle",
		Help: "Number of idle database connections",
	})
)

// RecordAPIRequest records an HTTP request with its duration
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
}

// UpdateDatabaseConnections updates the connection pool gauges
func UpdateDatabaseConnections(active, idle int32) {
	DatabaseConnectionsActive.Set(float64(active))
	DatabaseConnectionsIdle.Set(float64(idle))
}

// RecordRedisOperation increments the Redis op counter for the cache tier
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

// RecordCacheHit records a hit on the given tier
func RecordCacheHit(tier string) {
	CacheRequests.WithLabelValues(tier, "hit").Inc()
}

// RecordCacheMiss records a miss on the given tier
func RecordCacheMiss(tier string) {
	CacheRequests.WithLabelValues(tier, "miss").Inc()
}

// RecordCacheError records a tier error that degraded to a miss
func RecordCacheError(tier string) {
	CacheRequests.WithLabelValues(tier, "error").Inc()
}

// SetSourceHealth updates the per-source health gauges
func SetSourceHealth(source string, healthy bool, consecutiveErrors int) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	SourceHealthy.WithLabelValues(source).Set(v)
	SourceConsecutiveErrors.WithLabelValues(source).Set(float64(consecutiveErrors))
}
