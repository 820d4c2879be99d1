package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once
	reqCounter   = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests",
	}, []string{"method", "path", "status"})
	reqLatency = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "vlanctl",
		Name:      "http_request_duration_seconds",
		Help:      "Request duration seconds",
		Buckets:   prom.DefBuckets,
	}, []string{"method", "path"})
	auditEvents = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "audit_events_total",
		Help:      "Audit events emitted",
	}, []string{"action"})
	auditEvictions = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "audit_evictions_total",
		Help:      "Total audit events evicted from retention (memory/sqlite)",
	}, []string{"source"})
	auditFailures = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "audit_failures_total",
		Help:      "Total audit persistence failures (best-effort sinks)",
	}, []string{"reason"})
	auditInsertLatency = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "vlanctl",
		Name:      "audit_insert_duration_seconds",
		Help:      "Latency of audit event persistence operations",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"sink", "status"})
	auditQueueDepth = prom.NewGauge(prom.GaugeOpts{
		Namespace: "vlanctl",
		Name:      "audit_queue_depth",
		Help:      "Current depth of async audit event queue",
	})
	auditDropped = prom.NewCounter(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "audit_events_dropped_total",
		Help:      "Total audit events dropped due to full async queue",
	})
	auditDispatchLatency = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "vlanctl",
		Name:      "audit_dispatch_duration_seconds",
		Help:      "Latency from enqueue to dispatch for async audit events",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
	auditQueueHighWatermark = prom.NewGauge(prom.GaugeOpts{
		Namespace: "vlanctl",
		Name:      "audit_queue_high_watermark",
		Help:      "Maximum observed async audit queue depth since process start",
	})
	auditDroppedByReason = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "audit_events_dropped_reason_total",
		Help:      "Total audit events dropped categorized by reason (full)",
	}, []string{"reason"})
	auditWorkerRestarts = prom.NewCounter(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "audit_worker_restarts_total",
		Help:      "Total async audit worker restarts after panic recovery",
	})
	chainHeadAdvance = prom.NewCounter(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "audit_chain_head_advance_total",
		Help:      "Total times audit hash chain head advanced (events inserted)",
	})
	chainVerifyDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "vlanctl",
		Name:      "audit_chain_verification_duration_seconds",
		Help:      "Duration of full hash chain verification runs",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
	chainVerifyFailures = prom.NewCounter(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "audit_chain_verification_failures_total",
		Help:      "Total failed audit chain verification attempts",
	})
	chainAnchorCreated = prom.NewCounter(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "audit_chain_anchor_created_total",
		Help:      "Total anchor snapshots recorded for audit hash chain",
	})
	integrityExportCounter = prom.NewCounter(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "audit_integrity_export_total",
		Help:      "Total integrity export requests served",
	})
	integrityExportDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "vlanctl",
		Name:      "audit_integrity_export_duration_seconds",
		Help:      "Duration of integrity export generation",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
	integritySignedCounter = prom.NewCounter(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "audit_integrity_signed_total",
		Help:      "Total integrity export snapshots successfully signed",
	})

	gatewayCalls = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "ipam_gateway_calls_total",
		Help:      "IPAM gateway calls by operation, severity band, and outcome",
	}, []string{"operation", "severity", "outcome"})
	gatewayLatency = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "vlanctl",
		Name:      "ipam_gateway_call_duration_seconds",
		Help:      "IPAM gateway call duration seconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"operation"})
	gatewayRetries = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "ipam_gateway_retries_total",
		Help:      "IPAM gateway retry attempts by operation",
	}, []string{"operation"})

	cacheHits = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "reference_cache_hits_total",
		Help:      "Reference cache lookups served from cache, by object kind",
	}, []string{"kind"})
	cacheMisses = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "reference_cache_misses_total",
		Help:      "Reference cache lookups that required an upstream fetch, by object kind",
	}, []string{"kind"})

	claimRetries = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "vlanctl",
		Name:      "allocation_claim_retries_total",
		Help:      "Atomic-claim compare-and-retry attempts, by site/vrf",
	}, []string{"site", "vrf"})
)

// Register all metrics (idempotent safe to call once at startup).
func Register() {
	registerOnce.Do(func() {
		prom.MustRegister(
			reqCounter, reqLatency, auditEvents, auditEvictions, auditFailures,
			auditInsertLatency, auditQueueDepth, auditDropped, auditDispatchLatency,
			auditQueueHighWatermark, auditDroppedByReason, auditWorkerRestarts,
			chainHeadAdvance, chainVerifyDuration, chainVerifyFailures, chainAnchorCreated,
			integrityExportCounter, integrityExportDuration, integritySignedCounter,
			gatewayCalls, gatewayLatency, gatewayRetries,
			cacheHits, cacheMisses, claimRetries,
		)
	})
}

// GinMiddleware instruments incoming HTTP requests.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		reqLatency.WithLabelValues(c.Request.Method, path).Observe(duration)
		reqCounter.WithLabelValues(c.Request.Method, path, fmt.Sprintf("%d", c.Writer.Status())).Inc()
	}
}

// Handler returns a standard promhttp handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) }
}

// IncAudit increments audit event counter for given action.
func IncAudit(action string) { auditEvents.WithLabelValues(action).Inc() }

// AddAuditEviction increments eviction counter for a specific source (e.g., "memory" or "sqlite").
func AddAuditEviction(source string, n int) {
	if n <= 0 {
		return
	}
	for i := 0; i < n; i++ {
		auditEvictions.WithLabelValues(source).Inc()
	}
}

// IncAuditFailure increments failure counter with a reason label.
func IncAuditFailure(reason string) { auditFailures.WithLabelValues(reason).Inc() }

// ObserveAuditInsert records insert latency for a sink with status (success|failure).
func ObserveAuditInsert(sink, status string, seconds float64) {
	auditInsertLatency.WithLabelValues(sink, status).Observe(seconds)
}

// SetAuditQueueDepth sets the current queue depth gauge.
func SetAuditQueueDepth(n int) { auditQueueDepth.Set(float64(n)) }

// IncAuditDropped increments dropped events counter.
func IncAuditDropped() { auditDropped.Inc() }

// ObserveAuditDispatch records time from enqueue to dispatch.
func ObserveAuditDispatch(seconds float64) { auditDispatchLatency.Observe(seconds) }

// IncChainHead increments chain head advance counter.
func IncChainHead() { chainHeadAdvance.Inc() }

// ObserveChainVerification records verification duration and success/failure.
func ObserveChainVerification(seconds float64, ok bool) {
	chainVerifyDuration.Observe(seconds)
	if !ok {
		chainVerifyFailures.Inc()
	}
}

// IncChainAnchor increments anchor creation counter.
func IncChainAnchor() { chainAnchorCreated.Inc() }

// SetAuditQueueHighWatermark sets the high watermark gauge.
func SetAuditQueueHighWatermark(n int) { auditQueueHighWatermark.Set(float64(n)) }

// IncAuditDroppedReason increments dropped counter with reason label.
func IncAuditDroppedReason(reason string) { auditDroppedByReason.WithLabelValues(reason).Inc() }

// IncAuditWorkerRestart increments worker restart counter.
func IncAuditWorkerRestart() { auditWorkerRestarts.Inc() }

// ObserveIntegrityExport records export duration and increments counter.
func ObserveIntegrityExport(seconds float64) {
	integrityExportCounter.Inc()
	integrityExportDuration.Observe(seconds)
}

// IncIntegritySigned increments the signed export counter.
func IncIntegritySigned() { integritySignedCounter.Inc() }

// ObserveGatewayCall records a completed IPAM gateway call's duration,
// severity band (ok/slow/throttled/severe), and outcome (ok/error).
func ObserveGatewayCall(operation, severity, outcome string, duration time.Duration) {
	gatewayCalls.WithLabelValues(operation, severity, outcome).Inc()
	gatewayLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncGatewayRetry increments the retry counter for a gateway operation.
func IncGatewayRetry(operation string) { gatewayRetries.WithLabelValues(operation).Inc() }

// IncCacheHit increments the cache hit counter for an object kind.
func IncCacheHit(kind string) { cacheHits.WithLabelValues(kind).Inc() }

// IncCacheMiss increments the cache miss counter for an object kind.
func IncCacheMiss(kind string) { cacheMisses.WithLabelValues(kind).Inc() }

// IncClaimRetry increments the atomic-claim retry counter for a site/vrf pair.
func IncClaimRetry(site, vrf string) { claimRetries.WithLabelValues(site, vrf).Inc() }
