package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	validationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_validations_total",
			Help: "Total number of candidate validations by verdict.",
		},
		[]string{"result"},
	)
	repairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_repairs_total",
			Help: "Total number of repair actions applied by kind.",
		},
		[]string{"kind"},
	)
	regenerationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_regeneration_attempts_total",
			Help: "Total number of regeneration round-trips by outcome.",
		},
		[]string{"outcome"},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_executions_total",
			Help: "Total number of statement executions by status.",
		},
		[]string{"status"},
	)
	executionDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querygate_execution_duration_ms",
			Help:    "Statement execution latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)
	rowsTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querygate_rows_truncated_total",
			Help: "Total number of result sets truncated to the row cap.",
		},
	)
	poolAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_pool_acquisitions_total",
			Help: "Total number of pooled connection acquisitions by result.",
		},
		[]string{"result"},
	)
	poolAcquireWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querygate_pool_acquire_wait_seconds",
			Help:    "Time spent waiting for a pooled connection.",
			Buckets: prometheus.DefBuckets,
		},
	)
	poolRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_pool_retries_total",
			Help: "Total number of retried pooled operations by transient error code.",
		},
		[]string{"code"},
	)
	poolRecreationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querygate_pool_recreations_total",
			Help: "Total number of pool recreations after unrecoverable protocol errors.",
		},
	)
	schemaCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_schema_cache_total",
			Help: "Schema table-list cache lookups by result.",
		},
		[]string{"result"},
	)
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_tool_calls_total",
			Help: "Total number of dispatched tool calls by tool and status.",
		},
		[]string{"tool", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		validationsTotal,
		repairsTotal,
		regenerationAttemptsTotal,
		executionsTotal,
		executionDurationMs,
		rowsTruncatedTotal,
		poolAcquisitionsTotal,
		poolAcquireWaitSeconds,
		poolRetriesTotal,
		poolRecreationsTotal,
		schemaCacheTotal,
		toolCallsTotal,
	)
}

func ObserveValidation(valid bool) {
	if valid {
		validationsTotal.WithLabelValues("valid").Inc()
		return
	}
	validationsTotal.WithLabelValues("invalid").Inc()
}

func ObserveRepair(kind string) {
	repairsTotal.WithLabelValues(kind).Inc()
}

func ObserveRegenerationAttempt(outcome string) {
	regenerationAttemptsTotal.WithLabelValues(outcome).Inc()
}

func ObserveExecution(success, truncated bool, elapsed time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	executionsTotal.WithLabelValues(status).Inc()
	executionDurationMs.Observe(float64(elapsed.Milliseconds()))
	if truncated {
		rowsTruncatedTotal.Inc()
	}
}

func ObservePoolAcquire(ok bool, waited time.Duration) {
	if ok {
		poolAcquisitionsTotal.WithLabelValues("ok").Inc()
	} else {
		poolAcquisitionsTotal.WithLabelValues("error").Inc()
	}
	poolAcquireWaitSeconds.Observe(waited.Seconds())
}

func IncrementPoolRetry(code string) {
	poolRetriesTotal.WithLabelValues(code).Inc()
}

func IncrementPoolRecreation() {
	poolRecreationsTotal.Inc()
}

func ObserveSchemaCache(hit bool) {
	if hit {
		schemaCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	schemaCacheTotal.WithLabelValues("miss").Inc()
}

func ObserveToolCall(tool string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}
