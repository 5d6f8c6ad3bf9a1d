// Package monitoring defines the prometheus collectors exported by the service.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded for gateway requests.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomeRejected  = "rejected"
	OutcomeDecode    = "decode_error"
)

var (
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudgw_gateway_requests_total",
			Help: "Total number of upstream gateway calls by operation and final outcome.",
		},
		[]string{"operation", "outcome"},
	)

	gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudgw_gateway_request_duration_seconds",
			Help:    "Latency of upstream gateway calls in seconds, including retries.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	gatewayRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudgw_gateway_retries_total",
			Help: "Total number of retried upstream gateway attempts.",
		},
		[]string{"operation"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudgw_cache_lookups_total",
			Help: "Total number of result cache lookups by result.",
		},
		[]string{"result"},
	)

	usageIntervalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudgw_usage_intervals_total",
			Help: "Total number of usage intervals opened or closed.",
		},
		[]string{"metric", "event"},
	)

	policyViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudgw_lifecycle_policy_violations_total",
			Help: "Total number of lifecycle mutations refused by policy.",
		},
		[]string{"reason"},
	)

	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudgw_job_runs_total",
			Help: "Total number of scheduled follow-up job runs by kind and result.",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(Collectors()...)
}

// Collectors returns all registered metric collectors.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		gatewayRequestsTotal,
		gatewayRequestDuration,
		gatewayRetriesTotal,
		cacheLookupsTotal,
		usageIntervalsTotal,
		policyViolationsTotal,
		jobRunsTotal,
	}
}

// RecordGatewayRequest records the final outcome and total latency of a gateway call.
func RecordGatewayRequest(operation, outcome string, elapsed time.Duration) {
	gatewayRequestsTotal.WithLabelValues(operation, outcome).Inc()
	gatewayRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordGatewayRetry records a retried gateway attempt.
func RecordGatewayRetry(operation string) {
	gatewayRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordUsageInterval records a usage interval being opened or closed.
func RecordUsageInterval(metric, event string) {
	usageIntervalsTotal.WithLabelValues(metric, event).Inc()
}

// RecordPolicyViolation records a refused lifecycle mutation.
func RecordPolicyViolation(reason string) {
	policyViolationsTotal.WithLabelValues(reason).Inc()
}

// RecordJobRun records the result of a scheduled job run.
func RecordJobRun(kind string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	jobRunsTotal.WithLabelValues(kind, result).Inc()
}
