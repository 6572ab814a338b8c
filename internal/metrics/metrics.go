// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestCounter counts HTTP requests by method, path and status.
	RequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration records request duration in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// AuditWrites counts committed audit entries by kind.
	AuditWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_writes_total",
			Help: "Total number of audit entries written",
		},
		[]string{"kind"},
	)

	// AuditReadDrops counts read-audit entries dropped on queue overflow.
	AuditReadDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_read_drops_total",
			Help: "Read-audit entries dropped because the queue was full",
		},
	)

	// CacheOps counts tenant cache lookups by outcome.
	CacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_cache_ops_total",
			Help: "Tenant context cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// EnforcementViolations counts detected policy-layer bypasses. Any
	// nonzero value is an alert condition.
	EnforcementViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enforcement_violations_total",
			Help: "Code paths detected bypassing the tenant policy layer",
		},
	)

	// SuspiciousFlags counts audit entries flagged by the detector.
	SuspiciousFlags = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_suspicious_flags_total",
			Help: "Audit entries flagged as suspicious",
		},
	)

	// SweepDeletes counts rows removed by retention sweeps per job.
	SweepDeletes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_deletes_total",
			Help: "Rows removed by retention sweeps",
		},
		[]string{"job"},
	)
)
