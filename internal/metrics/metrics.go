// Package metrics holds Prometheus instruments used across the tenancy
// layer.  All collectors are registered with the global registry, so
// importing this package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActiveTenants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenancy_active_tenant_pools",
			Help: "Number of tenant connection pools currently cached.",
		})

	TenantLoadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenancy_tenant_pool_open_total",
			Help: "Cumulative number of tenant pools successfully opened.",
		})

	TenantLoadErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenancy_tenant_pool_open_errors_total",
			Help: "Cumulative number of failed tenant pool resolutions, by reason.",
		}, []string{"reason"})

	TenantEvictTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenancy_tenant_pool_evict_total",
			Help: "Cumulative number of tenant pools closed, by cause.",
		}, []string{"cause"})

	ProvisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenancy_provision_total",
			Help: "Provisioning attempts by final state.",
		}, []string{"state"})

	ProvisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenancy_provision_duration_seconds",
			Help:    "Wall time of provisioning attempts.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		})

	MigrationsAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenancy_migrations_applied_total",
			Help: "Schema migrations applied to tenant databases.",
		})

	EventHandlerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenancy_event_handler_errors_total",
			Help: "Failed event handler invocations, by event and handler.",
		}, []string{"event", "handler"})

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenancy_http_requests_total",
			Help: "HTTP requests by status class.",
		}, []string{"code"})
)

func init() {
	prometheus.MustRegister(
		ActiveTenants,
		TenantLoadTotal,
		TenantLoadErrorsTotal,
		TenantEvictTotal,
		ProvisionTotal,
		ProvisionDuration,
		MigrationsAppliedTotal,
		EventHandlerErrorsTotal,
		HTTPRequestsTotal,
	)
}
