// Package metrics exposes the Prometheus metrics named in spec.md §6,
// registered against a dedicated registry so /metrics never picks up
// Go runtime noise the spec doesn't ask for.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neurovisor_requests_total",
		Help: "Total agent/execution requests, by outcome.",
	}, []string{"outcome"})

	InferenceDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "neurovisor_inference_duration_seconds",
		Help:    "Guest-reported execution duration of a gateway request, by language.",
		Buckets: prometheus.DefBuckets,
	}, []string{"language"})

	TokensGeneratedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neurovisor_tokens_generated_total",
		Help: "Total tokens generated across all Ollama calls.",
	})

	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neurovisor_errors_total",
		Help: "Total errors, by component and kind.",
	}, []string{"component", "kind"})

	RequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neurovisor_requests_in_flight",
		Help: "Requests currently being served.",
	})

	RequestSizeBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "neurovisor_request_size_bytes",
		Help:    "Size of incoming execution request payloads.",
		Buckets: prometheus.ExponentialBuckets(64, 4, 8),
	})

	GrpcRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "neurovisor_grpc_request_duration_seconds",
		Help:    "Duration of Execute/ExecuteStream RPC calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	VMBootDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "neurovisor_vm_boot_duration_seconds",
		Help:    "Time from create_vm start to Ready.",
		Buckets: prometheus.DefBuckets,
	})

	PoolWarmVMs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neurovisor_pool_warm_vms",
		Help: "Number of warm VMs currently idle in the pool.",
	})

	PoolActiveVMs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neurovisor_pool_active_vms",
		Help: "Number of VMs currently checked out of the pool.",
	})

	VMAcquireDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "neurovisor_vm_acquire_duration_seconds",
		Help:    "Duration of Pool.Acquire calls.",
		Buckets: prometheus.DefBuckets,
	})

	RateLimitRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neurovisor_rate_limit_rejections_total",
		Help: "Total requests rejected by the rate limiter.",
	})
)

func init() {
	Registry.MustRegister(
		RequestsTotal,
		InferenceDuration,
		TokensGeneratedTotal,
		ErrorsTotal,
		RequestsInFlight,
		RequestSizeBytes,
		GrpcRequestDuration,
		VMBootDuration,
		PoolWarmVMs,
		PoolActiveVMs,
		VMAcquireDuration,
		RateLimitRejectionsTotal,
	)
}

// Handler returns the HTTP handler to mount at the configured metrics
// address.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
