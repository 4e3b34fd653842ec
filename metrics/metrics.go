package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	providerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etf_provider_requests_total",
			Help: "Market data provider calls by outcome",
		},
		[]string{"provider", "operation", "outcome"},
	)
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etf_cache_lookups_total",
			Help: "Cache lookups by layer and result",
		},
		[]string{"layer", "result"},
	)
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etf_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "etf_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	simulationTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etf_simulation_ticks_total",
			Help: "Trading simulation ticks by outcome",
		},
		[]string{"outcome"},
	)
	signalsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etf_signals_generated_total",
			Help: "Generated trading signals by type",
		},
		[]string{"type"},
	)
	wsClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "etf_ws_clients",
			Help: "Connected WebSocket clients",
		},
	)
)

func ProviderRequest(provider, operation, outcome string) {
	providerRequests.WithLabelValues(provider, operation, outcome).Inc()
}

func CacheLookup(layer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(layer, result).Inc()
}

func HTTPRequest(method, route, status string, seconds float64) {
	httpRequests.WithLabelValues(method, route, status).Inc()
	httpDuration.WithLabelValues(method, route).Observe(seconds)
}

func SimulationTick(outcome string) {
	simulationTicks.WithLabelValues(outcome).Inc()
}

func SignalGenerated(signalType string) {
	signalsGenerated.WithLabelValues(signalType).Inc()
}

func SetWSClients(n int) {
	wsClients.Set(float64(n))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
