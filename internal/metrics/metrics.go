// Package metrics exports escrow and API metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a registry and the collectors registered on it.
// It implements escrow.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	// commands counts operations by kind and result (ok or an error class)
	commands *prometheus.CounterVec

	// duration tracks operation latency by kind
	duration *prometheus.HistogramVec

	// finalizeOutcomes counts finalize attempts by outcome or error class
	finalizeOutcomes *prometheus.CounterVec

	// vaultLocked is the sum of all open vault balances
	vaultLocked prometheus.Gauge

	// rateLimited counts API requests refused by the limiter
	rateLimited prometheus.Counter

	// httpRequests counts API requests by route and status code
	httpRequests *prometheus.CounterVec
}

// New creates collectors on a fresh registry, including Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		commands: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_commands_total",
				Help: "Escrow operations by kind and result",
			},
			[]string{"kind", "result"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "escrow_command_duration_seconds",
				Help:    "Escrow operation latency",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"kind"},
		),
		finalizeOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_finalize_outcomes_total",
				Help: "Finalize attempts by outcome",
			},
			[]string{"outcome"},
		),
		vaultLocked: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "escrow_vault_locked",
				Help: "Funds currently locked in open bounty vaults",
			},
		),
		rateLimited: f.NewCounter(
			prometheus.CounterOpts{
				Name: "escrow_api_rate_limited_total",
				Help: "API requests refused by the per-client rate limiter",
			},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_api_requests_total",
				Help: "API requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}
}

// ObserveCommand records one escrow operation.
func (m *Metrics) ObserveCommand(kind, result string, elapsed time.Duration) {
	m.commands.WithLabelValues(kind, result).Inc()
	m.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveFinalize records a finalize outcome.
func (m *Metrics) ObserveFinalize(outcome string) {
	m.finalizeOutcomes.WithLabelValues(outcome).Inc()
}

// AddVaultLocked moves the locked-funds gauge by delta.
func (m *Metrics) AddVaultLocked(delta float64) {
	m.vaultLocked.Add(delta)
}

// SetVaultLocked sets the locked-funds gauge, used once at startup from the ledger.
func (m *Metrics) SetVaultLocked(v float64) {
	m.vaultLocked.Set(v)
}

// RateLimited counts one refused API request.
func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
}

// ObserveRequest counts one API response.
func (m *Metrics) ObserveRequest(route, code string) {
	m.httpRequests.WithLabelValues(route, code).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
