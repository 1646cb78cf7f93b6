// Package metrics exposes the orchestrator's Prometheus series on a
// dedicated, non-default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds only this service's collectors, not the default
	// process/Go runtime ones registered globally by imported packages.
	Registry = prometheus.NewRegistry()

	EventsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orch_events_started_total",
		Help: "Total number of stream_started events accepted.",
	})

	EventsEndedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orch_events_ended_total",
		Help: "Total number of stream_ended events that transitioned a stream.",
	})

	CollectErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orch_collect_errors_total",
		Help: "Total number of stats-collector fetch failures.",
	})

	ProvisionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_provision_total",
		Help: "Total provisioning attempts by kind (generic|acestream) and outcome (ok|error).",
	}, []string{"kind", "outcome"})

	StreamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orch_streams_active",
		Help: "Current number of streams in status started.",
	})
)

func init() {
	Registry.MustRegister(
		EventsStartedTotal,
		EventsEndedTotal,
		CollectErrorsTotal,
		ProvisionTotal,
		StreamsActive,
	)
}

// Handler returns the HTTP handler serving this registry's series.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
