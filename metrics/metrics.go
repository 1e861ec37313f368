package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"callpipe/models"
)

// Registry holds every pipeline collector plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

var (
	recordsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "callpipe_records_ingested_total",
		Help: "Call records accepted by the ingest stage",
	}, []string{"source"})
	recordsTransformed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "callpipe_records_transformed_total",
		Help: "Call records normalized by the transform stage",
	}, []string{"source"})
	recordsRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "callpipe_records_routed_total",
		Help: "Call records persisted by the route stage",
	}, []string{"source", "sink"})
	stageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "callpipe_stage_failures_total",
		Help: "Stage invocations that did not succeed",
	}, []string{"stage", "reason"})
	dlqWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "callpipe_dlq_writes_total",
		Help: "Payloads written to the dead-letter topic",
	}, []string{"stage"})
	callDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "callpipe_call_duration_minutes",
		Help:    "Computed call durations",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 240},
	}, []string{"source"})
	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "callpipe_ws_connections",
		Help: "Open live-feed websocket connections",
	})

	oidcInit = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "callpipe_oidc_provider_init_total",
		Help: "OIDC provider initialization outcomes",
	}, []string{"outcome"})
	oidcLastInitAttempts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "callpipe_oidc_last_init_attempts",
		Help: "Attempts used in the most recent successful/failed init",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		recordsIngested, recordsTransformed, recordsRouted,
		stageFailures, dlqWrites, callDuration, wsConnections,
		oidcInit, oidcLastInitAttempts,
	)
}

// Increment helpers. Source labels go through models.MetricSource since they
// come from request bodies.
func IncIngested(source string) { recordsIngested.WithLabelValues(models.MetricSource(source)).Inc() }
func IncTransformed(source string) {
	recordsTransformed.WithLabelValues(models.MetricSource(source)).Inc()
}
func IncRouted(source, sink string) {
	recordsRouted.WithLabelValues(models.MetricSource(source), sink).Inc()
}
func IncStageFailure(stage, reason string) { stageFailures.WithLabelValues(stage, reason).Inc() }
func IncDLQWrite(stage string)             { dlqWrites.WithLabelValues(stage).Inc() }
func ObserveDuration(source string, minutes int) {
	callDuration.WithLabelValues(models.MetricSource(source)).Observe(float64(minutes))
}
func IncWSConnections() { wsConnections.Inc() }
func DecWSConnections() { wsConnections.Dec() }

func IncOIDCInitSuccess(attempts uint64) {
	oidcInit.WithLabelValues("success").Inc()
	oidcLastInitAttempts.Set(float64(attempts))
}
func IncOIDCInitFailure(attempts uint64) {
	oidcInit.WithLabelValues("failure").Inc()
	oidcLastInitAttempts.Set(float64(attempts))
}

// Handler exposes metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
