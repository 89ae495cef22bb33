// Package telemetry exposes the fixed, always-on Prometheus process
// health surface: counters/gauges/histograms for records read,
// dispatched, sink write errors, rescue activations, active connections,
// and dispatch latency, registered via promauto the way the teacher's
// pkg/engine/metrics.go does. This complements, and does not replace,
// the in-pipeline resettable pkg/stats collector (spec.md §4.3).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every process-wide gauge/counter/histogram. Construct
// once at startup with New and share the pointer across components.
type Metrics struct {
	RecordsRead       *prometheus.CounterVec
	RecordsDispatched *prometheus.CounterVec
	SinkWriteErrors   *prometheus.CounterVec
	RescueActivations *prometheus.CounterVec
	ActiveConnections *prometheus.GaugeVec
	DispatchLatency   *prometheus.HistogramVec
}

// New registers fluxgate's metrics against reg. A nil reg creates the
// metrics without registering them anywhere (promauto.With(nil) does not
// substitute prometheus.DefaultRegisterer). Safe to call once per
// process; call it more than once against
// the same registerer and promauto will panic on duplicate registration,
// matching the teacher's single-init-at-startup convention.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsRead: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxgate",
			Name:      "records_read_total",
			Help:      "Events read from a source, by source key.",
		}, []string{"source"}),
		RecordsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxgate",
			Name:      "records_dispatched_total",
			Help:      "Records handed to a sink by a dispatcher, by group and sink name.",
		}, []string{"group", "sink"}),
		SinkWriteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxgate",
			Name:      "sink_write_errors_total",
			Help:      "Sink write failures, by group, sink name, and error reason.",
		}, []string{"group", "sink", "reason"}),
		RescueActivations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxgate",
			Name:      "rescue_activations_total",
			Help:      "Times a sink runtime swapped its primary for a rescue file sink.",
		}, []string{"group", "sink"}),
		ActiveConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fluxgate",
			Name:      "active_connections",
			Help:      "Currently registered TCP connections, by source key.",
		}, []string{"source"}),
		DispatchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fluxgate",
			Name:      "dispatch_latency_seconds",
			Help:      "Time spent in one sink dispatcher GroupSinkPackage call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"group"}),
	}
}
