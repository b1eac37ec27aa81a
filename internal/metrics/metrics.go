package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Edge groups the counters of the device loop.
type Edge struct {
	Cycles          prometheus.Counter
	Deliveries      *prometheus.CounterVec // outcome
	LinkPhase       *prometheus.GaugeVec   // phase, 1 for the current one
	ReconnectTries  prometheus.Counter
	DiscardedReads  *prometheus.CounterVec // channel
	ConditionChange *prometheus.CounterVec // status
}

func NewEdge(reg prometheus.Registerer) *Edge {
	f := promauto.With(reg)
	return &Edge{
		Cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: "plot", Subsystem: "edge", Name: "cycles_total",
			Help: "Sampling cycles completed.",
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plot", Subsystem: "edge", Name: "deliveries_total",
			Help: "Telemetry delivery outcomes.",
		}, []string{"outcome"}),
		LinkPhase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plot", Subsystem: "edge", Name: "link_phase",
			Help: "Current link phase (1 for the active phase).",
		}, []string{"phase"}),
		ReconnectTries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "plot", Subsystem: "edge", Name: "reconnect_attempts_total",
			Help: "Link reconnect attempts.",
		}),
		DiscardedReads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plot", Subsystem: "edge", Name: "discarded_reads_total",
			Help: "Raw reads rejected by the plausibility filter.",
		}, []string{"channel"}),
		ConditionChange: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plot", Subsystem: "edge", Name: "condition_changes_total",
			Help: "Transitions into a status.",
		}, []string{"status"}),
	}
}

// Collector groups the counters of the backend.
type Collector struct {
	Ingested        *prometheus.CounterVec // source: http|mqtt
	Rejected        *prometheus.CounterVec // reason
	Recommendations *prometheus.CounterVec // action
	Declined        *prometheus.CounterVec // reason
	Score           *prometheus.GaugeVec   // device
	SinkErrors      prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		Ingested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plot", Subsystem: "collector", Name: "ingested_total",
			Help: "Snapshots accepted.",
		}, []string{"source"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plot", Subsystem: "collector", Name: "rejected_total",
			Help: "Payloads refused at ingestion.",
		}, []string{"reason"}),
		Recommendations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plot", Subsystem: "collector", Name: "recommendations_total",
			Help: "Recommendations produced by the decision engine.",
		}, []string{"action"}),
		Declined: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plot", Subsystem: "collector", Name: "declined_total",
			Help: "Evaluations that produced no recommendation.",
		}, []string{"reason"}),
		Score: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plot", Subsystem: "collector", Name: "score",
			Help: "Latest decision score per device.",
		}, []string{"device"}),
		SinkErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "plot", Subsystem: "collector", Name: "sink_errors_total",
			Help: "Recommendation events the sink failed to store.",
		}),
	}
}

// Handler exposes gatherer on /metrics.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
