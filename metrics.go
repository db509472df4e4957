package netlog

import "github.com/prometheus/client_golang/prometheus"

// Metrics are optional Prometheus collectors maintained by an engine.
type Metrics struct {
	Started    prometheus.Counter
	Finished   *prometheus.CounterVec
	Duplicates prometheus.Counter
	Reaped     prometheus.Counter
	Live       prometheus.Gauge
}

// NewMetrics returns metrics registered with the registerer, which may be nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netlog",
			Name:      "calls_started_total",
			Help:      "Intercepted calls that have started.",
		}),
		Finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netlog",
			Name:      "calls_finished_total",
			Help:      "Intercepted calls that have finished, by outcome class.",
		}, []string{"class"}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netlog",
			Name:      "duplicate_finishes_total",
			Help:      "Finished events dropped because the record was already terminal.",
		}),
		Reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netlog",
			Name:      "calls_reaped_total",
			Help:      "Active records finished by the stale record sweep.",
		}),
		Live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netlog",
			Name:      "live_records",
			Help:      "Records currently held in the live ring buffer.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Started, m.Finished, m.Duplicates, m.Reaped, m.Live)
	}

	return m
}
