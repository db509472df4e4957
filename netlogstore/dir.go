package netlogstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Kind names the subdirectory holding one kind of persisted record.
type Kind string

const (
	KindNetwork    Kind = "network_logs"
	KindFileSystem Kind = "file_system_logs"
	KindDatabase   Kind = "database_logs"
)

// CacheDir returns the directory for persisted records of the given kind,
// within the user's cache directory.
func CacheDir(kind Kind) (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("user cache dir: %w", err)
	}
	return filepath.Join(base, "netlog", string(kind)), nil
}

// Metrics are optional Prometheus collectors maintained by a store.
type Metrics struct {
	Reloads prometheus.Counter
	Errors  *prometheus.CounterVec
	Values  prometheus.Gauge
}

// NewMetrics returns metrics registered with the registerer, which may be nil.
// The kind is attached to every metric as a constant label, so that stores of
// different kinds can share a registerer.
func NewMetrics(reg prometheus.Registerer, kind Kind) *Metrics {
	labels := prometheus.Labels{"kind": string(kind)}
	m := &Metrics{
		Reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "netlog",
			Subsystem:   "store",
			Name:        "reloads_total",
			Help:        "Snapshot reloads of the store directory.",
			ConstLabels: labels,
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "netlog",
			Subsystem:   "store",
			Name:        "errors_total",
			Help:        "Swallowed persistence failures, by operation.",
			ConstLabels: labels,
		}, []string{"op"}),
		Values: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "netlog",
			Subsystem:   "store",
			Name:        "values",
			Help:        "Values in the current snapshot.",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Reloads, m.Errors, m.Values)
	}

	return m
}
