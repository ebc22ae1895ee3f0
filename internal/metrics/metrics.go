// Package metrics exposes sync engine state to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stevedores/dashboard-sync/internal/models"
	"github.com/stevedores/dashboard-sync/internal/sync/status"
)

const (
	namespace = "harbor"
	subsystem = "sync"
)

// SnapshotFunc returns the current queue state.
type SnapshotFunc func() status.Snapshot

// Metrics owns a private registry so several engines can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry
	snapshot SnapshotFunc

	records *prometheus.GaugeVec
	online  prometheus.Gauge
	passes  prometheus.Counter
	events  *prometheus.CounterVec
}

// New registers the sync metrics. snapshot is read on every scrape.
func New(snapshot SnapshotFunc) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		snapshot: snapshot,
		records: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "records",
				Help:      "Records in the local operation store by status",
			},
			[]string{"status"},
		),
		online: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "online",
				Help:      "1 when the terminal considers itself online",
			},
		),
		passes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "passes_total",
				Help:      "Sync passes started",
			},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_total",
				Help:      "Sync events published, by type",
			},
			[]string{"event"},
		),
	}
}

// Observe counts one event. Subscribe it to the engine's bus.
func (m *Metrics) Observe(ev status.Event) {
	m.events.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type == status.EventSyncStarted {
		m.passes.Inc()
	}
}

// Refresh copies the current snapshot into the gauges.
func (m *Metrics) Refresh() {
	if m.snapshot == nil {
		return
	}
	s := m.snapshot()
	m.records.WithLabelValues(string(models.StatusPending)).Set(float64(s.Pending))
	m.records.WithLabelValues(string(models.StatusSyncing)).Set(float64(s.Syncing))
	m.records.WithLabelValues(string(models.StatusSynced)).Set(float64(s.Synced))
	m.records.WithLabelValues(string(models.StatusConflict)).Set(float64(s.Conflict))
	m.records.WithLabelValues(string(models.StatusError)).Set(float64(s.Error))
	if s.IsOnline {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry, refreshing gauges first.
func (m *Metrics) Handler() http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Refresh()
		inner.ServeHTTP(w, r)
	})
}
