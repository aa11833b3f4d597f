package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for scans and sync operations.
//
// A nil *Metrics is valid and records nothing, so components can take one
// optionally.
type Metrics struct {
	registry *prometheus.Registry

	scansTotal        *prometheus.CounterVec
	syncOpsTotal      *prometheus.CounterVec
	syncDuration      *prometheus.HistogramVec
	syncedScansTotal  prometheus.Counter
	conflictsTotal    prometheus.Counter
	unsyncedScans     prometheus.Gauge
	catalogTickets    prometheus.Gauge
	offlineModeActive prometheus.Gauge
}

// NewMetrics creates the collectors in a fresh registry together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatescan_scans_total",
				Help: "Total number of scans by source, verdict and reason",
			},
			[]string{"source", "verdict", "reason"},
		),
		syncOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatescan_sync_operations_total",
				Help: "Total number of catalog downloads and ledger uploads by result",
			},
			[]string{"operation", "result"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatescan_sync_duration_seconds",
				Help:    "Duration of catalog downloads and ledger uploads",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		syncedScansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatescan_synced_scans_total",
				Help: "Total number of offline scans accepted by the authority",
			},
		),
		conflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatescan_sync_conflicts_total",
				Help: "Total number of offline scans the authority reported as conflicts",
			},
		),
		unsyncedScans: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatescan_unsynced_scans",
				Help: "Offline scans recorded but not yet uploaded",
			},
		),
		catalogTickets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatescan_catalog_tickets",
				Help: "Tickets in the offline catalog",
			},
		),
		offlineModeActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatescan_offline_mode_active",
				Help: "1 when scans are validated locally, 0 when online",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.scansTotal,
		m.syncOpsTotal,
		m.syncDuration,
		m.syncedScansTotal,
		m.conflictsTotal,
		m.unsyncedScans,
		m.catalogTickets,
		m.offlineModeActive,
	)
	return m
}

// Registry returns the registry the collectors are registered in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveScan counts one scan outcome.
func (m *Metrics) ObserveScan(source, verdict, reason string) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(source, verdict, reason).Inc()
}

// ObserveSync records one download or upload attempt.
func (m *Metrics) ObserveSync(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.syncOpsTotal.WithLabelValues(operation, result).Inc()
	m.syncDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveUpload counts the authority's per-scan results for one upload.
// Negative values are ignored; counters only go up.
func (m *Metrics) ObserveUpload(synced, conflicts int) {
	if m == nil {
		return
	}
	if synced > 0 {
		m.syncedScansTotal.Add(float64(synced))
	}
	if conflicts > 0 {
		m.conflictsTotal.Add(float64(conflicts))
	}
}

// SetStoreGauges updates the catalog and ledger gauges.
func (m *Metrics) SetStoreGauges(tickets, unsynced int) {
	if m == nil {
		return
	}
	m.catalogTickets.Set(float64(tickets))
	m.unsyncedScans.Set(float64(unsynced))
}

// SetOfflineMode updates the effective mode gauge.
func (m *Metrics) SetOfflineMode(offline bool) {
	if m == nil {
		return
	}
	if offline {
		m.offlineModeActive.Set(1)
		return
	}
	m.offlineModeActive.Set(0)
}
