// Package prometheus implements metrics.Metrics with the Prometheus client.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/archi-Doc/CrystalData-sub001/pkg/metrics"
)

type engineMetrics struct {
	saveDuration    *prometheus.HistogramVec
	saveBytes       *prometheus.HistogramVec
	memoryUsage     prometheus.Gauge
	storageUsage    *prometheus.GaugeVec
	evictions       *prometheus.CounterVec
	forceUnloads    prometheus.Counter
	journalPosition prometheus.Gauge
	journalFailures *prometheus.CounterVec
}

// New registers the engine metrics on reg and returns them.
// A nil reg registers on prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) metrics.Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &engineMetrics{
		saveDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "crystaldata_save_duration_milliseconds",
				Help: "Duration of crystal saves in milliseconds",
				Buckets: []float64{
					0.5,  // 500us - small utf8 documents
					1,    // 1ms
					5,    // 5ms
					10,   // 10ms
					50,   // 50ms
					100,  // 100ms
					500,  // 500ms
					1000, // 1s - large graphs with history rotation
				},
			},
			[]string{"crystal"},
		),
		saveBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "crystaldata_save_bytes",
				Help: "Distribution of serialized crystal sizes",
				Buckets: []float64{
					1024,     // 1KB
					16384,    // 16KB
					131072,   // 128KB
					1048576,  // 1MB
					10485760, // 10MB
				},
			},
			[]string{"crystal"},
		),
		memoryUsage: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "crystaldata_memory_usage_bytes",
				Help: "Estimated in-memory footprint of registered objects",
			},
		),
		storageUsage: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crystaldata_storage_usage_bytes",
				Help: "Sum of blob sizes per storage",
			},
			[]string{"storage"},
		),
		evictions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "crystaldata_evictions_total",
				Help: "Eviction attempts by result",
			},
			[]string{"result"}, // "unloaded", "locked", "failed"
		),
		forceUnloads: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "crystaldata_force_unloads_total",
				Help: "Objects unloaded after the unload timeout expired",
			},
		),
		journalPosition: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "crystaldata_journal_position",
				Help: "Current write-ahead journal position",
			},
		),
		journalFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "crystaldata_journal_failures_total",
				Help: "Failed journal operations by kind",
			},
			[]string{"op"},
		),
	}
}

func (m *engineMetrics) ObserveSave(key string, bytes int, duration time.Duration) {
	m.saveDuration.WithLabelValues(key).Observe(float64(duration.Microseconds()) / 1000)
	m.saveBytes.WithLabelValues(key).Observe(float64(bytes))
}

func (m *engineMetrics) RecordMemoryUsage(bytes int64) {
	m.memoryUsage.Set(float64(bytes))
}

func (m *engineMetrics) RecordStorageUsage(storage string, bytes int64) {
	m.storageUsage.WithLabelValues(storage).Set(float64(bytes))
}

func (m *engineMetrics) RecordEviction(result string) {
	m.evictions.WithLabelValues(result).Inc()
}

func (m *engineMetrics) RecordForceUnload() {
	m.forceUnloads.Inc()
}

func (m *engineMetrics) RecordJournalPosition(position uint64) {
	m.journalPosition.Set(float64(position))
}

func (m *engineMetrics) RecordJournalFailure(op string) {
	m.journalFailures.WithLabelValues(op).Inc()
}
