package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flood_telemetry"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion service.
type Metrics struct {
	// Transport metrics.
	TransportConnected    prometheus.Gauge
	TransportOpenFailures prometheus.Counter
	TransportDisconnects  prometheus.Counter
	LinesDiscarded        prometheus.Counter

	// Line processing metrics.
	LinesRead              prometheus.Counter
	LinesRejected          *prometheus.CounterVec // labels: encoding={none,structured,key_value,fixed_order,opaque}
	ReadingsAccepted       prometheus.Counter
	DuplicatesSuppressed   prometheus.Counter
	FutureTimestamps       prometheus.Counter
	LineProcessingDuration prometheus.Histogram
	WorkerRunning          prometheus.Gauge

	// Record store metrics.
	RowsAppended prometheus.Counter
	AppendErrors *prometheus.CounterVec // labels: kind={write,sync}
	SeriesSize   prometheus.Gauge

	// Sink metrics.
	SinkWrites *prometheus.CounterVec // labels: sink={postgres,kafka}
	SinkErrors *prometheus.CounterVec // labels: sink={postgres,kafka}

	// Alert metrics.
	AlertActive       *prometheus.GaugeVec // labels: condition
	AlertStateChanges prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		TransportConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_connected",
			Help:      "1 while a serial or TCP link is open, 0 otherwise.",
		}),
		TransportOpenFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_open_failures_total",
			Help:      "Open attempts where no candidate target could be opened.",
		}),
		TransportDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_disconnects_total",
			Help:      "Links closed after a mid-stream I/O error.",
		}),
		LinesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_discarded_total",
			Help:      "Over-long lines dropped by the transport as corruption.",
		}),
		LinesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_read_total",
			Help:      "Raw lines received from the transport.",
		}),
		LinesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_rejected_total",
			Help:      "Lines that produced no reading, by detected encoding.",
		}, []string{"encoding"}),
		ReadingsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_accepted_total",
			Help:      "Readings that passed deduplication and were appended.",
		}),
		DuplicatesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_suppressed_total",
			Help:      "Readings dropped as immediate repeats of the previous one.",
		}),
		FutureTimestamps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "future_timestamps_total",
			Help:      "Wire timestamps too far ahead of the clock, restamped live or skipped on replay.",
		}),
		LineProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "line_processing_duration_seconds",
			Help:      "Time from line receipt to the reading reaching the in-memory series.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		WorkerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_running",
			Help:      "1 when the ingestion worker is active, 0 when stopped.",
		}),
		RowsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_appended_total",
			Help:      "Rows written to the CSV record store.",
		}),
		AppendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "append_errors_total",
			Help:      "Record store failures by kind.",
		}, []string{"kind"}),
		SeriesSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "series_readings",
			Help:      "Readings held in the in-memory series.",
		}),
		SinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Readings delivered to optional sinks.",
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed deliveries to optional sinks.",
		}, []string{"sink"}),
		AlertActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alert_active",
			Help:      "1 while the named alert condition is active.",
		}, []string{"condition"}),
		AlertStateChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_state_changes_total",
			Help:      "Alert state publications caused by a change in active conditions.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TransportConnected,
		m.TransportOpenFailures,
		m.TransportDisconnects,
		m.LinesDiscarded,
		m.LinesRead,
		m.LinesRejected,
		m.ReadingsAccepted,
		m.DuplicatesSuppressed,
		m.FutureTimestamps,
		m.LineProcessingDuration,
		m.WorkerRunning,
		m.RowsAppended,
		m.AppendErrors,
		m.SeriesSize,
		m.SinkWrites,
		m.SinkErrors,
		m.AlertActive,
		m.AlertStateChanges,
	}
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
