package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "awws_ingest"

// Metrics holds the Prometheus counters, histograms, and gauges for ingestion runs.
type Metrics struct {
	PagesFetched    *prometheus.CounterVec // labels: station
	BoxesParsed     *prometheus.CounterVec // labels: station
	BoxesUnkeyed    *prometheus.CounterVec // labels: station
	StationErrors   *prometheus.CounterVec // labels: station, stage={fetch,parse,load}
	RecordsWritten  *prometheus.CounterVec // labels: sink
	PipelineRunning prometheus.Gauge

	StationDuration *prometheus.HistogramVec // labels: station
	RunDuration     prometheus.Histogram

	BreakerState prometheus.Gauge
}

// NewMetrics creates and registers all ingestion metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PagesFetched,
		m.BoxesParsed,
		m.BoxesUnkeyed,
		m.StationErrors,
		m.RecordsWritten,
		m.PipelineRunning,
		m.StationDuration,
		m.RunDuration,
		m.BreakerState,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Report pages fetched per station.",
		}, []string{"station"}),
		BoxesParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boxes_parsed_total",
			Help:      "Report boxes parsed per station.",
		}, []string{"station"}),
		BoxesUnkeyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boxes_unkeyed_total",
			Help:      "Parsed boxes lacking a location or datetime key.",
		}, []string{"station"}),
		StationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "station_errors_total",
			Help:      "Station failures by pipeline stage.",
		}, []string{"station", "stage"}),
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Records accepted by each storage sink.",
		}, []string{"sink"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while an ingestion run is active, 0 otherwise.",
		}),
		StationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "station_duration_seconds",
			Help:      "Duration of fetch, parse and load for one station.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"station"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete ingestion run over all stations.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetch_breaker_state",
			Help:      "Fetch circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
	}
}
