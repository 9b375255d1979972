// Package metrics exposes the pipeline's Prometheus counters and
// gauges, grounded on the teacher's internal/interfaces/http
// MetricsRegistry (same NewXxxVec/MustRegister/promhttp.Handler shape),
// generalized from scan-pipeline metrics to ingestion-pipeline metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the ingestion pipeline reports.
type Registry struct {
	Reconnects       *prometheus.CounterVec
	ChecksumFailures *prometheus.CounterVec
	ResyncsTotal     *prometheus.CounterVec
	PublishedTotal   *prometheus.CounterVec
	DuplicateTotal   *prometheus.CounterVec
	DroppedTotal     *prometheus.CounterVec
	BatchSize        prometheus.Histogram
	SubscriptionLag  *prometheus.GaugeVec
	WatermarkAge     *prometheus.GaugeVec
	HotWriteErrors   *prometheus.CounterVec
	RESTBudgetUsed   *prometheus.GaugeVec
	WSLatency        *prometheus.HistogramVec
}

// New creates and registers every metric with the default registerer.
func New() *Registry {
	r := &Registry{
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestord_reconnects_total",
			Help: "Total venue stream reconnect attempts by exchange and reason.",
		}, []string{"exchange", "reason"}),

		ChecksumFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestord_checksum_failures_total",
			Help: "Total order-book checksum verification failures by exchange and symbol.",
		}, []string{"exchange", "symbol"}),

		ResyncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestord_orderbook_resyncs_total",
			Help: "Total order-book resync operations by exchange, symbol, and trigger.",
		}, []string{"exchange", "symbol", "trigger"}),

		PublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestord_published_total",
			Help: "Total records published to the bus by data type.",
		}, []string{"data_type"}),

		DuplicateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestord_duplicate_total",
			Help: "Total records suppressed by the dedup cache by data type.",
		}, []string{"data_type"}),

		DroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestord_dropped_total",
			Help: "Total records dropped after exhausting publish retries by data type.",
		}, []string{"data_type"}),

		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingestord_publish_batch_size",
			Help:    "Distribution of publish batch sizes.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 200},
		}),

		SubscriptionLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ingestord_subscription_lag_seconds",
			Help: "Seconds since the last event observed on a venue stream.",
		}, []string{"exchange", "symbol"}),

		WatermarkAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ingestord_cold_watermark_age_seconds",
			Help: "Age of the cold-replication watermark by table.",
		}, []string{"table"}),

		HotWriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestord_hot_write_errors_total",
			Help: "Total hot-store write failures by table.",
		}, []string{"table"}),

		RESTBudgetUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ingestord_rest_budget_used_ratio",
			Help: "Fraction of the daily REST weight budget consumed, by exchange.",
		}, []string{"exchange"}),

		WSLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingestord_ws_round_trip_ms",
			Help:    "WebSocket ping/pong round-trip latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"exchange"}),
	}

	prometheus.MustRegister(
		r.Reconnects, r.ChecksumFailures, r.ResyncsTotal,
		r.PublishedTotal, r.DuplicateTotal, r.DroppedTotal, r.BatchSize,
		r.SubscriptionLag, r.WatermarkAge, r.HotWriteErrors,
		r.RESTBudgetUsed, r.WSLatency,
	)
	return r
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
