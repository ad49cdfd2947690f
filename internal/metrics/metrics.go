package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skechum_http_request_duration_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Generations
	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skechum_generations_total",
			Help: "Image generations by provider and outcome",
		},
		[]string{"provider", "status"}, // completed|failed|timeout
	)
	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skechum_generation_duration_seconds",
			Help:    "Time spent waiting on the image provider.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 90, 120},
		},
		[]string{"provider"},
	)

	// Credits
	CreditsMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skechum_credits_total",
			Help: "Credits moved through the ledger",
		},
		[]string{"type"}, // purchase|spend|refund|bonus
	)

	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skechum_payments_total",
			Help: "Reconciled payments by provider and status",
		},
		[]string{"provider", "status"},
	)

	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skechum_downloads_total",
			Help: "Image downloads by output format",
		},
		[]string{"format"},
	)

	// Worker queue
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skechum_worker_queue_depth",
			Help: "Current notification queue depth",
		},
	)

	initOnce sync.Once
)

// Handler serves /metrics.
var Handler = promhttp.Handler

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestLatency,
			GenerationsTotal,
			GenerationDuration,
			CreditsMoved,
			PaymentsTotal,
			DownloadsTotal,
			WorkerQueueDepth,
		)
	})
}
