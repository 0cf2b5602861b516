package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transferd",
		Name:      "http_requests_total",
		Help:      "Total API requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "transferd",
		Name:      "http_request_duration_seconds",
		Help:      "API request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.3, 1, 5},
	}, []string{"method", "path"})

	ActiveTransfers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "transferd",
		Name:      "active_transfers",
		Help:      "Number of transfers with a running engine.",
	})

	BytesDownloadedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transferd",
		Name:      "bytes_downloaded_total",
		Help:      "Total payload bytes written to disk.",
	})

	OutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transferd",
		Name:      "outcomes_total",
		Help:      "Transfer attempts by terminal outcome.",
	}, []string{"outcome"})

	NegotiationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transferd",
		Name:      "negotiations_total",
		Help:      "Resume negotiations by decision.",
	}, []string{"decision"})

	ProbeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transferd",
		Name:      "probe_failures_total",
		Help:      "HEAD probes that degraded to unknown.",
	})

	MetadataSaveFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transferd",
		Name:      "metadata_save_failures_total",
		Help:      "Resume record writes that failed.",
	})

	RetriesScheduledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transferd",
		Name:      "retries_scheduled_total",
		Help:      "Automatic retries scheduled after transport failures.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveTransfers,
		BytesDownloadedTotal,
		OutcomesTotal,
		NegotiationsTotal,
		ProbeFailuresTotal,
		MetadataSaveFailuresTotal,
		RetriesScheduledTotal,
	)
}
