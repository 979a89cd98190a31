// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExportsTotal tracks dataset exports by status
	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "export",
			Name:      "datasets_total",
			Help:      "Total number of dataset exports by status",
		},
		[]string{"status"},
	)

	// ExportDuration tracks export duration in seconds, completeness check included
	ExportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "export",
			Name:      "duration_seconds",
			Help:      "Duration of dataset exports in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// ExportedActivities tracks exported activities by kind
	ExportedActivities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "export",
			Name:      "activities_total",
			Help:      "Total number of exported activities by kind",
		},
		[]string{"kind"},
	)

	// ImportsTotal tracks dataset imports by resulting state
	ImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "datasets_total",
			Help:      "Total number of dataset imports by resulting state",
		},
		[]string{"state"},
	)

	// ImportDuration tracks import duration in seconds
	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "duration_seconds",
			Help:      "Duration of dataset imports in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// UnlinkedExchanges tracks distinct unlinked exchanges left by failed imports
	UnlinkedExchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "unlinked_exchanges_total",
			Help:      "Total number of distinct unlinked exchanges by kind",
		},
		[]string{"kind"},
	)

	// WarningsTotal tracks collected warnings by kind
	WarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "pipeline",
			Name:      "warnings_total",
			Help:      "Total number of warnings by kind",
		},
		[]string{"kind"},
	)

	// KafkaMessagesPublished tracks messages published to Kafka
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// HTTPRequestsTotal tracks inbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks inbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
)

// RecordExport records an export attempt
func RecordExport(status string, duration time.Duration, process, emission int) {
	ExportsTotal.WithLabelValues(status).Inc()
	ExportDuration.Observe(duration.Seconds())
	ExportedActivities.WithLabelValues("process").Add(float64(process))
	ExportedActivities.WithLabelValues("emission").Add(float64(emission))
}

// RecordImport records an import attempt with its unlinked statistics
func RecordImport(state string, duration time.Duration, statistics map[string]int) {
	ImportsTotal.WithLabelValues(state).Inc()
	ImportDuration.Observe(duration.Seconds())
	for kind, count := range statistics {
		UnlinkedExchanges.WithLabelValues(kind).Add(float64(count))
	}
}

// RecordWarning records a collected warning
func RecordWarning(kind string) {
	WarningsTotal.WithLabelValues(kind).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}

// RecordHTTPRequest records an inbound HTTP request
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
