package api

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gsclone",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests by route and status code",
		},
		[]string{"route", "code"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gsclone",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   []float64{0.01, 0.1, 1, 10, 60, 300, 900, 1800},
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration)
}

// recordRequestMetric records a served request.
func recordRequestMetric(route string, code int, duration float64) {
	requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	requestDuration.WithLabelValues(route).Observe(duration)
}
