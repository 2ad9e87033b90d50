// Package metrics exposes Prometheus collectors for the trainwatch service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	watchPollsTotal            *prometheus.CounterVec
	watchPollDurationSeconds   prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		watchPollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trainwatch_watch_polls_total",
				Help: "Total episode log polls performed by watch mode, labeled by result.",
			},
			[]string{"result"},
		)

		watchPollDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trainwatch_watch_poll_duration_seconds",
				Help:    "Histogram of episode log poll durations.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveWatchPoll records one episode log poll in watch mode. Result is
// "ok", "empty", or "error".
func ObserveWatchPoll(result string, duration time.Duration) {
	Init()
	watchPollsTotal.WithLabelValues(result).Inc()
	watchPollDurationSeconds.Observe(duration.Seconds())
}
