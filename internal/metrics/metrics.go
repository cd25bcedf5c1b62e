// Package metrics exposes the Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pricemate",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricemate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pricemate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	fetchCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricemate",
			Subsystem: "fetch",
			Name:      "cycles_total",
			Help:      "Total number of price fetch cycles.",
		},
		[]string{"status"},
	)

	fetchCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pricemate",
			Subsystem: "fetch",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of price fetch cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3m
		},
	)

	fetchProductsUpdated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pricemate",
			Subsystem: "fetch",
			Name:      "products_updated_total",
			Help:      "Total number of products updated by fetch cycles.",
		},
	)

	amazonRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricemate",
			Subsystem: "amazon",
			Name:      "requests_total",
			Help:      "Total number of catalog API calls.",
		},
		[]string{"operation", "status"},
	)

	alertsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pricemate",
			Subsystem: "alerts",
			Name:      "sent_total",
			Help:      "Total number of price drop alerts dispatched.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		fetchCycles,
		fetchCycleDuration,
		fetchProductsUpdated,
		amazonRequests,
		alertsSent,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordFetchCycle records the outcome of one price fetch cycle.
func RecordFetchCycle(duration time.Duration, updated int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	fetchCycles.WithLabelValues(status).Inc()
	fetchCycleDuration.Observe(duration.Seconds())
	if updated > 0 {
		fetchProductsUpdated.Add(float64(updated))
	}
}

// RecordAmazonRequest records one catalog API call by operation and outcome.
func RecordAmazonRequest(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	amazonRequests.WithLabelValues(operation, status).Inc()
}

// RecordAlertsSent records dispatched price drop alerts.
func RecordAlertsSent(count int) {
	if count > 0 {
		alertsSent.Add(float64(count))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 1 {
		return "/" + parts[0]
	}
	// Collapse resource IDs so label cardinality stays bounded.
	if len(parts) == 2 {
		return "/" + parts[0] + "/:id"
	}
	return "/" + parts[0] + "/:id/" + parts[2]
}
