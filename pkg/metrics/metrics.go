// Package metrics provides Prometheus metrics collection for the webhook
// server and the background reconciler loops.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	subsystem = "bridge"
)

// Metrics provides Prometheus metrics collection.
type Metrics struct {
	reg *prometheus.Registry

	TotalHTTPRequestsCounter prometheus.Counter
	HTTPDurationHistogram    prometheus.Histogram

	// HTTPRequestsCounters is lazily populated per status code by concurrent
	// request handlers, so every access goes through httpCountersMu.
	httpCountersMu       sync.Mutex
	HTTPRequestsCounters map[int]prometheus.Counter

	JobMetricCounters map[int]prometheus.Counter

	customMetrics []prometheus.Collector

	log logger.Logger
}

// NewMetrics creates a new Metrics instance with the specified collectors enabled.
func NewMetrics(httpCounters, jobMetrics bool, l logger.Logger) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		log: l,
	}
	if httpCounters {
		m.TotalHTTPRequestsCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "total_http_requests",
			Help:      "Total HTTP requests",
		})
		m.reg.MustRegister(m.TotalHTTPRequestsCounter)
		m.HTTPRequestsCounters = make(map[int]prometheus.Counter)

		m.HTTPDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.3, 0.5, 0.7, 1.0, 3.0, 5.0, 7.0, 10.0},
		})
		m.reg.MustRegister(m.HTTPDurationHistogram)
	}
	if jobMetrics {
		m.JobMetricCounters = getJobMetricCounters()
		for k := range m.JobMetricCounters {
			m.reg.MustRegister(m.JobMetricCounters[k])
		}
	}
	return m
}

// Listen starts the metrics HTTP server on the specified port. The server is
// shut down when ctx is canceled.
func (m *Metrics) Listen(ctx context.Context, port int) {
	m.log.Info("Starting metrics listener", logger.IntField("port", port))
	mux := http.NewServeMux()
	mux.Handle("/", http.NotFoundHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Error("Metrics listener failed", logger.ErrorField(err))
		}
	}()
	go func() {
		<-ctx.Done()
		m.log.Info("Stopping metrics listener")
		_ = server.Shutdown(context.Background())
	}()
}

// Job metric counter indices. The reconciler loops report each iteration here.
const (
	JobMetricTotal = iota
	JobMetricTotalSuccess
	JobMetricTotalFailed
)

func getJobMetricCounters() map[int]prometheus.Counter {
	m := make(map[int]prometheus.Counter)
	m[JobMetricTotal] = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "total_jobs_handled",
		Help:      "Total background job iterations",
	})
	m[JobMetricTotalSuccess] = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "total_jobs_successful",
		Help:      "Total background job iterations completed successfully",
	})
	m[JobMetricTotalFailed] = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "total_jobs_failed",
		Help:      "Total background job iterations that failed",
	})
	return m
}

// IncrementJobCounter increments the job counter at the given index, if enabled.
func (m *Metrics) IncrementJobCounter(idx int) {
	if c, ok := m.JobMetricCounters[idx]; ok {
		c.Inc()
	}
}

// AddCustomMetric registers a custom Prometheus collector.
func (m *Metrics) AddCustomMetric(c prometheus.Collector) {
	m.customMetrics = append(m.customMetrics, c)
	m.reg.MustRegister(m.customMetrics[len(m.customMetrics)-1])
}

// IncrementHTTPResponseCounter increments the counter for the given HTTP
// status code, registering it on first occurrence. No-op when HTTP counters
// are disabled.
func (m *Metrics) IncrementHTTPResponseCounter(code int) {
	m.httpCountersMu.Lock()
	if m.HTTPRequestsCounters == nil {
		m.httpCountersMu.Unlock()
		return
	}
	c, ok := m.HTTPRequestsCounters[code]
	if !ok {
		c = newTotalHTTPReqMetric(code)
		m.HTTPRequestsCounters[code] = c
		m.reg.MustRegister(c)
	}
	m.httpCountersMu.Unlock()
	c.Inc()
}

// HTTPResponseCounter returns the counter for a status code, or nil if the
// code has not been observed yet.
func (m *Metrics) HTTPResponseCounter(code int) prometheus.Counter {
	m.httpCountersMu.Lock()
	defer m.httpCountersMu.Unlock()
	return m.HTTPRequestsCounters[code]
}

func newTotalHTTPReqMetric(code int) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      fmt.Sprintf("total_%d_http_responses", code),
		Help:      fmt.Sprintf("Total %s HTTP responses returned", http.StatusText(code)),
	})
}

// HTTPMiddleware returns a Chi-compatible middleware that tracks HTTP metrics
func (m *Metrics) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.TotalHTTPRequestsCounter.Inc()

			rw := &responseWriter{ResponseWriter: w, statusCode: 200}
			next.ServeHTTP(rw, r)

			m.HTTPDurationHistogram.Observe(time.Since(start).Seconds())
			m.IncrementHTTPResponseCounter(rw.statusCode)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
