package metrics

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Format: "json"})
	return NewMetrics(true, true, log)
}

func TestHTTPMiddleware(t *testing.T) {
	m := newTestMetrics(t)

	handler := m.HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", nil))
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(m.TotalHTTPRequestsCounter))
	counter := m.HTTPResponseCounter(http.StatusOK)
	require.NotNil(t, counter)
	assert.Equal(t, float64(3), testutil.ToFloat64(counter))
}

func TestHTTPMiddlewareCapturesStatus(t *testing.T) {
	m := newTestMetrics(t)

	handler := m.HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", nil))

	counter := m.HTTPResponseCounter(http.StatusBadRequest)
	require.NotNil(t, counter)
	assert.Equal(t, float64(1), testutil.ToFloat64(counter))
}

func TestHTTPMiddlewareConcurrentStatusCodes(t *testing.T) {
	m := newTestMetrics(t)

	statuses := []int{200, 400, 404, 405, 413, 500, 502, 503}
	handler := m.HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code, _ := strconv.Atoi(r.Header.Get("X-Status"))
		w.WriteHeader(code)
	}))

	var wg sync.WaitGroup
	const perStatus = 10
	for _, code := range statuses {
		for i := 0; i < perStatus; i++ {
			wg.Add(1)
			go func(code int) {
				defer wg.Done()
				req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
				req.Header.Set("X-Status", strconv.Itoa(code))
				handler.ServeHTTP(httptest.NewRecorder(), req)
			}(code)
		}
	}
	wg.Wait()

	assert.Equal(t, float64(len(statuses)*perStatus), testutil.ToFloat64(m.TotalHTTPRequestsCounter))
	for _, code := range statuses {
		counter := m.HTTPResponseCounter(code)
		require.NotNil(t, counter, "missing counter for status %d", code)
		assert.Equal(t, float64(perStatus), testutil.ToFloat64(counter), "status %d", code)
	}
}

func TestHTTPResponseCounterDisabled(t *testing.T) {
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Format: "json"})
	m := NewMetrics(false, false, log)

	// No-op rather than panic when HTTP counters are disabled
	m.IncrementHTTPResponseCounter(http.StatusOK)
	assert.Nil(t, m.HTTPResponseCounter(http.StatusOK))
}

func TestJobCounters(t *testing.T) {
	m := newTestMetrics(t)

	m.IncrementJobCounter(JobMetricTotal)
	m.IncrementJobCounter(JobMetricTotal)
	m.IncrementJobCounter(JobMetricTotalFailed)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.JobMetricCounters[JobMetricTotal]))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobMetricCounters[JobMetricTotalFailed]))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.JobMetricCounters[JobMetricTotalSuccess]))
}

func TestJobCountersDisabled(t *testing.T) {
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Format: "json"})
	m := NewMetrics(true, false, log)

	// No-op rather than panic when job metrics are disabled
	m.IncrementJobCounter(JobMetricTotal)
}

func TestAddCustomMetric(t *testing.T) {
	m := newTestMetrics(t)

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "bridge_sessions_expired_total"})
	m.AddCustomMetric(c)
	c.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(c))
}
