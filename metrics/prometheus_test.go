package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	labels := map[string]string{"network": "sepolia"}
	rec.IncCounter(FetchSucceeded, labels)
	rec.IncCounter(FetchSucceeded, labels)
	rec.ObserveLatency(OpFetchActive, 20*time.Millisecond, labels)
	rec.SetGauge(GaugeConsecutiveFailures, 3, labels)

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.counters.WithLabelValues(FetchSucceeded, "sepolia")))
	assert.Equal(t, 3.0, testutil.ToFloat64(rec.gauges.WithLabelValues(GaugeConsecutiveFailures, "sepolia")))

	count, err := testutil.GatherAndCount(reg, "payterm_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/ping/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/ping/1", "/ping/2", "/missing"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/ping/:id", "204")))
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncCounter("x", nil)
	r.ObserveLatency("x", time.Second, nil)
	r.SetGauge("x", 1, nil)
}
