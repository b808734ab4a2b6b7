package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", StatusClass(200))
	assert.Equal(t, "4xx", StatusClass(404))
	assert.Equal(t, "5xx", StatusClass(502))
	assert.Equal(t, "error", StatusClass(0))
}

func TestObserveProxy(t *testing.T) {
	m := New()
	m.ObserveProxy("/api", 200, 10*time.Millisecond)
	m.ObserveProxy("/api", 204, 10*time.Millisecond)
	m.ObserveProxy("/api/summarize", 502, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProxyRequests.WithLabelValues("/api", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProxyRequests.WithLabelValues("/api/summarize", "5xx")))
}

func TestUpstream(t *testing.T) {
	m := New()
	m.SetUpstream("http://localhost:5002", true, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamUp.WithLabelValues("http://localhost:5002")))
	m.SetUpstream("http://localhost:5002", false, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.UpstreamUp.WithLabelValues("http://localhost:5002")))

	m.ForgetUpstream("http://localhost:5002")
	assert.Equal(t, 0, testutil.CollectAndCount(m.UpstreamUp))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveProxy("/api", 200, time.Millisecond)
	m.SetUpstream("x", true, 0)
	m.ForgetUpstream("x")
	m.ConfigReloaded("applied")
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ConfigReloaded("applied")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/__devserver/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), `devserver_config_reloads_total{result="applied"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
