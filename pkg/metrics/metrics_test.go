package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observations(t *testing.T) {
	m := New()

	m.ObserveProbe("core", true, 10*time.Millisecond)
	m.ObserveProbe("core", false, 2*time.Second)
	m.ObserveRestart("core", true)
	m.ObserveOperation("deploy", false, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.probesTotal.WithLabelValues("core", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.probesTotal.WithLabelValues("core", "failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.serviceUp.WithLabelValues("core")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.restartsTotal.WithLabelValues("core", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("deploy", "failure")))
}

func TestMetrics_Forget(t *testing.T) {
	m := New()
	m.ObserveProbe("core", true, time.Millisecond)
	m.ObserveProbe("proxy", true, time.Millisecond)

	m.Forget("core")

	assert.Equal(t, 1, testutil.CollectAndCount(m.serviceUp))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveProbe("core", true, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `mcp_master_service_up{service="core"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveRestart("core", false)

	assert.Equal(t, 0, testutil.CollectAndCount(b.restartsTotal))
}

func TestMetrics_ObserveRequest(t *testing.T) {
	m := New()
	m.ObserveRequest("/mcp/status", 200, 3*time.Millisecond)
	m.ObserveRequest("/mcp/status", 200, 5*time.Millisecond)
	m.ObserveRequest("/mcp/services/:id", 404, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/mcp/status", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/mcp/services/:id", "404")))
}

func TestMetrics_ObserveUsage(t *testing.T) {
	m := New()
	m.ObserveUsage("core", 64*1024*1024, 12.5)
	m.ObserveUsage("proxy", 1024, 0)

	assert.Equal(t, float64(64*1024*1024), testutil.ToFloat64(m.memoryBytes.WithLabelValues("core")))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.cpuPercent.WithLabelValues("core")))

	m.Forget("core")
	assert.Equal(t, 1, testutil.CollectAndCount(m.memoryBytes))
}
