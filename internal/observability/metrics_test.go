package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsPoolLifecycle(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")

	m.SetEndpointsActive("us-east-1", 2)
	m.RecordProvision("us-east-1", ResultSuccess)
	m.RecordProvision("us-east-1", ResultSuccess)
	m.RecordProvision("us-west-2", ResultFailure)
	m.RecordTeardown("us-east-1", ResultSuccess)
	m.RecordProviderRetry("create")
	m.SetCircuitBreakerState("us-west-2", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.endpointsActive.WithLabelValues("us-east-1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.provisionTotal.WithLabelValues("us-east-1", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.provisionTotal.WithLabelValues("us-west-2", ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.teardownTotal.WithLabelValues("us-east-1", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerRetries.WithLabelValues("create")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("us-west-2")))
}

func TestMetrics_RecordRequest(t *testing.T) {
	t.Parallel()

	m := NewMetrics("")
	m.RecordRequest("eu-west-1", "200", 150*time.Millisecond)
	m.RecordRequest("eu-west-1", "error", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("eu-west-1", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("eu-west-1", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requestDuration))
}

func TestMetrics_NilReceiver(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetEndpointsActive("us-east-1", 1)
		m.RecordProvision("us-east-1", ResultSuccess)
		m.RecordTeardown("us-east-1", ResultFailure)
		m.RecordProviderRetry("delete")
		m.SetCircuitBreakerState("us-east-1", 0)
		m.RecordRequest("us-east-1", "200", time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := NewMetrics("avaproxy")
	m.SetEndpointsActive("us-east-1", 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `avaproxy_endpoints_active{region="us-east-1"} 3`))
}
