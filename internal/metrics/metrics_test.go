package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	WorkerSyncCounter.WithLabelValues("metrics-test", "ok").Inc()
	PSGlobalStepGauge.Set(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "adag_worker_sync_total"))
	assert.True(t, strings.Contains(string(body), "adag_ps_global_step 3"))
	assert.Equal(t, 1.0, testutil.ToFloat64(WorkerSyncCounter.WithLabelValues("metrics-test", "ok")))
}
