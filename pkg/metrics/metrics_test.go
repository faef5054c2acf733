package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheus(t *testing.T) {
	m := NewPrometheus()

	m.TransactionApplied("topup", "completed")
	m.TransactionApplied("topup", "completed")
	m.DriftDetected(-40)
	m.CallbackAnomaly("cardGateway", "failure_after_approval")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transactionsTotal.WithLabelValues("topup", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.driftTotal))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.driftAbsolute))

	t.Run("Handler Exposes Metrics", func(t *testing.T) {
		rr := httptest.NewRecorder()
		m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, strings.Contains(rr.Body.String(), "wallet_topup_callback_anomalies_total"))
	})

	t.Run("Independent Registries", func(t *testing.T) {
		assert.NotPanics(t, func() { NewPrometheus() })
	})
}
