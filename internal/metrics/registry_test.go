package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegistryRecordsAndExposesMetrics(t *testing.T) {
	r := New()

	r.Reconnects.WithLabelValues("binance", "read_error").Inc()
	r.ChecksumFailures.WithLabelValues("okx", "BTC-USDT").Inc()
	r.PublishedTotal.WithLabelValues("trade").Add(3)
	r.SubscriptionLag.WithLabelValues("binance", "BTC-USDT").Set(0.5)

	require.Equal(t, float64(1), testutil.ToFloat64(r.Reconnects.WithLabelValues("binance", "read_error")))
	require.Equal(t, float64(3), testutil.ToFloat64(r.PublishedTotal.WithLabelValues("trade")))

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "ingestord_reconnects_total")
}
