package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthyWhenAllCheckersPass(t *testing.T) {
	r := NewRegistry()
	r.RegisterChecker(CheckerFunc{NameValue: "binance_stream", Fn: func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	}})

	resp := r.Health()
	require.Equal(t, StatusHealthy, resp.Status)
}

func TestDegradedWhenOneCheckerDegraded(t *testing.T) {
	r := NewRegistry()
	r.RegisterChecker(CheckerFunc{NameValue: "okx_stream", Fn: func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	}})
	r.RegisterChecker(CheckerFunc{NameValue: "deribit_stream", Fn: func() CheckResult {
		return CheckResult{Status: StatusDegraded, Message: "resyncing"}
	}})

	resp := r.Health()
	require.Equal(t, StatusDegraded, resp.Status)
}

func TestUnhealthyWinsOverDegraded(t *testing.T) {
	r := NewRegistry()
	r.RegisterChecker(CheckerFunc{NameValue: "a", Fn: func() CheckResult { return CheckResult{Status: StatusDegraded} }})
	r.RegisterChecker(CheckerFunc{NameValue: "b", Fn: func() CheckResult { return CheckResult{Status: StatusUnhealthy} }})

	resp := r.Health()
	require.Equal(t, StatusUnhealthy, resp.Status)
}

type fakeStatsProvider struct{ name string }

func (f fakeStatsProvider) Name() string { return f.name }
func (f fakeStatsProvider) Stats() map[string]interface{} {
	return map[string]interface{}{"published": 42}
}

func TestStatsAggregatesProviders(t *testing.T) {
	r := NewRegistry()
	r.RegisterStats(fakeStatsProvider{name: "publisher"})

	stats := r.Stats()
	require.Equal(t, 42, stats["publisher"]["published"])
}

func TestServerServesHealthAndStats(t *testing.T) {
	r := NewRegistry()
	r.RegisterChecker(CheckerFunc{NameValue: "ok", Fn: func() CheckResult { return CheckResult{Status: StatusHealthy} }})
	r.RegisterStats(fakeStatsProvider{name: "publisher"})

	srv := NewServer(DefaultServerConfig(":0"), r, nil)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, StatusHealthy, body.Status)

	resp2, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
}
