package coldreplicator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReplicateOnceAdvancesWatermark(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	stateDir := t.TempDir()
	r := New(Config{
		HotBaseURL: srv.URL,
		ColdHost:   "cold.internal:9000",
		ColdDB:     "marketdata",
		StateDir:   stateDir,
		Tables:     []TableConfig{{Table: "trades", WindowSize: time.Hour}},
	})

	require.NoError(t, r.ReplicateOnce(context.Background()))
	require.Contains(t, gotQuery, "query=INSERT")

	data, err := os.ReadFile(filepath.Join(stateDir, "trades.watermark.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), "trades")
}

func TestReplicateOnceSkipsWhenWindowNotYetComplete(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	stateDir := t.TempDir()
	// Pre-seed a watermark very close to "now" so the next window isn't complete yet.
	r := New(Config{HotBaseURL: srv.URL, StateDir: stateDir, Tables: []TableConfig{{Table: "trades", WindowSize: 24 * time.Hour}}})
	require.NoError(t, r.saveWatermark("trades", time.Now()))

	require.NoError(t, r.ReplicateOnce(context.Background()))
	require.False(t, called)
}
