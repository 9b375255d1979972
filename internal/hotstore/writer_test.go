package hotstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketpulse/ingestor/internal/types"
)

type recordingDeadLetter struct {
	calls int
	table string
}

func (r *recordingDeadLetter) Record(ctx context.Context, table string, payload []byte, writeErr error) error {
	r.calls++
	r.table = table
	return nil
}

func TestWriteBatchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dl := &recordingDeadLetter{}
	w := New(Config{BaseURL: srv.URL, Tables: DefaultTables()}, dl)

	row, _ := json.Marshal(types.Trade{Exchange: "binance", Symbol: "BTC-USDT", TradeID: "1"})
	err := w.WriteBatch(context.Background(), types.DataTypeTrade, []json.RawMessage{row})
	require.NoError(t, err)
	require.Equal(t, 0, dl.calls)
}

func TestWriteBatchFailureGoesToDeadLetter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dl := &recordingDeadLetter{}
	w := New(Config{BaseURL: srv.URL, Tables: DefaultTables()}, dl)

	row, _ := json.Marshal(types.Trade{Exchange: "binance", Symbol: "BTC-USDT", TradeID: "1"})
	err := w.WriteBatch(context.Background(), types.DataTypeTrade, []json.RawMessage{row})
	require.NoError(t, err) // dead letter swallowed the failure
	require.Equal(t, 1, dl.calls)
	require.Equal(t, "trades", dl.table)
}

func TestWriteBatchUnknownTable(t *testing.T) {
	w := New(Config{BaseURL: "http://example.invalid", Tables: map[types.DataType]string{}}, nil)
	err := w.WriteBatch(context.Background(), types.DataTypeTrade, []json.RawMessage{[]byte(`{}`)})
	require.Error(t, err)
}
