package deribit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketpulse/ingestor/internal/venue"
)

func TestToInstrument(t *testing.T) {
	require.Equal(t, "BTC-PERPETUAL", toInstrument("BTC-USDT"))
}

func TestClassifyNotification(t *testing.T) {
	tradeMsg := []byte(`{"method":"subscription","params":{"channel":"trades.BTC-PERPETUAL.100ms","data":[]}}`)
	kind, symbol, ok := classifyNotification(tradeMsg)
	require.True(t, ok)
	require.Equal(t, venue.EventTrade, kind)
	require.Equal(t, "BTC", symbol)

	bookMsg := []byte(`{"method":"subscription","params":{"channel":"book.ETH-PERPETUAL.100ms","data":[]}}`)
	kind, symbol, ok = classifyNotification(bookMsg)
	require.True(t, ok)
	require.Equal(t, venue.EventBookDiff, kind)
	require.Equal(t, "ETH", symbol)

	_, _, ok = classifyNotification([]byte(`{"method":"heartbeat"}`))
	require.False(t, ok)
}
