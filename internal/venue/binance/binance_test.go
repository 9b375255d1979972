package binance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketpulse/ingestor/internal/venue"
)

func TestClassifyCombinedFrame(t *testing.T) {
	tradeFrame := []byte(`{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"100"}}`)
	kind, symbol, ok := classifyCombinedFrame(tradeFrame)
	require.True(t, ok)
	require.Equal(t, venue.EventTrade, kind)
	require.Equal(t, "BTCUSDT", symbol)

	depthFrame := []byte(`{"stream":"btcusdt@depth@100ms","data":{"e":"depthUpdate","s":"BTCUSDT"}}`)
	kind, _, ok = classifyCombinedFrame(depthFrame)
	require.True(t, ok)
	require.Equal(t, venue.EventBookDiff, kind)

	_, _, ok = classifyCombinedFrame([]byte(`{"stream":"x","data":{"e":"unknown"}}`))
	require.False(t, ok)

	_, _, ok = classifyCombinedFrame([]byte(`not json`))
	require.False(t, ok)
}
