package okx

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketpulse/ingestor/internal/types"
	"github.com/marketpulse/ingestor/internal/venue"
)

func TestToInstIDAppendsSwapForPerpetual(t *testing.T) {
	require.Equal(t, "BTC-USDT", toInstID("BTC-USDT", types.MarketSpot))
	require.Equal(t, "BTC-USDT-SWAP", toInstID("BTC-USDT", types.MarketPerpetual))
}

func TestClassifyChannelFrame(t *testing.T) {
	tradeFrame := []byte(`{"arg":{"channel":"trades","instId":"BTC-USDT-SWAP"},"data":[]}`)
	kind, symbol, ok := classifyChannelFrame(tradeFrame)
	require.True(t, ok)
	require.Equal(t, venue.EventTrade, kind)
	require.Equal(t, "BTC-USDT", symbol)

	booksFrame := []byte(`{"arg":{"channel":"books","instId":"ETH-USDT"},"data":[]}`)
	kind, symbol, ok = classifyChannelFrame(booksFrame)
	require.True(t, ok)
	require.Equal(t, venue.EventBookDiff, kind)
	require.Equal(t, "ETH-USDT", symbol)

	_, _, ok = classifyChannelFrame([]byte(`{"event":"subscribe"}`))
	require.False(t, ok)
}
