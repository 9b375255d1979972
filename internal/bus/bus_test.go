package bus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketpulse/ingestor/internal/types"
)

func TestSubjectTemplates(t *testing.T) {
	env := types.Envelope{DataType: types.DataTypeTrade, Exchange: "binance", MarketType: types.MarketSpot, Symbol: "BTC-USDT"}
	require.Equal(t, "trade-data.binance.spot.BTC-USDT", Subject(env))

	lsr := types.Envelope{DataType: types.DataTypeLSR, Exchange: "binance", MarketType: types.MarketPerpetual, Symbol: "BTC-USDT", Variant: "top_position"}
	require.Equal(t, "lsr-data.binance.perpetual.top_position.BTC-USDT", Subject(lsr))
}

func TestStubBusPublishAndStore(t *testing.T) {
	b, err := New(Config{Backend: BackendStub})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))

	payload, _ := json.Marshal(map[string]string{"x": "1"})
	require.NoError(t, b.Publish(context.Background(), "trade-data.binance.spot.BTC-USDT", payload))

	stub := b.(*StubBus)
	require.Len(t, stub.Stored("trade-data.binance.spot.BTC-USDT"), 1)
	require.True(t, b.Health().Healthy)
}

func TestStubBusPublishBatch(t *testing.T) {
	b, err := New(Config{Backend: BackendStub})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, b.PublishBatch(context.Background(), []Message{
		{Subject: "s1", Payload: []byte("a")},
		{Subject: "s1", Payload: []byte("b")},
	}))
	stub := b.(*StubBus)
	require.Len(t, stub.Stored("s1"), 2)
}

func TestDefaultStreamLimits(t *testing.T) {
	limits := DefaultStreamLimits()
	require.Equal(t, int64(5_000_000), limits.MaxMsgs)
	require.Equal(t, DiscardOld, limits.Discard)
}
