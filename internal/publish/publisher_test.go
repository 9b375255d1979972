package publish

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketpulse/ingestor/internal/bus"
	"github.com/marketpulse/ingestor/internal/types"
)

func TestPublisherDedupsRepeatedFingerprint(t *testing.T) {
	b, err := bus.New(bus.Config{Backend: bus.BackendStub})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))

	cfg := DefaultConfig()
	cfg.BatchSize = 1
	p := New(b, NewMemoryDedup(time.Minute), cfg)

	trade := types.Trade{Exchange: "binance", Symbol: "BTC-USDT", TradeID: "1"}
	require.NoError(t, p.Publish(context.Background(), "binance", types.MarketSpot, types.DataTypeTrade, "BTC-USDT", "", trade))
	require.NoError(t, p.Publish(context.Background(), "binance", types.MarketSpot, types.DataTypeTrade, "BTC-USDT", "", trade))

	published, duplicate, dropped := p.Stats()
	require.Equal(t, int64(1), published)
	require.Equal(t, int64(1), duplicate)
	require.Equal(t, int64(0), dropped)
}

func TestPublisherFlushesOnBatchSize(t *testing.T) {
	b, err := bus.New(bus.Config{Backend: bus.BackendStub})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	stub := b.(*bus.StubBus)

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.Linger = time.Hour
	p := New(b, NewMemoryDedup(time.Minute), cfg)

	require.NoError(t, p.Publish(context.Background(), "binance", types.MarketSpot, types.DataTypeTrade, "BTC-USDT", "", types.Trade{TradeID: "1"}))
	require.Empty(t, stub.Stored("trade-data.binance.spot.BTC-USDT"))
	require.NoError(t, p.Publish(context.Background(), "binance", types.MarketSpot, types.DataTypeTrade, "BTC-USDT", "", types.Trade{TradeID: "2"}))
	require.Len(t, stub.Stored("trade-data.binance.spot.BTC-USDT"), 2)
}

func TestMemoryDedupExpiresAfterTTL(t *testing.T) {
	d := NewMemoryDedup(10 * time.Millisecond)
	d.Remember("fp1")
	require.True(t, d.SeenRecently("fp1"))
	time.Sleep(20 * time.Millisecond)
	require.False(t, d.SeenRecently("fp1"))
}
