package orderbook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketpulse/ingestor/internal/types"
)

func fetchSnapshot(lastUpdateID int64) SnapshotFetcher {
	return func(ctx context.Context) (types.OrderBookSnapshot, error) {
		return types.OrderBookSnapshot{
			Exchange:     "binance",
			Symbol:       "BTC-USDT",
			Bids:         []types.PriceLevel{pl("100", "1")},
			Asks:         []types.PriceLevel{pl("101", "1")},
			LastUpdateID: lastUpdateID,
		}, nil
	}
}

func TestStreamBinanceJoinPointAndLive(t *testing.T) {
	snapshots := make(chan types.OrderBookSnapshot, 4)
	health := make(chan HealthEvent, 4)
	s := NewStream("binance", types.MarketSpot, "BTC-USDT", AlgorithmBinance, fetchSnapshot(100), snapshots, health)
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, StateSyncing, s.state)

	// Diff entirely before the snapshot: discarded, still syncing.
	require.NoError(t, s.Ingest(context.Background(), types.OrderBookUpdate{FirstUpdateID: 50, LastUpdateID: 90}))
	require.Equal(t, StateSyncing, s.state)

	// Diff straddling lastUpdateId+1: this is the join point.
	require.NoError(t, s.Ingest(context.Background(), types.OrderBookUpdate{
		FirstUpdateID: 95, LastUpdateID: 105,
		Bids: []types.PriceLevel{pl("100", "5")},
	}))
	require.Equal(t, StateLive, s.state)
	require.Equal(t, int64(105), s.lastUpdateID)

	// Contiguous follow-up diff applies normally.
	require.NoError(t, s.Ingest(context.Background(), types.OrderBookUpdate{
		FirstUpdateID: 106, LastUpdateID: 107,
	}))
	require.Equal(t, StateLive, s.state)
	require.Equal(t, int64(107), s.lastUpdateID)
}

func TestStreamBinanceGapTriggersResync(t *testing.T) {
	snapshots := make(chan types.OrderBookSnapshot, 4)
	health := make(chan HealthEvent, 4)
	s := NewStream("binance", types.MarketSpot, "BTC-USDT", AlgorithmBinance, fetchSnapshot(100), snapshots, health)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Ingest(context.Background(), types.OrderBookUpdate{FirstUpdateID: 101, LastUpdateID: 110}))
	require.Equal(t, StateLive, s.state)

	// Gap: expected FirstUpdateID 111, got 120 -> resync.
	require.NoError(t, s.Ingest(context.Background(), types.OrderBookUpdate{FirstUpdateID: 120, LastUpdateID: 130}))
	require.Equal(t, StateSyncing, s.state)
	require.Equal(t, 2, s.resyncCount)
}

func TestStreamOKXSeqChain(t *testing.T) {
	snapshots := make(chan types.OrderBookSnapshot, 4)
	health := make(chan HealthEvent, 4)
	s := NewStream("okx", types.MarketPerpetual, "BTC-USDT-SWAP", AlgorithmOKX, fetchSnapshot(100), snapshots, health)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Ingest(context.Background(), types.OrderBookUpdate{FirstUpdateID: 100, LastUpdateID: 100}))
	require.Equal(t, StateLive, s.state)

	prev := int64(100)
	require.NoError(t, s.Ingest(context.Background(), types.OrderBookUpdate{PrevUpdateID: &prev, LastUpdateID: 101}))
	require.Equal(t, StateLive, s.state)
	require.Equal(t, int64(101), s.prevSeqID)

	broken := int64(999)
	require.NoError(t, s.Ingest(context.Background(), types.OrderBookUpdate{PrevUpdateID: &broken, LastUpdateID: 102}))
	require.Equal(t, StateSyncing, s.state)
}

func TestManagerEmitsSnapshotForLiveStream(t *testing.T) {
	snapshots := make(chan types.OrderBookSnapshot, 4)
	health := make(chan HealthEvent, 4)
	s := NewStream("binance", types.MarketSpot, "BTC-USDT", AlgorithmBinance, fetchSnapshot(100), snapshots, health)
	m := NewManager(0)
	require.NoError(t, m.Register(context.Background(), s))
	require.NoError(t, s.Ingest(context.Background(), types.OrderBookUpdate{FirstUpdateID: 101, LastUpdateID: 110}))

	s.EmitSnapshot(123456)
	select {
	case snap := <-snapshots:
		require.Equal(t, "BTC-USDT", snap.Symbol)
	default:
		t.Fatal("expected a snapshot to be emitted")
	}
}
