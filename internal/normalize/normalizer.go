package normalize

import (
	"fmt"

	"github.com/marketpulse/ingestor/internal/types"
	"github.com/marketpulse/ingestor/internal/venue"
)

// Normalizer dispatches venue-native raw events to the per-venue
// decoders above, producing canonical records. It holds no mutable
// state, so one instance is shared across every supervisor worker.
type Normalizer struct{}

// New creates a stateless normalizer.
func New() *Normalizer { return &Normalizer{} }

// Trades converts a trade RawEvent into one or more canonical trades
// (Deribit's channel batches several trades per notification; the
// other venues always yield exactly one).
func (n *Normalizer) Trades(exchange string, ev venue.RawEvent) ([]types.Trade, error) {
	switch exchange {
	case "binance":
		t, err := binanceTrade(ev)
		if err != nil {
			return nil, err
		}
		return []types.Trade{t}, nil
	case "okx":
		t, err := okxTradeRecord(ev)
		if err != nil {
			return nil, err
		}
		return []types.Trade{t}, nil
	case "deribit":
		return deribitTradeRecords(ev)
	default:
		return nil, fmt.Errorf("normalize: unsupported exchange %q for trade", exchange)
	}
}

// BookDiff converts a book-diff RawEvent into an internal order-book
// update ready for Stream.Ingest. The second return reports an
// explicit venue-side reset (OKX prevSeqId == -1 or == seqId), which
// the caller should treat as an immediate resync trigger rather than a
// sequence-chain check.
func (n *Normalizer) BookDiff(exchange string, ev venue.RawEvent) (types.OrderBookUpdate, bool, error) {
	switch exchange {
	case "binance":
		u, err := binanceBookDiff(ev)
		return u, false, err
	case "okx":
		return okxBookDiff(ev)
	case "deribit":
		u, err := deribitBookDiff(ev)
		return u, false, err
	default:
		return types.OrderBookUpdate{}, false, fmt.Errorf("normalize: unsupported exchange %q for book diff", exchange)
	}
}

// BookSnapshot converts a raw REST snapshot response into a canonical
// snapshot, used to (re)seed a Stream's join point.
func (n *Normalizer) BookSnapshot(exchange string, payload []byte, rawSymbol string) (types.OrderBookSnapshot, error) {
	switch exchange {
	case "binance":
		return binanceBookSnapshot(payload, exchange, rawSymbol)
	case "okx":
		return okxBookSnapshot(payload, exchange, rawSymbol)
	case "deribit":
		return deribitBookSnapshot(payload, exchange, rawSymbol)
	default:
		return types.OrderBookSnapshot{}, fmt.Errorf("normalize: unsupported exchange %q for book snapshot", exchange)
	}
}
