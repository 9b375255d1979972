package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/marketpulse/ingestor/internal/types"
	"github.com/marketpulse/ingestor/internal/venue"
)

type okxEnvelope struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Action string            `json:"action"`
	Data   []json.RawMessage `json:"data"`
}

type okxTrade struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	Ts      string `json:"ts"`
}

type okxBookUpdate struct {
	Asks       [][]string `json:"asks"`
	Bids       [][]string `json:"bids"`
	Ts         string     `json:"ts"`
	SeqID      int64      `json:"seqId"`
	PrevSeqID  int64      `json:"prevSeqId"`
	Checksum   int32      `json:"checksum"`
}

// OKXChecksum extracts the inline checksum from a books channel frame,
// used by the Order-Book Manager to validate its local book.
func OKXChecksum(ev venue.RawEvent) (int32, bool, error) {
	var env okxEnvelope
	if err := json.Unmarshal(ev.Payload, &env); err != nil {
		return 0, false, fmt.Errorf("okx: unwrap envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return 0, false, nil
	}
	var u okxBookUpdate
	if err := json.Unmarshal(env.Data[0], &u); err != nil {
		return 0, false, fmt.Errorf("okx: decode book update: %w", err)
	}
	return u.Checksum, true, nil
}

func okxTradeRecord(ev venue.RawEvent) (types.Trade, error) {
	var env okxEnvelope
	if err := json.Unmarshal(ev.Payload, &env); err != nil {
		return types.Trade{}, fmt.Errorf("okx: unwrap envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return types.Trade{}, fmt.Errorf("okx: empty trade data")
	}
	var t okxTrade
	if err := json.Unmarshal(env.Data[0], &t); err != nil {
		return types.Trade{}, fmt.Errorf("okx: decode trade: %w", err)
	}
	symbol, marketType := CanonicalSymbol(t.InstID)
	side := types.SideBuy
	if t.Side == "sell" {
		side = types.SideSell
	}
	ts, _ := strconv.ParseInt(t.Ts, 10, 64)
	return types.Trade{
		Exchange:    "okx",
		MarketType:  marketType,
		Symbol:      symbol,
		TradeID:     t.TradeID,
		Price:       types.Decimal(t.Px),
		Quantity:    types.Decimal(t.Sz),
		Side:        side,
		EventTime:   ts,
		CollectedAt: time.Now().UnixMilli(),
	}, nil
}

// okxIsExplicitReset reports whether a books frame's prevSeqId marks an
// explicit venue-side reset, per spec.md §4.1: prevSeqId == -1 or equal
// to the frame's own seqId both mean "resync, don't chain".
func okxIsExplicitReset(u okxBookUpdate) bool {
	return u.PrevSeqID == -1 || u.PrevSeqID == u.SeqID
}

func okxBookDiff(ev venue.RawEvent) (types.OrderBookUpdate, bool, error) {
	var env okxEnvelope
	if err := json.Unmarshal(ev.Payload, &env); err != nil {
		return types.OrderBookUpdate{}, false, fmt.Errorf("okx: unwrap envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return types.OrderBookUpdate{}, false, fmt.Errorf("okx: empty book data")
	}
	var u okxBookUpdate
	if err := json.Unmarshal(env.Data[0], &u); err != nil {
		return types.OrderBookUpdate{}, false, fmt.Errorf("okx: decode book update: %w", err)
	}
	symbol, marketType := CanonicalSymbol(env.Arg.InstID)
	ts, _ := strconv.ParseInt(u.Ts, 10, 64)

	explicitReset := okxIsExplicitReset(u)
	var prev *int64
	if !explicitReset {
		p := u.PrevSeqID
		prev = &p
	}
	return types.OrderBookUpdate{
		Exchange:      "okx",
		MarketType:    marketType,
		Symbol:        symbol,
		FirstUpdateID: u.SeqID,
		LastUpdateID:  u.SeqID,
		PrevUpdateID:  prev,
		Bids:          levelsFromOKXTriples(u.Bids),
		Asks:          levelsFromOKXTriples(u.Asks),
		EventTime:     ts,
	}, explicitReset, nil
}

// levelsFromOKXTriples converts OKX's [price, size, deprecated,
// numOrders] quadruples into price levels, discarding the extra fields.
func levelsFromOKXTriples(rows [][]string) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		out = append(out, types.PriceLevel{Price: types.Decimal(row[0]), Size: types.Decimal(row[1])})
	}
	return out
}

type okxBookSnapshotEnvelope struct {
	Data []okxBookUpdate `json:"data"`
}

// okxBookSnapshot decodes a GET /api/v5/market/books response into a
// canonical snapshot, used to (re)seed an OKX Stream's join point.
func okxBookSnapshot(payload []byte, exchange, rawSymbol string) (types.OrderBookSnapshot, error) {
	var env okxBookSnapshotEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return types.OrderBookSnapshot{}, fmt.Errorf("okx: decode snapshot: %w", err)
	}
	if len(env.Data) == 0 {
		return types.OrderBookSnapshot{}, fmt.Errorf("okx: empty snapshot data")
	}
	u := env.Data[0]
	symbol, marketType := CanonicalSymbol(rawSymbol)
	now := time.Now().UnixMilli()
	bids := levelsFromOKXTriples(u.Bids)
	asks := levelsFromOKXTriples(u.Asks)
	snap := types.OrderBookSnapshot{
		Exchange:     exchange,
		MarketType:   marketType,
		Symbol:       symbol,
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: u.SeqID,
		EventTime:    now,
		CollectedAt:  now,
	}
	if len(bids) > 0 {
		snap.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		snap.BestAsk = asks[0].Price
	}
	return snap, nil
}
