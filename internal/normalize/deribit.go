package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/marketpulse/ingestor/internal/types"
	"github.com/marketpulse/ingestor/internal/venue"
)

type deribitNotification struct {
	Params struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	} `json:"params"`
}

type deribitTrade struct {
	TradeID        string  `json:"trade_id"`
	InstrumentName string  `json:"instrument_name"`
	Price          float64 `json:"price"`
	Amount         float64 `json:"amount"`
	Direction      string  `json:"direction"`
	Timestamp      int64   `json:"timestamp"`
}

type deribitBookChange struct {
	InstrumentName string          `json:"instrument_name"`
	PrevChangeID   *int64          `json:"prev_change_id,omitempty"`
	ChangeID       int64           `json:"change_id"`
	Bids           [][]interface{} `json:"bids"`
	Asks           [][]interface{} `json:"asks"`
	Timestamp      int64           `json:"timestamp"`
}

func deribitTradeRecords(ev venue.RawEvent) ([]types.Trade, error) {
	var n deribitNotification
	if err := json.Unmarshal(ev.Payload, &n); err != nil {
		return nil, fmt.Errorf("deribit: unwrap notification: %w", err)
	}
	var trades []deribitTrade
	if err := json.Unmarshal(n.Params.Data, &trades); err != nil {
		return nil, fmt.Errorf("deribit: decode trades: %w", err)
	}
	out := make([]types.Trade, 0, len(trades))
	for _, t := range trades {
		symbol, marketType := CanonicalSymbol(t.InstrumentName)
		side := types.SideBuy
		if t.Direction == "sell" {
			side = types.SideSell
		}
		out = append(out, types.Trade{
			Exchange:    "deribit",
			MarketType:  marketType,
			Symbol:      symbol,
			TradeID:     t.TradeID,
			Price:       decimalFromFloat(t.Price),
			Quantity:    decimalFromFloat(t.Amount),
			Side:        side,
			EventTime:   t.Timestamp,
			CollectedAt: time.Now().UnixMilli(),
		})
	}
	return out, nil
}

func deribitBookDiff(ev venue.RawEvent) (types.OrderBookUpdate, error) {
	var n deribitNotification
	if err := json.Unmarshal(ev.Payload, &n); err != nil {
		return types.OrderBookUpdate{}, fmt.Errorf("deribit: unwrap notification: %w", err)
	}
	var c deribitBookChange
	if err := json.Unmarshal(n.Params.Data, &c); err != nil {
		return types.OrderBookUpdate{}, fmt.Errorf("deribit: decode book change: %w", err)
	}
	symbol, marketType := CanonicalSymbol(c.InstrumentName)
	update := types.OrderBookUpdate{
		Exchange:      "deribit",
		MarketType:    marketType,
		Symbol:        symbol,
		FirstUpdateID: c.ChangeID,
		LastUpdateID:  c.ChangeID,
		Bids:          levelsFromDeribitTriples(c.Bids),
		Asks:          levelsFromDeribitTriples(c.Asks),
		EventTime:     c.Timestamp,
	}
	if c.PrevChangeID != nil {
		update.PrevUpdateID = c.PrevChangeID
	}
	return update, nil
}

// levelsFromDeribitTriples converts Deribit's [action, price, amount]
// triples into price levels; an amount of 0 and action "delete" both
// translate to a zero-size level, which the book treats as a removal.
func levelsFromDeribitTriples(rows [][]interface{}) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		action, _ := row[0].(string)
		price := jsonNumberToDecimal(row[1])
		size := jsonNumberToDecimal(row[2])
		if action == "delete" {
			size = "0"
		}
		out = append(out, types.PriceLevel{Price: price, Size: size})
	}
	return out
}

func jsonNumberToDecimal(v interface{}) types.Decimal {
	switch n := v.(type) {
	case float64:
		return decimalFromFloat(n)
	case string:
		return types.Decimal(n)
	default:
		return types.Decimal("0")
	}
}

func decimalFromFloat(f float64) types.Decimal {
	return types.Decimal(fmt.Sprintf("%v", f))
}

type deribitBookSnapshotPayload struct {
	ChangeID int64           `json:"change_id"`
	Bids     [][]interface{} `json:"bids"`
	Asks     [][]interface{} `json:"asks"`
	Timestamp int64          `json:"timestamp"`
}

// deribitBookSnapshot decodes a public/get_order_book response into a
// canonical snapshot. Deribit's REST book uses plain [price, amount]
// pairs rather than the WS channel's [action, price, amount] triples.
func deribitBookSnapshot(payload []byte, exchange, rawSymbol string) (types.OrderBookSnapshot, error) {
	var p deribitBookSnapshotPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.OrderBookSnapshot{}, fmt.Errorf("deribit: decode snapshot: %w", err)
	}
	symbol, marketType := CanonicalSymbol(rawSymbol)
	now := time.Now().UnixMilli()
	bids := levelsFromDeribitPairs(p.Bids)
	asks := levelsFromDeribitPairs(p.Asks)
	snap := types.OrderBookSnapshot{
		Exchange:     exchange,
		MarketType:   marketType,
		Symbol:       symbol,
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: p.ChangeID,
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

func levelsFromDeribitPairs(rows [][]interface{}) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		out = append(out, types.PriceLevel{Price: jsonNumberToDecimal(row[0]), Size: jsonNumberToDecimal(row[1])})
	}
	return out
}
