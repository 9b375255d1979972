package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/marketpulse/ingestor/internal/types"
	"github.com/marketpulse/ingestor/internal/venue"
)

type binanceCombinedFrame struct {
	Data json.RawMessage `json:"data"`
}

type binanceTradePayload struct {
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
	IsBuyerMaker bool `json:"m"`
}

type binanceDepthPayload struct {
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	LastUpdateID  int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

type binanceDepthSnapshot struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func unwrapBinance(payload []byte) ([]byte, error) {
	var frame binanceCombinedFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, fmt.Errorf("binance: unwrap combined frame: %w", err)
	}
	if len(frame.Data) == 0 {
		return payload, nil
	}
	return frame.Data, nil
}

func binanceTrade(ev venue.RawEvent) (types.Trade, error) {
	data, err := unwrapBinance(ev.Payload)
	if err != nil {
		return types.Trade{}, err
	}
	var p binanceTradePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return types.Trade{}, fmt.Errorf("binance: decode trade: %w", err)
	}
	symbol, marketType := CanonicalSymbol(p.Symbol)
	isMaker := p.IsBuyerMaker
	side := types.SideSell
	if isMaker {
		side = types.SideBuy
	}
	return types.Trade{
		Exchange:    "binance",
		MarketType:  marketType,
		Symbol:      symbol,
		TradeID:     strconv.FormatInt(p.TradeID, 10),
		Price:       types.Decimal(p.Price),
		Quantity:    types.Decimal(p.Quantity),
		Side:        side,
		IsMaker:     &isMaker,
		EventTime:   p.TradeTime,
		CollectedAt: time.Now().UnixMilli(),
	}, nil
}

func binanceBookDiff(ev venue.RawEvent) (types.OrderBookUpdate, error) {
	data, err := unwrapBinance(ev.Payload)
	if err != nil {
		return types.OrderBookUpdate{}, err
	}
	var p binanceDepthPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return types.OrderBookUpdate{}, fmt.Errorf("binance: decode depth: %w", err)
	}
	symbol, marketType := CanonicalSymbol(p.Symbol)
	return types.OrderBookUpdate{
		Exchange:      "binance",
		MarketType:    marketType,
		Symbol:        symbol,
		FirstUpdateID: p.FirstUpdateID,
		LastUpdateID:  p.LastUpdateID,
		Bids:          levelsFromPairs(p.Bids),
		Asks:          levelsFromPairs(p.Asks),
		EventTime:     p.EventTime,
	}, nil
}

func binanceBookSnapshot(payload []byte, exchange, rawSymbol string) (types.OrderBookSnapshot, error) {
	var p binanceDepthSnapshot
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.OrderBookSnapshot{}, fmt.Errorf("binance: decode snapshot: %w", err)
	}
	symbol, marketType := CanonicalSymbol(rawSymbol)
	now := time.Now().UnixMilli()
	bids := levelsFromPairs(p.Bids)
	asks := levelsFromPairs(p.Asks)
	snap := types.OrderBookSnapshot{
		Exchange:     exchange,
		MarketType:   marketType,
		Symbol:       symbol,
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: p.LastUpdateID,
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

func levelsFromPairs(pairs [][]string) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) < 2 {
			continue
		}
		out = append(out, types.PriceLevel{Price: types.Decimal(pair[0]), Size: types.Decimal(pair[1])})
	}
	return out
}
