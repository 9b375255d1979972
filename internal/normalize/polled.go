package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/marketpulse/ingestor/internal/types"
	"github.com/marketpulse/ingestor/internal/venue"
)

// Polled decodes a REST-polled RawEvent (funding, open interest,
// long/short ratio, volatility index) into its canonical record. Each
// venue wraps these REST responses differently (Binance returns a
// flat object or a bare array, OKX wraps every public REST response in
// a {"code","data":[...]} envelope, Deribit nests OHLC-style candles
// under "result"), so dispatch is two-level: by kind, then by venue.
func (n *Normalizer) Polled(exchange string, ev venue.RawEvent) (types.Record, error) {
	switch ev.Kind {
	case venue.EventFunding:
		return decodeFunding(exchange, ev)
	case venue.EventOpenInt:
		return decodeOpenInterest(exchange, ev)
	case venue.EventLSR:
		return decodeLSR(exchange, ev)
	case venue.EventVolIndex:
		return decodeVolIndex(exchange, ev)
	case venue.EventLiquidation:
		return decodeLiquidation(exchange, ev)
	default:
		return nil, fmt.Errorf("normalize: %s is not a polled event kind", ev.Kind)
	}
}

// recvOrFundingTime prefers the venue-reported time, falling back to the
// reception time and then the wall clock.
func recvOrFundingTime(ev venue.RawEvent, fundingTime int64) int64 {
	if fundingTime != 0 {
		return fundingTime
	}
	if ev.RecvTime != 0 {
		return ev.RecvTime
	}
	return time.Now().UnixMilli()
}

// okxRESTEnvelope wraps every OKX public REST response: {"code":"0",
// "msg":"","data":[...]}. Distinct from okxEnvelope in okx.go, which
// wraps WS channel push frames ("arg"/"action") instead.
type okxRESTEnvelope struct {
	Code string            `json:"code"`
	Msg  string            `json:"msg"`
	Data []json.RawMessage `json:"data"`
}

func (e okxRESTEnvelope) first() (json.RawMessage, error) {
	if e.Code != "" && e.Code != "0" {
		return nil, fmt.Errorf("okx: rest error %s: %s", e.Code, e.Msg)
	}
	if len(e.Data) == 0 {
		return nil, fmt.Errorf("okx: rest response had no data entries")
	}
	return e.Data[0], nil
}

// --- funding rate: GET /fapi/v1/premiumIndex (Binance), GET
// /api/v5/public/funding-rate (OKX). Deribit funding is not polled (its
// Poll only serves vol index), so it never reaches this decoder.

type binanceFundingPayload struct {
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

type okxFundingEntry struct {
	FundingRate     string `json:"fundingRate"`
	FundingTime     string `json:"fundingTime"`
	NextFundingTime string `json:"nextFundingTime"`
}

func decodeFunding(exchange string, ev venue.RawEvent) (types.Record, error) {
	symbol, marketType := CanonicalSymbol(ev.Symbol)
	f := types.FundingRate{Exchange: exchange, MarketType: marketType, Symbol: symbol}

	switch exchange {
	case "binance":
		var p binanceFundingPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("binance: decode funding: %w", err)
		}
		f.Rate = types.Decimal(p.LastFundingRate)
		// premiumIndex reports the upcoming settlement time but not the
		// current period's, so FundingTime is the poll time itself.
		f.FundingTime = p.Time
		f.EventTime = recvOrFundingTime(ev, p.Time)
		if p.NextFundingTime != 0 {
			f.NextFundingTime = &p.NextFundingTime
		}
	case "okx":
		var env okxRESTEnvelope
		if err := json.Unmarshal(ev.Payload, &env); err != nil {
			return nil, fmt.Errorf("okx: decode funding envelope: %w", err)
		}
		raw, err := env.first()
		if err != nil {
			return nil, fmt.Errorf("okx: decode funding: %w", err)
		}
		var p okxFundingEntry
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("okx: decode funding entry: %w", err)
		}
		f.Rate = types.Decimal(p.FundingRate)
		fundingTimeMS, _ := strconv.ParseInt(p.FundingTime, 10, 64)
		f.FundingTime = fundingTimeMS
		f.EventTime = recvOrFundingTime(ev, fundingTimeMS)
		if p.NextFundingTime != "" {
			if nextMS, err := strconv.ParseInt(p.NextFundingTime, 10, 64); err == nil && nextMS != 0 {
				f.NextFundingTime = &nextMS
			}
		}
	default:
		return nil, fmt.Errorf("normalize: %s has no funding-rate decoder", exchange)
	}
	return f, nil
}

// --- open interest: GET /fapi/v1/openInterest (Binance), GET
// /api/v5/public/open-interest (OKX).

type binanceOpenInterestPayload struct {
	OpenInterest string `json:"openInterest"`
	Time         int64  `json:"time"`
}

type okxOpenInterestEntry struct {
	Oi    string `json:"oi"`
	OiUSD string `json:"oiUsd"`
	Ts    string `json:"ts"`
}

func decodeOpenInterest(exchange string, ev venue.RawEvent) (types.Record, error) {
	symbol, marketType := CanonicalSymbol(ev.Symbol)
	oi := types.OpenInterest{Exchange: exchange, MarketType: marketType, Symbol: symbol}

	switch exchange {
	case "binance":
		var p binanceOpenInterestPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("binance: decode open interest: %w", err)
		}
		oi.Contracts = types.Decimal(p.OpenInterest)
		oi.EventTime = recvOrFundingTime(ev, p.Time)
	case "okx":
		var env okxRESTEnvelope
		if err := json.Unmarshal(ev.Payload, &env); err != nil {
			return nil, fmt.Errorf("okx: decode open interest envelope: %w", err)
		}
		raw, err := env.first()
		if err != nil {
			return nil, fmt.Errorf("okx: decode open interest: %w", err)
		}
		var p okxOpenInterestEntry
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("okx: decode open interest entry: %w", err)
		}
		oi.Contracts = types.Decimal(p.Oi)
		if p.OiUSD != "" {
			v := types.Decimal(p.OiUSD)
			oi.NotionalUSD = &v
		}
		tsMS, _ := strconv.ParseInt(p.Ts, 10, 64)
		oi.EventTime = recvOrFundingTime(ev, tsMS)
	default:
		return nil, fmt.Errorf("normalize: %s has no open-interest decoder", exchange)
	}
	return oi, nil
}

// --- long/short ratio: GET /futures/data/{top,global}LongShort...
// (Binance, returns a bare JSON array with one entry per requested
// period), GET /api/v5/rubik/stat/contracts/long-short-account-ratio
// (OKX, data entries are [timestamp, ratio] pairs, not objects).

type binanceLSREntry struct {
	LongShortRatio string `json:"longShortRatio"`
	Timestamp      int64  `json:"timestamp"`
}

func decodeLSR(exchange string, ev venue.RawEvent) (types.Record, error) {
	symbol, marketType := CanonicalSymbol(ev.Symbol)
	r := types.LongShortRatio{
		Variant:    types.LSRAllAccount, // both venues' LSR polls hit the account-ratio endpoint
		Exchange:   exchange,
		MarketType: marketType,
		Symbol:     symbol,
		Period:     "5m",
	}

	switch exchange {
	case "binance":
		var entries []binanceLSREntry
		if err := json.Unmarshal(ev.Payload, &entries); err != nil {
			return nil, fmt.Errorf("binance: decode lsr: %w", err)
		}
		if len(entries) == 0 {
			return nil, fmt.Errorf("binance: lsr response had no entries")
		}
		r.Ratio = types.Decimal(entries[0].LongShortRatio)
		r.EventTime = recvOrFundingTime(ev, entries[0].Timestamp)
	case "okx":
		var env okxRESTEnvelope
		if err := json.Unmarshal(ev.Payload, &env); err != nil {
			return nil, fmt.Errorf("okx: decode lsr envelope: %w", err)
		}
		raw, err := env.first()
		if err != nil {
			return nil, fmt.Errorf("okx: decode lsr: %w", err)
		}
		var pair [2]string
		if err := json.Unmarshal(raw, &pair); err != nil {
			return nil, fmt.Errorf("okx: decode lsr pair: %w", err)
		}
		tsMS, _ := strconv.ParseInt(pair[0], 10, 64)
		r.Ratio = types.Decimal(pair[1])
		r.EventTime = recvOrFundingTime(ev, tsMS)
	default:
		return nil, fmt.Errorf("normalize: %s has no long/short-ratio decoder", exchange)
	}
	return r, nil
}

// --- volatility index: GET /public/get_volatility_index_data
// (Deribit, the only venue polled for this kind). The response nests
// OHLC-style candles under "result.data" as [tick_ms, open, high,
// low, close]; the most recent candle's close is the current index
// value.

type deribitVolIndexEnvelope struct {
	Result struct {
		Data [][5]float64 `json:"data"`
	} `json:"result"`
}

func decodeVolIndex(exchange string, ev venue.RawEvent) (types.Record, error) {
	if exchange != "deribit" {
		return nil, fmt.Errorf("normalize: %s has no volatility-index decoder", exchange)
	}
	var env deribitVolIndexEnvelope
	if err := json.Unmarshal(ev.Payload, &env); err != nil {
		return nil, fmt.Errorf("deribit: decode vol index: %w", err)
	}
	candles := env.Result.Data
	if len(candles) == 0 {
		return nil, fmt.Errorf("deribit: vol index response had no candles")
	}
	latest := candles[len(candles)-1]
	return types.VolatilityIndex{
		Exchange:   exchange,
		Currency:   ev.Symbol,
		Value:      decimalFromFloat(latest[4]),
		Resolution: 60,
		EventTime:  recvOrFundingTime(ev, int64(latest[0])),
	}, nil
}

// --- liquidation: not yet fed by any adapter's Subscribe/Poll (no
// venue wires a liquidation stream or poll task today); kept so
// Polled's dispatch table matches every types.Record kind spec.md
// lists, and so a future liquidation-feed wire-up has a decode target.

type liquidationPayload struct {
	Side     string `json:"side"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	ID       string `json:"id"`
	Time     int64  `json:"time"`
}

func decodeLiquidation(exchange string, ev venue.RawEvent) (types.Record, error) {
	var p liquidationPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return nil, fmt.Errorf("%s: decode liquidation: %w", exchange, err)
	}
	symbol, marketType := CanonicalSymbol(ev.Symbol)
	side := types.SideBuy
	if p.Side == "sell" {
		side = types.SideSell
	}
	l := types.Liquidation{
		Exchange:   exchange,
		MarketType: marketType,
		Symbol:     symbol,
		Side:       side,
		Price:      types.Decimal(p.Price),
		Quantity:   types.Decimal(p.Quantity),
		EventTime:  recvOrFundingTime(ev, p.Time),
	}
	if p.ID != "" {
		l.LiquidationID = &p.ID
	}
	return l, nil
}
