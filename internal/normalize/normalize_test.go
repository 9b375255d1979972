package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketpulse/ingestor/internal/types"
	"github.com/marketpulse/ingestor/internal/venue"
)

func TestCanonicalSymbol(t *testing.T) {
	cases := []struct {
		raw        string
		wantSymbol string
		wantMarket types.MarketType
	}{
		{"BTCUSDT", "BTC-USDT", types.MarketSpot},
		{"ETHUSDC", "ETH-USDC", types.MarketSpot},
		{"BTC-USDT-SWAP", "BTC-USDT", types.MarketPerpetual},
		{"BTC-USDT", "BTC-USDT", types.MarketSpot},
	}
	for _, c := range cases {
		symbol, market := CanonicalSymbol(c.raw)
		require.Equal(t, c.wantSymbol, symbol, c.raw)
		require.Equal(t, c.wantMarket, market, c.raw)
	}
}

func TestNormalizerBinanceTrade(t *testing.T) {
	n := New()
	ev := venue.RawEvent{Kind: venue.EventTrade, Payload: []byte(`{"stream":"btcusdt@trade","data":{"e":"trade","E":1700000000123,"s":"BTCUSDT","t":555,"p":"50000.1","q":"0.01","T":1700000000100,"m":true}}`)}
	trades, err := n.Trades("binance", ev)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "BTC-USDT", trades[0].Symbol)
	require.Equal(t, "555", trades[0].TradeID)
	require.Equal(t, types.Decimal("50000.1"), trades[0].Price)
}

func TestNormalizerBinanceBookDiffJoinPointFields(t *testing.T) {
	n := New()
	ev := venue.RawEvent{Kind: venue.EventBookDiff, Payload: []byte(`{"data":{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":100,"u":105,"b":[["99","1"]],"a":[["101","2"]]}}`)}
	update, reset, err := n.BookDiff("binance", ev)
	require.NoError(t, err)
	require.False(t, reset)
	require.Equal(t, int64(100), update.FirstUpdateID)
	require.Equal(t, int64(105), update.LastUpdateID)
	require.Equal(t, "BTC-USDT", update.Symbol)
}

func TestNormalizerOKXBookDiffDetectsExplicitReset(t *testing.T) {
	n := New()
	ev := venue.RawEvent{Kind: venue.EventBookDiff, Payload: []byte(`{"arg":{"channel":"books","instId":"BTC-USDT-SWAP"},"data":[{"asks":[["101","1","0","1"]],"bids":[["99","1","0","1"]],"ts":"1700000000000","seqId":10,"prevSeqId":-1,"checksum":123}]}`)}
	update, reset, err := n.BookDiff("okx", ev)
	require.NoError(t, err)
	require.True(t, reset)
	require.Nil(t, update.PrevUpdateID)
	require.Equal(t, "BTC-USDT", update.Symbol)
	require.Equal(t, types.MarketPerpetual, update.MarketType)
}

func TestOKXChecksumExtraction(t *testing.T) {
	ev := venue.RawEvent{Payload: []byte(`{"arg":{"channel":"books","instId":"BTC-USDT"},"data":[{"asks":[],"bids":[],"ts":"1","seqId":1,"prevSeqId":0,"checksum":-998877}]}`)}
	checksum, ok, err := OKXChecksum(ev)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(-998877), checksum)
}

func TestNormalizerPolledBinanceFunding(t *testing.T) {
	n := New()
	ev := venue.RawEvent{
		Kind:   venue.EventFunding,
		Symbol: "BTCUSDT",
		Payload: []byte(`{"symbol":"BTCUSDT","markPrice":"50000.1","indexPrice":"50001.2",
			"lastFundingRate":"0.00010000","nextFundingTime":1597392000000,"interestRate":"0.0001","time":1597370495002}`),
	}
	rec, err := n.Polled("binance", ev)
	require.NoError(t, err)
	f, ok := rec.(types.FundingRate)
	require.True(t, ok)
	require.Equal(t, types.Decimal("0.00010000"), f.Rate)
	require.Equal(t, "BTC-USDT", f.Symbol)
	require.NotNil(t, f.NextFundingTime)
	require.Equal(t, int64(1597392000000), *f.NextFundingTime)
}

func TestNormalizerPolledOKXFundingUnwrapsDataEnvelope(t *testing.T) {
	n := New()
	ev := venue.RawEvent{
		Kind:   venue.EventFunding,
		Symbol: "BTC-USDT",
		Payload: []byte(`{"code":"0","msg":"","data":[{"fundingRate":"0.0001515","fundingTime":"1622822400000",
			"instId":"BTC-USDT-SWAP","nextFundingRate":"0.0002","nextFundingTime":"1622851200000"}]}`),
	}
	rec, err := n.Polled("okx", ev)
	require.NoError(t, err)
	f, ok := rec.(types.FundingRate)
	require.True(t, ok)
	require.Equal(t, types.Decimal("0.0001515"), f.Rate)
	require.Equal(t, int64(1622822400000), f.EventTime)
	require.NotNil(t, f.NextFundingTime)
	require.Equal(t, int64(1622851200000), *f.NextFundingTime)
}

func TestNormalizerPolledOKXOpenInterest(t *testing.T) {
	n := New()
	ev := venue.RawEvent{
		Kind:   venue.EventOpenInt,
		Symbol: "BTC-USDT",
		Payload: []byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","instType":"SWAP",
			"oi":"5000","oiCcy":"50","oiUsd":"250000000","ts":"1622032533000"}]}`),
	}
	rec, err := n.Polled("okx", ev)
	require.NoError(t, err)
	oi, ok := rec.(types.OpenInterest)
	require.True(t, ok)
	require.Equal(t, types.Decimal("5000"), oi.Contracts)
	require.NotNil(t, oi.NotionalUSD)
	require.Equal(t, types.Decimal("250000000"), *oi.NotionalUSD)
	require.Equal(t, int64(1622032533000), oi.EventTime)
}

func TestNormalizerPolledBinanceLSRUnwrapsBareArray(t *testing.T) {
	n := New()
	ev := venue.RawEvent{
		Kind:   venue.EventLSR,
		Symbol: "BTCUSDT",
		Payload: []byte(`[{"symbol":"BTCUSDT","longShortRatio":"1.4342","longAccount":"0.5891",
			"shortAccount":"0.4109","timestamp":1583139600000}]`),
	}
	rec, err := n.Polled("binance", ev)
	require.NoError(t, err)
	r, ok := rec.(types.LongShortRatio)
	require.True(t, ok)
	require.Equal(t, types.Decimal("1.4342"), r.Ratio)
	require.Equal(t, int64(1583139600000), r.EventTime)
}

func TestNormalizerPolledOKXLSRUnwrapsTimestampRatioPair(t *testing.T) {
	n := New()
	ev := venue.RawEvent{
		Kind:    venue.EventLSR,
		Symbol:  "BTC-USDT",
		Payload: []byte(`{"code":"0","msg":"","data":[["1630000000000","1.25"]]}`),
	}
	rec, err := n.Polled("okx", ev)
	require.NoError(t, err)
	r, ok := rec.(types.LongShortRatio)
	require.True(t, ok)
	require.Equal(t, types.Decimal("1.25"), r.Ratio)
	require.Equal(t, int64(1630000000000), r.EventTime)
}

func TestNormalizerPolledDeribitVolIndexUsesLatestCandleClose(t *testing.T) {
	n := New()
	ev := venue.RawEvent{
		Kind:   venue.EventVolIndex,
		Symbol: "BTC",
		Payload: []byte(`{"jsonrpc":"2.0","result":{"data":[[1620000000000,60.1,61.2,59.8,60.5],
			[1620000060000,60.5,62.0,60.0,61.3]],"continuation":12345},"usIn":1,"usOut":2,"usDiff":1}`),
	}
	rec, err := n.Polled("deribit", ev)
	require.NoError(t, err)
	v, ok := rec.(types.VolatilityIndex)
	require.True(t, ok)
	require.Equal(t, "BTC", v.Currency)
	require.Equal(t, int64(1620000060000), v.EventTime)
}
