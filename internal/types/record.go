// Package types defines the canonical market-data records that flow
// from venue adapters through normalization, the bus, and the analytical
// store. All timestamps are UTC millisecond values; all decimals cross
// package boundaries as strings to avoid float drift.
package types

import "fmt"

// MarketType distinguishes spot from perpetual/derivatives venues.
type MarketType string

const (
	MarketSpot      MarketType = "spot"
	MarketPerpetual MarketType = "perpetual"
)

// Side is the trade or liquidation direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// LSRVariant distinguishes long/short ratio flavors.
type LSRVariant string

const (
	LSRTopPosition LSRVariant = "top_position"
	LSRAllAccount  LSRVariant = "all_account"
)

// TimestampMS formats a UTC epoch-millisecond value the way the store
// and bus expect: "YYYY-MM-DD HH:MM:SS.mmm".
type TimestampMS int64

// Decimal is a fixed-precision rational carried as a string to avoid
// float drift across process and wire boundaries.
type Decimal string

// Trade is a single execution on a venue.
type Trade struct {
	Exchange    string     `json:"exchange"`
	MarketType  MarketType `json:"market_type"`
	Symbol      string     `json:"symbol"`
	TradeID     string     `json:"trade_id"`
	Price       Decimal    `json:"price"`
	Quantity    Decimal    `json:"quantity"`
	Side        Side       `json:"side"`
	IsMaker     *bool      `json:"is_maker,omitempty"`
	EventTime   int64      `json:"event_time"`
	CollectedAt int64      `json:"collected_at"`
}

// Fingerprint returns the publisher dedup identity for a trade.
func (t Trade) Fingerprint() string {
	return fmt.Sprintf("trade|%s|%s|%s|%s", t.Exchange, t.MarketType, t.Symbol, t.TradeID)
}

// PriceLevel is a single (price, size) book level.
type PriceLevel struct {
	Price Decimal `json:"price"`
	Size  Decimal `json:"size"`
}

// OrderBookUpdate is an internal incremental diff applied to a local book.
// It never crosses the bus directly — only OrderBookSnapshot does.
type OrderBookUpdate struct {
	Exchange      string       `json:"exchange"`
	MarketType    MarketType   `json:"market_type"`
	Symbol        string       `json:"symbol"`
	FirstUpdateID int64        `json:"first_update_id"`
	LastUpdateID  int64        `json:"last_update_id"`
	PrevUpdateID  *int64       `json:"prev_update_id,omitempty"`
	Bids          []PriceLevel `json:"bids"`
	Asks          []PriceLevel `json:"asks"`
	EventTime     int64        `json:"event_time"`
}

// OrderBookSnapshot is the published top-N view of a local book.
//
// Invariant: bids strictly descending, asks strictly ascending, no
// crossed book (best_bid < best_ask), depth <= publish depth,
// last_update_id monotonically non-decreasing per (exchange, market,
// symbol).
type OrderBookSnapshot struct {
	Exchange     string       `json:"exchange"`
	MarketType   MarketType   `json:"market_type"`
	Symbol       string       `json:"symbol"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	BestBid      Decimal      `json:"best_bid"`
	BestAsk      Decimal      `json:"best_ask"`
	LastUpdateID int64        `json:"last_update_id"`
	EventTime    int64        `json:"event_time"`
	CollectedAt  int64        `json:"collected_at"`
}

// Fingerprint returns the publisher dedup identity and the downstream
// idempotence key for a snapshot.
func (s OrderBookSnapshot) Fingerprint() string {
	return fmt.Sprintf("book|%s|%s|%s|%d", s.Exchange, s.MarketType, s.Symbol, s.LastUpdateID)
}

// FundingRate is a periodic perpetual funding payment rate.
type FundingRate struct {
	Exchange        string     `json:"exchange"`
	MarketType      MarketType `json:"market_type"`
	Symbol          string     `json:"symbol"`
	Rate            Decimal    `json:"rate"`
	FundingTime     int64      `json:"funding_time"`
	NextFundingTime *int64     `json:"next_funding_time,omitempty"`
	EventTime       int64      `json:"event_time"`
}

func (f FundingRate) Fingerprint() string {
	return fmt.Sprintf("funding|%s|%s|%s|%d", f.Exchange, f.MarketType, f.Symbol, f.FundingTime)
}

// OpenInterest is the total outstanding contract count for a derivative.
type OpenInterest struct {
	Exchange    string     `json:"exchange"`
	MarketType  MarketType `json:"market_type"`
	Symbol      string     `json:"symbol"`
	Contracts   Decimal    `json:"contracts"`
	NotionalUSD *Decimal   `json:"notional_usd,omitempty"`
	EventTime   int64      `json:"event_time"`
}

func (o OpenInterest) Fingerprint() string {
	return fmt.Sprintf("oi|%s|%s|%s|%d", o.Exchange, o.MarketType, o.Symbol, o.EventTime)
}

// Liquidation is a forced position close reported by a venue.
type Liquidation struct {
	Exchange      string     `json:"exchange"`
	MarketType    MarketType `json:"market_type"`
	Symbol        string     `json:"symbol"`
	Side          Side       `json:"side"`
	Price         Decimal    `json:"price"`
	Quantity      Decimal    `json:"quantity"`
	LiquidationID *string    `json:"liquidation_id,omitempty"`
	EventTime     int64      `json:"event_time"`
}

func (l Liquidation) Fingerprint() string {
	if l.LiquidationID != nil {
		return fmt.Sprintf("liq|%s|%s|%s|%s", l.Exchange, l.MarketType, l.Symbol, *l.LiquidationID)
	}
	return fmt.Sprintf("liq|%s|%s|%s|%d|%s|%s", l.Exchange, l.MarketType, l.Symbol, l.EventTime, l.Price, l.Quantity)
}

// LongShortRatio summarizes positioning by notional or account count.
type LongShortRatio struct {
	Variant    LSRVariant `json:"variant"`
	Exchange   string     `json:"exchange"`
	MarketType MarketType `json:"market_type"`
	Symbol     string     `json:"symbol"`
	Ratio      Decimal    `json:"ratio"`
	Period     string     `json:"period"`
	EventTime  int64      `json:"event_time"`
}

func (r LongShortRatio) Fingerprint() string {
	return fmt.Sprintf("lsr|%s|%s|%s|%s|%d", r.Variant, r.Exchange, r.Symbol, r.Period, r.EventTime)
}

// VolatilityIndex is a venue-computed implied-volatility indicator.
type VolatilityIndex struct {
	Exchange   string  `json:"exchange"`
	Currency   string  `json:"currency"`
	Value      Decimal `json:"value"`
	Resolution int     `json:"resolution_seconds"`
	EventTime  int64   `json:"event_time"`
}

func (v VolatilityIndex) Fingerprint() string {
	return fmt.Sprintf("volidx|%s|%s|%d", v.Exchange, v.Currency, v.EventTime)
}

// Record is implemented by every canonical record kind; it supplies the
// dedup fingerprint the Publisher needs.
type Record interface {
	Fingerprint() string
}

var (
	_ Record = Trade{}
	_ Record = OrderBookSnapshot{}
	_ Record = FundingRate{}
	_ Record = OpenInterest{}
	_ Record = Liquidation{}
	_ Record = LongShortRatio{}
	_ Record = VolatilityIndex{}
)
