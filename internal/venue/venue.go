// Package venue defines the capability set every exchange adapter
// implements (spec.md §4.1, §9 "Venue polymorphism"): subscribe to a
// stream spec, poll a REST endpoint spec, decode a frame. Dispatch is
// by exchange id; there is no inheritance hierarchy — shared behaviors
// (token bucket, weight budget, circuit breaker, retrying HTTP client)
// live in internal/ratelimit, internal/budget, internal/circuitbreaker,
// and internal/httpclient and are composed into each adapter; each
// adapter runs its own heartbeat.
package venue

import (
	"context"
	"errors"

	"github.com/marketpulse/ingestor/internal/types"
)

// Errors surfaced by adapters per spec.md §4.1.
var (
	ErrConnectionLost     = errors.New("connection lost")
	ErrProtocolViolation  = errors.New("protocol violation")
	ErrVenueRateLimit     = errors.New("venue rate limit")
)

// EventKind discriminates the payload carried by a RawEvent.
type EventKind string

const (
	EventTrade       EventKind = "trade"
	EventBookDiff    EventKind = "book_diff"
	EventBookSnap    EventKind = "book_snapshot"
	EventFunding     EventKind = "funding"
	EventOpenInt     EventKind = "open_interest"
	EventLiquidation EventKind = "liquidation"
	EventLSR         EventKind = "lsr"
	EventVolIndex    EventKind = "vol_index"
)

// RawEvent is an undecoded, venue-native payload tagged with its kind
// and originating symbol, handed upward from the adapter's stream.
type RawEvent struct {
	Kind      EventKind
	Symbol    string
	Payload   []byte
	RecvTime  int64 // wall-clock ms at reception, used when the venue omits an event time
}

// ConnState is emitted on the adapter's control channel whenever the
// underlying connection's health changes.
type ConnState string

const (
	ConnConnecting ConnState = "connecting"
	ConnHealthy    ConnState = "healthy"
	ConnLost       ConnState = "lost"
	ConnDegraded   ConnState = "degraded"
)

// ConnEvent reports a connection lifecycle transition for one stream.
type ConnEvent struct {
	Exchange string
	Stream   string // the adapter's WS endpoint URL for this connection
	State    ConnState
	Err      error
}

// StreamSpec describes what to subscribe to on a venue's WS endpoint.
type StreamSpec struct {
	MarketType types.MarketType
	Symbols    []string
	DataTypes  []EventKind
}

// EndpointSpec describes a single REST poll task target.
type EndpointSpec struct {
	MarketType types.MarketType
	Symbol     string
	DataType   EventKind
	Variant    string // e.g. LSR variant
	Weight     int64
}

// Adapter is the capability set every venue implements.
type Adapter interface {
	// Name is the canonical exchange id, e.g. "binance", "okx", "deribit".
	Name() string

	// Subscribe opens (or re-opens) a WebSocket stream and returns an
	// infinite, non-restartable channel of raw events plus a control
	// channel of connection-state transitions. Closing ctx tears down
	// the connection and closes both channels.
	Subscribe(ctx context.Context, spec StreamSpec) (<-chan RawEvent, <-chan ConnEvent, error)

	// Poll executes one REST fetch for the given endpoint and returns
	// the raw response body tagged with its kind.
	Poll(ctx context.Context, spec EndpointSpec) (RawEvent, error)

	// FetchBookSnapshot fetches a REST order-book snapshot used by the
	// Order-Book Manager's join-point algorithm.
	FetchBookSnapshot(ctx context.Context, marketType types.MarketType, symbol string, depth int) (RawEvent, error)
}
