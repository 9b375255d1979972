// Package binance implements the venue.Adapter capability set for
// Binance spot and USD-M perpetual markets: combined-stream WebSocket
// subscription with ping/pong heartbeat handling, and REST polling for
// funding rate, open interest, and long/short ratio endpoints.
//
// Grounded on exchanges/binance/book.go (gorilla/websocket dial loop,
// read-deadline/pong handling) and internal/infrastructure/providers'
// REST client wiring via an httpclient pool.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/marketpulse/ingestor/internal/budget"
	"github.com/marketpulse/ingestor/internal/circuitbreaker"
	"github.com/marketpulse/ingestor/internal/httpclient"
	"github.com/marketpulse/ingestor/internal/ratelimit"
	"github.com/marketpulse/ingestor/internal/types"
	"github.com/marketpulse/ingestor/internal/venue"
)

const (
	spotWSBase    = "wss://stream.binance.com:9443"
	futuresWSBase = "wss://fstream.binance.com"
	spotRESTBase  = "https://api.binance.com"
	futuresRESTBase = "https://fapi.binance.com"

	pongWait   = 10 * time.Minute // Binance sends an unsolicited ping every ~3 min over the WS control frame
	writeWait  = 10 * time.Second
)

// Adapter is Binance's venue.Adapter implementation.
type Adapter struct {
	httpPool  *httpclient.Pool
	limiter   *ratelimit.Manager
	budgets   *budget.Manager
	breakers  *circuitbreaker.Manager
}

// New builds a Binance adapter wired to the shared rate limit, weight
// budget, and circuit breaker managers the supervisor owns.
func New(httpPool *httpclient.Pool, limiter *ratelimit.Manager, budgets *budget.Manager, breakers *circuitbreaker.Manager) *Adapter {
	return &Adapter{httpPool: httpPool, limiter: limiter, budgets: budgets, breakers: breakers}
}

func (a *Adapter) Name() string { return "binance" }

func wsBase(marketType types.MarketType) string {
	if marketType == types.MarketPerpetual {
		return futuresWSBase
	}
	return spotWSBase
}

func restBase(marketType types.MarketType) string {
	if marketType == types.MarketPerpetual {
		return futuresRESTBase
	}
	return spotRESTBase
}

// Subscribe dials Binance's combined stream endpoint for the requested
// symbols/data types and emits raw trade and book-diff events.
func (a *Adapter) Subscribe(ctx context.Context, spec venue.StreamSpec) (<-chan venue.RawEvent, <-chan venue.ConnEvent, error) {
	streams := make([]string, 0, len(spec.Symbols)*2)
	for _, sym := range spec.Symbols {
		lower := strings.ToLower(strings.ReplaceAll(sym, "-", ""))
		for _, dt := range spec.DataTypes {
			switch dt {
			case venue.EventTrade:
				streams = append(streams, lower+"@trade")
			case venue.EventBookDiff:
				streams = append(streams, lower+"@depth@100ms")
			}
		}
	}
	if len(streams) == 0 {
		return nil, nil, fmt.Errorf("binance: no streams requested")
	}

	u := url.URL{Scheme: "wss", Host: strings.TrimPrefix(wsBase(spec.MarketType), "wss://"),
		Path: "/stream", RawQuery: "streams=" + strings.Join(streams, "/")}

	events := make(chan venue.RawEvent, 256)
	conns := make(chan venue.ConnEvent, 8)

	go a.runSubscription(ctx, u.String(), events, conns)
	return events, conns, nil
}

func (a *Adapter) runSubscription(ctx context.Context, wsURL string, events chan<- venue.RawEvent, conns chan<- venue.ConnEvent) {
	defer close(events)
	defer close(conns)

	conns <- venue.ConnEvent{Exchange: "binance", Stream: wsURL, State: venue.ConnConnecting}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		conns <- venue.ConnEvent{Exchange: "binance", Stream: wsURL, State: venue.ConnLost, Err: err}
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	conns <- venue.ConnEvent{Exchange: "binance", Stream: wsURL, State: venue.ConnHealthy}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			conns <- venue.ConnEvent{Exchange: "binance", Stream: wsURL, State: venue.ConnLost, Err: err}
			return
		}

		kind, symbol, ok := classifyCombinedFrame(msg)
		if !ok {
			continue
		}
		events <- venue.RawEvent{Kind: kind, Symbol: symbol, Payload: msg, RecvTime: time.Now().UnixMilli()}
	}
}

type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// classifyCombinedFrame inspects a combined-stream envelope's "e" field
// inside Data to discriminate trade vs. depth frames without a full decode.
func classifyCombinedFrame(msg []byte) (venue.EventKind, string, bool) {
	var env combinedEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return "", "", false
	}
	var probe struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
	}
	if err := json.Unmarshal(env.Data, &probe); err != nil {
		return "", "", false
	}
	switch probe.EventType {
	case "trade":
		return venue.EventTrade, probe.Symbol, true
	case "depthUpdate":
		return venue.EventBookDiff, probe.Symbol, true
	default:
		return "", "", false
	}
}

// Poll executes one REST fetch for funding rate, open interest, or LSR.
func (a *Adapter) Poll(ctx context.Context, spec venue.EndpointSpec) (venue.RawEvent, error) {
	var path string
	switch spec.DataType {
	case venue.EventFunding:
		path = "/fapi/v1/premiumIndex"
	case venue.EventOpenInt:
		path = "/fapi/v1/openInterest"
	case venue.EventLSR:
		if spec.Variant == string(types.LSRTopPosition) {
			path = "/futures/data/topLongShortPositionRatio"
		} else {
			path = "/futures/data/globalLongShortAccountRatio"
		}
	default:
		return venue.RawEvent{}, fmt.Errorf("binance: unsupported poll data type %s", spec.DataType)
	}

	sym := strings.ReplaceAll(spec.Symbol, "-", "")
	q := url.Values{"symbol": {sym}}
	if spec.DataType == venue.EventLSR {
		q.Set("period", "5m")
		q.Set("limit", "1")
	}

	body, err := a.get(ctx, "binance", restBase(spec.MarketType)+path+"?"+q.Encode(), spec.Weight)
	if err != nil {
		return venue.RawEvent{}, err
	}
	return venue.RawEvent{Kind: spec.DataType, Symbol: spec.Symbol, Payload: body, RecvTime: time.Now().UnixMilli()}, nil
}

// FetchBookSnapshot fetches a REST depth snapshot used for join-point
// synchronization.
func (a *Adapter) FetchBookSnapshot(ctx context.Context, marketType types.MarketType, symbol string, depth int) (venue.RawEvent, error) {
	sym := strings.ReplaceAll(symbol, "-", "")
	path := "/api/v3/depth"
	if marketType == types.MarketPerpetual {
		path = "/fapi/v1/depth"
	}
	q := url.Values{"symbol": {sym}, "limit": {strconv.Itoa(depth)}}

	weight := int64(depth)
	if depth <= 100 {
		weight = 5
	} else if depth <= 500 {
		weight = 25
	} else {
		weight = 250
	}

	body, err := a.get(ctx, "binance", restBase(marketType)+path+"?"+q.Encode(), weight)
	if err != nil {
		return venue.RawEvent{}, err
	}
	return venue.RawEvent{Kind: venue.EventBookSnap, Symbol: symbol, Payload: body, RecvTime: time.Now().UnixMilli()}, nil
}

func (a *Adapter) get(ctx context.Context, name, rawURL string, weight int64) ([]byte, error) {
	if err := a.budgets.Consume(name, weight); err != nil {
		return nil, err
	}
	if err := a.limiter.Wait(ctx, name); err != nil {
		return nil, err
	}

	var body []byte
	err := a.breakers.Execute(ctx, name, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		resp, err := a.httpPool.Do(ctx, req)
		if err != nil {
			if rle, ok := err.(*httpclient.RateLimitedError); ok {
				a.limiter.OnRateLimited(name)
				log.Warn().Str("venue", name).Dur("retry_after", rle.RetryAfter).Msg("binance rate limited")
			}
			return err
		}
		defer resp.Body.Close()
		buf := make([]byte, 0, 4096)
		tmp := make([]byte, 4096)
		for {
			n, rerr := resp.Body.Read(tmp)
			buf = append(buf, tmp[:n]...)
			if rerr != nil {
				break
			}
		}
		body = buf
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("binance: request to %s failed: %w", rawURL, err)
	}
	return body, nil
}

var _ venue.Adapter = (*Adapter)(nil)
