// Package deribit implements venue.Adapter for Deribit options/futures
// market data: JSON-RPC 2.0 subscribe over WebSocket, and REST polling
// for the currency-level volatility index the Normalization layer needs
// (spec.md's supplemented Deribit coverage).
package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketpulse/ingestor/internal/budget"
	"github.com/marketpulse/ingestor/internal/circuitbreaker"
	"github.com/marketpulse/ingestor/internal/httpclient"
	"github.com/marketpulse/ingestor/internal/ratelimit"
	"github.com/marketpulse/ingestor/internal/types"
	"github.com/marketpulse/ingestor/internal/venue"
)

const (
	wsURL   = "wss://www.deribit.com/ws/api/v2"
	restBase = "https://www.deribit.com"
	heartbeatInterval = 30 * time.Second
)

// Adapter is Deribit's venue.Adapter implementation.
type Adapter struct {
	httpPool *httpclient.Pool
	limiter  *ratelimit.Manager
	budgets  *budget.Manager
	breakers *circuitbreaker.Manager
	nextID   int64
}

// New builds a Deribit adapter wired to the shared managers.
func New(httpPool *httpclient.Pool, limiter *ratelimit.Manager, budgets *budget.Manager, breakers *circuitbreaker.Manager) *Adapter {
	return &Adapter{httpPool: httpPool, limiter: limiter, budgets: budgets, breakers: breakers}
}

func (a *Adapter) Name() string { return "deribit" }

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcSubscribeParams struct {
	Channels []string `json:"channels"`
}

type rpcNotification struct {
	Method string `json:"method"`
	Params struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	} `json:"params"`
}

// toInstrument converts a canonical currency symbol (e.g. BTC) into a
// Deribit perpetual instrument name.
func toInstrument(symbol string) string {
	base := strings.Split(symbol, "-")[0]
	return base + "-PERPETUAL"
}

// Subscribe opens the WS connection, sends a JSON-RPC "public/subscribe"
// request for trades and order-book channels, and decodes notifications.
func (a *Adapter) Subscribe(ctx context.Context, spec venue.StreamSpec) (<-chan venue.RawEvent, <-chan venue.ConnEvent, error) {
	events := make(chan venue.RawEvent, 256)
	conns := make(chan venue.ConnEvent, 8)
	go a.run(ctx, spec, events, conns)
	return events, conns, nil
}

func (a *Adapter) run(ctx context.Context, spec venue.StreamSpec, events chan<- venue.RawEvent, conns chan<- venue.ConnEvent) {
	defer close(events)
	defer close(conns)

	conns <- venue.ConnEvent{Exchange: "deribit", Stream: wsURL, State: venue.ConnConnecting}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		conns <- venue.ConnEvent{Exchange: "deribit", Stream: wsURL, State: venue.ConnLost, Err: err}
		return
	}
	defer conn.Close()

	var channels []string
	for _, sym := range spec.Symbols {
		inst := toInstrument(sym)
		for _, dt := range spec.DataTypes {
			switch dt {
			case venue.EventTrade:
				channels = append(channels, "trades."+inst+".100ms")
			case venue.EventBookDiff:
				channels = append(channels, "book."+inst+".100ms")
			}
		}
	}

	a.nextID++
	req := rpcRequest{JSONRPC: "2.0", ID: a.nextID, Method: "public/subscribe", Params: rpcSubscribeParams{Channels: channels}}
	if err := conn.WriteJSON(req); err != nil {
		conns <- venue.ConnEvent{Exchange: "deribit", Stream: wsURL, State: venue.ConnLost, Err: err}
		return
	}

	a.nextID++
	heartbeatReq := rpcRequest{JSONRPC: "2.0", ID: a.nextID, Method: "public/set_heartbeat", Params: map[string]int{"interval": int(heartbeatInterval.Seconds())}}
	if err := conn.WriteJSON(heartbeatReq); err != nil {
		conns <- venue.ConnEvent{Exchange: "deribit", Stream: wsURL, State: venue.ConnLost, Err: err}
		return
	}

	conns <- venue.ConnEvent{Exchange: "deribit", Stream: wsURL, State: venue.ConnHealthy}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			conns <- venue.ConnEvent{Exchange: "deribit", Stream: wsURL, State: venue.ConnLost, Err: err}
			return
		}

		var probe struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal(msg, &probe); err != nil {
			continue
		}
		if probe.Method == "heartbeat" {
			a.nextID++
			_ = conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: a.nextID, Method: "public/test"})
			continue
		}

		kind, symbol, ok := classifyNotification(msg)
		if !ok {
			continue
		}
		events <- venue.RawEvent{Kind: kind, Symbol: symbol, Payload: msg, RecvTime: time.Now().UnixMilli()}
	}
}

func classifyNotification(msg []byte) (venue.EventKind, string, bool) {
	var n rpcNotification
	if err := json.Unmarshal(msg, &n); err != nil || n.Method != "subscription" {
		return "", "", false
	}
	parts := strings.Split(n.Params.Channel, ".")
	if len(parts) < 2 {
		return "", "", false
	}
	symbol := strings.TrimSuffix(parts[1], "-PERPETUAL")
	switch parts[0] {
	case "trades":
		return venue.EventTrade, symbol, true
	case "book":
		return venue.EventBookDiff, symbol, true
	default:
		return "", "", false
	}
}

// Poll fetches the currency-level volatility index via REST, the only
// poll-based data type Deribit contributes to the pipeline.
func (a *Adapter) Poll(ctx context.Context, spec venue.EndpointSpec) (venue.RawEvent, error) {
	if spec.DataType != venue.EventVolIndex {
		return venue.RawEvent{}, fmt.Errorf("deribit: unsupported poll data type %s", spec.DataType)
	}
	currency := strings.Split(spec.Symbol, "-")[0]
	q := url.Values{"currency": {currency}}
	body, err := a.get(ctx, restBase+"/api/v2/public/get_volatility_index_data?"+q.Encode())
	if err != nil {
		return venue.RawEvent{}, err
	}
	return venue.RawEvent{Kind: venue.EventVolIndex, Symbol: currency, Payload: body, RecvTime: time.Now().UnixMilli()}, nil
}

// FetchBookSnapshot fetches a REST order-book snapshot for join-point sync.
func (a *Adapter) FetchBookSnapshot(ctx context.Context, marketType types.MarketType, symbol string, depth int) (venue.RawEvent, error) {
	inst := toInstrument(symbol)
	q := url.Values{"instrument_name": {inst}, "depth": {fmt.Sprint(depth)}}
	body, err := a.get(ctx, restBase+"/api/v2/public/get_order_book?"+q.Encode())
	if err != nil {
		return venue.RawEvent{}, err
	}
	return venue.RawEvent{Kind: venue.EventBookSnap, Symbol: symbol, Payload: body, RecvTime: time.Now().UnixMilli()}, nil
}

func (a *Adapter) get(ctx context.Context, rawURL string) ([]byte, error) {
	const name = "deribit"
	if err := a.budgets.Consume(name, 1); err != nil {
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
				_ = rle
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
		return nil, fmt.Errorf("deribit: request to %s failed: %w", rawURL, err)
	}
	return body, nil
}

var _ venue.Adapter = (*Adapter)(nil)
