// Package okx implements venue.Adapter for OKX spot and perpetual
// swap markets: public WebSocket channel subscription with seqId-chain
// and checksum frames, and REST polling for funding rate, open
// interest, and long/short ratio endpoints.
//
// Grounded on exchanges/okx/book_stub.go (channel subscription shape)
// and internal/infrastructure/providers' REST client wiring.
package okx

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
	publicWSURL = "wss://ws.okx.com:8443/ws/v5/public"
	restBase    = "https://www.okx.com"
	pingInterval = 20 * time.Second
)

// Adapter is OKX's venue.Adapter implementation.
type Adapter struct {
	httpPool *httpclient.Pool
	limiter  *ratelimit.Manager
	budgets  *budget.Manager
	breakers *circuitbreaker.Manager
}

// New builds an OKX adapter wired to the shared managers.
func New(httpPool *httpclient.Pool, limiter *ratelimit.Manager, budgets *budget.Manager, breakers *circuitbreaker.Manager) *Adapter {
	return &Adapter{httpPool: httpPool, limiter: limiter, budgets: budgets, breakers: breakers}
}

func (a *Adapter) Name() string { return "okx" }

// toInstID converts a canonical symbol (e.g. BTC-USDT) to OKX's wire
// instId, appending -SWAP for perpetuals.
func toInstID(symbol string, marketType types.MarketType) string {
	if marketType == types.MarketPerpetual {
		return symbol + "-SWAP"
	}
	return symbol
}

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type subscribeMsg struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

// Subscribe opens the public WS channel and subscribes to trades and
// order-book channels for each requested symbol.
func (a *Adapter) Subscribe(ctx context.Context, spec venue.StreamSpec) (<-chan venue.RawEvent, <-chan venue.ConnEvent, error) {
	events := make(chan venue.RawEvent, 256)
	conns := make(chan venue.ConnEvent, 8)
	go a.run(ctx, spec, events, conns)
	return events, conns, nil
}

func (a *Adapter) run(ctx context.Context, spec venue.StreamSpec, events chan<- venue.RawEvent, conns chan<- venue.ConnEvent) {
	defer close(events)
	defer close(conns)

	conns <- venue.ConnEvent{Exchange: "okx", Stream: publicWSURL, State: venue.ConnConnecting}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, publicWSURL, nil)
	if err != nil {
		conns <- venue.ConnEvent{Exchange: "okx", Stream: publicWSURL, State: venue.ConnLost, Err: err}
		return
	}
	defer conn.Close()

	var args []subscribeArg
	for _, sym := range spec.Symbols {
		instID := toInstID(sym, spec.MarketType)
		for _, dt := range spec.DataTypes {
			switch dt {
			case venue.EventTrade:
				args = append(args, subscribeArg{Channel: "trades", InstID: instID})
			case venue.EventBookDiff:
				args = append(args, subscribeArg{Channel: "books", InstID: instID})
			}
		}
	}
	if err := conn.WriteJSON(subscribeMsg{Op: "subscribe", Args: args}); err != nil {
		conns <- venue.ConnEvent{Exchange: "okx", Stream: publicWSURL, State: venue.ConnLost, Err: err}
		return
	}

	stop := make(chan struct{})
	defer close(stop)
	go a.pingLoop(conn, stop)

	conns <- venue.ConnEvent{Exchange: "okx", Stream: publicWSURL, State: venue.ConnHealthy}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			conns <- venue.ConnEvent{Exchange: "okx", Stream: publicWSURL, State: venue.ConnLost, Err: err}
			return
		}
		if string(msg) == "pong" {
			continue
		}
		kind, symbol, ok := classifyChannelFrame(msg)
		if !ok {
			continue
		}
		events <- venue.RawEvent{Kind: kind, Symbol: symbol, Payload: msg, RecvTime: time.Now().UnixMilli()}
	}
}

// pingLoop sends OKX's text "ping" keepalive every 20s, per the
// venue's documented public-channel heartbeat contract.
func (a *Adapter) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

type channelEnvelope struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
}

func classifyChannelFrame(msg []byte) (venue.EventKind, string, bool) {
	var env channelEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return "", "", false
	}
	switch env.Arg.Channel {
	case "trades":
		return venue.EventTrade, fromInstID(env.Arg.InstID), true
	case "books":
		return venue.EventBookDiff, fromInstID(env.Arg.InstID), true
	default:
		return "", "", false
	}
}

func fromInstID(instID string) string {
	return strings.TrimSuffix(instID, "-SWAP")
}

// Poll executes one REST fetch for funding rate, open interest, or LSR.
func (a *Adapter) Poll(ctx context.Context, spec venue.EndpointSpec) (venue.RawEvent, error) {
	instID := toInstID(spec.Symbol, spec.MarketType)
	var path string
	q := url.Values{}
	switch spec.DataType {
	case venue.EventFunding:
		path = "/api/v5/public/funding-rate"
		q.Set("instId", instID)
	case venue.EventOpenInt:
		path = "/api/v5/public/open-interest"
		q.Set("instId", instID)
	case venue.EventLSR:
		path = "/api/v5/rubik/stat/contracts/long-short-account-ratio"
		q.Set("ccy", strings.Split(spec.Symbol, "-")[0])
		q.Set("period", "5m")
	default:
		return venue.RawEvent{}, fmt.Errorf("okx: unsupported poll data type %s", spec.DataType)
	}

	body, err := a.get(ctx, restBase+path+"?"+q.Encode())
	if err != nil {
		return venue.RawEvent{}, err
	}
	return venue.RawEvent{Kind: spec.DataType, Symbol: spec.Symbol, Payload: body, RecvTime: time.Now().UnixMilli()}, nil
}

// FetchBookSnapshot fetches a REST order-book snapshot.
func (a *Adapter) FetchBookSnapshot(ctx context.Context, marketType types.MarketType, symbol string, depth int) (venue.RawEvent, error) {
	instID := toInstID(symbol, marketType)
	q := url.Values{"instId": {instID}, "sz": {fmt.Sprint(depth)}}
	body, err := a.get(ctx, restBase+"/api/v5/market/books?"+q.Encode())
	if err != nil {
		return venue.RawEvent{}, err
	}
	return venue.RawEvent{Kind: venue.EventBookSnap, Symbol: symbol, Payload: body, RecvTime: time.Now().UnixMilli()}, nil
}

func (a *Adapter) get(ctx context.Context, rawURL string) ([]byte, error) {
	const name = "okx"
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
		return nil, fmt.Errorf("okx: request to %s failed: %w", rawURL, err)
	}
	return body, nil
}

var _ venue.Adapter = (*Adapter)(nil)
