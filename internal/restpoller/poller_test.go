package restpoller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketpulse/ingestor/internal/budget"
	"github.com/marketpulse/ingestor/internal/ratelimit"
	"github.com/marketpulse/ingestor/internal/types"
	"github.com/marketpulse/ingestor/internal/venue"
)

type fakeAdapter struct {
	name  string
	calls int32
	err   error
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Subscribe(ctx context.Context, spec venue.StreamSpec) (<-chan venue.RawEvent, <-chan venue.ConnEvent, error) {
	return nil, nil, errors.New("not used")
}
func (f *fakeAdapter) Poll(ctx context.Context, spec venue.EndpointSpec) (venue.RawEvent, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return venue.RawEvent{}, f.err
	}
	return venue.RawEvent{Kind: spec.DataType, Symbol: spec.Symbol}, nil
}
func (f *fakeAdapter) FetchBookSnapshot(ctx context.Context, marketType types.MarketType, symbol string, depth int) (venue.RawEvent, error) {
	return venue.RawEvent{}, errors.New("not used")
}

func TestPollerExecutesTaskAndInvokesSink(t *testing.T) {
	adapter := &fakeAdapter{name: "binance"}
	limiter := ratelimit.NewManager()
	limiter.Configure("binance:rest", 100, 10)
	budgets := budget.NewManager()
	budgets.Configure("binance", 100000, time.Hour)

	var got venue.RawEvent
	done := make(chan struct{}, 1)
	sink := func(exchange string, ev venue.RawEvent) {
		got = ev
		done <- struct{}{}
	}

	p := New(map[string]venue.Adapter{"binance": adapter}, limiter, budgets, sink)
	p.executeOnce(context.Background(), Task{
		Exchange: "binance",
		Spec:     venue.EndpointSpec{Symbol: "BTC-USDT", DataType: venue.EventFunding, Weight: 1},
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sink was not invoked")
	}
	require.Equal(t, venue.EventFunding, got.Kind)
	require.Equal(t, int32(1), adapter.calls)
}

func TestPollerSkipsWhenBudgetExhausted(t *testing.T) {
	adapter := &fakeAdapter{name: "okx"}
	limiter := ratelimit.NewManager()
	limiter.Configure("okx:rest", 100, 10)
	budgets := budget.NewManager()
	budgets.Configure("okx", 1, time.Hour)

	p := New(map[string]venue.Adapter{"okx": adapter}, limiter, budgets, func(string, venue.RawEvent) {})
	p.executeOnce(context.Background(), Task{Exchange: "okx", Spec: venue.EndpointSpec{Weight: 5}})

	require.Equal(t, int32(0), adapter.calls)
	require.Equal(t, int64(1), p.skipped)
}
