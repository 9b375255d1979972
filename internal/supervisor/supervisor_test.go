package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketpulse/ingestor/internal/types"
	"github.com/marketpulse/ingestor/internal/venue"
)

type fakeAdapter struct {
	calls int32
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Subscribe(ctx context.Context, spec venue.StreamSpec) (<-chan venue.RawEvent, <-chan venue.ConnEvent, error) {
	n := atomic.AddInt32(&f.calls, 1)
	events := make(chan venue.RawEvent, 1)
	conns := make(chan venue.ConnEvent, 2)

	go func() {
		defer close(events)
		defer close(conns)
		conns <- venue.ConnEvent{Exchange: "fake", State: venue.ConnHealthy}
		events <- venue.RawEvent{Kind: venue.EventTrade, Symbol: "BTC-USDT"}
		if n == 1 {
			// first subscription drops immediately to exercise reconnect
			conns <- venue.ConnEvent{Exchange: "fake", State: venue.ConnLost}
		} else {
			<-ctx.Done()
		}
	}()
	return events, conns, nil
}

func (f *fakeAdapter) Poll(ctx context.Context, spec venue.EndpointSpec) (venue.RawEvent, error) {
	return venue.RawEvent{}, nil
}

func (f *fakeAdapter) FetchBookSnapshot(ctx context.Context, marketType types.MarketType, symbol string, depth int) (venue.RawEvent, error) {
	return venue.RawEvent{}, nil
}

func TestStreamReconnectsOnLoss(t *testing.T) {
	adapter := &fakeAdapter{}
	var received int32
	s := NewStream(adapter, venue.StreamSpec{Symbols: []string{"BTC-USDT"}, DataTypes: []venue.EventKind{venue.EventTrade}},
		func(venue.RawEvent) { atomic.AddInt32(&received, 1) }, nil)
	s.policy.Initial = time.Millisecond
	s.policy.Max = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	s.Run(ctx)

	require.GreaterOrEqual(t, atomic.LoadInt32(&received), int32(2))
	require.GreaterOrEqual(t, atomic.LoadInt32(&adapter.calls), int32(2))
}

func TestStreamHealthyReflectsLastConnEvent(t *testing.T) {
	s := &Stream{exchange: "fake"}
	healthy, _ := s.Healthy()
	require.False(t, healthy)

	s.handleConnEvent(venue.ConnEvent{Exchange: "fake", State: venue.ConnHealthy})
	healthy, err := s.Healthy()
	require.True(t, healthy)
	require.NoError(t, err)
}
