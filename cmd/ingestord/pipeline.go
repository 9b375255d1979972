package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/ingestor/internal/normalize"
	"github.com/marketpulse/ingestor/internal/orderbook"
	"github.com/marketpulse/ingestor/internal/types"
	"github.com/marketpulse/ingestor/internal/venue"
)

// handleConnEvent counts every stream's lost or degraded connection
// transition in the reconnect metric so /metrics reflects venue stability.
func (s *service) handleConnEvent(ev venue.ConnEvent) {
	if ev.State == venue.ConnLost || ev.State == venue.ConnDegraded {
		s.metrics.Reconnects.WithLabelValues(ev.Exchange, string(ev.State)).Inc()
	}
}

// handleStreamEvent is the Venue Adapter -> Normalizer -> Order-Book
// Manager / Publisher path for every WebSocket event, per spec.md
// §4.5-§4.6.
func (s *service) handleStreamEvent(exchange string, ev venue.RawEvent) {
	ctx := context.Background()
	switch ev.Kind {
	case venue.EventTrade:
		s.handleTrade(ctx, exchange, ev)
	case venue.EventBookDiff:
		s.handleBookDiff(ctx, exchange, ev)
	}
}

func (s *service) handleTrade(ctx context.Context, exchange string, ev venue.RawEvent) {
	trades, err := s.normalize.Trades(exchange, ev)
	if err != nil {
		log.Debug().Err(err).Str("exchange", exchange).Msg("ingestord: trade normalization failed")
		return
	}
	for _, t := range trades {
		if err := s.publisher.Publish(ctx, t.Exchange, t.MarketType, types.DataTypeTrade, t.Symbol, "", t); err != nil {
			log.Warn().Err(err).Msg("ingestord: publish trade failed")
		}
		s.hot.write(types.DataTypeTrade, t)
	}
}

func (s *service) handleBookDiff(ctx context.Context, exchange string, ev venue.RawEvent) {
	diff, isReset, err := s.normalize.BookDiff(exchange, ev)
	if err != nil {
		log.Debug().Err(err).Str("exchange", exchange).Msg("ingestord: book-diff normalization failed")
		return
	}

	stream, ok := s.obManager.Stream(exchange, diff.Symbol)
	if !ok {
		return // symbol not registered for order-book tracking
	}
	if isReset {
		log.Info().Str("exchange", exchange).Str("symbol", diff.Symbol).Msg("ingestord: explicit book reset received")
	}
	if err := stream.Ingest(ctx, diff); err != nil {
		log.Warn().Err(err).Str("exchange", exchange).Str("symbol", diff.Symbol).Msg("ingestord: book ingest failed")
	}
}

// registerOrderBookStreams builds one orderbook.Stream per configured
// venue/symbol, wired to the adapter's REST snapshot fetch for
// (re)establishing the join point.
func (s *service) registerOrderBookStreams(ctx context.Context, snapshots chan<- types.OrderBookSnapshot, healthCh chan<- orderbook.HealthEvent) {
	for name, v := range s.cfg.Venues.Venues {
		adapter, ok := s.adapters[name]
		if !ok || !v.Enabled {
			continue
		}
		algo := orderbook.AlgorithmGeneric
		switch name {
		case "binance":
			algo = orderbook.AlgorithmBinance
		case "okx":
			algo = orderbook.AlgorithmOKX
		}
		marketType := marketTypeFor(name)

		for _, rawSymbol := range v.Symbols {
			rawSymbol := rawSymbol
			canonical, _ := normalize.CanonicalSymbol(rawSymbol)
			fetch := func(ctx context.Context) (types.OrderBookSnapshot, error) {
				raw, err := adapter.FetchBookSnapshot(ctx, marketType, rawSymbol, 50)
				if err != nil {
					return types.OrderBookSnapshot{}, err
				}
				return s.normalize.BookSnapshot(name, raw.Payload, rawSymbol)
			}
			st := orderbook.NewStream(name, marketType, canonical, algo, fetch, snapshots, healthCh)
			if err := s.obManager.Register(ctx, st); err != nil {
				log.Warn().Err(err).Str("exchange", name).Str("symbol", rawSymbol).Msg("ingestord: order-book stream registration failed")
			}
		}
	}
}

// publishSnapshots forwards emitted order-book snapshots to the
// publisher until ctx is canceled.
func (s *service) publishSnapshots(ctx context.Context, snapshots <-chan types.OrderBookSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := s.publisher.Publish(ctx, snap.Exchange, snap.MarketType, types.DataTypeOrderBook, snap.Symbol, "", snap); err != nil {
				log.Warn().Err(err).Msg("ingestord: publish order-book snapshot failed")
			}
			s.hot.write(types.DataTypeOrderBook, snap)
		}
	}
}

// observeHealthEvents records order-book resync activity in the
// resync-total metric and logs streams that turn degraded.
func (s *service) observeHealthEvents(ctx context.Context, events <-chan orderbook.HealthEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.metrics.ResyncsTotal.WithLabelValues(ev.Exchange, ev.Symbol, string(ev.State)).Inc()
			if ev.Degraded {
				log.Warn().Str("exchange", ev.Exchange).Str("symbol", ev.Symbol).Int("resyncs", ev.ResyncCount).
					Msg("ingestord: order-book stream degraded, repeated resyncs within window")
			}
		}
	}
}
