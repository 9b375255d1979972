package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/marketpulse/ingestor/internal/budget"
	"github.com/marketpulse/ingestor/internal/circuitbreaker"
	"github.com/marketpulse/ingestor/internal/bus"
	"github.com/marketpulse/ingestor/internal/config"
	"github.com/marketpulse/ingestor/internal/health"
	"github.com/marketpulse/ingestor/internal/hotstore"
	"github.com/marketpulse/ingestor/internal/httpclient"
	"github.com/marketpulse/ingestor/internal/metrics"
	"github.com/marketpulse/ingestor/internal/normalize"
	"github.com/marketpulse/ingestor/internal/orderbook"
	"github.com/marketpulse/ingestor/internal/publish"
	"github.com/marketpulse/ingestor/internal/ratelimit"
	"github.com/marketpulse/ingestor/internal/restpoller"
	"github.com/marketpulse/ingestor/internal/supervisor"
	"github.com/marketpulse/ingestor/internal/types"
	"github.com/marketpulse/ingestor/internal/venue"
	"github.com/marketpulse/ingestor/internal/venue/binance"
	"github.com/marketpulse/ingestor/internal/venue/deribit"
	"github.com/marketpulse/ingestor/internal/venue/okx"
)

// service bundles every wired component so serve/shutdown can manage
// them as a unit.
type service struct {
	cfg *config.AppConfig

	limiter  *ratelimit.Manager
	budgets  *budget.Manager
	breakers *circuitbreaker.Manager
	adapters map[string]venue.Adapter

	streams       []*supervisor.Stream
	obManager     *orderbook.Manager
	normalize     *normalize.Normalizer
	bookSnapshots chan types.OrderBookSnapshot
	bookHealth    chan orderbook.HealthEvent

	eventBus  bus.EventBus
	publisher *publish.Publisher
	hotWriter *hotstore.Writer
	hot       *hotSink
	poller    *restpoller.Poller

	metrics *metrics.Registry
	health  *health.Registry
	httpSrv *health.Server
}

// newService wires every component from configuration but starts
// nothing; callers invoke run() to begin processing.
func newService(cfg *config.AppConfig) (*service, error) {
	s := &service{cfg: cfg}

	s.limiter = ratelimit.NewManager()
	s.budgets = budget.NewManager()
	s.breakers = circuitbreaker.NewManager()
	s.adapters = make(map[string]venue.Adapter)

	httpPool := httpclient.NewPool(httpclient.DefaultConfig(cfg.Venues.Global.UserAgent))

	for name, v := range cfg.Venues.Venues {
		if !v.Enabled {
			continue
		}
		s.limiter.Configure(name+":rest", v.RPS, v.Burst)
		s.budgets.Configure(name, int64(v.DailyBudget), 24*time.Hour)
		s.breakers.Register(name, circuitbreaker.Config{
			ConsecutiveFailures: v.Circuit.FailureThreshold,
			OpenTimeout:         v.OpenTimeout(),
			HalfOpenMaxRequests: 1,
		})

		switch name {
		case "binance":
			s.adapters[name] = binance.New(httpPool, s.limiter, s.budgets, s.breakers)
		case "okx":
			s.adapters[name] = okx.New(httpPool, s.limiter, s.budgets, s.breakers)
		case "deribit":
			s.adapters[name] = deribit.New(httpPool, s.limiter, s.budgets, s.breakers)
		default:
			log.Warn().Str("venue", name).Msg("ingestord: no adapter registered for configured venue")
		}
	}

	s.metrics = metrics.New()
	s.health = health.NewRegistry()
	s.normalize = normalize.New()
	s.obManager = orderbook.NewManager(time.Second)

	for name, v := range cfg.Venues.Venues {
		adapter, ok := s.adapters[name]
		if !ok {
			continue
		}
		name := name
		spec := venue.StreamSpec{
			MarketType: marketTypeFor(name),
			Symbols:    v.Symbols,
			DataTypes:  []venue.EventKind{venue.EventTrade, venue.EventBookDiff},
		}
		onEvent := func(ev venue.RawEvent) { s.handleStreamEvent(name, ev) }
		st := supervisor.NewStream(adapter, spec, onEvent, s.handleConnEvent)
		s.streams = append(s.streams, st)
	}

	s.bookSnapshots = make(chan types.OrderBookSnapshot, 256)
	s.bookHealth = make(chan orderbook.HealthEvent, 64)

	eventBus, err := bus.New(bus.Config{
		Backend:  bus.BackendType(cfg.Bus.Backend),
		Brokers:  cfg.Bus.Brokers,
		ClientID: cfg.Bus.ClientID,
		Limits:   bus.DefaultStreamLimits(),
	})
	if err != nil {
		return nil, fmt.Errorf("ingestord: bus: %w", err)
	}
	s.eventBus = eventBus

	dedup, err := s.buildDedup()
	if err != nil {
		return nil, err
	}

	s.publisher = publish.New(s.eventBus, dedup, publish.Config{
		BatchSize:     cfg.Publisher.BatchSize,
		Linger:        time.Duration(cfg.Publisher.LingerMS) * time.Millisecond,
		MaxRetries:    cfg.Publisher.MaxRetries,
		SchemaVersion: 1,
	})

	deadLetter, err := s.buildDeadLetter()
	if err != nil {
		return nil, err
	}
	s.hotWriter = hotstore.New(hotstore.Config{BaseURL: cfg.HotStore.BaseURL, Tables: hotstore.DefaultTables()}, deadLetter)
	s.hot = newHotSink(s.hotWriter, s.metrics)

	s.poller = restpoller.New(s.adapters, s.limiter, s.budgets, s.handlePolledEvent)

	s.registerHealthChecks()
	s.registerStatsProviders()

	return s, nil
}

func (s *service) buildDedup() (publish.DedupCache, error) {
	if !s.cfg.Redis.Enabled || s.cfg.Redis.Addr == "" {
		return publish.NewMemoryDedup(s.cfg.Publisher.DedupTTL), nil
	}
	client := redis.NewClient(&redis.Options{Addr: s.cfg.Redis.Addr})
	return publish.NewRedisDedup(client, s.cfg.Publisher.DedupTTL), nil
}

func (s *service) buildDeadLetter() (hotstore.DeadLetter, error) {
	if !s.cfg.Postgres.Enabled {
		return nil, nil
	}
	db, err := sqlx.Connect("postgres", s.cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("ingestord: postgres connect: %w", err)
	}
	dl := hotstore.NewPostgresDeadLetter(db)
	if err := dl.EnsureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("ingestord: postgres schema: %w", err)
	}
	return dl, nil
}

// handlePolledEvent decodes a REST-polled event (funding, OI, LSR, vol
// index, liquidation) through the normalizer and forwards it to the
// publisher, per spec.md §4.3.
func (s *service) handlePolledEvent(exchange string, ev venue.RawEvent) {
	ctx := context.Background()
	record, err := s.normalize.Polled(exchange, ev)
	if err != nil {
		log.Debug().Err(err).Str("exchange", exchange).Str("kind", string(ev.Kind)).Msg("ingestord: polled normalization failed")
		return
	}

	dataType, marketType, symbol := polledRouting(ev, record)
	variant := ""
	if r, ok := record.(types.LongShortRatio); ok {
		variant = string(r.Variant)
	}
	if err := s.publisher.Publish(ctx, exchange, marketType, dataType, symbol, variant, record); err != nil {
		log.Warn().Err(err).Str("exchange", exchange).Str("kind", string(ev.Kind)).Msg("ingestord: publish polled record failed")
	}
	s.hot.write(dataType, record)
}

// polledRouting extracts the envelope fields needed to publish a
// decoded record without a type switch per call site.
func polledRouting(ev venue.RawEvent, record types.Record) (types.DataType, types.MarketType, string) {
	switch r := record.(type) {
	case types.FundingRate:
		return types.DataTypeFunding, r.MarketType, r.Symbol
	case types.OpenInterest:
		return types.DataTypeOpenInt, r.MarketType, r.Symbol
	case types.LongShortRatio:
		return types.DataTypeLSR, r.MarketType, r.Symbol
	case types.VolatilityIndex:
		return types.DataTypeVolIndex, types.MarketPerpetual, r.Currency
	case types.Liquidation:
		return types.DataTypeLiquidation, r.MarketType, r.Symbol
	default:
		return types.DataType(ev.Kind), types.MarketPerpetual, ev.Symbol
	}
}

func (s *service) registerHealthChecks() {
	for _, st := range s.streams {
		st := st
		s.health.RegisterChecker(health.CheckerFunc{
			NameValue: st.ExchangeName() + "_stream",
			Fn: func() health.CheckResult {
				healthy, err := st.Healthy()
				if healthy {
					return health.CheckResult{Status: health.StatusHealthy}
				}
				msg := "unhealthy"
				if err != nil {
					msg = err.Error()
				}
				return health.CheckResult{Status: health.StatusDegraded, Message: msg}
			},
		})
	}
	s.health.RegisterChecker(health.CheckerFunc{NameValue: "bus", Fn: func() health.CheckResult {
		hs := s.eventBus.Health()
		if hs.Healthy {
			return health.CheckResult{Status: health.StatusHealthy}
		}
		return health.CheckResult{Status: health.StatusUnhealthy, Message: hs.Status}
	}})
}

type publisherStats struct{ p *publish.Publisher }

func (p publisherStats) Name() string { return "publisher" }
func (p publisherStats) Stats() map[string]interface{} {
	published, duplicate, dropped := p.p.Stats()
	return map[string]interface{}{"published": published, "duplicate": duplicate, "dropped": dropped}
}

type limiterStats struct{ m *ratelimit.Manager }

func (l limiterStats) Name() string                       { return "rate_limiter" }
func (l limiterStats) Stats() map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range l.m.Stats() {
		out[k] = v
	}
	return out
}

type budgetStats struct{ m *budget.Manager }

func (b budgetStats) Name() string { return "rest_budget" }
func (b budgetStats) Stats() map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range b.m.Stats() {
		out[k] = v
	}
	return out
}

func (s *service) registerStatsProviders() {
	s.health.RegisterStats(publisherStats{p: s.publisher})
	s.health.RegisterStats(limiterStats{m: s.limiter})
	s.health.RegisterStats(budgetStats{m: s.budgets})
	s.health.RegisterStats(s.poller)
}

// restPollKinds lists the data kinds each venue's adapter actually
// implements in its Poll method (see internal/venue/<venue>'s Poll
// switch). Funding rate, open interest, and long/short ratio are
// perpetual/futures-only concepts on Binance and OKX, polled against
// the perpetual contract for the same base/quote even though those
// venues stream spot symbols; Deribit only contributes the volatility
// index over REST (its Poll rejects every other kind, and its WS
// subscription carries only trades and book changes, so Deribit
// funding/OI/LSR are not collected).
var restPollKinds = map[string][]venue.EventKind{
	"binance": {venue.EventFunding, venue.EventOpenInt, venue.EventLSR},
	"okx":     {venue.EventFunding, venue.EventOpenInt, venue.EventLSR},
	"deribit": {venue.EventVolIndex},
}

// restPollTasks builds one recurring task per configured venue/symbol
// for the data kinds that don't stream, scheduling exactly the kinds
// that venue's adapter supports rather than gating on one market type
// per venue.
func restPollTasks(cfg *config.AppConfig) []restpoller.Task {
	var tasks []restpoller.Task
	for name, v := range cfg.Venues.Venues {
		if !v.Enabled {
			continue
		}
		kinds, ok := restPollKinds[name]
		if !ok {
			continue
		}
		for _, symbol := range v.Symbols {
			for _, kind := range kinds {
				tasks = append(tasks, restpoller.Task{
					Exchange: name,
					Spec: venue.EndpointSpec{
						MarketType: types.MarketPerpetual,
						Symbol:     symbol,
						DataType:   kind,
						Weight:     5,
					},
					Interval: time.Minute,
				})
			}
		}
	}
	return tasks
}

// marketTypeFor reports the market this service polls/subscribes to for
// a given venue; Deribit is configured here for perpetuals only, the
// others for spot.
func marketTypeFor(exchange string) types.MarketType {
	if exchange == "deribit" {
		return types.MarketPerpetual
	}
	return types.MarketSpot
}
