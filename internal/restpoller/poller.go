// Package restpoller periodically fetches venue REST endpoints that
// don't stream — funding rate, open interest, long/short-ratio
// variants, volatility index — per spec.md §4.3. Each task becomes
// eligible every interval; execution is serialized against the
// venue's token bucket and weight budget; a failed poll is tried at
// most three times in all, with the shared capped backoff between
// attempts, before the tick is skipped.
//
// Grounded on the teacher's scheduler (internal/scheduler/scheduler.go)
// for the cooperative per-task eligibility loop, generalized from
// scan-job scheduling to REST-endpoint polling.
package restpoller

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/ingestor/internal/backoff"
	"github.com/marketpulse/ingestor/internal/budget"
	"github.com/marketpulse/ingestor/internal/httpclient"
	"github.com/marketpulse/ingestor/internal/ratelimit"
	"github.com/marketpulse/ingestor/internal/venue"
)

// Task describes one recurring REST poll.
type Task struct {
	Exchange string
	Spec     venue.EndpointSpec
	Interval time.Duration
}

// Sink receives every successfully polled raw event.
type Sink func(exchange string, ev venue.RawEvent)

// retryPolicy is the REST Poller's three-attempt 5xx backoff, shared
// in shape with the supervisor's reconnect policy but independently
// tunable.
var retryPolicy = backoff.Policy{Initial: 250 * time.Millisecond, Max: 4 * time.Second, Factor: 2}

const maxAttempts = 3

// Poller runs a set of tasks against venue adapters on their own
// interval, respecting each venue's rate limiter and weight budget.
type Poller struct {
	adapters map[string]venue.Adapter
	limiter  *ratelimit.Manager
	budgets  *budget.Manager
	sink     Sink

	skipped int64
	failed  int64
}

// New creates a poller. adapters is keyed by exchange name.
func New(adapters map[string]venue.Adapter, limiter *ratelimit.Manager, budgets *budget.Manager, sink Sink) *Poller {
	return &Poller{adapters: adapters, limiter: limiter, budgets: budgets, sink: sink}
}

// Run executes every task on its own ticker until ctx is canceled.
func (p *Poller) Run(ctx context.Context, tasks []Task) {
	for _, t := range tasks {
		go p.runTask(ctx, t)
	}
	<-ctx.Done()
}

func (p *Poller) runTask(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.executeOnce(ctx, t)
		}
	}
}

func (p *Poller) executeOnce(ctx context.Context, t Task) {
	adapter, ok := p.adapters[t.Exchange]
	if !ok {
		return
	}

	limiterKey := t.Exchange + ":rest"
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := p.limiter.Wait(ctx, limiterKey); err != nil {
			return
		}
		if err := p.budgets.Consume(t.Exchange, t.Spec.Weight); err != nil {
			log.Warn().Str("exchange", t.Exchange).Err(err).Msg("restpoller: weight budget exhausted, skipping tick")
			p.skipped++
			return
		}

		ev, err := adapter.Poll(ctx, t.Spec)
		if err == nil {
			p.sink(t.Exchange, ev)
			return
		}

		var rl *httpclient.RateLimitedError
		if errors.As(err, &rl) {
			p.limiter.OnRateLimited(limiterKey)
			delay := rl.RetryAfter
			if delay == 0 {
				delay = retryPolicy.Next(attempt)
			}
			log.Warn().Str("exchange", t.Exchange).Dur("delay", delay).Msg("restpoller: rate limited, backing off")
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		log.Warn().Str("exchange", t.Exchange).Err(err).Int("attempt", attempt).Msg("restpoller: poll failed")
		if !sleep(ctx, retryPolicy.Next(attempt)) {
			return
		}
	}
	p.failed++
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Stats reports poller-level counters for /stats.
func (p *Poller) Stats() map[string]interface{} {
	return map[string]interface{}{
		"skipped_ticks": p.skipped,
		"failed_ticks":  p.failed,
	}
}

// Name identifies this component for the health registry.
func (p *Poller) Name() string { return "rest_poller" }
