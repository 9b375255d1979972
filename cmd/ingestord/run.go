package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/ingestor/internal/coldreplicator"
	"github.com/marketpulse/ingestor/internal/health"
	"github.com/marketpulse/ingestor/internal/hotstore"
	"github.com/marketpulse/ingestor/internal/supervisor"
)

// run starts every component and blocks until ctx is canceled.
func (s *service) run(ctx context.Context) error {
	if err := s.eventBus.Start(ctx); err != nil {
		return fmt.Errorf("ingestord: bus start: %w", err)
	}

	s.registerOrderBookStreams(ctx, s.bookSnapshots, s.bookHealth)

	var wg sync.WaitGroup
	for _, st := range s.streams {
		st := st
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Run(ctx)
		}()
	}

	wg.Add(3)
	go func() { defer wg.Done(); s.obManager.Run(ctx) }()
	go func() { defer wg.Done(); s.publishSnapshots(ctx, s.bookSnapshots) }()
	go func() { defer wg.Done(); s.observeHealthEvents(ctx, s.bookHealth) }()

	wg.Add(1)
	go func() { defer wg.Done(); s.poller.Run(ctx, restPollTasks(s.cfg)) }()

	wg.Add(1)
	go func() { defer wg.Done(); supervisor.RunHealthChecks(ctx, s.streams, s.onStreamUnhealthy) }()

	if s.cfg.Cold.ColdHost != "" {
		wg.Add(1)
		go func() { defer wg.Done(); s.runColdReplication(ctx) }()
	}

	httpSrv := health.NewServer(health.DefaultServerConfig(s.cfg.HTTP.ListenAddr), s.health, s.metrics)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpSrv.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("ingestord: health/metrics server stopped")
		}
	}()
	s.httpSrv = httpSrv

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.shutdown(shutdownCtx)

	wg.Wait()
	return nil
}

func (s *service) onStreamUnhealthy(exchange string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	log.Warn().Str("exchange", exchange).Str("error", msg).Msg("ingestord: stream unhealthy")
}

// shutdown stops components in dependency order: HTTP surface first (stop
// taking health probes seriously), then flush pending publishes and hot
// writes, then the bus.
func (s *service) shutdown(ctx context.Context) {
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("ingestord: http server shutdown")
		}
	}
	s.publisher.Flush(ctx)
	s.hot.flushAll(ctx)
	if err := s.eventBus.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("ingestord: bus stop")
	}
}

// runColdReplication ticks ReplicateOnce on the configured window size
// until ctx is canceled.
func (s *service) runColdReplication(ctx context.Context) {
	rep := s.buildReplicator()
	ticker := time.NewTicker(s.cfg.Cold.WindowSize)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rep.ReplicateOnce(ctx); err != nil {
				log.Error().Err(err).Msg("ingestord: cold replication pass failed")
			}
		}
	}
}

func (s *service) buildReplicator() *coldreplicator.Replicator {
	var tables []coldreplicator.TableConfig
	for _, table := range hotstore.DefaultTables() {
		tables = append(tables, coldreplicator.TableConfig{
			Table:        table,
			WindowSize:   s.cfg.Cold.WindowSize,
			CleanupGrace: 72 * time.Hour,
		})
	}
	return coldreplicator.New(coldreplicator.Config{
		HotBaseURL: s.cfg.HotStore.BaseURL,
		ColdHost:   s.cfg.Cold.ColdHost,
		ColdDB:     s.cfg.Cold.ColdDB,
		StateDir:   s.cfg.Cold.StateDir,
		Tables:     tables,
	})
}
