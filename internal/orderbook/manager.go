package orderbook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/ingestor/internal/types"
)

// State is a stream's position in the synchronization state machine
// (spec.md §4.2 step 1-5): Initializing -> Syncing -> Live, with any
// detected gap or checksum mismatch sending it back to Resyncing.
type State string

const (
	StateInitializing State = "initializing"
	StateSyncing       State = "syncing"
	StateLive          State = "live"
	StateResyncing     State = "resyncing"
)

// Algorithm selects which venue's join-point / integrity rule a stream
// runs, since Binance and OKX disagree on both (spec.md §4.2 step 2).
type Algorithm string

const (
	AlgorithmBinance Algorithm = "binance"
	AlgorithmOKX     Algorithm = "okx"
	AlgorithmGeneric Algorithm = "generic" // venues with neither gap detection nor checksums
)

// HealthEvent reports a stream's sync-quality transitions for the resync
// metric and degraded-stream logging: resync counts and degraded
// escalation after repeated resyncs within a short window, per spec.md §7.
type HealthEvent struct {
	Exchange    string
	Symbol      string
	State       State
	ResyncCount int
	Degraded    bool
	Err         error
}

// SnapshotFetcher fetches a fresh REST order-book snapshot used to
// (re)establish the join point.
type SnapshotFetcher func(ctx context.Context) (types.OrderBookSnapshot, error)

const (
	defaultResyncWindow        = 10 * time.Minute
	defaultDegradedResyncCount = 3
	bookTopN                   = 50
)

// Stream is the state machine for one (exchange, market, symbol) book.
type Stream struct {
	mu     sync.Mutex
	exchange   string
	marketType types.MarketType
	symbol     string
	algorithm  Algorithm

	state    State
	bk       *book
	buffered []types.OrderBookUpdate

	lastUpdateID int64
	prevSeqID    int64

	resyncCount      int
	resyncWindowEnds time.Time

	fetchSnapshot SnapshotFetcher
	snapshots     chan<- types.OrderBookSnapshot
	health        chan<- HealthEvent
}

// NewStream creates a stream in the Initializing state. Callers must
// call Start before Ingest.
func NewStream(exchange string, marketType types.MarketType, symbol string, algo Algorithm,
	fetch SnapshotFetcher, snapshots chan<- types.OrderBookSnapshot, health chan<- HealthEvent) *Stream {
	return &Stream{
		exchange:      exchange,
		marketType:    marketType,
		symbol:        symbol,
		algorithm:     algo,
		state:         StateInitializing,
		bk:            newBook(),
		fetchSnapshot: fetch,
		snapshots:     snapshots,
		health:        health,
	}
}

// Start performs the initial snapshot fetch and transitions to Syncing
// while the join point is sought.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resyncLocked(ctx)
}

// resyncLocked fetches a fresh snapshot and re-enters Syncing. Callers
// must hold s.mu.
func (s *Stream) resyncLocked(ctx context.Context) error {
	s.state = StateResyncing
	snap, err := s.fetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("fetch snapshot for %s/%s: %w", s.exchange, s.symbol, err)
	}
	if err := s.bk.ApplySnapshot(snap.Bids, snap.Asks); err != nil {
		return fmt.Errorf("apply snapshot for %s/%s: %w", s.exchange, s.symbol, err)
	}
	s.lastUpdateID = snap.LastUpdateID
	s.prevSeqID = snap.LastUpdateID
	s.buffered = s.buffered[:0]
	s.state = StateSyncing
	s.recordResyncLocked()
	return nil
}

func (s *Stream) recordResyncLocked() {
	now := time.Now()
	if now.After(s.resyncWindowEnds) {
		s.resyncCount = 0
		s.resyncWindowEnds = now.Add(defaultResyncWindow)
	}
	s.resyncCount++
	degraded := s.resyncCount >= defaultDegradedResyncCount
	if s.health != nil {
		select {
		case s.health <- HealthEvent{Exchange: s.exchange, Symbol: s.symbol, State: s.state, ResyncCount: s.resyncCount, Degraded: degraded}:
		default:
		}
	}
	if degraded {
		log.Warn().Str("exchange", s.exchange).Str("symbol", s.symbol).Int("resyncs", s.resyncCount).
			Msg("order book stream degraded: repeated resyncs")
	}
}

// Ingest applies one WS diff, running the venue's join-point or
// sequence-chain rule. It triggers a resync on any detected gap.
func (s *Stream) Ingest(ctx context.Context, diff types.OrderBookUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateInitializing:
		return nil // not yet started
	case StateSyncing:
		return s.ingestSyncingLocked(ctx, diff)
	case StateLive, StateResyncing:
		return s.ingestLiveLocked(ctx, diff)
	}
	return nil
}

// ingestSyncingLocked looks for the Binance join point (U <=
// lastUpdateId+1 <= u) among diffs arriving after the snapshot: it drops
// diffs that end at or before the snapshot and resyncs if the first newer
// diff starts past lastUpdateId+1. No diffs are buffered while the
// snapshot is fetched. For OKX it applies immediately since OKX's first
// post-snapshot diff carries seqId == the snapshot's.
func (s *Stream) ingestSyncingLocked(ctx context.Context, diff types.OrderBookUpdate) error {
	switch s.algorithm {
	case AlgorithmBinance:
		if diff.LastUpdateID < s.lastUpdateID+1 {
			return nil // older than snapshot, discard
		}
		if diff.FirstUpdateID > s.lastUpdateID+1 {
			// join point missed; snapshot is now stale, resync.
			return s.resyncLocked(ctx)
		}
		if err := s.bk.ApplyDiff(diff.Bids, diff.Asks); err != nil {
			return err
		}
		s.lastUpdateID = diff.LastUpdateID
		s.state = StateLive
		return nil
	default:
		if err := s.bk.ApplyDiff(diff.Bids, diff.Asks); err != nil {
			return err
		}
		s.lastUpdateID = diff.LastUpdateID
		s.state = StateLive
		return nil
	}
}

// ingestLiveLocked validates sequence continuity (Binance: U must equal
// the last applied u + 1; OKX: prevSeqId must equal the last applied
// seqId) before applying. Checksums are not verified here; that is
// VerifyChecksum's job.
func (s *Stream) ingestLiveLocked(ctx context.Context, diff types.OrderBookUpdate) error {
	switch s.algorithm {
	case AlgorithmBinance:
		if diff.FirstUpdateID != s.lastUpdateID+1 {
			log.Warn().Str("exchange", s.exchange).Str("symbol", s.symbol).
				Int64("expected", s.lastUpdateID+1).Int64("got", diff.FirstUpdateID).
				Msg("order book sequence gap, resyncing")
			return s.resyncLocked(ctx)
		}
		if err := s.bk.ApplyDiff(diff.Bids, diff.Asks); err != nil {
			return err
		}
		s.lastUpdateID = diff.LastUpdateID
		return nil
	case AlgorithmOKX:
		if diff.PrevUpdateID == nil || *diff.PrevUpdateID != s.prevSeqID {
			log.Warn().Str("exchange", s.exchange).Str("symbol", s.symbol).
				Msg("okx seqId chain broken, resyncing")
			return s.resyncLocked(ctx)
		}
		if err := s.bk.ApplyDiff(diff.Bids, diff.Asks); err != nil {
			return err
		}
		s.prevSeqID = diff.LastUpdateID
		s.lastUpdateID = diff.LastUpdateID
		return nil
	default:
		if err := s.bk.ApplyDiff(diff.Bids, diff.Asks); err != nil {
			return err
		}
		s.lastUpdateID = diff.LastUpdateID
		return nil
	}
}

// VerifyChecksum compares an OKX inline checksum against the book's
// current top-25 state; a mismatch forces a resync.
func (s *Stream) VerifyChecksum(ctx context.Context, want int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bids, asks := s.bk.TopNStrings(25)
	got := okxChecksum(bids, asks)
	if got != want {
		log.Warn().Str("exchange", s.exchange).Str("symbol", s.symbol).
			Int32("want", want).Int32("got", got).Msg("okx checksum mismatch, resyncing")
		return s.resyncLocked(ctx)
	}
	return nil
}

// EmitSnapshot publishes the current top-N book state, skipping emission
// if the book is still empty (pre-sync).
func (s *Stream) EmitSnapshot(nowMS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bk.Empty() || s.state == StateSyncing || s.state == StateResyncing {
		return
	}
	bids, asks, crossed := s.bk.TopN(bookTopN)
	if crossed {
		log.Error().Str("exchange", s.exchange).Str("symbol", s.symbol).Msg("crossed book detected, forcing resync")
		go func() {
			_ = s.resyncAsync()
		}()
		return
	}
	snap := types.OrderBookSnapshot{
		Exchange:     s.exchange,
		MarketType:   s.marketType,
		Symbol:       s.symbol,
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: s.lastUpdateID,
		EventTime:    nowMS,
		CollectedAt:  nowMS,
	}
	if len(bids) > 0 {
		snap.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		snap.BestAsk = asks[0].Price
	}
	select {
	case s.snapshots <- snap:
	default:
		log.Warn().Str("exchange", s.exchange).Str("symbol", s.symbol).Msg("snapshot channel full, dropping")
	}
}

func (s *Stream) resyncAsync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resyncLocked(context.Background())
}

// Manager owns one Stream per (exchange, market, symbol) and drives
// periodic snapshot emission.
type Manager struct {
	mu      sync.RWMutex
	streams map[string]*Stream
	interval time.Duration
}

// NewManager creates a manager that emits snapshots every interval.
func NewManager(interval time.Duration) *Manager {
	return &Manager{streams: make(map[string]*Stream), interval: interval}
}

func key(exchange, symbol string) string { return exchange + "|" + symbol }

// Register installs a stream and starts it.
func (m *Manager) Register(ctx context.Context, s *Stream) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.streams[key(s.exchange, s.symbol)] = s
	m.mu.Unlock()
	return nil
}

// Stream returns the registered stream for (exchange, symbol), if any.
func (m *Manager) Stream(exchange, symbol string) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[key(exchange, symbol)]
	return s, ok
}

// Run emits snapshots for every registered stream on a ticker until ctx
// is canceled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixMilli()
			m.mu.RLock()
			streams := make([]*Stream, 0, len(m.streams))
			for _, s := range m.streams {
				streams = append(streams, s)
			}
			m.mu.RUnlock()
			for _, s := range streams {
				s.EmitSnapshot(now)
			}
		}
	}
}
