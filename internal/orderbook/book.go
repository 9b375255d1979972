// Package orderbook implements the per-(exchange,market,symbol) local
// book state machine described in spec.md §4.2: REST-snapshot +
// WebSocket-diff synchronization, sequence validation, OKX checksum
// validation, and periodic top-N snapshot emission.
package orderbook

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/marketpulse/ingestor/internal/types"
)

// level is one price/size point in the local book, kept as big.Rat for
// drift-free comparisons; the original decimal strings are preserved
// verbatim on the wire via types.PriceLevel.
type level struct {
	price    *big.Rat
	size     *big.Rat
	priceStr string
	sizeStr  string
}

func newLevel(priceStr, sizeStr string) (level, error) {
	price, ok := new(big.Rat).SetString(priceStr)
	if !ok {
		return level{}, fmt.Errorf("invalid price %q", priceStr)
	}
	size, ok := new(big.Rat).SetString(sizeStr)
	if !ok {
		return level{}, fmt.Errorf("invalid size %q", sizeStr)
	}
	return level{price: price, size: size, priceStr: priceStr, sizeStr: sizeStr}, nil
}

func (l level) isZero() bool {
	return l.size.Sign() == 0
}

// book is the mutable local order book owned exclusively by its
// Order-Book Manager worker; no other goroutine touches these slices.
type book struct {
	bids map[string]level // keyed by price string for O(1) upsert
	asks map[string]level
}

func newBook() *book {
	return &book{bids: make(map[string]level), asks: make(map[string]level)}
}

// applyLevels upserts a batch of (price, size) pairs into side; a zero
// size removes the level, per spec.md §4.2 step 6.
func applyLevels(side map[string]level, levels []types.PriceLevel) error {
	for _, pl := range levels {
		lv, err := newLevel(string(pl.Price), string(pl.Size))
		if err != nil {
			return err
		}
		if lv.isZero() {
			delete(side, lv.priceStr)
			continue
		}
		side[lv.priceStr] = lv
	}
	return nil
}

// ApplyDiff merges a diff's bid/ask levels into the book.
func (b *book) ApplyDiff(bids, asks []types.PriceLevel) error {
	if err := applyLevels(b.bids, bids); err != nil {
		return err
	}
	if err := applyLevels(b.asks, asks); err != nil {
		return err
	}
	return nil
}

// ApplySnapshot replaces the book wholesale, used on (re)sync.
func (b *book) ApplySnapshot(bids, asks []types.PriceLevel) error {
	b.bids = make(map[string]level)
	b.asks = make(map[string]level)
	return b.ApplyDiff(bids, asks)
}

func sortedBids(m map[string]level) []level {
	out := make([]level, 0, len(m))
	for _, lv := range m {
		out = append(out, lv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].price.Cmp(out[j].price) > 0 })
	return out
}

func sortedAsks(m map[string]level) []level {
	out := make([]level, 0, len(m))
	for _, lv := range m {
		out = append(out, lv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].price.Cmp(out[j].price) < 0 })
	return out
}

// TopN returns the top N bid/ask levels, descending/ascending
// respectively, satisfying the snapshot invariant (no crossed book, if
// both sides are non-empty).
func (b *book) TopN(n int) (bids, asks []types.PriceLevel, crossed bool) {
	sb := sortedBids(b.bids)
	sa := sortedAsks(b.asks)
	if len(sb) > n {
		sb = sb[:n]
	}
	if len(sa) > n {
		sa = sa[:n]
	}
	if len(sb) > 0 && len(sa) > 0 && sb[0].price.Cmp(sa[0].price) >= 0 {
		crossed = true
	}
	bids = make([]types.PriceLevel, len(sb))
	for i, lv := range sb {
		bids[i] = types.PriceLevel{Price: types.Decimal(lv.priceStr), Size: types.Decimal(lv.sizeStr)}
	}
	asks = make([]types.PriceLevel, len(sa))
	for i, lv := range sa {
		asks[i] = types.PriceLevel{Price: types.Decimal(lv.priceStr), Size: types.Decimal(lv.sizeStr)}
	}
	return bids, asks, crossed
}

// TopNStrings renders the top N price:size strings per side, used by
// the OKX checksum (spec.md §4.2 step 2, S2).
func (b *book) TopNStrings(n int) (bids, asks []string) {
	sb := sortedBids(b.bids)
	sa := sortedAsks(b.asks)
	if len(sb) > n {
		sb = sb[:n]
	}
	if len(sa) > n {
		sa = sa[:n]
	}
	for _, lv := range sb {
		bids = append(bids, lv.priceStr+":"+lv.sizeStr)
	}
	for _, lv := range sa {
		asks = append(asks, lv.priceStr+":"+lv.sizeStr)
	}
	return bids, asks
}

// Empty reports whether both sides are empty (nothing to snapshot yet).
func (b *book) Empty() bool {
	return len(b.bids) == 0 && len(b.asks) == 0
}
