// Package normalize converts venue-native raw payloads into the
// canonical record types. It is responsible for symbol
// canonicalization and UTC-millisecond timestamping (spec.md §4.5); it
// is intentionally pure and allocation-light since it runs on the hot
// path out of every Order-Book Manager and REST Poller worker.
package normalize

import (
	"strings"

	"github.com/marketpulse/ingestor/internal/types"
)

// knownQuotes lists quote currencies recognized when splitting a
// concatenated venue symbol like BTCUSDT into BASE-QUOTE. Longer quotes
// are tried first so e.g. "USD" doesn't shadow "BUSD" or "TUSD".
var knownQuotes = []string{"USDT", "USDC", "BUSD", "TUSD", "USD", "BTC", "ETH"}

// CanonicalSymbol converts a venue-native symbol into the pipeline's
// BASE-QUOTE form and infers market type from venue naming
// conventions: an OKX/Deribit "-SWAP"/"-PERPETUAL" suffix marks a
// perpetual; anything else is treated as spot.
func CanonicalSymbol(raw string) (symbol string, marketType types.MarketType) {
	if strings.HasSuffix(raw, "-SWAP") {
		return strings.TrimSuffix(raw, "-SWAP"), types.MarketPerpetual
	}
	if strings.HasSuffix(raw, "-PERPETUAL") {
		base := strings.TrimSuffix(raw, "-PERPETUAL")
		return base + "-USD", types.MarketPerpetual
	}
	if strings.Contains(raw, "-") {
		return strings.ToUpper(raw), types.MarketSpot
	}
	upper := strings.ToUpper(raw)
	for _, quote := range knownQuotes {
		if strings.HasSuffix(upper, quote) && len(upper) > len(quote) {
			base := strings.TrimSuffix(upper, quote)
			return base + "-" + quote, types.MarketSpot
		}
	}
	return upper, types.MarketSpot
}
