package orderbook

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketpulse/ingestor/internal/types"
)

func pl(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: types.Decimal(price), Size: types.Decimal(size)}
}

func TestBookApplyDiffUpsertAndRemove(t *testing.T) {
	b := newBook()
	require.NoError(t, b.ApplySnapshot(
		[]types.PriceLevel{pl("100.0", "1"), pl("99.0", "2")},
		[]types.PriceLevel{pl("101.0", "1"), pl("102.0", "2")},
	))

	require.NoError(t, b.ApplyDiff(
		[]types.PriceLevel{pl("100.0", "0")}, // remove
		[]types.PriceLevel{pl("101.0", "5")}, // update size
	))

	bids, asks, crossed := b.TopN(10)
	require.False(t, crossed)
	require.Len(t, bids, 1)
	require.Equal(t, types.Decimal("99.0"), bids[0].Price)
	require.Len(t, asks, 2)
	require.Equal(t, types.Decimal("5"), asks[0].Size)
}

func TestBookTopNOrdering(t *testing.T) {
	b := newBook()
	require.NoError(t, b.ApplySnapshot(
		[]types.PriceLevel{pl("10", "1"), pl("12", "1"), pl("11", "1")},
		[]types.PriceLevel{pl("15", "1"), pl("13", "1"), pl("14", "1")},
	))
	bids, asks, crossed := b.TopN(10)
	require.False(t, crossed)
	require.Equal(t, []types.Decimal{"12", "11", "10"}, []types.Decimal{bids[0].Price, bids[1].Price, bids[2].Price})
	require.Equal(t, []types.Decimal{"13", "14", "15"}, []types.Decimal{asks[0].Price, asks[1].Price, asks[2].Price})
}

func TestBookDetectsCrossedBook(t *testing.T) {
	b := newBook()
	require.NoError(t, b.ApplySnapshot(
		[]types.PriceLevel{pl("100", "1")},
		[]types.PriceLevel{pl("99", "1")},
	))
	_, _, crossed := b.TopN(10)
	require.True(t, crossed)
}

func TestOKXChecksumStable(t *testing.T) {
	bids := []string{"100:1", "99:2"}
	asks := []string{"101:1", "102:2"}
	c1 := okxChecksum(bids, asks)
	c2 := okxChecksum(bids, asks)
	require.Equal(t, c1, c2)

	c3 := okxChecksum([]string{"100:9"}, asks)
	require.NotEqual(t, c1, c3)
}
