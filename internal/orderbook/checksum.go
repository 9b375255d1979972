package orderbook

import (
	"hash/crc32"
	"strings"
)

// okxChecksum computes OKX's book-integrity checksum (spec.md §4.2 step
// 2, S2): interleave the top-25 bid/ask price:size strings
// (bid0,ask0,bid1,ask1,...), join with colons, and CRC32 the result.
// Missing levels on either side are simply skipped, not padded.
func okxChecksum(bids, asks []string) int32 {
	n := 25
	var parts []string
	for i := 0; i < n; i++ {
		if i < len(bids) {
			parts = append(parts, bids[i])
		}
		if i < len(asks) {
			parts = append(parts, asks[i])
		}
	}
	joined := strings.Join(parts, ":")
	return int32(crc32.ChecksumIEEE([]byte(joined)))
}
