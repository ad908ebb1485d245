// internal/types/slippage.go
package types

import "math"

// MinAmountOut is the lowest acceptable output for expected under bps
// slippage tolerance.
func MinAmountOut(expected uint64, bps int) uint64 {
	if bps <= 0 {
		return expected
	}
	if bps >= 10_000 {
		return 0
	}
	return uint64(math.Floor(float64(expected) * (1 - float64(bps)/10_000)))
}
