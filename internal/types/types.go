// internal/types/types.go
package types

import (
	"time"
)

// Candidate is an asset proposed for entry by a scorer. It lives for one
// scan cycle only.
type Candidate struct {
	Asset        string    `json:"asset"`
	Symbol       string    `json:"symbol"`
	Valuation    float64   `json:"valuation"` // market cap or FDV, USD
	Liquidity    float64   `json:"liquidity"` // USD
	Score        float64   `json:"score"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// LamportsPerSOL is the SOL base unit ratio.
const LamportsPerSOL = 1_000_000_000

// ToLamports converts SOL to lamports, truncating.
func ToLamports(sol float64) uint64 {
	if sol <= 0 {
		return 0
	}
	return uint64(sol * LamportsPerSOL)
}

// ToSOL converts lamports to SOL.
func ToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}
