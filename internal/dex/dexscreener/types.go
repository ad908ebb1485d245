// internal/dex/dexscreener/types.go
package dexscreener

import "time"

const solanaChain = "solana"

type searchResponse struct {
	SchemaVersion string `json:"schemaVersion"`
	Pairs         []Pair `json:"pairs"`
}

// Pair is a DexScreener trading pair.
type Pair struct {
	ChainID       string      `json:"chainId"`
	DexID         string      `json:"dexId"`
	PairAddress   string      `json:"pairAddress"`
	BaseToken     Token       `json:"baseToken"`
	QuoteToken    Token       `json:"quoteToken"`
	PriceNative   string      `json:"priceNative"`
	Txns          Txns        `json:"txns"`
	Volume        Volume      `json:"volume"`
	PriceChange   PriceChange `json:"priceChange"`
	Liquidity     Liquidity   `json:"liquidity"`
	FDV           float64     `json:"fdv"`
	MarketCap     float64     `json:"marketCap"`
	PairCreatedAt int64       `json:"pairCreatedAt"`
}

type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type Txns struct {
	M5 BuysSells `json:"m5"`
	H1 BuysSells `json:"h1"`
}

type BuysSells struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

type Volume struct {
	M5 float64 `json:"m5"`
	H1 float64 `json:"h1"`
}

type PriceChange struct {
	M5 float64 `json:"m5"`
	H1 float64 `json:"h1"`
}

type Liquidity struct {
	USD   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// Valuation prefers market cap and falls back to FDV.
func (p Pair) Valuation() float64 {
	if p.MarketCap > 0 {
		return p.MarketCap
	}
	return p.FDV
}

// Age is the time since the pair was created.
func (p Pair) Age(now time.Time) time.Duration {
	if p.PairCreatedAt <= 0 {
		return 0
	}
	return now.Sub(time.UnixMilli(p.PairCreatedAt))
}

// BuyRatio is the share of buys among 5 minute transactions.
func (p Pair) BuyRatio() float64 {
	total := p.Txns.M5.Buys + p.Txns.M5.Sells
	if total == 0 {
		return 0
	}
	return float64(p.Txns.M5.Buys) / float64(total)
}

// Filter bounds which pairs become candidates. Zero values disable a bound.
type Filter struct {
	MinLiquidityUSD float64       `mapstructure:"min_liquidity_usd"`
	MinValuationUSD float64       `mapstructure:"min_valuation_usd"`
	MaxValuationUSD float64       `mapstructure:"max_valuation_usd"`
	MinVolume5mUSD  float64       `mapstructure:"min_volume_5m_usd"`
	MaxPairAge      time.Duration `mapstructure:"max_pair_age"`
}

// Weights of the normalized score components.
type Weights struct {
	PriceChange5m float64
	PriceChange1h float64
	Volume5m      float64
	BuyRatio      float64
	Liquidity     float64
}

// DefaultWeights favour short-term momentum.
func DefaultWeights() Weights {
	return Weights{
		PriceChange5m: 0.30,
		PriceChange1h: 0.15,
		Volume5m:      0.20,
		BuyRatio:      0.25,
		Liquidity:     0.10,
	}
}
