// internal/dex/dexscreener/scorer.go
package dexscreener

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/solana-sniper/internal/dex/jupiter"
	"github.com/rovshanmuradov/solana-sniper/internal/types"
)

// requestsPerMinute is the public API limit.
const requestsPerMinute = 300

// Scorer ranks fresh Solana pairs from DexScreener search results.
type Scorer struct {
	client     *rpc.ResilientClient
	httpClient *http.Client
	query      string
	filter     Filter
	weights    Weights
	limiter    *rate.Limiter
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithQuery sets the search query. Defaults to "SOL".
func WithQuery(q string) Option {
	return func(s *Scorer) { s.query = q }
}

// WithWeights overrides the score weights.
func WithWeights(w Weights) Option {
	return func(s *Scorer) { s.weights = w }
}

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Scorer) { s.httpClient = hc }
}

// NewScorer creates a scorer reading through client's endpoint pool.
func NewScorer(client *rpc.ResilientClient, filter Filter, logger *zap.Logger, opts ...Option) *Scorer {
	s := &Scorer{
		client:     client,
		httpClient: http.DefaultClient,
		query:      "SOL",
		filter:     filter,
		weights:    DefaultWeights(),
		limiter:    rate.NewLimiter(rate.Every(time.Minute/requestsPerMinute), 1),
		logger:     logger.Named("dexscreener"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListCandidates returns eligible assets ordered by descending score.
func (s *Scorer) ListCandidates(ctx context.Context) ([]types.Candidate, error) {
	pairs, err := s.search(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	eligible := s.eligible(pairs, now)
	scores := score(eligible, s.weights)

	out := make([]types.Candidate, 0, len(eligible))
	for i, p := range eligible {
		out = append(out, types.Candidate{
			Asset:        p.BaseToken.Address,
			Symbol:       p.BaseToken.Symbol,
			Valuation:    p.Valuation(),
			Liquidity:    p.Liquidity.USD,
			Score:        scores[i],
			DiscoveredAt: now,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	s.logger.Debug("Candidates ranked",
		zap.Int("pairs", len(pairs)),
		zap.Int("eligible", len(out)))
	return out, nil
}

func (s *Scorer) search(ctx context.Context) ([]Pair, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	return rpc.Call(ctx, s.client, "dexscreener.search", func(ctx context.Context, ep *rpc.Endpoint) ([]Pair, error) {
		u := strings.TrimRight(ep.URL, "/") + "/latest/dex/search?" + url.Values{"q": {s.query}}.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if statusErr := rpc.StatusError(resp.StatusCode); statusErr != nil {
			return nil, statusErr
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", rpc.ErrConnectionFailed, err)
		}

		var out searchResponse
		if err := sonic.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("%w: decode search: %v", rpc.ErrInvalidResponse, err)
		}
		return out.Pairs, nil
	})
}

// eligible keeps SOL-quoted Solana pairs passing the filter, one pair per
// base token (the most liquid).
func (s *Scorer) eligible(pairs []Pair, now time.Time) []Pair {
	best := make(map[string]int)
	var out []Pair
	for _, p := range pairs {
		if p.ChainID != solanaChain || p.QuoteToken.Address != jupiter.WrappedSOL {
			continue
		}
		if p.BaseToken.Address == "" || p.BaseToken.Address == jupiter.WrappedSOL {
			continue
		}
		if !s.pass(p, now) {
			continue
		}
		if i, ok := best[p.BaseToken.Address]; ok {
			if p.Liquidity.USD > out[i].Liquidity.USD {
				out[i] = p
			}
			continue
		}
		best[p.BaseToken.Address] = len(out)
		out = append(out, p)
	}
	return out
}

func (s *Scorer) pass(p Pair, now time.Time) bool {
	f := s.filter
	switch {
	case f.MinLiquidityUSD > 0 && p.Liquidity.USD < f.MinLiquidityUSD:
		return false
	case f.MinValuationUSD > 0 && p.Valuation() < f.MinValuationUSD:
		return false
	case f.MaxValuationUSD > 0 && p.Valuation() > f.MaxValuationUSD:
		return false
	case f.MinVolume5mUSD > 0 && p.Volume.M5 < f.MinVolume5mUSD:
		return false
	case f.MaxPairAge > 0 && p.Age(now) > f.MaxPairAge:
		return false
	}
	return true
}

// score min-max normalizes each component across pairs and returns the
// weighted sum per pair, in [0, 1] when weights sum to 1.
func score(pairs []Pair, w Weights) []float64 {
	components := []struct {
		weight float64
		value  func(Pair) float64
	}{
		{w.PriceChange5m, func(p Pair) float64 { return p.PriceChange.M5 }},
		{w.PriceChange1h, func(p Pair) float64 { return p.PriceChange.H1 }},
		{w.Volume5m, func(p Pair) float64 { return p.Volume.M5 }},
		{w.BuyRatio, Pair.BuyRatio},
		{w.Liquidity, func(p Pair) float64 { return p.Liquidity.USD }},
	}

	out := make([]float64, len(pairs))
	for _, c := range components {
		if c.weight == 0 || len(pairs) == 0 {
			continue
		}
		lo, hi := c.value(pairs[0]), c.value(pairs[0])
		for _, p := range pairs[1:] {
			v := c.value(p)
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		for i, p := range pairs {
			out[i] += c.weight * normalize(c.value(p), lo, hi)
		}
	}
	return out
}

func normalize(v, lo, hi float64) float64 {
	if hi == lo {
		if hi > 0 {
			return 1
		}
		return 0
	}
	return (v - lo) / (hi - lo)
}
